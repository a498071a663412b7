/*
 * strain.go, part of gofullerene.
 *
 * Copyright 2024 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 */

package fullerene

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// StrainKind names the deformation modes the structure generator applies.
type StrainKind string

const (
	Biaxial   StrainKind = "biaxial"
	UniaxialX StrainKind = "uniaxial_x"
	UniaxialY StrainKind = "uniaxial_y"
	Shear     StrainKind = "shear"
	General   StrainKind = "tensor" //given as a full symmetric tensor
)

const symTol = 1e-9

// Strain describes the deformation applied to a reference structure. The
// strain tensor is always symmetric. Kind and Percent are kept for
// reporting when the strain was given as a mode plus a percentage.
type Strain struct {
	Kind    StrainKind
	Percent float64
	eps     *mat.SymDense
}

// NewStrain returns the strain for a deformation mode and a percentage,
// e.g. NewStrain(Biaxial, 2.5) for 2.5% biaxial tension.
func NewStrain(kind StrainKind, percent float64) (*Strain, error) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return nil, errors.Errorf("gofullerene: non-finite strain %v", percent)
	}
	s := percent / 100
	e := mat.NewSymDense(3, nil)
	switch kind {
	case Biaxial:
		e.SetSym(0, 0, s)
		e.SetSym(1, 1, s)
	case UniaxialX:
		e.SetSym(0, 0, s)
	case UniaxialY:
		e.SetSym(1, 1, s)
	case Shear:
		//the deformation only has the xy term, its symmetric part is half of it.
		e.SetSym(0, 1, s/2)
	default:
		return nil, errors.Errorf("gofullerene: unknown strain kind %q", kind)
	}
	return &Strain{Kind: kind, Percent: percent, eps: e}, nil
}

// NewStrainTensor returns a strain given by its full tensor, which must be
// symmetric.
func NewStrainTensor(t [3][3]float64) (*Strain, error) {
	e := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			if math.Abs(t[i][j]-t[j][i]) > symTol {
				return nil, errors.Errorf("gofullerene: strain tensor not symmetric at (%d,%d): %g vs %g", i, j, t[i][j], t[j][i])
			}
			if math.IsNaN(t[i][j]) || math.IsInf(t[i][j], 0) {
				return nil, errors.Errorf("gofullerene: non-finite strain tensor element (%d,%d)", i, j)
			}
			e.SetSym(i, j, t[i][j])
		}
	}
	return &Strain{Kind: General, eps: e}, nil
}

// ParseStrain reads the "kind:percent" notation, e.g. "biaxial:-2.5".
func ParseStrain(s string) (*Strain, error) {
	f := strings.SplitN(s, ":", 2)
	if len(f) != 2 {
		return nil, errors.Errorf("gofullerene: strain %q is not in kind:percent form", s)
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(f[1]), 64)
	if err != nil {
		return nil, errors.Wrapf(err, "gofullerene: strain %q", s)
	}
	return NewStrain(StrainKind(strings.TrimSpace(f[0])), p)
}

// Tensor returns the strain tensor as an array.
func (S *Strain) Tensor() [3][3]float64 {
	var t [3][3]float64
	if S == nil {
		return t
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = S.eps.At(i, j)
		}
	}
	return t
}

// Deformation returns the matrix that maps reference row vectors to strained
// ones (r' = r F). Shear keeps the generator's convention of a single
// off-diagonal term.
func (S *Strain) Deformation() *mat.Dense {
	F := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if S == nil {
		return F
	}
	if S.Kind == Shear {
		F.Set(0, 1, S.Percent/100)
		return F
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			F.Set(i, j, F.At(i, j)+S.eps.At(i, j))
		}
	}
	return F
}

// Volumetric returns the trace of the strain tensor.
func (S *Strain) Volumetric() float64 {
	if S == nil {
		return 0
	}
	return mat.Trace(S.eps)
}

// Equivalent returns the von Mises equivalent strain, sqrt(2/3 e':e'),
// where e' is the deviatoric part of the tensor.
func (S *Strain) Equivalent() float64 {
	if S == nil {
		return 0
	}
	m := S.Volumetric() / 3
	var sum float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := S.eps.At(i, j)
			if i == j {
				v -= m
			}
			sum += v * v
		}
	}
	return math.Sqrt(2.0 / 3.0 * sum)
}

// Along returns u^T e u, the normal strain along the unit vector u.
func (S *Strain) Along(u [3]float64) float64 {
	if S == nil {
		return 0
	}
	v := mat.NewVecDense(3, u[:])
	return mat.Inner(v, S.eps, v)
}

// Rotated returns R e R^T, the strain seen after rotating the structure by R.
// The result is a general strain, as the mode is no longer axis-aligned.
func (S *Strain) Rotated(R mat.Matrix) *Strain {
	if S == nil {
		return nil
	}
	var tmp, out mat.Dense
	tmp.Mul(R, S.eps)
	out.Mul(&tmp, R.T())
	e := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			e.SetSym(i, j, (out.At(i, j)+out.At(j, i))/2)
		}
	}
	return &Strain{Kind: General, eps: e}
}

// String returns the kind:percent notation, or the tensor for general strains.
func (S *Strain) String() string {
	if S == nil {
		return "none"
	}
	if S.Kind != General {
		return fmt.Sprintf("%s:%g", S.Kind, S.Percent)
	}
	t := S.Tensor()
	return fmt.Sprintf("tensor[%g %g %g; %g %g %g; %g %g %g]", t[0][0], t[0][1], t[0][2], t[1][0], t[1][1], t[1][2], t[2][0], t[2][1], t[2][2])
}
