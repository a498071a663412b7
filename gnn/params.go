/*
 * params.go, part of gofullerene.
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

package gnn

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Architecture fixes the shape of a model.
type Architecture struct {
	NodeFeatures int      `json:"node_features"`
	EdgeFeatures int      `json:"edge_features"`
	Hidden       int      `json:"hidden"` //width of node states and graph embedding
	Layers       int      `json:"layers"` //graph convolutions
	Tasks        []string `json:"tasks"`  //one output head per task
}

func (A Architecture) Validate() error {
	switch {
	case A.NodeFeatures < 1 || A.EdgeFeatures < 1:
		return errors.Errorf("gnn: invalid feature sizes %d/%d", A.NodeFeatures, A.EdgeFeatures)
	case A.Hidden < 1:
		return errors.Errorf("gnn: invalid hidden width %d", A.Hidden)
	case A.Layers < 1:
		return errors.Errorf("gnn: need at least one convolution, got %d", A.Layers)
	case len(A.Tasks) == 0:
		return errors.New("gnn: no tasks")
	}
	return nil
}

//width of the hidden layer of each output head.
func (A Architecture) headHidden() int {
	if A.Hidden < 2 {
		return 1
	}
	return A.Hidden / 2
}

//Parameter layout: input projection, 4 matrices per convolution, 4 per head.
func (A Architecture) layerBase(l int) int { return 2 + 4*l }
func (A Architecture) headBase(k int) int  { return 2 + 4*A.Layers + 4*k }

//shapes returns the rows and columns of every parameter matrix. Biases are
//row vectors.
func (A Architecture) shapes() [][2]int {
	H, Hh := A.Hidden, A.headHidden()
	s := [][2]int{{H, A.NodeFeatures}, {1, H}}
	for l := 0; l < A.Layers; l++ {
		s = append(s, [2]int{H, H}, [2]int{H, H}, [2]int{H, A.EdgeFeatures}, [2]int{1, H})
	}
	for range A.Tasks {
		s = append(s, [2]int{Hh, H}, [2]int{1, Hh}, [2]int{1, Hh}, [2]int{1, 1})
	}
	return s
}

// Params holds the learnable matrices of a model, or gradients with the
// same layout.
type Params struct {
	M []*mat.Dense
}

func zeroParams(A Architecture) *Params {
	s := A.shapes()
	P := &Params{M: make([]*mat.Dense, len(s))}
	for i, rc := range s {
		P.M[i] = mat.NewDense(rc[0], rc[1], nil)
	}
	return P
}

//initParams fills weight matrices with Glorot-uniform values and leaves
//biases at zero.
func initParams(A Architecture, seed uint64) *Params {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	P := zeroParams(A)
	for i, m := range P.M {
		if A.isBias(i) {
			continue
		}
		r, c := m.Dims()
		lim := math.Sqrt(6 / float64(r+c))
		raw := m.RawMatrix().Data
		for j := range raw {
			raw[j] = lim * (2*rng.Float64() - 1)
		}
	}
	return P
}

func (A Architecture) isBias(i int) bool {
	switch {
	case i < 2:
		return i == 1
	case i < A.headBase(0):
		return (i-2)%4 == 3
	}
	j := (i - A.headBase(0)) % 4
	return j == 1 || j == 3
}

func (P *Params) Clone() *Params {
	C := &Params{M: make([]*mat.Dense, len(P.M))}
	for i, m := range P.M {
		C.M[i] = mat.DenseCopyOf(m)
	}
	return C
}

// Add adds Q to P, element by element.
func (P *Params) Add(Q *Params) {
	for i, m := range P.M {
		floats.Add(m.RawMatrix().Data, Q.M[i].RawMatrix().Data)
	}
}

func (P *Params) Scale(f float64) {
	for _, m := range P.M {
		floats.Scale(f, m.RawMatrix().Data)
	}
}

// Norm returns the Euclidean norm of all parameters together.
func (P *Params) Norm() float64 {
	var s float64
	for _, m := range P.M {
		n := floats.Norm(m.RawMatrix().Data, 2)
		s += n * n
	}
	return math.Sqrt(s)
}

// Finite returns false if any element is NaN or infinite.
func (P *Params) Finite() bool {
	for _, m := range P.M {
		for _, v := range m.RawMatrix().Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Matrix is the serialized form of a parameter matrix.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func (P *Params) export() []Matrix {
	ret := make([]Matrix, len(P.M))
	for i, m := range P.M {
		r, c := m.Dims()
		ret[i] = Matrix{Rows: r, Cols: c, Data: append([]float64(nil), m.RawMatrix().Data...)}
	}
	return ret
}

//importParams rebuilds parameters from their serialized form, checking them
//against the shapes A requires.
func importParams(A Architecture, ms []Matrix) (*Params, error) {
	s := A.shapes()
	if len(ms) != len(s) {
		return nil, errors.Errorf("gnn: %d parameter matrices, architecture needs %d", len(ms), len(s))
	}
	P := &Params{M: make([]*mat.Dense, len(s))}
	for i, m := range ms {
		if m.Rows != s[i][0] || m.Cols != s[i][1] || len(m.Data) != m.Rows*m.Cols {
			return nil, errors.Errorf("gnn: parameter %d is %dx%d (%d values), expected %dx%d", i, m.Rows, m.Cols, len(m.Data), s[i][0], s[i][1])
		}
		P.M[i] = mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...))
	}
	return P, nil
}
