/*
 * configuration.go, part of gofullerene.
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
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Atom is one atom of a configuration. Positions are in Angstrom.
type Atom struct {
	Symbol string
	Pos    [3]float64
}

// Cell holds the lattice vectors (as rows) and the periodicity flag of each
// of them.
type Cell struct {
	Vectors [3][3]float64
	PBC     [3]bool
}

// Periodic returns true if at least one lattice direction is periodic.
func (C *Cell) Periodic() bool {
	if C == nil {
		return false
	}
	return C.PBC[0] || C.PBC[1] || C.PBC[2]
}

// Volume returns the absolute value of the cell's triple product.
func (C *Cell) Volume() float64 {
	a, b, c := C.Vectors[0], C.Vectors[1], C.Vectors[2]
	return math.Abs(Dot(a, Cross(b, c)))
}

// Doping describes the heteroatom substitutions of a configuration: which
// atoms were replaced by which element, and the concentration (percent of
// host atoms) each dopant element was meant to reach.
type Doping struct {
	Sites          map[int]string
	Concentrations map[string]float64
}

// IsDopant returns true if atom i is a substituted site.
func (D *Doping) IsDopant(i int) bool {
	if D == nil {
		return false
	}
	_, ok := D.Sites[i]
	return ok
}

// Total returns the sum of the target concentrations, in percent.
func (D *Doping) Total() float64 {
	if D == nil {
		return 0
	}
	var t float64
	for _, c := range D.Concentrations {
		t += c
	}
	return t
}

// Elements returns the sorted dopant elements.
func (D *Doping) Elements() []string {
	if D == nil {
		return nil
	}
	set := make(map[string]bool)
	for _, e := range D.Sites {
		set[e] = true
	}
	for e := range D.Concentrations {
		set[e] = true
	}
	ret := make([]string, 0, len(set))
	for e := range set {
		ret = append(ret, e)
	}
	sort.Strings(ret)
	return ret
}

// Signature returns a string naming the dopant elements, "pristine" if there
// are none. Used to stratify data set splits.
func (D *Doping) Signature() string {
	e := D.Elements()
	if len(e) == 0 {
		return "pristine"
	}
	return strings.Join(e, "+")
}

func (D *Doping) copy() *Doping {
	if D == nil {
		return nil
	}
	n := &Doping{Sites: make(map[int]string, len(D.Sites)), Concentrations: make(map[string]float64, len(D.Concentrations))}
	for k, v := range D.Sites {
		n.Sites[k] = v
	}
	for k, v := range D.Concentrations {
		n.Concentrations[k] = v
	}
	return n
}

// Configuration is one atomic structure instance: a reference structure
// with a given strain and doping pattern applied. Configurations are
// treated as read-only once built.
type Configuration struct {
	ID     string
	Group  string //physical configuration this one is a replica of. ID if empty.
	Atoms  []Atom
	Cell   *Cell //nil for isolated (non-periodic) structures
	Strain *Strain
	Doping *Doping
}

func (C *Configuration) Len() int {
	return len(C.Atoms)
}

func (C *Configuration) Periodic() bool {
	return C.Cell.Periodic()
}

// GroupKey returns the key shared by all replicas of the same physical
// configuration.
func (C *Configuration) GroupKey() string {
	if C.Group != "" {
		return C.Group
	}
	return C.ID
}

// Stratum returns the doping signature of the configuration.
func (C *Configuration) Stratum() string {
	return C.Doping.Signature()
}

// Centroid returns the geometric center of the atoms.
func (C *Configuration) Centroid() [3]float64 {
	var c [3]float64
	if len(C.Atoms) == 0 {
		return c
	}
	for _, a := range C.Atoms {
		for k := 0; k < 3; k++ {
			c[k] += a.Pos[k]
		}
	}
	n := float64(len(C.Atoms))
	for k := 0; k < 3; k++ {
		c[k] /= n
	}
	return c
}

// Copy returns a deep copy of the configuration.
func (C *Configuration) Copy() *Configuration {
	n := &Configuration{ID: C.ID, Group: C.Group, Strain: C.Strain, Doping: C.Doping.copy()}
	n.Atoms = append([]Atom(nil), C.Atoms...)
	if C.Cell != nil {
		cell := *C.Cell
		n.Cell = &cell
	}
	return n
}

// Wrapped returns a copy of C where every atom outside the home cell along
// a periodic direction is moved back into it by whole lattice translations.
// Atoms already inside keep their exact positions. A non-periodic C is
// returned as is.
func (C *Configuration) Wrapped() (*Configuration, error) {
	if !C.Periodic() {
		return C, nil
	}
	M := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		M.SetRow(i, C.Cell.Vectors[i][:])
	}
	var inv mat.Dense
	if err := inv.Inverse(M); err != nil {
		return nil, errors.Wrapf(err, "gofullerene: %s: singular cell", C.ID)
	}
	W := C.Copy()
	for i, a := range W.Atoms {
		f := rowTimes(a.Pos, &inv)
		pos := a.Pos
		moved := false
		for k := 0; k < 3; k++ {
			if !C.Cell.PBC[k] {
				continue
			}
			//tolerance keeps atoms sitting on a cell face where they are
			n := math.Floor(f[k] + 1e-10)
			if n == 0 {
				continue
			}
			moved = true
			for x := 0; x < 3; x++ {
				pos[x] -= n * C.Cell.Vectors[k][x]
			}
		}
		if moved {
			W.Atoms[i].Pos = pos
		}
	}
	return W, nil
}

// Validate checks that the configuration is usable: it has atoms, finite
// positions, a non-degenerate cell if periodic, and dopant sites that
// exist and carry the declared element.
func (C *Configuration) Validate() error {
	if len(C.Atoms) == 0 {
		return &ParseError{File: C.ID, Reason: "configuration has no atoms"}
	}
	for i, a := range C.Atoms {
		for _, v := range a.Pos {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &ParseError{File: C.ID, Reason: fmt.Sprintf("atom %d has a non-finite coordinate", i)}
			}
		}
	}
	if C.Periodic() && C.Cell.Volume() < 1e-8 {
		return &ParseError{File: C.ID, Reason: "periodic cell has zero volume"}
	}
	if C.Doping != nil {
		for i, e := range C.Doping.Sites {
			if i < 0 || i >= len(C.Atoms) {
				return &ParseError{File: C.ID, Reason: fmt.Sprintf("dopant site %d out of range", i)}
			}
			if C.Atoms[i].Symbol != e {
				return &ParseError{File: C.ID, Reason: fmt.Sprintf("dopant site %d declared as %s but atom is %s", i, e, C.Atoms[i].Symbol)}
			}
		}
	}
	return nil
}

// Transformed returns a copy of the configuration after a rigid motion: the
// rotation R (3x3, orthogonal) followed by the translation shift. Positions,
// lattice vectors and the strain tensor are all rotated.
func (C *Configuration) Transformed(R mat.Matrix, shift [3]float64) (*Configuration, error) {
	if r, c := R.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("gofullerene: rotation must be 3x3, got %dx%d", r, c)
	}
	n := C.Copy()
	for i, a := range n.Atoms {
		p := rotate(R, a.Pos)
		for k := 0; k < 3; k++ {
			p[k] += shift[k]
		}
		n.Atoms[i].Pos = p
	}
	if n.Cell != nil {
		for i := 0; i < 3; i++ {
			n.Cell.Vectors[i] = rotate(R, n.Cell.Vectors[i])
		}
	}
	n.Strain = C.Strain.Rotated(R)
	return n, nil
}

// Rotation returns the matrix rotating by angle radians about axis
// (Rodrigues' formula). axis need not be normalized.
func Rotation(axis [3]float64, angle float64) *mat.Dense {
	u := Unit(axis)
	c, s := math.Cos(angle), math.Sin(angle)
	t := 1 - c
	x, y, z := u[0], u[1], u[2]
	return mat.NewDense(3, 3, []float64{
		t*x*x + c, t*x*y - s*z, t*x*z + s*y,
		t*x*y + s*z, t*y*y + c, t*y*z - s*x,
		t*x*z - s*y, t*y*z + s*x, t*z*z + c,
	})
}

func rotate(R mat.Matrix, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = R.At(i, 0)*v[0] + R.At(i, 1)*v[1] + R.At(i, 2)*v[2]
	}
	return out
}

//Some small vector helpers. The featurizer calls these in its inner loops,
//so they work on arrays instead of gonum types.

func Dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func Cross(a, b [3]float64) [3]float64 {
	return [3]float64{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func Norm(a [3]float64) float64 {
	return math.Sqrt(Dot(a, a))
}

// Unit returns a/|a|, or the zero vector if a is zero.
func Unit(a [3]float64) [3]float64 {
	n := Norm(a)
	if n == 0 {
		return a
	}
	return [3]float64{a[0] / n, a[1] / n, a[2] / n}
}

func Sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}
