/*
 * derive_test.go, part of gofullerene.
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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestC60(t *testing.T) {
	C := C60("C60")
	require.Equal(t, 60, C.Len())
	require.NoError(t, C.Validate())
	//every vertex of the truncated icosahedron has exactly 3 nearest neighbours.
	for i, a := range C.Atoms {
		n := 0
		for j, b := range C.Atoms {
			if i == j {
				continue
			}
			d := Norm(Sub(a.Pos, b.Pos))
			assert.Greater(t, d, C60BondLength-1e-6)
			if math.Abs(d-C60BondLength) < 1e-6 {
				n++
			}
		}
		assert.Equal(t, 3, n, "atom %d", i)
	}
	c := C.Centroid()
	assert.InDelta(t, 0, Norm(c), 1e-9)
}

func TestDerive(t *testing.T) {
	ref := C60("C60")
	s, err := NewStrain(Biaxial, 5)
	require.NoError(t, err)
	D, err := Derive(ref, s, map[string]float64{"B": 5, "N": 2.5}, "d1")
	require.NoError(t, err)
	assert.Equal(t, "C", ref.Atoms[0].Symbol, "reference must not change")
	assert.Nil(t, ref.Doping)
	counts := map[string]int{}
	for _, a := range D.Atoms {
		counts[a.Symbol]++
	}
	assert.Equal(t, 3, counts["B"])
	assert.Equal(t, 1, counts["N"])
	assert.Equal(t, 56, counts["C"])
	assert.Len(t, D.Doping.Sites, 4)
	assert.Equal(t, "B+N", D.Stratum())
	require.NoError(t, D.Validate())
	assert.InDelta(t, ref.Atoms[7].Pos[0]*1.05, D.Atoms[7].Pos[0], 1e-12)
	assert.InDelta(t, ref.Atoms[7].Pos[2], D.Atoms[7].Pos[2], 1e-12)

	again, err := Derive(ref, s, map[string]float64{"N": 2.5, "B": 5}, "d1")
	require.NoError(t, err)
	assert.Equal(t, D.Atoms, again.Atoms)
	assert.Equal(t, "C60_biaxial+5_B5_N2.5", DeriveID("C60", s, map[string]float64{"N": 2.5, "B": 5}))
}

func TestDopantCount(t *testing.T) {
	assert.Equal(t, 0, DopantCount(60, 0))
	assert.Equal(t, 1, DopantCount(60, 0.5))
	assert.Equal(t, 4, DopantCount(60, 7.5))
}

func TestTransformed(t *testing.T) {
	C := C60("C60")
	R := Rotation([3]float64{0, 0, 1}, math.Pi/2)
	D, err := C.Transformed(R, [3]float64{1, 2, 3})
	require.NoError(t, err)
	a, b := C.Atoms[5].Pos, D.Atoms[5].Pos
	assert.InDelta(t, -a[1]+1, b[0], 1e-12)
	assert.InDelta(t, a[0]+2, b[1], 1e-12)
	assert.InDelta(t, a[2]+3, b[2], 1e-12)
}

func TestWrapped(t *testing.T) {
	C := &Configuration{ID: "w",
		Atoms: []Atom{
			{Symbol: "C", Pos: [3]float64{1, 2, 3}},
			{Symbol: "C", Pos: [3]float64{-1, 25, 3}},
			{Symbol: "C", Pos: [3]float64{14, -7, 33}},
		},
		Cell: &Cell{Vectors: [3][3]float64{{4, 0, 0}, {1, 10, 0}, {0, 0, 10}}, PBC: [3]bool{true, true, false}},
	}
	W, err := C.Wrapped()
	require.NoError(t, err)
	assert.Equal(t, C.Atoms[0], W.Atoms[0])
	//(-1, 25) is (-0.875, 2.5) in fractional coordinates: one a forward, two b back.
	assert.InDeltaSlice(t, []float64{1, 5, 3}, W.Atoms[1].Pos[:], 1e-12)
	//z is not periodic and is kept.
	assert.InDeltaSlice(t, []float64{3, 3, 33}, W.Atoms[2].Pos[:], 1e-12)
	assert.Equal(t, -1.0, C.Atoms[1].Pos[0])

	C.Cell.PBC = [3]bool{}
	W, err = C.Wrapped()
	require.NoError(t, err)
	assert.Same(t, C, W)
}
