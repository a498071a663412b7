/*
 * cage.go, part of gofullerene.
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

import "math"

// C60BondLength is the mean C-C distance of the cage built by C60.
const C60BondLength = 1.42

// C60 returns the ideal icosahedral C60 cage (a truncated icosahedron with
// all edges C60BondLength long) centered at the origin. It is the usual
// reference structure for strain and doping series.
func C60(id string) *Configuration {
	phi := (1 + math.Sqrt(5)) / 2
	//vertices of the truncated icosahedron with edge 2 are the cyclic
	//permutations of these, with all sign combinations.
	base := [][3]float64{
		{0, 1, 3 * phi},
		{1, 2 + phi, 2 * phi},
		{phi, 2, 2*phi + 1},
	}
	scale := C60BondLength / 2
	seen := make(map[[3]int64]bool)
	atoms := make([]Atom, 0, 60)
	for _, b := range base {
		for s := 0; s < 8; s++ {
			v := b
			for k := 0; k < 3; k++ {
				if s&(1<<k) != 0 {
					v[k] = -v[k]
				}
			}
			for c := 0; c < 3; c++ {
				p := [3]float64{v[c%3] * scale, v[(c+1)%3] * scale, v[(c+2)%3] * scale}
				key := [3]int64{int64(math.Round(p[0] * 1e6)), int64(math.Round(p[1] * 1e6)), int64(math.Round(p[2] * 1e6))}
				if seen[key] {
					continue //zero components give repeated sign combinations
				}
				seen[key] = true
				atoms = append(atoms, Atom{Symbol: HostElement, Pos: p})
			}
		}
	}
	return &Configuration{ID: id, Group: id, Atoms: atoms}
}
