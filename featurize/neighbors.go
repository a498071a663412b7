/*
 * neighbors.go, part of gofullerene.
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

package featurize

import (
	"math"

	fullerene "github.com/rmera/gofullerene"
)

//imageRange returns, for each lattice direction, how many cell images on
//each side can hold atoms within cutoff of the central cell. It holds only
//for atoms inside the home cell. The distance
//between consecutive lattice planes along a is V/|b x c|.
func imageRange(cell *fullerene.Cell, cutoff float64) [3]int {
	var n [3]int
	if !cell.Periodic() {
		return n
	}
	V := cell.Volume()
	for a := 0; a < 3; a++ {
		if !cell.PBC[a] {
			continue
		}
		area := fullerene.Norm(fullerene.Cross(cell.Vectors[(a+1)%3], cell.Vectors[(a+2)%3]))
		n[a] = int(math.Ceil(cutoff / (V / area)))
	}
	return n
}

func shifts(r [3]int) [][3]int {
	ret := make([][3]int, 0, (2*r[0]+1)*(2*r[1]+1)*(2*r[2]+1))
	for x := -r[0]; x <= r[0]; x++ {
		for y := -r[1]; y <= r[1]; y++ {
			for z := -r[2]; z <= r[2]; z++ {
				ret = append(ret, [3]int{x, y, z})
			}
		}
	}
	return ret
}

//neighbors returns every directed edge i->j with |r_j + T - r_i| <= cutoff,
//where T runs over the lattice translations of the periodic directions.
//Each pair is stored both ways. An atom next to its own image gets one
//edge per image.
func neighbors(C *fullerene.Configuration, cutoff float64) []Edge {
	sh := shifts(imageRange(C.Cell, cutoff))
	trans := make([][3]float64, len(sh))
	for k, s := range sh {
		for a := 0; a < 3 && C.Cell != nil; a++ {
			for x := 0; x < 3; x++ {
				trans[k][x] += float64(s[a]) * C.Cell.Vectors[a][x]
			}
		}
	}
	var edges []Edge
	for i := range C.Atoms {
		pi := C.Atoms[i].Pos
		for j := i; j < len(C.Atoms); j++ {
			pj := C.Atoms[j].Pos
			for k, s := range sh {
				if i == j && s == [3]int{} {
					continue
				}
				d := [3]float64{pj[0] + trans[k][0] - pi[0], pj[1] + trans[k][1] - pi[1], pj[2] + trans[k][2] - pi[2]}
				r := fullerene.Norm(d)
				if r > cutoff {
					continue
				}
				u := fullerene.Unit(d)
				edges = append(edges, Edge{From: i, To: j, Distance: r, Direction: u, Image: s})
				if i != j {
					edges = append(edges, Edge{From: j, To: i, Distance: r,
						Direction: [3]float64{-u[0], -u[1], -u[2]}, Image: [3]int{-s[0], -s[1], -s[2]}})
				}
			}
		}
	}
	return edges
}
