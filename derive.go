/*
 * derive.go, part of gofullerene.
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

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DopantCount returns how many of nhost host atoms are replaced to reach
// percent concentration. At least one site is doped for any positive
// concentration.
func DopantCount(nhost int, percent float64) int {
	if percent <= 0 || nhost == 0 {
		return 0
	}
	n := int(math.Floor(float64(nhost) * percent / 100))
	if n < 1 {
		n = 1
	}
	return n
}

// Derive returns a new configuration obtained from ref by applying strain
// to positions and cell, and then replacing host atoms with dopants so each
// element in dopants (element to percent) reaches its concentration.
// Sites are chosen evenly spaced along the host atom list, so the same
// request always gives the same structure. ref is not modified.
func Derive(ref *Configuration, strain *Strain, dopants map[string]float64, id string) (*Configuration, error) {
	if ref == nil || len(ref.Atoms) == 0 {
		return nil, errors.New("gofullerene: Derive: empty reference structure")
	}
	C := ref.Copy()
	C.ID = id
	C.Group = id
	if strain != nil {
		F := strain.Deformation()
		for i, a := range C.Atoms {
			C.Atoms[i].Pos = rowTimes(a.Pos, F)
		}
		if C.Cell != nil {
			for i := 0; i < 3; i++ {
				C.Cell.Vectors[i] = rowTimes(C.Cell.Vectors[i], F)
			}
		}
		C.Strain = strain
	}
	if len(dopants) == 0 {
		return C, nil
	}
	if C.Doping == nil {
		C.Doping = &Doping{Sites: make(map[int]string), Concentrations: make(map[string]float64)}
	}
	els := make([]string, 0, len(dopants))
	for e := range dopants {
		els = append(els, e)
	}
	sort.Strings(els)
	host := make([]int, 0, len(C.Atoms))
	for i, a := range C.Atoms {
		if a.Symbol == HostElement && !C.Doping.IsDopant(i) {
			host = append(host, i)
		}
	}
	nhost := len(host)
	for _, e := range els {
		n := DopantCount(nhost, dopants[e])
		if n == 0 {
			continue
		}
		if n > len(host) {
			if len(host) == 0 {
				return nil, errors.Errorf("gofullerene: Derive %s: no host sites left for %s", id, e)
			}
			klog.Warningf("Derive %s: only %d host sites left for %d %s dopants", id, len(host), n, e)
			n = len(host)
		}
		step := len(host) / n
		chosen := make(map[int]bool, n)
		for k := 0; k < n; k++ {
			site := host[k*step]
			C.Atoms[site].Symbol = e
			C.Doping.Sites[site] = e
			chosen[site] = true
		}
		left := host[:0:0]
		for _, h := range host {
			if !chosen[h] {
				left = append(left, h)
			}
		}
		host = left
		C.Doping.Concentrations[e] = dopants[e]
	}
	return C, nil
}

// DeriveID builds a readable identifier for a derived configuration.
func DeriveID(refID string, strain *Strain, dopants map[string]float64) string {
	id := refID
	if strain != nil {
		id += fmt.Sprintf("_%s%+g", strain.Kind, strain.Percent)
	}
	els := make([]string, 0, len(dopants))
	for e := range dopants {
		els = append(els, e)
	}
	sort.Strings(els)
	for _, e := range els {
		id += fmt.Sprintf("_%s%g", e, dopants[e])
	}
	return id
}

func rowTimes(v [3]float64, F interface{ At(i, j int) float64 }) [3]float64 {
	var out [3]float64
	for j := 0; j < 3; j++ {
		out[j] = v[0]*F.At(0, j) + v[1]*F.At(1, j) + v[2]*F.At(2, j)
	}
	return out
}
