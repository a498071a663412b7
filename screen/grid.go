/*
 * grid.go, part of gofullerene.
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

//Package screen ranks candidate fullerene variants (strained and doped
//derivatives of a reference cage) by the properties a trained model predicts
//for them. Screening results are estimates for prioritizing DFT work, never
//confirmed values.
package screen

import (
	"sort"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
)

// Grid is the set of candidates to screen: every strain combined with every
// dopant at every concentration (in percent). A nil strain in Strains stands
// for the unstrained reference. Undoped adds the undoped variant of each
// strain.
type Grid struct {
	Strains        []*fullerene.Strain
	Dopants        []string
	Concentrations []float64
	Undoped        bool
}

// Len returns the number of grid points.
func (g Grid) Len() int {
	ns := len(g.Strains)
	if ns == 0 {
		ns = 1
	}
	n := len(g.Dopants) * len(g.Concentrations)
	if g.Undoped {
		n++
	}
	return ns * n
}

func (g Grid) Validate() error {
	if g.Len() == 0 {
		return errors.New("screen: empty grid")
	}
	for _, c := range g.Concentrations {
		if !(c > 0 && c < 100) {
			return errors.Errorf("screen: invalid concentration %v%%", c)
		}
	}
	seen := make(map[string]bool)
	for _, d := range g.Dopants {
		if seen[d] {
			return errors.Errorf("screen: dopant %s listed twice", d)
		}
		seen[d] = true
	}
	return nil
}

// Candidates derives every grid point from ref, in a fixed order. Points that
// can't be built (e.g. not enough host sites) are returned as rejections.
// Dopants are not checked against any vocabulary here.
func (g Grid) Candidates(ref *fullerene.Configuration) ([]*fullerene.Configuration, *fullerene.Rejections, error) {
	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	strains := g.Strains
	if len(strains) == 0 {
		strains = []*fullerene.Strain{nil}
	}
	var doping []map[string]float64
	if g.Undoped {
		doping = append(doping, nil)
	}
	dopants := append([]string(nil), g.Dopants...)
	sort.Strings(dopants)
	concs := append([]float64(nil), g.Concentrations...)
	sort.Float64s(concs)
	for _, d := range dopants {
		for _, c := range concs {
			doping = append(doping, map[string]float64{d: c})
		}
	}
	rej := new(fullerene.Rejections)
	ret := make([]*fullerene.Configuration, 0, g.Len())
	for _, s := range strains {
		for _, d := range doping {
			id := fullerene.DeriveID(ref.ID, s, d)
			C, err := fullerene.Derive(ref, s, d, id)
			if err != nil {
				rej.Add(id, err)
				continue
			}
			ret = append(ret, C)
		}
	}
	return ret, rej, nil
}
