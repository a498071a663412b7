/*
 * sample.go, part of gofullerene.
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

package dataset

import (
	"sort"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/featurize"
	"k8s.io/klog/v2"
)

// LabeledSample is a structure graph together with its target properties.
type LabeledSample struct {
	ID      string
	Group   string //physical configuration, shared by replicas
	Stratum string //doping signature
	Graph   *featurize.StructureGraph
	Targets []float64 //physical units, task order
	Valid   []bool
}

// NewSample pairs G with its labels.
func NewSample(G *featurize.StructureGraph, L Labels) (*LabeledSample, error) {
	if len(L.Values) != len(L.Valid) {
		return nil, errors.Errorf("dataset: %s: %d values but %d validity flags", G.ID, len(L.Values), len(L.Valid))
	}
	if !L.Any() {
		return nil, &fullerene.MissingLabelsError{ID: G.ID}
	}
	group := G.Group
	if group == "" {
		group = G.ID
	}
	return &LabeledSample{ID: G.ID, Group: group, Stratum: G.Stratum, Graph: G,
		Targets: append([]float64(nil), L.Values...), Valid: append([]bool(nil), L.Valid...)}, nil
}

// Pair matches graphs with their labels by identifier. Graphs without labels,
// or whose labels are all missing, are rejected with a
// *fullerene.MissingLabelsError.
func Pair(graphs []*featurize.StructureGraph, labels map[string]Labels) ([]*LabeledSample, *fullerene.Rejections) {
	rej := new(fullerene.Rejections)
	ret := make([]*LabeledSample, 0, len(graphs))
	used := make(map[string]bool, len(graphs))
	for _, G := range graphs {
		L, ok := labels[G.ID]
		if !ok {
			rej.Add(G.ID, &fullerene.MissingLabelsError{ID: G.ID})
			continue
		}
		used[G.ID] = true
		s, err := NewSample(G, L)
		if err != nil {
			rej.Add(G.ID, err)
			continue
		}
		ret = append(ret, s)
	}
	if n := len(labels) - len(used); n > 0 {
		var orphan []string
		for id := range labels {
			if !used[id] {
				orphan = append(orphan, id)
			}
		}
		sort.Strings(orphan)
		klog.Infof("dataset: %d labelled configurations have no structure, e.g. %s", n, orphan[0])
	}
	return ret, rej
}

// Example is a sample ready for the model: targets are normalized, Mask[k]
// is false for missing properties.
type Example struct {
	Graph   *featurize.StructureGraph
	Targets []float64
	Mask    []bool
}
