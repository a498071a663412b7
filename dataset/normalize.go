/*
 * normalize.go, part of gofullerene.
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
	"math"

	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Normalizer holds the per-property affine transform applied to targets.
// It is fitted on the training partition only, and then applied unchanged
// to every other sample and to model outputs.
type Normalizer struct {
	Tasks []string  `json:"tasks"`
	Mean  []float64 `json:"mean"`
	Std   []float64 `json:"std"`
}

// FitNormalizer computes the mean and standard deviation of each task over
// the valid labels of train. A task with no valid label gets the identity
// transform, and a constant task a standard deviation of 1.
func FitNormalizer(tasks []string, train []*LabeledSample) *Normalizer {
	N := &Normalizer{Tasks: append([]string(nil), tasks...), Mean: make([]float64, len(tasks)), Std: make([]float64, len(tasks))}
	vals := make([]float64, 0, len(train))
	for k, t := range tasks {
		vals = vals[:0]
		for _, s := range train {
			if s.Valid[k] {
				vals = append(vals, s.Targets[k])
			}
		}
		N.Mean[k], N.Std[k] = 0, 1
		switch len(vals) {
		case 0:
			klog.Warningf("dataset: no training label for %s, predictions for it are not normalized", t)
			continue
		case 1:
			N.Mean[k] = vals[0]
			continue
		}
		m, sd := stat.MeanStdDev(vals, nil)
		N.Mean[k] = m
		if sd > 1e-12 && !math.IsNaN(sd) && !math.IsInf(sd, 0) {
			N.Std[k] = sd
		}
	}
	return N
}

func (N *Normalizer) Normalize(k int, v float64) float64 {
	return (v - N.Mean[k]) / N.Std[k]
}

func (N *Normalizer) Denormalize(k int, v float64) float64 {
	return v*N.Std[k] + N.Mean[k]
}

// DenormalizeAll transforms a vector of model outputs, in place, to physical
// units, and returns it.
func (N *Normalizer) DenormalizeAll(v []float64) []float64 {
	for k := range v {
		v[k] = N.Denormalize(k, v[k])
	}
	return v
}

// Example returns s with normalized targets.
func (N *Normalizer) Example(s *LabeledSample) Example {
	e := Example{Graph: s.Graph, Targets: make([]float64, len(s.Targets)), Mask: append([]bool(nil), s.Valid...)}
	for k, v := range s.Targets {
		if s.Valid[k] {
			e.Targets[k] = N.Normalize(k, v)
		}
	}
	return e
}

func (N *Normalizer) Examples(samples []*LabeledSample) []Example {
	ret := make([]Example, len(samples))
	for i, s := range samples {
		ret[i] = N.Example(s)
	}
	return ret
}
