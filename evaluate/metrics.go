/*
 * metrics.go, part of gofullerene.
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

//Package evaluate measures how well a model generalizes: per-property R2,
//MAE and RMSE on held-out samples, and k-fold cross validation with an
//acceptance verdict against an R2 threshold.
package evaluate

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Predictor returns predictions in physical units for a graph.
// *gnn.Model is a Predictor.
type Predictor interface {
	PredictGraph(G *featurize.StructureGraph) ([]float64, error)
}

// Metrics of one property over a set of samples. R2 is NaN when it is not
// defined (fewer than two labels, or constant labels).
type Metrics struct {
	Task string  `json:"task"`
	N    int     `json:"n"`
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

// Evaluate computes the metrics of every task over the valid labels of
// samples. samples must not have been used for training p.
func Evaluate(p Predictor, samples []*dataset.LabeledSample, tasks []string) ([]Metrics, error) {
	truth := make([][]float64, len(tasks))
	pred := make([][]float64, len(tasks))
	for _, s := range samples {
		if len(s.Targets) != len(tasks) {
			return nil, errors.Errorf("evaluate: %s has %d targets for %d tasks", s.ID, len(s.Targets), len(tasks))
		}
		out, err := p.PredictGraph(s.Graph)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate: predicting %s", s.ID)
		}
		for k := range tasks {
			if s.Valid[k] {
				truth[k] = append(truth[k], s.Targets[k])
				pred[k] = append(pred[k], out[k])
			}
		}
	}
	ret := make([]Metrics, len(tasks))
	for k, t := range tasks {
		ret[k] = metrics(t, truth[k], pred[k])
	}
	return ret, nil
}

func metrics(task string, y, yp []float64) Metrics {
	n := len(y)
	m := Metrics{Task: task, N: n, R2: math.NaN(), MAE: math.NaN(), RMSE: math.NaN()}
	if n == 0 {
		return m
	}
	m.MAE = floats.Distance(y, yp, 1) / float64(n)
	m.RMSE = floats.Distance(y, yp, 2) / math.Sqrt(float64(n))
	if n > 1 && stat.Variance(y, nil) > 0 {
		m.R2 = stat.RSquaredFrom(yp, y, nil)
	}
	return m
}
