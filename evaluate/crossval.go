/*
 * crossval.go, part of gofullerene.
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

package evaluate

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/gnn"
	"github.com/rmera/gofullerene/train"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Options of a cross-validation run.
type Options struct {
	Folds     int
	Threshold float64 //minimum mean R2 for every task
	Parallel  int     //folds trained at the same time, 1 if 0
	Setup     train.Setup
}

// FoldResult is the outcome of training and testing on one fold.
type FoldResult struct {
	Fold      int       `json:"fold"`
	Metrics   []Metrics `json:"metrics"`
	Epochs    int       `json:"epochs"`
	BestEpoch int       `json:"best_epoch"`
	Stop      string    `json:"stop"`
}

// Report gathers the per-fold metrics and their mean and standard
// deviation over folds. Only these aggregated values are a generalization
// estimate; a single fold is not.
type Report struct {
	Tasks     []string     `json:"tasks"`
	Folds     []FoldResult `json:"folds"`
	Mean      []Metrics    `json:"mean"`
	Std       []Metrics    `json:"std"`
	Threshold float64      `json:"threshold"`
	Fit       bool         `json:"fit"`
	Unfit     []string     `json:"unfit,omitempty"`
}

// CrossValidate splits samples into opts.Folds folds with A, and for each
// fold trains a model on the training part, stops on the validation part and
// tests on the held-out part. Folds own their data and model, so they can
// run in parallel. A model whose mean R2 falls below the threshold for any
// task is reported as unfit, with a warning.
func CrossValidate(ctx context.Context, samples []*dataset.LabeledSample, A *dataset.Assembler, opts Options) (*Report, error) {
	parts, rej, err := A.Folds(samples, opts.Folds)
	if err != nil {
		return nil, err
	}
	rej.Log("cross validation")
	par := opts.Parallel
	if par < 1 {
		par = 1
	}
	results := make([]FoldResult, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(par)
	for f, P := range parts {
		g.Go(func() error {
			s := opts.Setup
			s.Train.Seed += uint64(f)
			s.Train.Checkpoint = ""
			m, c, err := train.Fit(gctx, P, s)
			if err != nil {
				return errors.WithMessagef(err, "evaluate: fold %d", f)
			}
			met, err := Evaluate(m, P.Test, A.Tasks)
			if err != nil {
				return errors.WithMessagef(err, "evaluate: fold %d", f)
			}
			results[f] = FoldResult{Fold: f, Metrics: met, Epochs: c.Epoch(), BestEpoch: c.BestEpoch(), Stop: c.StopReason().String()}
			klog.Infof("evaluate: fold %d: %s", f, summary(met))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	R := aggregate(A.Tasks, results, opts.Threshold)
	if !R.Fit {
		klog.Warningf("evaluate: model UNFIT for screening: mean R2 below %.3g for %s", R.Threshold, strings.Join(R.Unfit, ", "))
	}
	return R, nil
}

func aggregate(tasks []string, folds []FoldResult, threshold float64) *Report {
	R := &Report{Tasks: append([]string(nil), tasks...), Folds: folds, Threshold: threshold, Fit: true,
		Mean: make([]Metrics, len(tasks)), Std: make([]Metrics, len(tasks))}
	for k, t := range tasks {
		var r2, mae, rmse []float64
		n := 0
		for _, f := range folds {
			m := f.Metrics[k]
			n += m.N
			if m.N == 0 {
				continue
			}
			r2 = append(r2, m.R2)
			mae = append(mae, m.MAE)
			rmse = append(rmse, m.RMSE)
		}
		R.Mean[k] = Metrics{Task: t, N: n}
		R.Std[k] = Metrics{Task: t, N: n}
		R.Mean[k].R2, R.Std[k].R2 = meanStd(r2)
		R.Mean[k].MAE, R.Std[k].MAE = meanStd(mae)
		R.Mean[k].RMSE, R.Std[k].RMSE = meanStd(rmse)
		//NaN compares false, so undefined R2 counts as failing.
		if !(R.Mean[k].R2 >= threshold) {
			R.Fit = false
			R.Unfit = append(R.Unfit, t)
		}
	}
	return R
}

func meanStd(v []float64) (float64, float64) {
	switch len(v) {
	case 0:
		return math.NaN(), math.NaN()
	case 1:
		return v[0], 0
	}
	return stat.MeanStdDev(v, nil)
}

// Sigmas returns, per task, the RMSE pooled over all held-out predictions
// of every fold. It is used as the uncertainty of screening predictions.
func (R *Report) Sigmas() []float64 {
	ret := make([]float64, len(R.Tasks))
	for k := range R.Tasks {
		var sq float64
		n := 0
		for _, f := range R.Folds {
			m := f.Metrics[k]
			if m.N == 0 {
				continue
			}
			sq += m.RMSE * m.RMSE * float64(m.N)
			n += m.N
		}
		ret[k] = math.NaN()
		if n > 0 {
			ret[k] = math.Sqrt(sq / float64(n))
		}
	}
	return ret
}

// Calibration returns the summary stored with a model trained after this
// cross validation.
func (R *Report) Calibration() *gnn.Calibration {
	C := &gnn.Calibration{Folds: len(R.Folds), Threshold: R.Threshold, Fit: R.Fit,
		Unfit: append([]string(nil), R.Unfit...), Sigma: R.Sigmas()}
	for k := range R.Tasks {
		C.R2 = append(C.R2, R.Mean[k].R2)
		C.MAE = append(C.MAE, R.Mean[k].MAE)
	}
	return C
}
