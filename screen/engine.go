/*
 * engine.go, part of gofullerene.
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

package screen

import (
	"context"
	"math"
	"reflect"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/gnn"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrUnfitModel is returned when screening with a model whose cross-validated
// accuracy is below its threshold, or was never measured.
var ErrUnfitModel = errors.New("screen: model is not fit for screening")

// Advisory accompanies every screening result.
const Advisory = "Screening values are surrogate-model predictions, not DFT results. " +
	"Every candidate must be confirmed by the DFT pipeline before it is treated as validated."

// Options of an Engine.
type Options struct {
	AllowUnfit bool //screen with an unfit or uncalibrated model, with a warning
	Workers    int  //GOMAXPROCS if 0
}

// Engine predicts and ranks candidates with a trained model, optionally
// averaged with an ensemble of models trained on the same tasks and with the
// same featurization. The models are only read.
type Engine struct {
	models  []*gnn.Model
	tasks   []string
	sigma   []float64 //calibrated error per task, NaN if unknown
	fit     bool
	workers int
}

// NewEngine returns an engine for m. Unless opts.AllowUnfit is set, m must
// carry a calibration with a positive verdict, otherwise ErrUnfitModel is
// returned.
func NewEngine(m *gnn.Model, opts Options, ensemble ...*gnn.Model) (*Engine, error) {
	if m == nil {
		return nil, errors.New("screen: nil model")
	}
	E := &Engine{models: append([]*gnn.Model{m}, ensemble...), tasks: m.Tasks(), workers: opts.Workers}
	if E.workers <= 0 {
		E.workers = runtime.GOMAXPROCS(0)
	}
	for i, o := range ensemble {
		if !reflect.DeepEqual(o.Tasks(), E.tasks) {
			return nil, errors.Errorf("screen: ensemble member %d predicts %v, not %v", i, o.Tasks(), E.tasks)
		}
		if !reflect.DeepEqual(o.Features, m.Features) {
			return nil, errors.Errorf("screen: ensemble member %d featurizes differently", i)
		}
	}
	cal := m.Calibration
	E.fit = cal != nil && cal.Fit
	if !E.fit {
		why := "it was never cross validated"
		if cal != nil {
			why = "its cross-validated R2 is below " + fmtFloat(cal.Threshold) + " for " + join(cal.Unfit)
		}
		if !opts.AllowUnfit {
			return nil, errors.Wrap(ErrUnfitModel, why)
		}
		klog.Warningf("screen: screening with an UNFIT model: %s. Rankings may be meaningless.", why)
	}
	E.sigma = make([]float64, len(E.tasks))
	for k := range E.sigma {
		E.sigma[k] = math.NaN()
		if cal != nil && k < len(cal.Sigma) {
			E.sigma[k] = cal.Sigma[k]
		}
	}
	return E, nil
}

func (E *Engine) Tasks() []string { return append([]string(nil), E.tasks...) }

// predict returns the mean prediction over the models and its uncertainty:
// the calibrated error combined with the spread of the ensemble.
func (E *Engine) predict(C *fullerene.Configuration) ([]float64, []float64, error) {
	G, err := E.models[0].Featurizer().Featurize(C)
	if err != nil {
		return nil, nil, err
	}
	n := float64(len(E.models))
	mean := make([]float64, len(E.tasks))
	sq := make([]float64, len(E.tasks))
	for _, m := range E.models {
		p, err := m.PredictGraph(G)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, errors.Errorf("screen: %s: non-finite prediction for %s", C.ID, E.tasks[k])
			}
			mean[k] += v / n
			sq[k] += v * v / n
		}
	}
	sigma := make([]float64, len(E.tasks))
	for k := range sigma {
		var spread float64
		if len(E.models) > 1 {
			spread = math.Max(0, sq[k]-mean[k]*mean[k]) * n / (n - 1)
		}
		cal := E.sigma[k]
		switch {
		case math.IsNaN(cal) && len(E.models) == 1:
			sigma[k] = math.NaN()
		case math.IsNaN(cal):
			sigma[k] = math.Sqrt(spread)
		default:
			sigma[k] = math.Sqrt(cal*cal + spread)
		}
	}
	return mean, sigma, nil
}

// Screen derives every point of grid from ref and ranks them.
func (E *Engine) Screen(ctx context.Context, ref *fullerene.Configuration, grid Grid, obj Objective) (*Result, error) {
	cands, rej, err := grid.Candidates(ref)
	if err != nil {
		return nil, err
	}
	rej.Log("screen: grid")
	klog.Infof("screen: %d candidates from %s", len(cands), ref.ID)
	R, err := E.ScreenConfigurations(ctx, cands, obj)
	if err != nil {
		return nil, err
	}
	R.Excluded.Merge(rej)
	return R, nil
}

// ScreenConfigurations predicts and ranks the given configurations. A
// configuration that can't be featurized or predicted, e.g. one with an
// element outside the model's vocabulary, is excluded and reported, and the
// others are still ranked.
func (E *Engine) ScreenConfigurations(ctx context.Context, cfgs []*fullerene.Configuration, obj Objective) (*Result, error) {
	c, err := obj.compile(E.tasks)
	if err != nil {
		return nil, err
	}
	cands := make([]*Candidate, len(cfgs))
	errs := make([]error, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(E.workers)
	for i, C := range cfgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, s, err := E.predict(C)
			if err != nil {
				errs[i] = err
				return nil
			}
			cands[i] = newCandidate(C, p, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	R := &Result{Tasks: E.Tasks(), Objective: obj, Fit: E.fit, Advisory: Advisory, Excluded: new(fullerene.Rejections)}
	var feasible, infeasible []*Candidate
	for i, cand := range cands {
		if cand == nil {
			R.Excluded.Add(cfgs[i].ID, errs[i])
			continue
		}
		cand.Score = c.score(cand.Predicted)
		cand.Violations = c.violations(cand.Predicted)
		if len(cand.Violations) == 0 {
			feasible = append(feasible, cand)
		} else {
			infeasible = append(infeasible, cand)
		}
	}
	sort.SliceStable(feasible, func(i, j int) bool { return c.less(feasible[i], feasible[j]) })
	sort.SliceStable(infeasible, func(i, j int) bool { return c.less(infeasible[i], infeasible[j]) })
	for i, cand := range feasible {
		cand.Rank = i + 1
	}
	R.Ranked = append(feasible, infeasible...)
	R.Shortlist = feasible[:min(c.topN, len(feasible))]
	R.Excluded.Log("screen")
	klog.Infof("screen: %d ranked, %d meet the constraints, %d excluded", len(R.Ranked), len(feasible), R.Excluded.Len())
	return R, nil
}
