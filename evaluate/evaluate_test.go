/*
 * evaluate_test.go, part of gofullerene.
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
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
	"github.com/rmera/gofullerene/gnn"
	"github.com/rmera/gofullerene/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constant []float64

func (c constant) PredictGraph(G *featurize.StructureGraph) ([]float64, error) {
	return append([]float64(nil), c...), nil
}

type echo map[string][]float64

func (e echo) PredictGraph(G *featurize.StructureGraph) ([]float64, error) {
	return e[G.ID], nil
}

func TestMetrics(t *testing.T) {
	m := metrics("band_gap", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4})
	assert.Equal(t, 4, m.N)
	assert.InDelta(t, 1, m.R2, 1e-12)
	assert.Zero(t, m.MAE)
	assert.Zero(t, m.RMSE)

	m = metrics("band_gap", []float64{1, 2, 3, 4}, []float64{2, 1, 3, 6})
	assert.InDelta(t, 1.0, m.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(6.0/4), m.RMSE, 1e-12)
	assert.InDelta(t, 1-6.0/5, m.R2, 1e-12)

	m = metrics("band_gap", []float64{2, 2}, []float64{2, 3})
	assert.True(t, math.IsNaN(m.R2))
	assert.InDelta(t, 0.5, m.MAE, 1e-12)

	m = metrics("band_gap", nil, nil)
	assert.Zero(t, m.N)
	assert.True(t, math.IsNaN(m.MAE))
}

func TestEvaluateSkipsMissingLabels(t *testing.T) {
	samples := []*dataset.LabeledSample{
		{ID: "a", Graph: &featurize.StructureGraph{ID: "a"}, Targets: []float64{1, 10}, Valid: []bool{true, true}},
		{ID: "b", Graph: &featurize.StructureGraph{ID: "b"}, Targets: []float64{2, 99}, Valid: []bool{true, false}},
		{ID: "c", Graph: &featurize.StructureGraph{ID: "c"}, Targets: []float64{3, 30}, Valid: []bool{true, true}},
	}
	m, err := Evaluate(echo{"a": {1, 10}, "b": {2, 0}, "c": {3, 30}}, samples, []string{"band_gap", "mobility"})
	require.NoError(t, err)
	assert.Equal(t, 3, m[0].N)
	assert.Equal(t, 2, m[1].N)
	assert.Zero(t, m[1].MAE)
	assert.InDelta(t, 1, m[1].R2, 1e-12)

	_, err = Evaluate(constant{1}, samples, []string{"band_gap"})
	assert.Error(t, err)
}

func TestAggregateVerdict(t *testing.T) {
	tasks := []string{"band_gap", "mobility"}
	folds := []FoldResult{
		{Fold: 0, Metrics: []Metrics{{Task: "band_gap", N: 4, R2: 0.95, MAE: 0.1, RMSE: 0.2}, {Task: "mobility", N: 4, R2: 0.5, MAE: 1, RMSE: 2}}},
		{Fold: 1, Metrics: []Metrics{{Task: "band_gap", N: 4, R2: 0.93, MAE: 0.1, RMSE: 0.2}, {Task: "mobility", N: 4, R2: math.NaN(), MAE: 1, RMSE: 1}}},
		{Fold: 2, Metrics: []Metrics{{Task: "band_gap", N: 4, R2: 0.97, MAE: 0.1, RMSE: 0.2}, {Task: "mobility", N: 0, R2: math.NaN(), MAE: math.NaN(), RMSE: math.NaN()}}},
	}
	R := aggregate(tasks, folds, 0.9)
	assert.InDelta(t, 0.95, R.Mean[0].R2, 1e-12)
	assert.InDelta(t, 0.02, R.Std[0].R2, 1e-12)
	assert.Equal(t, 12, R.Mean[0].N)
	assert.False(t, R.Fit)
	assert.Equal(t, []string{"mobility"}, R.Unfit)

	s := R.Sigmas()
	assert.InDelta(t, 0.2, s[0], 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), s[1], 1e-12)

	C := R.Calibration()
	assert.Equal(t, 3, C.Folds)
	assert.False(t, C.Fit)
	assert.Equal(t, s, []float64(C.Sigma))

	out := R.Render()
	assert.Contains(t, out, "UNFIT")
	assert.Contains(t, out, "mobility")

	R = aggregate(tasks[:1], folds, 0.9)
	assert.True(t, R.Fit)
	assert.Contains(t, R.Render(), "fit for screening")
}

//cages returns n slightly different hexagonal rings with a band gap that
//grows with the index.
func cages(t *testing.T, n int) []*dataset.LabeledSample {
	t.Helper()
	return rings(t, n, func(i int) dataset.Labels {
		return dataset.Labels{Values: []float64{1 + 1.5*float64(i)/float64(n-1)}, Valid: []bool{true}}
	})
}

func rings(t *testing.T, n int, labels func(i int) dataset.Labels) []*dataset.LabeledSample {
	t.Helper()
	F, err := featurize.New(featurize.Options{Cutoff: 3.0, Vocabulary: fullerene.DefaultVocabulary(), RadialBasis: 4})
	require.NoError(t, err)
	dopants := []string{"C", "B", "N", "P"}
	var ret []*dataset.LabeledSample
	for i := 0; i < n; i++ {
		C := &fullerene.Configuration{ID: fmt.Sprintf("ring%02d", i)}
		r := 1.42 * (1 + 0.01*float64(i%5))
		for j := 0; j < 6; j++ {
			a := 2 * math.Pi * float64(j) / 6
			s := "C"
			if j == 0 {
				s = dopants[i%4]
			}
			C.Atoms = append(C.Atoms, fullerene.Atom{Symbol: s, Pos: [3]float64{r * math.Cos(a), r * math.Sin(a), 0}})
		}
		G, err := F.Featurize(C)
		require.NoError(t, err)
		s, err := dataset.NewSample(G, labels(i))
		require.NoError(t, err)
		ret = append(ret, s)
	}
	return ret
}

func crossvalOptions(parallel int) Options {
	tr := train.DefaultOptions()
	tr.BatchSize = 4
	tr.LearningRate = 1e-2
	tr.MaxEpochs = 6
	tr.Patience = 3
	tr.Seed = 5
	return Options{Folds: 4, Threshold: 0.9, Parallel: parallel, Setup: train.Setup{
		Arch:     gnn.Architecture{Hidden: 8, Layers: 2},
		Features: featurize.Options{Cutoff: 3.0, Vocabulary: fullerene.DefaultVocabulary(), RadialBasis: 4},
		RunID:    "crossval-test",
	}}
}

func TestCrossValidate(t *testing.T) {
	samples := cages(t, 20)
	A := &dataset.Assembler{Tasks: []string{"band_gap"}, Seed: 9}
	R, err := CrossValidate(context.Background(), samples, A, crossvalOptions(1))
	require.NoError(t, err)
	require.Len(t, R.Folds, 4)
	n := 0
	for f, fr := range R.Folds {
		assert.Equal(t, f, fr.Fold)
		assert.Equal(t, 5, fr.Metrics[0].N)
		assert.LessOrEqual(t, fr.Epochs, 6)
		n += fr.Metrics[0].N
	}
	assert.Equal(t, 20, n)
	assert.Equal(t, 20, R.Mean[0].N)
	assert.False(t, math.IsNaN(R.Mean[0].R2))
	assert.False(t, math.IsNaN(R.Mean[0].MAE))
	assert.Equal(t, R.Fit, R.Mean[0].R2 >= 0.9)
	assert.True(t, strings.HasPrefix(R.Render(), "4-fold"))

	//same seed, same folds and same models, whatever the parallelism
	A2 := &dataset.Assembler{Tasks: []string{"band_gap"}, Seed: 9}
	R2, err := CrossValidate(context.Background(), samples, A2, crossvalOptions(4))
	require.NoError(t, err)
	for f := range R.Folds {
		assert.Equal(t, R.Folds[f].Metrics, R2.Folds[f].Metrics)
		assert.Equal(t, R.Folds[f].Epochs, R2.Folds[f].Epochs)
	}
}

func TestCrossValidateUnfit(t *testing.T) {
	opts := crossvalOptions(2)
	opts.Threshold = 2 //R2 can't reach it
	opts.Setup.Train.MaxEpochs = 1
	R, err := CrossValidate(context.Background(), cages(t, 12), &dataset.Assembler{Tasks: []string{"band_gap"}, Seed: 1}, opts)
	require.NoError(t, err)
	assert.False(t, R.Fit)
	assert.Equal(t, []string{"band_gap"}, R.Unfit)
	assert.False(t, R.Calibration().Fit)
}

func TestCrossValidateErrors(t *testing.T) {
	A := &dataset.Assembler{Tasks: []string{"band_gap"}, Seed: 1}
	opts := crossvalOptions(1)
	opts.Folds = 2
	_, err := CrossValidate(context.Background(), cages(t, 8), A, opts)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CrossValidate(ctx, cages(t, 8), A, crossvalOptions(1))
	assert.Error(t, err)
}

func TestCrossValidateSingleLabelFold(t *testing.T) {
	//mobility is known for one ring only, so its R2 is undefined in every fold
	samples := rings(t, 12, func(i int) dataset.Labels {
		return dataset.Labels{Values: []float64{1 + 0.1*float64(i), 250}, Valid: []bool{true, i == 0}}
	})
	opts := crossvalOptions(2)
	opts.Setup.Train.MaxEpochs = 1
	A := &dataset.Assembler{Tasks: []string{"band_gap", "mobility"}, Seed: 4}
	R, err := CrossValidate(context.Background(), samples, A, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, R.Mean[1].N)
	assert.True(t, math.IsNaN(R.Mean[1].R2))
	assert.False(t, R.Fit)
	assert.Contains(t, R.Unfit, "mobility")
	assert.Contains(t, R.Render(), "n/a")

	m, err := gnn.New(gnn.Architecture{Hidden: 8, Layers: 2, Tasks: A.Tasks}, opts.Setup.Features, 1)
	require.NoError(t, err)
	m.Calibration = R.Calibration()
	path := filepath.Join(t.TempDir(), "model.gfm")
	require.NoError(t, m.Save(path))
	l, err := gnn.Load(path)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(l.Calibration.R2[1]))
	assert.False(t, l.Calibration.Fit)
	assert.Equal(t, R.Mean[0].R2, l.Calibration.R2[0])
}
