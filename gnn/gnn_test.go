/*
 * gnn_test.go, part of gofullerene.
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

package gnn

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//ring returns a planar hexagon with the given elements.
func ring(id string, symbols ...string) *fullerene.Configuration {
	C := &fullerene.Configuration{ID: id}
	for i, s := range symbols {
		a := 2 * math.Pi * float64(i) / float64(len(symbols))
		C.Atoms = append(C.Atoms, fullerene.Atom{Symbol: s, Pos: [3]float64{1.42 * math.Cos(a), 1.42 * math.Sin(a), 0}})
	}
	return C
}

func smallOptions() featurize.Options {
	return featurize.Options{Cutoff: 3.0, Vocabulary: fullerene.DefaultVocabulary(), RadialBasis: 4}
}

func smallModel(t *testing.T, hidden, layers int) *Model {
	t.Helper()
	m, err := New(Architecture{Hidden: hidden, Layers: layers, Tasks: []string{"band_gap", "mobility"}}, smallOptions(), 11)
	require.NoError(t, err)
	return m
}

func examples(t *testing.T, m *Model) []dataset.Example {
	t.Helper()
	rings := []*fullerene.Configuration{
		ring("c6", "C", "C", "C", "C", "C", "C"),
		ring("b1", "B", "C", "C", "C", "C", "C"),
		ring("bn", "B", "N", "C", "C", "C", "C"),
		ring("p2", "P", "C", "C", "P", "C", "C"),
	}
	targets := [][]float64{{1, -1}, {-0.5, 0.3}, {0.8, 0}, {-1.2, 1.5}}
	masks := [][]bool{{true, true}, {true, false}, {true, true}, {false, true}}
	var ret []dataset.Example
	for i, C := range rings {
		G, err := m.Featurizer().Featurize(C)
		require.NoError(t, err)
		ret = append(ret, dataset.Example{Graph: G, Targets: targets[i], Mask: masks[i]})
	}
	return ret
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m := smallModel(t, 6, 2)
	batch := examples(t, m)
	ctx := context.Background()
	_, grad, err := m.Gradients(ctx, batch)
	require.NoError(t, err)
	const eps = 1e-6
	for i, P := range m.Params.M {
		raw := P.RawMatrix().Data
		for _, j := range []int{0, len(raw) / 2, len(raw) - 1} {
			orig := raw[j]
			raw[j] = orig + eps
			lp, err := m.Loss(ctx, batch)
			require.NoError(t, err)
			raw[j] = orig - eps
			lm, err := m.Loss(ctx, batch)
			require.NoError(t, err)
			raw[j] = orig
			num := (lp - lm) / (2 * eps)
			got := grad.M[i].RawMatrix().Data[j]
			assert.InDelta(t, num, got, 1e-5+1e-4*math.Abs(num), "param %d element %d", i, j)
		}
	}
}

func TestGradientsIndependentOfWorkers(t *testing.T) {
	m := smallModel(t, 8, 3)
	batch := examples(t, m)
	m.Workers = 1
	l1, g1, err := m.Gradients(context.Background(), batch)
	require.NoError(t, err)
	m.Workers = 4
	l4, g4, err := m.Gradients(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, l1, l4)
	for i := range g1.M {
		assert.Equal(t, g1.M[i].RawMatrix().Data, g4.M[i].RawMatrix().Data)
	}
}

func TestStepReducesLoss(t *testing.T) {
	m := smallModel(t, 16, 2)
	batch := examples(t, m)
	ctx := context.Background()
	first, err := m.Loss(ctx, batch)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		l, err := m.Step(ctx, batch, 1e-2)
		require.NoError(t, err)
		require.False(t, math.IsNaN(l))
	}
	last, err := m.Loss(ctx, batch)
	require.NoError(t, err)
	assert.Less(t, last, first/2)
}

func TestStepNonFinite(t *testing.T) {
	m := smallModel(t, 4, 2)
	batch := examples(t, m)
	batch[0].Targets = []float64{math.Inf(1), 0}
	before := m.Params.Clone()
	l, err := m.Step(context.Background(), batch, 1e-2)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(l) || math.IsInf(l, 0))
	for i := range before.M {
		assert.Equal(t, before.M[i].RawMatrix().Data, m.Params.M[i].RawMatrix().Data)
	}
}

func TestPredictInvariance(t *testing.T) {
	m, err := New(Architecture{Hidden: 8, Layers: 3, Tasks: []string{"band_gap"}}, featurize.DefaultOptions(), 5)
	require.NoError(t, err)
	s, err := fullerene.NewStrain(fullerene.Shear, 2)
	require.NoError(t, err)
	C, err := fullerene.Derive(fullerene.C60("C60"), s, map[string]float64{"N": 5}, "x")
	require.NoError(t, err)
	want, err := m.Predict(C)
	require.NoError(t, err)

	D, err := C.Transformed(fullerene.Rotation([3]float64{1, 1, 0}, 2.1), [3]float64{3, -2, 40})
	require.NoError(t, err)
	got, err := m.Predict(D)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-8)

	G, err := m.Featurizer().Featurize(C)
	require.NoError(t, err)
	perm := make([]int, G.Len())
	for i := range perm {
		perm[i] = (i*7 + 3) % G.Len()
	}
	P, err := G.Permuted(perm)
	require.NoError(t, err)
	got, err = m.PredictGraph(P)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestPredictDenormalizes(t *testing.T) {
	m := smallModel(t, 4, 2)
	G, err := m.Featurizer().Featurize(ring("c6", "C", "C", "C", "C", "C", "C"))
	require.NoError(t, err)
	norm, err := m.PredictNormalized(G)
	require.NoError(t, err)
	require.NoError(t, m.SetNormalizer(&dataset.Normalizer{Tasks: m.Tasks(), Mean: []float64{2, -1}, Std: []float64{0.5, 10}}))
	phys, err := m.PredictGraph(G)
	require.NoError(t, err)
	assert.InDelta(t, norm[0]*0.5+2, phys[0], 1e-12)
	assert.InDelta(t, norm[1]*10-1, phys[1], 1e-12)
}

func TestPredictInvalidElement(t *testing.T) {
	m := smallModel(t, 4, 2)
	_, err := m.Predict(ring("si", "Si", "C", "C", "C", "C", "C"))
	var ie *fullerene.InvalidElementError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, ie.Index)
}

func TestSaveLoad(t *testing.T) {
	m := smallModel(t, 8, 2)
	batch := examples(t, m)
	for i := 0; i < 5; i++ {
		_, err := m.Step(context.Background(), batch, 1e-2)
		require.NoError(t, err)
	}
	require.NoError(t, m.SetNormalizer(&dataset.Normalizer{Tasks: m.Tasks(), Mean: []float64{1.7, 300}, Std: []float64{0.4, 120}}))
	require.NoError(t, m.SetWeights([]float64{1, 0.5}))
	m.RunID = "run-1"
	m.Calibration = &Calibration{Folds: 4, Threshold: 0.9, Fit: false, Unfit: []string{"mobility"},
		R2: []float64{0.95, 0.5}, MAE: []float64{0.1, 40}, Sigma: []float64{0.12, 55}}
	path := filepath.Join(t.TempDir(), "model.gfm")
	require.NoError(t, m.Save(path))

	l, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Arch, l.Arch)
	assert.Equal(t, m.Features, l.Features)
	assert.Equal(t, m.Calibration, l.Calibration)
	assert.Equal(t, "run-1", l.RunID)
	assert.Equal(t, []float64{1, 0.5}, l.Weights)
	for _, ex := range batch {
		want, err := m.PredictGraph(ex.Graph)
		require.NoError(t, err)
		got, err := l.PredictGraph(ex.Graph)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestSaveLoadUndefinedMetrics(t *testing.T) {
	m := smallModel(t, 6, 2)
	m.Calibration = &Calibration{Folds: 4, Threshold: 0.9, Unfit: []string{"mobility"},
		R2: []float64{0.93, math.NaN()}, MAE: []float64{0.1, math.NaN()}, Sigma: []float64{0.2, math.NaN()}}
	path := filepath.Join(t.TempDir(), "model.gfm")
	require.NoError(t, m.Save(path))
	l, err := Load(path)
	require.NoError(t, err)
	c := l.Calibration
	require.NotNil(t, c)
	assert.Equal(t, []string{"mobility"}, c.Unfit)
	for _, v := range []Floats{c.R2, c.MAE, c.Sigma} {
		require.Len(t, v, 2)
		assert.True(t, math.IsNaN(v[1]))
	}
	assert.Equal(t, 0.93, c.R2[0])
	assert.Equal(t, 0.1, c.MAE[0])
	assert.Equal(t, 0.2, c.Sigma[0])

	b, err := json.Marshal(Floats{1.5, math.Inf(1), math.NaN()})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null, null]`, string(b))
	var f Floats
	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.Nil(t, f)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a model"), 0o644))
	_, err := Load(garbage)
	assert.Error(t, err)

	m := smallModel(t, 4, 1)
	old := filepath.Join(dir, "old")
	a := artifact{Format: FormatVersion + 1, Arch: m.Arch, Features: m.Features, Normalizer: m.Normalizer,
		Weights: m.Weights, Params: m.Params.export()}
	require.NoError(t, EncodeFile(old, a))
	_, err = Load(old)
	assert.Error(t, err)

	short := filepath.Join(dir, "short")
	a.Format = FormatVersion
	a.Params = a.Params[:3]
	require.NoError(t, EncodeFile(short, a))
	_, err = Load(short)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	m := smallModel(t, 4, 2)
	batch := examples(t, m)
	ctx := context.Background()
	_, err := m.Step(ctx, batch, 1e-2)
	require.NoError(t, err)
	s, err := m.State()
	require.NoError(t, err)
	saved := m.Params.Clone()
	savedT := m.opt.T
	for i := 0; i < 3; i++ {
		_, err = m.Step(ctx, batch, 1e-2)
		require.NoError(t, err)
	}
	require.NoError(t, m.SetState(s))
	assert.Equal(t, savedT, m.opt.T)
	for i := range saved.M {
		assert.Equal(t, saved.M[i].RawMatrix().Data, m.Params.M[i].RawMatrix().Data)
	}
	assert.Error(t, m.SetState([]byte(`{"params": []}`)))
}

func TestNewRejects(t *testing.T) {
	_, err := New(Architecture{Hidden: 4, Layers: 0, Tasks: []string{"a"}}, smallOptions(), 1)
	assert.Error(t, err)
	_, err = New(Architecture{Hidden: 4, Layers: 2}, smallOptions(), 1)
	assert.Error(t, err)
	_, err = New(Architecture{NodeFeatures: 3, Hidden: 4, Layers: 2, Tasks: []string{"a"}}, smallOptions(), 1)
	assert.Error(t, err)
	m := smallModel(t, 4, 1)
	assert.Error(t, m.SetWeights([]float64{1}))
	assert.Error(t, m.SetWeights([]float64{1, 0}))
}
