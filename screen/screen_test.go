/*
 * screen_test.go, part of gofullerene.
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
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/featurize"
	"github.com/rmera/gofullerene/gnn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tasks = []string{"band_gap", "mobility", "formation_energy"}

//model returns an untrained model over C, B and N only, so phosphorus
//dopants can't be featurized.
func model(t *testing.T, seed uint64, cal *gnn.Calibration) *gnn.Model {
	t.Helper()
	voc, err := fullerene.NewVocabulary("C", "B", "N")
	require.NoError(t, err)
	m, err := gnn.New(gnn.Architecture{Hidden: 8, Layers: 2, Tasks: tasks},
		featurize.Options{Cutoff: 1.6, Vocabulary: voc, RadialBasis: 4}, seed)
	require.NoError(t, err)
	m.Calibration = cal
	return m
}

func fitCalibration() *gnn.Calibration {
	return &gnn.Calibration{Folds: 4, Threshold: 0.9, Fit: true, R2: []float64{0.95, 0.93, 0.97},
		MAE: []float64{0.1, 0.2, 0.3}, Sigma: []float64{0.1, 0.2, 0.3}}
}

func grid(t *testing.T) Grid {
	t.Helper()
	s, err := fullerene.NewStrain(fullerene.Biaxial, 2)
	require.NoError(t, err)
	return Grid{Strains: []*fullerene.Strain{nil, s}, Dopants: []string{"P", "N", "B"},
		Concentrations: []float64{10, 5}, Undoped: true}
}

func TestGridCandidates(t *testing.T) {
	g := grid(t)
	assert.Equal(t, 14, g.Len())
	cands, rej, err := g.Candidates(fullerene.C60("C60"))
	require.NoError(t, err)
	assert.Zero(t, rej.Len())
	require.Len(t, cands, 14)
	assert.Equal(t, "C60", cands[0].ID)
	assert.Equal(t, "C60_B5", cands[1].ID)
	ids := make(map[string]bool)
	for _, C := range cands {
		assert.False(t, ids[C.ID], C.ID)
		ids[C.ID] = true
	}
	n := 0
	for _, a := range cands[1].Atoms {
		if a.Symbol == "B" {
			n++
		}
	}
	assert.Equal(t, fullerene.DopantCount(60, 5), n)

	again, _, err := g.Candidates(fullerene.C60("C60"))
	require.NoError(t, err)
	assert.Equal(t, cands, again)

	_, _, err = Grid{}.Candidates(fullerene.C60("C60"))
	assert.Error(t, err)
	_, _, err = Grid{Dopants: []string{"B"}, Concentrations: []float64{150}}.Candidates(fullerene.C60("C60"))
	assert.Error(t, err)
}

func TestScreenRanksAndExcludes(t *testing.T) {
	E, err := NewEngine(model(t, 1, fitCalibration()), Options{Workers: 3}, model(t, 2, nil))
	require.NoError(t, err)
	obj := Objective{Task: "mobility", Maximize: true, TopN: 3}
	R, err := E.Screen(context.Background(), fullerene.C60("C60"), grid(t), obj)
	require.NoError(t, err)

	assert.Equal(t, 4, R.Excluded.Len())
	assert.Equal(t, map[string]int{"invalid element": 4}, R.Excluded.Counts())
	require.Len(t, R.Ranked, 10)
	require.Len(t, R.Shortlist, 3)
	assert.True(t, R.Fit)
	assert.Equal(t, Advisory, R.Advisory)
	for i, c := range R.Ranked {
		assert.Equal(t, i+1, c.Rank)
		assert.Equal(t, c.Predicted[1], c.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, R.Ranked[i-1].Score, c.Score)
		}
		for k, s := range c.Sigma {
			assert.GreaterOrEqual(t, s, fitCalibration().Sigma[k]-1e-12)
		}
	}

	//constrain the band gap to the upper half of what was predicted
	gaps := make([]float64, len(R.Ranked))
	for i, c := range R.Ranked {
		gaps[i] = c.Predicted[0]
	}
	sort.Float64s(gaps)
	obj.Constraints = map[string]Range{"band_gap": AtLeast(gaps[5])}
	R, err = E.Screen(context.Background(), fullerene.C60("C60"), grid(t), obj)
	require.NoError(t, err)
	require.Len(t, R.Ranked, 10)
	feasible := 0
	for _, c := range R.Ranked {
		if c.Rank == 0 {
			assert.Equal(t, []string{"band_gap"}, c.Violations)
			assert.Less(t, c.Predicted[0], gaps[5])
			continue
		}
		feasible++
		assert.GreaterOrEqual(t, c.Predicted[0], gaps[5])
	}
	assert.Equal(t, 5, feasible)
	for _, c := range R.Shortlist {
		assert.NotZero(t, c.Rank)
	}
}

func TestScreenCancelled(t *testing.T) {
	E, err := NewEngine(model(t, 1, fitCalibration()), Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = E.Screen(ctx, fullerene.C60("C60"), grid(t), Objective{Task: "band_gap"})
	assert.Error(t, err)
}

func TestTieBreak(t *testing.T) {
	c, err := Objective{Task: "mobility", Maximize: true}.compile(tasks)
	require.NoError(t, err)
	mk := func(id string, p ...float64) *Candidate {
		return &Candidate{ID: id, Predicted: p, Score: c.score(p)}
	}
	high := mk("z", 1, 5, 0)
	stable := mk("b", 1, 3, -2)
	unstable := mk("a", 1, 3, -1)
	twin := mk("c", 1, 3, -2)
	cands := []*Candidate{unstable, twin, high, stable}
	sort.SliceStable(cands, func(i, j int) bool { return c.less(cands[i], cands[j]) })
	assert.Equal(t, []*Candidate{high, stable, twin, unstable}, cands)

	c, err = Objective{Task: "band_gap", TieBreak: "-"}.compile(tasks)
	require.NoError(t, err)
	assert.Equal(t, -1, c.tie)
	assert.Equal(t, -2.5, c.score([]float64{2.5, 0, 0}))
}

func TestObjectiveErrors(t *testing.T) {
	for _, o := range []Objective{
		{Task: "conductivity"},
		{Task: "band_gap", Constraints: map[string]Range{"hardness": AtLeast(1)}},
		{Task: "band_gap", Constraints: map[string]Range{"mobility": {Min: 2, Max: 1}}},
		{Task: "band_gap", TopN: -1},
	} {
		_, err := o.compile(tasks)
		assert.Error(t, err, "%+v", o)
	}
}

func TestUnfitModel(t *testing.T) {
	_, err := NewEngine(model(t, 1, nil), Options{})
	assert.True(t, errors.Is(err, ErrUnfitModel))

	cal := fitCalibration()
	cal.Fit = false
	cal.Unfit = []string{"mobility"}
	_, err = NewEngine(model(t, 1, cal), Options{})
	assert.True(t, errors.Is(err, ErrUnfitModel))

	E, err := NewEngine(model(t, 1, cal), Options{AllowUnfit: true})
	require.NoError(t, err)
	R, err := E.Screen(context.Background(), fullerene.C60("C60"), grid(t), Objective{Task: "band_gap"})
	require.NoError(t, err)
	assert.False(t, R.Fit)
	assert.Contains(t, R.Render(), "WARNING")
}

func TestEnsembleMismatch(t *testing.T) {
	other, err := gnn.New(gnn.Architecture{Hidden: 8, Layers: 2, Tasks: tasks[:2]},
		featurize.DefaultOptions(), 3)
	require.NoError(t, err)
	_, err = NewEngine(model(t, 1, fitCalibration()), Options{}, other)
	assert.Error(t, err)
}

func TestWriteOutputs(t *testing.T) {
	E, err := NewEngine(model(t, 1, fitCalibration()), Options{})
	require.NoError(t, err)
	R, err := E.Screen(context.Background(), fullerene.C60("C60"), grid(t), Objective{Task: "band_gap", TopN: 2})
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, R.WriteCSV(&b))
	rows, err := csv.NewReader(&b).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+len(R.Ranked))
	assert.Equal(t, []string{"rank", "id", "strain", "dopants", "band_gap", "band_gap_sigma", "mobility", "mobility_sigma",
		"formation_energy", "formation_energy_sigma", "score", "violations", "status"}, rows[0])
	for i, r := range rows[1:] {
		assert.Equal(t, R.Ranked[i].ID, r[1])
		assert.Equal(t, "unconfirmed", r[len(r)-1])
		assert.Equal(t, "0.1", r[5])
	}

	dir := filepath.Join(t.TempDir(), "shortlist")
	require.NoError(t, R.WriteShortlist(dir))
	for _, c := range R.Shortlist {
		C, err := fullerene.ReadXYZFile(filepath.Join(dir, c.ID+".xyz"))
		require.NoError(t, err)
		assert.Equal(t, c.ID, C.ID)
		assert.Equal(t, 60, C.Len())
	}

	out := R.Render()
	assert.Contains(t, out, "top 2 of 10")
	assert.Contains(t, out, "±")
	assert.Contains(t, out, "DFT")
	assert.False(t, math.IsNaN(R.Shortlist[0].Sigma[0]))
}
