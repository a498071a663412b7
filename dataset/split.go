/*
 * split.go, part of gofullerene.
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
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"k8s.io/klog/v2"
)

// Partition is a fixed train/validation/test split of a data set, with the
// normalization fitted on its training part. Fold is -1 for a plain split.
type Partition struct {
	Fold       int
	Seed       uint64
	Tasks      []string
	Train      []*LabeledSample
	Validation []*LabeledSample
	Test       []*LabeledSample
	Normalizer *Normalizer
}

func (P *Partition) TrainExamples() []Example      { return P.Normalizer.Examples(P.Train) }
func (P *Partition) ValidationExamples() []Example { return P.Normalizer.Examples(P.Validation) }
func (P *Partition) TestExamples() []Example       { return P.Normalizer.Examples(P.Test) }

// Check returns an error if a configuration, or a group of replicas, is
// found in more than one part.
func (P *Partition) Check() error {
	ids := make(map[string]string)
	groups := make(map[string]string)
	parts := []struct {
		name    string
		samples []*LabeledSample
	}{{"train", P.Train}, {"validation", P.Validation}, {"test", P.Test}}
	for _, p := range parts {
		for _, s := range p.samples {
			if prev, ok := ids[s.ID]; ok {
				return errors.Errorf("dataset: %s is in both %s and %s", s.ID, prev, p.name)
			}
			ids[s.ID] = p.name
			if prev, ok := groups[s.Group]; ok && prev != p.name {
				return errors.Errorf("dataset: group %s is split between %s and %s", s.Group, prev, p.name)
			}
			groups[s.Group] = p.name
		}
	}
	return nil
}

func (P *Partition) String() string {
	name := "split"
	if P.Fold >= 0 {
		name = fmt.Sprintf("fold %d", P.Fold)
	}
	return fmt.Sprintf("%s: %d train, %d validation, %d test", name, len(P.Train), len(P.Validation), len(P.Test))
}

// Assembler splits labeled samples into partitions. The split is done on
// groups (replicas of one physical configuration stay together), and
// stratified on the doping signature. The same seed and samples always give
// the same partitions.
type Assembler struct {
	Tasks        []string
	ValFraction  float64
	TestFraction float64
	Seed         uint64
	splits       int
}

type group struct {
	key     string
	stratum string
	samples []*LabeledSample
}

//prepare rejects unusable samples and returns the groups of the others,
//sorted by stratum and then key. Shuffling is left to the callers.
func (A *Assembler) prepare(samples []*LabeledSample) (map[string][]*group, []string, *fullerene.Rejections, error) {
	if len(A.Tasks) == 0 {
		return nil, nil, nil, errors.New("dataset: no tasks")
	}
	rej := new(fullerene.Rejections)
	byKey := make(map[string]*group)
	seen := make(map[string]bool, len(samples))
	for _, s := range samples {
		if len(s.Targets) != len(A.Tasks) || len(s.Valid) != len(A.Tasks) {
			return nil, nil, nil, errors.Errorf("dataset: %s has %d targets, expected %d", s.ID, len(s.Targets), len(A.Tasks))
		}
		if seen[s.ID] {
			return nil, nil, nil, errors.Errorf("dataset: %s appears twice", s.ID)
		}
		seen[s.ID] = true
		if !(Labels{Values: s.Targets, Valid: s.Valid}).Any() {
			rej.Add(s.ID, &fullerene.MissingLabelsError{ID: s.ID})
			continue
		}
		g, ok := byKey[s.Group]
		if !ok {
			g = &group{key: s.Group, stratum: s.Stratum}
			byKey[s.Group] = g
		}
		g.samples = append(g.samples, s)
	}
	strata := make(map[string][]*group)
	for _, g := range byKey {
		sort.Slice(g.samples, func(i, j int) bool { return g.samples[i].ID < g.samples[j].ID })
		strata[g.stratum] = append(strata[g.stratum], g)
	}
	names := make([]string, 0, len(strata))
	for s, gs := range strata {
		names = append(names, s)
		sort.Slice(gs, func(i, j int) bool { return gs[i].key < gs[j].key })
	}
	sort.Strings(names)
	return strata, names, rej, nil
}

func (A *Assembler) note(what string) {
	A.splits++
	if A.splits > 1 {
		klog.Warningf("dataset: re-partitioning (%s, partitioning #%d with seed %d)", what, A.splits, A.Seed)
	}
}

// Assemble returns a single train/validation/test partition. Samples with no
// valid label are returned as rejections. Every call after the first on the
// same Assembler logs a warning, as changing the partition mid-run makes
// results incomparable.
func (A *Assembler) Assemble(samples []*LabeledSample) (*Partition, *fullerene.Rejections, error) {
	if A.ValFraction <= 0 || A.TestFraction <= 0 || A.ValFraction+A.TestFraction >= 1 {
		return nil, nil, errors.Errorf("dataset: invalid split fractions %g/%g", A.ValFraction, A.TestFraction)
	}
	strata, names, rej, err := A.prepare(samples)
	if err != nil {
		return nil, nil, err
	}
	A.note("split")
	rng := rand.New(rand.NewPCG(A.Seed, 0))
	var test, val, train []*group
	var carryT, carryV float64
	ngroups := 0
	for _, name := range names {
		gs := strata[name]
		ngroups += len(gs)
		rng.Shuffle(len(gs), func(i, j int) { gs[i], gs[j] = gs[j], gs[i] })
		nt := share(len(gs), A.TestFraction, &carryT)
		nv := share(len(gs)-nt, A.ValFraction, &carryV)
		test = append(test, gs[:nt]...)
		val = append(val, gs[nt:nt+nv]...)
		train = append(train, gs[nt+nv:]...)
	}
	if ngroups < 3 {
		return nil, nil, errors.Errorf("dataset: need at least 3 configuration groups to split, got %d", ngroups)
	}
	//small data sets may round a part down to nothing
	if len(test) == 0 && len(train) > 1 {
		test, train = train[len(train)-1:], train[:len(train)-1]
	}
	if len(val) == 0 && len(train) > 1 {
		val, train = train[len(train)-1:], train[:len(train)-1]
	}
	if len(train) == 0 || len(val) == 0 || len(test) == 0 {
		return nil, nil, errors.Errorf("dataset: can't split %d groups into non-empty parts", ngroups)
	}
	P := &Partition{Fold: -1, Seed: A.Seed, Tasks: append([]string(nil), A.Tasks...),
		Train: flatten(train), Validation: flatten(val), Test: flatten(test)}
	P.Normalizer = FitNormalizer(A.Tasks, P.Train)
	klog.Infof("dataset: %s", P)
	return P, rej, nil
}

//share returns round(n*frac), carrying the rounding error from stratum to
//stratum so the overall fraction is kept even when every stratum is small.
func share(n int, frac float64, carry *float64) int {
	x := float64(n)*frac + *carry
	k := int(math.Floor(x + 1e-9))
	if k > n {
		k = n
	}
	*carry = x - float64(k)
	return k
}

// Folds returns k cross-validation partitions. Groups are dealt to folds in
// turn within each stratum, so every fold gets a similar doping mix. In
// partition f, fold f is the test set, fold f+1 (mod k) the validation set
// and the rest the training set. The assignment depends only on the seed
// and the samples.
func (A *Assembler) Folds(samples []*LabeledSample, k int) ([]*Partition, *fullerene.Rejections, error) {
	if k < 3 {
		return nil, nil, errors.Errorf("dataset: need at least 3 folds, got %d", k)
	}
	strata, names, rej, err := A.prepare(samples)
	if err != nil {
		return nil, nil, err
	}
	A.note("k-fold")
	rng := rand.New(rand.NewPCG(A.Seed, 1))
	folds := make([][]*group, k)
	next := 0
	for _, name := range names {
		gs := strata[name]
		rng.Shuffle(len(gs), func(i, j int) { gs[i], gs[j] = gs[j], gs[i] })
		for _, g := range gs {
			folds[next%k] = append(folds[next%k], g)
			next++
		}
	}
	if next < k {
		return nil, nil, errors.Errorf("dataset: %d configuration groups can't fill %d folds", next, k)
	}
	ret := make([]*Partition, k)
	for f := 0; f < k; f++ {
		P := &Partition{Fold: f, Seed: A.Seed, Tasks: append([]string(nil), A.Tasks...)}
		for j, gs := range folds {
			switch j {
			case f:
				P.Test = append(P.Test, flatten(gs)...)
			case (f + 1) % k:
				P.Validation = append(P.Validation, flatten(gs)...)
			default:
				P.Train = append(P.Train, flatten(gs)...)
			}
		}
		P.Normalizer = FitNormalizer(A.Tasks, P.Train)
		ret[f] = P
	}
	return ret, rej, nil
}

func flatten(gs []*group) []*LabeledSample {
	var ret []*LabeledSample
	for _, g := range gs {
		ret = append(ret, g.samples...)
	}
	return ret
}
