/*
 * objective.go, part of gofullerene.
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
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Range is a closed interval. Use math.Inf for an open side.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// AtLeast and AtMost return half-open ranges.
func AtLeast(v float64) Range { return Range{Min: v, Max: math.Inf(1)} }
func AtMost(v float64) Range  { return Range{Min: math.Inf(-1), Max: v} }

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// DefaultTieBreak is the property that breaks ties between candidates with
// the same score: lower formation energy means a more stable structure.
const DefaultTieBreak = "formation_energy"

// Objective says how candidates are ranked: by the predicted value of Task,
// highest first if Maximize, among the candidates whose predictions satisfy
// every constraint. Ties are broken by the lower predicted TieBreak
// property, when the model predicts it, and then by identifier.
type Objective struct {
	Task        string
	Maximize    bool
	Constraints map[string]Range
	TieBreak    string //DefaultTieBreak if empty; "-" disables
	TopN        int    //shortlist length, 10 if 0
}

type compiled struct {
	task     int
	maximize bool
	tie      int //-1 for none
	cons     []constraint
	topN     int
}

type constraint struct {
	task int
	name string
	r    Range
}

func (o Objective) compile(tasks []string) (*compiled, error) {
	idx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		idx[t] = i
	}
	k, ok := idx[o.Task]
	if !ok {
		return nil, errors.Errorf("screen: objective property %q not predicted by the model (%v)", o.Task, tasks)
	}
	c := &compiled{task: k, maximize: o.Maximize, tie: -1, topN: o.TopN}
	if c.topN == 0 {
		c.topN = 10
	}
	if c.topN < 0 {
		return nil, errors.Errorf("screen: invalid shortlist length %d", o.TopN)
	}
	tb := o.TieBreak
	if tb == "" {
		tb = DefaultTieBreak
	}
	if t, ok := idx[tb]; ok && tb != "-" {
		c.tie = t
	}
	names := make([]string, 0, len(o.Constraints))
	for n := range o.Constraints {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t, ok := idx[n]
		if !ok {
			return nil, errors.Errorf("screen: constraint on %q, which the model doesn't predict", n)
		}
		r := o.Constraints[n]
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return nil, errors.Errorf("screen: invalid range %s for %s", r, n)
		}
		c.cons = append(c.cons, constraint{task: t, name: n, r: r})
	}
	return c, nil
}

//violations returns the names of the constraints p violates.
func (c *compiled) violations(p []float64) []string {
	var ret []string
	for _, v := range c.cons {
		if !v.r.Contains(p[v.task]) {
			ret = append(ret, v.name)
		}
	}
	return ret
}

func (c *compiled) score(p []float64) float64 {
	if c.maximize {
		return p[c.task]
	}
	return -p[c.task]
}

//less orders feasible candidates best first.
func (c *compiled) less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if c.tie >= 0 && a.Predicted[c.tie] != b.Predicted[c.tie] {
		return a.Predicted[c.tie] < b.Predicted[c.tie]
	}
	return a.ID < b.ID
}
