/*
 * config.go, part of gofullerene.
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

//Package config holds the settings of a gofullerene run, with their valid
//ranges, and reads them from YAML files.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/evaluate"
	"github.com/rmera/gofullerene/featurize"
	"github.com/rmera/gofullerene/gnn"
	"github.com/rmera/gofullerene/screen"
	"github.com/rmera/gofullerene/train"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type Features struct {
	Cutoff      float64  `yaml:"cutoff"` //Å
	Vocabulary  []string `yaml:"vocabulary"`
	RadialBasis int      `yaml:"radial_basis"`
}

type Model struct {
	Hidden int `yaml:"hidden"`
	Layers int `yaml:"layers"`
}

// Task is a predicted property and its weight in the loss.
type Task struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

type Training struct {
	LearningRate  float64 `yaml:"learning_rate"`
	BatchSize     int     `yaml:"batch_size"`
	Patience      int     `yaml:"patience"`
	MaxEpochs     int     `yaml:"max_epochs"`
	MinDelta      float64 `yaml:"min_delta"`
	DecayFactor   float64 `yaml:"decay_factor"`
	DecayPatience int     `yaml:"decay_patience"`
}

type Split struct {
	Validation float64 `yaml:"validation"`
	Test       float64 `yaml:"test"`
	Folds      int     `yaml:"folds"`
}

// Bound is an optional limit pair. A nil side is open.
type Bound struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

type Screening struct {
	Strains        []string         `yaml:"strains"` //kind:percent, or "none" for the unstrained reference
	Dopants        []string         `yaml:"dopants"`
	Concentrations []float64        `yaml:"concentrations"` //percent
	Undoped        bool             `yaml:"undoped"`
	Objective      string           `yaml:"objective"`
	Maximize       bool             `yaml:"maximize"`
	Constraints    map[string]Bound `yaml:"constraints,omitempty"`
	TieBreak       string           `yaml:"tie_break"`
	Top            int              `yaml:"top"`
	AllowUnfit     bool             `yaml:"allow_unfit"`
}

// Config is the full set of settings. Every field has a default, see
// Default, and a valid range, see Validate.
type Config struct {
	Features  Features  `yaml:"features"`
	Model     Model     `yaml:"model"`
	Tasks     []Task    `yaml:"tasks"`
	Training  Training  `yaml:"training"`
	Split     Split     `yaml:"split"`
	Seed      uint64    `yaml:"seed"`
	Threshold float64   `yaml:"r2_threshold"`
	Workers   int       `yaml:"workers"`
	Screening Screening `yaml:"screening"`
}

func Default() *Config {
	fo := featurize.DefaultOptions()
	tr := train.DefaultOptions()
	return &Config{
		Features: Features{Cutoff: fo.Cutoff, Vocabulary: append([]string(nil), fo.Vocabulary...), RadialBasis: fo.RadialBasis},
		Model:    Model{Hidden: 64, Layers: 3},
		Tasks:    []Task{{"band_gap", 1}, {"mobility", 1}, {"formation_energy", 1}},
		Training: Training{LearningRate: tr.LearningRate, BatchSize: tr.BatchSize, Patience: tr.Patience, MaxEpochs: tr.MaxEpochs,
			MinDelta: tr.MinDelta, DecayFactor: tr.DecayFactor, DecayPatience: tr.DecayPatience},
		Split:     Split{Validation: 0.15, Test: 0.15, Folds: 4},
		Seed:      42,
		Threshold: 0.9,
		Workers:   runtime.GOMAXPROCS(0),
		Screening: Screening{
			Strains:        []string{"none", "biaxial:-2", "biaxial:2", "uniaxial_x:2", "shear:2"},
			Dopants:        []string{"B", "N"},
			Concentrations: []float64{1.67, 3.33, 5},
			Undoped:        true,
			Objective:      "mobility",
			Maximize:       true,
			TieBreak:       screen.DefaultTieBreak,
			Top:            10,
		},
	}
}

// Load reads a YAML file over the defaults: missing fields keep their
// default values and unknown fields are an error. The result is validated.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	defer f.Close()
	c := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "config: %s", path)
	}
	return c, nil
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	return errors.Wrap(os.WriteFile(path, b, 0o644), "config")
}

// ValidationError lists every setting out of its range.
type ValidationError struct {
	Problems []string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("%d invalid settings: %s", len(err.Problems), strings.Join(err.Problems, "; "))
}

// Validate checks every setting against its range and returns a
// *ValidationError listing all violations.
func (c *Config) Validate() error {
	var p []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			p = append(p, fmt.Sprintf(format, args...))
		}
	}
	check(c.Features.Cutoff > 0 && c.Features.Cutoff <= 12, "features.cutoff %v not in (0, 12] Å", c.Features.Cutoff)
	if _, err := fullerene.NewVocabulary(c.Features.Vocabulary...); err != nil {
		p = append(p, "features.vocabulary: "+strings.TrimPrefix(err.Error(), "gofullerene: "))
	}
	check(c.Features.RadialBasis >= 4 && c.Features.RadialBasis <= 64, "features.radial_basis %d not in [4, 64]", c.Features.RadialBasis)
	check(c.Model.Hidden >= 8 && c.Model.Hidden <= 512, "model.hidden %d not in [8, 512]", c.Model.Hidden)
	check(c.Model.Layers >= 1 && c.Model.Layers <= 6, "model.layers %d not in [1, 6]", c.Model.Layers)
	check(len(c.Tasks) > 0, "no tasks")
	names := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		check(t.Name != "", "tasks[%d] has no name", i)
		check(!names[t.Name], "task %q repeated", t.Name)
		check(t.Weight > 0 && !math.IsInf(t.Weight, 0), "task %q: weight %v must be positive", t.Name, t.Weight)
		names[t.Name] = true
	}
	tr := c.Training
	check(tr.LearningRate > 0 && tr.LearningRate <= 1, "training.learning_rate %v not in (0, 1]", tr.LearningRate)
	check(tr.BatchSize >= 1 && tr.BatchSize <= 4096, "training.batch_size %d not in [1, 4096]", tr.BatchSize)
	check(tr.Patience >= 1 && tr.Patience <= 1000, "training.patience %d not in [1, 1000]", tr.Patience)
	check(tr.MaxEpochs >= 1 && tr.MaxEpochs <= 100000, "training.max_epochs %d not in [1, 100000]", tr.MaxEpochs)
	check(tr.MinDelta >= 0, "training.min_delta %v is negative", tr.MinDelta)
	check(tr.DecayFactor > 0 && tr.DecayFactor <= 1, "training.decay_factor %v not in (0, 1]", tr.DecayFactor)
	check(tr.DecayPatience >= 1, "training.decay_patience %d must be at least 1", tr.DecayPatience)
	check(c.Split.Validation > 0 && c.Split.Validation < 0.5, "split.validation %v not in (0, 0.5)", c.Split.Validation)
	check(c.Split.Test > 0 && c.Split.Test < 0.5, "split.test %v not in (0, 0.5)", c.Split.Test)
	check(c.Split.Folds >= 3, "split.folds %d must be at least 3", c.Split.Folds)
	check(c.Threshold > 0 && c.Threshold <= 1, "r2_threshold %v not in (0, 1]", c.Threshold)
	check(c.Workers >= 1, "workers %d must be at least 1", c.Workers)
	s := c.Screening
	for _, v := range s.Strains {
		if v != "none" {
			_, err := fullerene.ParseStrain(v)
			check(err == nil, "screening.strains: %q is not a strain", v)
		}
	}
	for _, v := range s.Concentrations {
		check(v > 0 && v < 100, "screening.concentrations: %v%% not in (0, 100)", v)
	}
	check(names[s.Objective], "screening.objective %q is not a task", s.Objective)
	for n, b := range s.Constraints {
		check(names[n], "screening.constraints: %q is not a task", n)
		check(b.Min == nil || b.Max == nil || *b.Min <= *b.Max, "screening.constraints: %s has min above max", n)
	}
	check(s.Top >= 1, "screening.top %d must be at least 1", s.Top)
	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	if c.Model.Layers < 2 || c.Model.Layers > 4 {
		klog.Warningf("config: %d convolution layers; 2 to 4 are recommended", c.Model.Layers)
	}
	return nil
}

func (c *Config) TaskNames() []string {
	r := make([]string, len(c.Tasks))
	for i, t := range c.Tasks {
		r[i] = t.Name
	}
	return r
}

func (c *Config) Weights() []float64 {
	r := make([]float64, len(c.Tasks))
	for i, t := range c.Tasks {
		r[i] = t.Weight
	}
	return r
}

func (c *Config) FeatureOptions() featurize.Options {
	return featurize.Options{Cutoff: c.Features.Cutoff, Vocabulary: fullerene.Vocabulary(c.Features.Vocabulary), RadialBasis: c.Features.RadialBasis}
}

// Architecture returns the network shape. Feature sizes are filled in by
// gnn.New.
func (c *Config) Architecture() gnn.Architecture {
	return gnn.Architecture{Hidden: c.Model.Hidden, Layers: c.Model.Layers, Tasks: c.TaskNames()}
}

func (c *Config) TrainOptions() train.Options {
	t := c.Training
	return train.Options{BatchSize: t.BatchSize, LearningRate: t.LearningRate, Patience: t.Patience, MaxEpochs: t.MaxEpochs,
		MinDelta: t.MinDelta, DecayFactor: t.DecayFactor, DecayPatience: t.DecayPatience, Seed: c.Seed}
}

func (c *Config) Assembler() *dataset.Assembler {
	return &dataset.Assembler{Tasks: c.TaskNames(), ValFraction: c.Split.Validation, TestFraction: c.Split.Test, Seed: c.Seed}
}

// Setup returns what train.Fit needs. checkpoint may be empty.
func (c *Config) Setup(runID, checkpoint string) train.Setup {
	t := c.TrainOptions()
	t.Checkpoint = checkpoint
	return train.Setup{Arch: c.Architecture(), Features: c.FeatureOptions(), Weights: c.Weights(), Train: t, Workers: c.Workers, RunID: runID}
}

func (c *Config) CrossValidation(runID string) evaluate.Options {
	return evaluate.Options{Folds: c.Split.Folds, Threshold: c.Threshold, Parallel: 1, Setup: c.Setup(runID, "")}
}

// Grid returns the screening grid.
func (c *Config) Grid() (screen.Grid, error) {
	g := screen.Grid{Dopants: c.Screening.Dopants, Concentrations: c.Screening.Concentrations, Undoped: c.Screening.Undoped}
	for _, v := range c.Screening.Strains {
		if v == "none" {
			g.Strains = append(g.Strains, nil)
			continue
		}
		s, err := fullerene.ParseStrain(v)
		if err != nil {
			return g, errors.WithMessage(err, "config")
		}
		g.Strains = append(g.Strains, s)
	}
	return g, nil
}

func (c *Config) Objective() screen.Objective {
	o := screen.Objective{Task: c.Screening.Objective, Maximize: c.Screening.Maximize, TieBreak: c.Screening.TieBreak, TopN: c.Screening.Top}
	if len(c.Screening.Constraints) > 0 {
		o.Constraints = make(map[string]screen.Range, len(c.Screening.Constraints))
	}
	for n, b := range c.Screening.Constraints {
		r := screen.Range{Min: math.Inf(-1), Max: math.Inf(1)}
		if b.Min != nil {
			r.Min = *b.Min
		}
		if b.Max != nil {
			r.Max = *b.Max
		}
		o.Constraints[n] = r
	}
	return o
}

func (c *Config) EngineOptions() screen.Options {
	return screen.Options{AllowUnfit: c.Screening.AllowUnfit, Workers: c.Workers}
}
