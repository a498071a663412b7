/*
 * model.go, part of gofullerene.
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

//Package gnn implements the multi-task graph convolutional regressor: a
//stack of residual message-passing layers over the structure graph, mean
//pooling, and one small fully connected head per predicted property.
//
//Two to four convolutions are usually enough for fullerene-sized graphs.
//Deeper stacks make node states converge to each other (over-smoothing);
//the residual connections soften this but do not remove it.
package gnn

import (
	"context"
	"encoding/json"
	"math"
	"runtime"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
)

// Calibration is the cross-validated accuracy of the model, stored with it
// so screening can report confidences and refuse unfit models.
type Calibration struct {
	Folds     int      `json:"folds"`
	Threshold float64  `json:"threshold"` //minimum R2 required on every task
	Fit       bool     `json:"fit"`
	Unfit     []string `json:"unfit,omitempty"` //tasks below threshold
	R2        Floats   `json:"r2"`              //mean over folds, per task
	MAE       Floats   `json:"mae"`
	Sigma     Floats   `json:"sigma"` //RMSE over folds, physical units
}

// Floats is a list of metrics where NaN means undefined (e.g. R2 on a fold
// with a single label). Undefined values are stored as JSON null.
type Floats []float64

func (F Floats) MarshalJSON() ([]byte, error) {
	if F == nil {
		return []byte("null"), nil
	}
	v := make([]*float64, len(F))
	for i := range F {
		if !math.IsNaN(F[i]) && !math.IsInf(F[i], 0) {
			v[i] = &F[i]
		}
	}
	return json.Marshal(v)
}

func (F *Floats) UnmarshalJSON(b []byte) error {
	var v []*float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*F = nil
		return nil
	}
	*F = make(Floats, len(v))
	for i, p := range v {
		(*F)[i] = math.NaN()
		if p != nil {
			(*F)[i] = *p
		}
	}
	return nil
}

// Model is a trained (or training) graph regressor, with everything needed
// to featurize new structures the same way its training data was.
// Only the training controller changes a Model; after training it is
// read-only and safe for concurrent use.
type Model struct {
	Arch        Architecture
	Features    featurize.Options
	Normalizer  *dataset.Normalizer
	Weights     []float64 //loss weight of each task
	Params      *Params
	RunID       string
	Calibration *Calibration
	Workers     int //goroutines used for batches, GOMAXPROCS if 0

	featurizer *featurize.Featurizer
	opt        *adam
}

// New returns a model with freshly initialized parameters. Feature sizes
// left at zero in arch are taken from the featurizer options. The
// normalizer starts as the identity and all task weights at 1.
func New(arch Architecture, features featurize.Options, seed uint64) (*Model, error) {
	F, err := featurize.New(features)
	if err != nil {
		return nil, err
	}
	if arch.NodeFeatures == 0 {
		arch.NodeFeatures = F.NodeDim()
	}
	if arch.EdgeFeatures == 0 {
		arch.EdgeFeatures = F.EdgeDim()
	}
	if arch.NodeFeatures != F.NodeDim() || arch.EdgeFeatures != F.EdgeDim() {
		return nil, errors.Errorf("gnn: architecture expects %d/%d features, featurizer gives %d/%d",
			arch.NodeFeatures, arch.EdgeFeatures, F.NodeDim(), F.EdgeDim())
	}
	arch.Tasks = append([]string(nil), arch.Tasks...)
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n := len(arch.Tasks)
	m := &Model{
		Arch:       arch,
		Features:   F.Options(),
		Normalizer: &dataset.Normalizer{Tasks: arch.Tasks, Mean: make([]float64, n), Std: make([]float64, n)},
		Weights:    make([]float64, n),
		Params:     initParams(arch, seed),
		featurizer: F,
		opt:        newAdam(arch),
	}
	for k := range arch.Tasks {
		m.Normalizer.Std[k] = 1
		m.Weights[k] = 1
	}
	return m, nil
}

// SetWeights sets the loss weight of each task. Weights must be positive.
func (m *Model) SetWeights(w []float64) error {
	if len(w) != len(m.Arch.Tasks) {
		return errors.Errorf("gnn: %d weights for %d tasks", len(w), len(m.Arch.Tasks))
	}
	for k, v := range w {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Errorf("gnn: weight of %s must be positive, got %v", m.Arch.Tasks[k], v)
		}
	}
	m.Weights = append([]float64(nil), w...)
	return nil
}

// SetNormalizer installs the target normalization of the training set.
func (m *Model) SetNormalizer(N *dataset.Normalizer) error {
	if N == nil || len(N.Mean) != len(m.Arch.Tasks) || len(N.Std) != len(m.Arch.Tasks) {
		return errors.New("gnn: normalizer does not match the model tasks")
	}
	m.Normalizer = N
	return nil
}

func (m *Model) Tasks() []string {
	return m.Arch.Tasks
}

// Featurizer returns the featurizer the model was trained with.
func (m *Model) Featurizer() *featurize.Featurizer {
	return m.featurizer
}

func (m *Model) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// PredictNormalized returns the model output for G in normalized units.
func (m *Model) PredictNormalized(G *featurize.StructureGraph) ([]float64, error) {
	p, err := m.forward(G)
	if err != nil {
		return nil, err
	}
	return p.out, nil
}

// PredictGraph returns the predicted properties of G in physical units.
func (m *Model) PredictGraph(G *featurize.StructureGraph) ([]float64, error) {
	out, err := m.PredictNormalized(G)
	if err != nil {
		return nil, err
	}
	return m.Normalizer.DenormalizeAll(out), nil
}

// Predict featurizes C with the model's own settings and returns its
// predicted properties in physical units. Elements outside the model's
// vocabulary give a *fullerene.InvalidElementError.
func (m *Model) Predict(C *fullerene.Configuration) ([]float64, error) {
	G, err := m.featurizer.Featurize(C)
	if err != nil {
		return nil, err
	}
	return m.PredictGraph(G)
}

// Step runs one optimizer update on batch with learning rate lr and returns
// the batch loss before the update. If the loss or the gradient is not
// finite the parameters are left untouched and a non-finite loss is
// returned, so the caller can decide how to abort.
func (m *Model) Step(ctx context.Context, batch []dataset.Example, lr float64) (float64, error) {
	loss, grad, err := m.Gradients(ctx, batch)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, nil
	}
	if !grad.Finite() {
		return math.NaN(), nil
	}
	m.opt.step(m.Params, grad, lr)
	return loss, nil
}

type state struct {
	Params []Matrix  `json:"params"`
	Adam   adamState `json:"adam"`
}

// State returns the parameters and optimizer moments, for checkpoints.
func (m *Model) State() (json.RawMessage, error) {
	b, err := json.Marshal(state{Params: m.Params.export(), Adam: m.opt.export()})
	return b, errors.Wrap(err, "gnn: encoding state")
}

// SetState restores a state returned by State.
func (m *Model) SetState(raw json.RawMessage) error {
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(err, "gnn: decoding state")
	}
	P, err := importParams(m.Arch, s.Params)
	if err != nil {
		return err
	}
	o, err := importAdam(m.Arch, s.Adam)
	if err != nil {
		return err
	}
	m.Params, m.opt = P, o
	return nil
}
