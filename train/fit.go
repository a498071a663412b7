/*
 * fit.go, part of gofullerene.
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

package train

import (
	"context"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
	"github.com/rmera/gofullerene/gnn"
	"k8s.io/klog/v2"
)

// Setup is what Fit needs besides the data.
type Setup struct {
	Arch     gnn.Architecture //Tasks is taken from the partition
	Features featurize.Options
	Weights  []float64 //nil means 1 for every task
	Train    Options
	Workers  int
	RunID    string //a random one is made if empty
}

func newModel(P *dataset.Partition, s Setup) (*gnn.Model, error) {
	arch := s.Arch
	arch.Tasks = P.Tasks
	m, err := gnn.New(arch, s.Features, s.Train.Seed)
	if err != nil {
		return nil, err
	}
	if err := m.SetNormalizer(P.Normalizer); err != nil {
		return nil, err
	}
	if s.Weights != nil {
		if err := m.SetWeights(s.Weights); err != nil {
			return nil, err
		}
	}
	m.Workers = s.Workers
	m.RunID = s.RunID
	if m.RunID == "" {
		m.RunID = uuid.NewString()
	}
	return m, nil
}

func run(ctx context.Context, m *gnn.Model, c *Controller, P *dataset.Partition, hooks []Hook) (*gnn.Model, *Controller, error) {
	for _, h := range hooks {
		c.AddHook(h)
	}
	klog.Infof("train: run %s, %s", m.RunID, P)
	if err := c.Run(ctx); err != nil {
		return m, c, errors.WithMessagef(err, "run %s", m.RunID)
	}
	return m, c, nil
}

// Fit trains a new model on the training part of P, stopping on its
// validation part. The model carries P's normalization. The returned
// controller is Finalized on success, and holds the run's history either way.
func Fit(ctx context.Context, P *dataset.Partition, s Setup, hooks ...Hook) (*gnn.Model, *Controller, error) {
	m, err := newModel(P, s)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewController(m, P.TrainExamples(), P.ValidationExamples(), s.Train)
	if err != nil {
		return nil, nil, err
	}
	c.RunID = m.RunID
	return run(ctx, m, c, P, hooks)
}

// Continue is Fit for interrupted runs: if the checkpoint named in s
// exists, the run saved there is resumed, otherwise a new one starts. P and
// s must be the ones of the original run.
func Continue(ctx context.Context, P *dataset.Partition, s Setup, hooks ...Hook) (*gnn.Model, *Controller, error) {
	path := s.Train.Checkpoint
	if path == "" {
		return nil, nil, errors.New("train: no checkpoint to continue from")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Fit(ctx, P, s, hooks...)
	}
	m, err := newModel(P, s)
	if err != nil {
		return nil, nil, err
	}
	c, err := Resume(path, m, P.TrainExamples(), P.ValidationExamples())
	if err != nil {
		return nil, nil, err
	}
	m.RunID = c.RunID
	if c.State() == Finalized {
		klog.Infof("train: run %s already finished after epoch %d", c.RunID, c.Epoch())
		return m, c, nil
	}
	klog.Infof("train: resuming run %s after epoch %d", c.RunID, c.Epoch())
	return run(ctx, m, c, P, hooks)
}
