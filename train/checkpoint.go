/*
 * checkpoint.go, part of gofullerene.
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
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/gnn"
)

const checkpointFormat = 1

// Checkpoint is the on-disk state of a Controller: enough to continue a run
// at the exact same position of the state machine, with the same learning
// rate, counters, parameters and optimizer moments.
type Checkpoint struct {
	Format    int             `json:"format"`
	RunID     string          `json:"run_id"`
	State     string          `json:"state"`
	Stop      string          `json:"stop,omitempty"`
	Epoch     int             `json:"epoch"`
	BestLoss  float64         `json:"best_loss"`
	BestEpoch int             `json:"best_epoch"`
	Stall     int             `json:"stall"`
	LRStall   int             `json:"lr_stall"`
	LR        float64         `json:"lr"`
	Options   Options         `json:"options"`
	Current   json.RawMessage `json:"current"`
	Best      json.RawMessage `json:"best,omitempty"`
	History   []EpochStats    `json:"history"`
}

func (c *Controller) save(path string) error {
	cp := Checkpoint{Format: checkpointFormat, RunID: c.RunID, State: c.state.String(), Epoch: c.epoch,
		BestLoss: c.bestLoss, BestEpoch: c.bestEpoch, Stall: c.stall, LRStall: c.lrStall, LR: c.lr,
		Options: c.opts, Current: c.stable, Best: c.best, History: c.history}
	if c.stop != Initialized {
		cp.Stop = c.stop.String()
	}
	if err := gnn.EncodeFile(path, cp); err != nil {
		return errors.Wrapf(err, "train: checkpoint after epoch %d", c.epoch)
	}
	c.checkpoint = path
	return nil
}

// ReadCheckpoint reads a checkpoint file.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	cp := new(Checkpoint)
	if err := gnn.DecodeFile(path, cp); err != nil {
		return nil, err
	}
	if cp.Format != checkpointFormat {
		return nil, errors.Errorf("train: %s has checkpoint format %d, expected %d", path, cp.Format, checkpointFormat)
	}
	if cp.Current == nil {
		return nil, errors.Errorf("train: %s holds no parameters", path)
	}
	return cp, nil
}

// Resume rebuilds the controller saved in the checkpoint at path, and loads
// the saved parameters into l. train and val must be the examples of the
// original run. Resuming a finalized run gives a Finalized controller whose
// learner holds the best parameters. The checkpoint keeps being updated at
// the same path. Run continues from the epoch after the saved one; as
// shuffling depends only on the seed and the epoch, the result is the same
// as an uninterrupted run.
func Resume(path string, l Learner, train, val []dataset.Example) (*Controller, error) {
	cp, err := ReadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	opts := cp.Options
	opts.Checkpoint = path
	c, err := NewController(l, train, val, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "train: resuming %s", path)
	}
	if err := l.SetState(cp.Current); err != nil {
		return nil, errors.Wrapf(err, "train: resuming %s", path)
	}
	c.RunID = cp.RunID
	c.epoch, c.bestLoss, c.bestEpoch = cp.Epoch, cp.BestLoss, cp.BestEpoch
	c.stall, c.lrStall, c.lr = cp.Stall, cp.LRStall, cp.LR
	c.stable, c.stableEpoch, c.best = cp.Current, cp.Epoch, cp.Best
	c.history = cp.History
	c.checkpoint = path
	if cp.State == Finalized.String() {
		//a finished run: the saved parameters are the best ones.
		c.state = Finalized
		c.stop = parseState(cp.Stop)
	}
	return c, nil
}

func parseState(s string) State {
	for st := Initialized; st <= Aborted; st++ {
		if st.String() == s {
			return st
		}
	}
	return Initialized
}
