/*
 * controller.go, part of gofullerene.
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

//Package train drives the optimization of a model: per-epoch shuffling and
//mini-batches, validation-based early stopping with restoration of the best
//parameters, a plateau learning-rate schedule, and atomic checkpoints that
//allow a run to be resumed exactly where it stopped.
package train

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"k8s.io/klog/v2"
)

// State is the position of a Controller in its life cycle:
// Initialized -> Training -> (EarlyStopped | MaxEpochsReached) -> Finalized.
// Aborted is entered on divergence, cancellation or I/O failure.
type State int

const (
	Initialized State = iota
	Training
	EarlyStopped
	MaxEpochsReached
	Finalized
	Aborted
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Training:
		return "training"
	case EarlyStopped:
		return "early stopped"
	case MaxEpochsReached:
		return "max epochs reached"
	case Finalized:
		return "finalized"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Learner is what the controller trains. Step updates the parameters with
// one mini-batch and returns its loss; Loss evaluates without updating.
// State and SetState save and restore everything Step changes.
type Learner interface {
	Step(ctx context.Context, batch []dataset.Example, lr float64) (float64, error)
	Loss(ctx context.Context, examples []dataset.Example) (float64, error)
	State() (json.RawMessage, error)
	SetState(json.RawMessage) error
}

// Options of a training run.
type Options struct {
	BatchSize     int     `json:"batch_size"`
	LearningRate  float64 `json:"learning_rate"`
	Patience      int     `json:"patience"`  //epochs without improvement before stopping
	MaxEpochs     int     `json:"max_epochs"`
	MinDelta      float64 `json:"min_delta"` //smallest decrease of the validation loss counted as improvement
	DecayFactor   float64 `json:"decay_factor"`
	DecayPatience int     `json:"decay_patience"` //epochs without improvement before the learning rate is multiplied by DecayFactor
	Seed          uint64  `json:"seed"`
	Checkpoint    string  `json:"-"` //file written after every epoch; empty disables checkpoints
}

func DefaultOptions() Options {
	return Options{BatchSize: 16, LearningRate: 1e-3, Patience: 20, MaxEpochs: 300, MinDelta: 1e-6, DecayFactor: 0.8, DecayPatience: 10}
}

func (O Options) Validate() error {
	switch {
	case O.BatchSize < 1:
		return errors.Errorf("train: invalid batch size %d", O.BatchSize)
	case !(O.LearningRate > 0):
		return errors.Errorf("train: invalid learning rate %v", O.LearningRate)
	case O.Patience < 1:
		return errors.Errorf("train: invalid patience %d", O.Patience)
	case O.MaxEpochs < 1:
		return errors.Errorf("train: invalid epoch cap %d", O.MaxEpochs)
	case O.MinDelta < 0:
		return errors.Errorf("train: invalid minimum improvement %v", O.MinDelta)
	case !(O.DecayFactor > 0 && O.DecayFactor <= 1):
		return errors.Errorf("train: invalid decay factor %v", O.DecayFactor)
	case O.DecayPatience < 1:
		return errors.Errorf("train: invalid decay patience %d", O.DecayPatience)
	}
	return nil
}

// EpochStats summarizes one finished epoch.
type EpochStats struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	LR        float64 `json:"lr"`
	Improved  bool    `json:"improved"`
}

// Hook is called after every epoch.
type Hook func(EpochStats)

// DivergedError is returned when a loss becomes NaN or infinite. The learner
// has been restored to the end of StableEpoch, which is also the epoch of
// the last checkpoint written, if any.
type DivergedError struct {
	Epoch       int
	Batch       int //-1 if the validation loss diverged
	Loss        float64
	Checkpoint  string
	StableEpoch int
	History     []EpochStats
}

func (err *DivergedError) Error() string {
	where := fmt.Sprintf("batch %d", err.Batch)
	if err.Batch < 0 {
		where = "validation"
	}
	return fmt.Sprintf("train: loss diverged (%v) at epoch %d, %s; last stable epoch %d", err.Loss, err.Epoch, where, err.StableEpoch)
}

// Controller runs the training state machine for one learner and one
// partition. All its state is in its fields, so several controllers can run
// at the same time.
type Controller struct {
	opts    Options
	learner Learner
	train   []dataset.Example
	val     []dataset.Example
	hooks   []Hook

	state       State
	stop        State
	epoch       int //epochs completed
	bestLoss    float64
	bestEpoch   int
	stall       int
	lrStall     int
	lr          float64
	best        json.RawMessage
	stable      json.RawMessage
	stableEpoch int
	checkpoint  string //last checkpoint written
	history     []EpochStats
	RunID       string
}

// NewController returns a controller in the Initialized state.
func NewController(l Learner, train, val []dataset.Example, opts Options) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(train) == 0 || len(val) == 0 {
		return nil, errors.Errorf("train: need training and validation examples, got %d and %d", len(train), len(val))
	}
	return &Controller{opts: opts, learner: l, train: train, val: val, bestLoss: math.MaxFloat64, lr: opts.LearningRate}, nil
}

// AddHook registers h to be called after every epoch.
func (c *Controller) AddHook(h Hook) {
	c.hooks = append(c.hooks, h)
}

func (c *Controller) State() State { return c.state }

// StopReason returns EarlyStopped or MaxEpochsReached once training has ended.
func (c *Controller) StopReason() State { return c.stop }
func (c *Controller) Epoch() int { return c.epoch }
func (c *Controller) BestEpoch() int { return c.bestEpoch }
func (c *Controller) BestLoss() float64 { return c.bestLoss }
func (c *Controller) LearningRate() float64 { return c.lr }
func (c *Controller) History() []EpochStats { return append([]EpochStats(nil), c.history...) }
func (c *Controller) Options() Options { return c.opts }
func (c *Controller) CheckpointPath() string { return c.checkpoint }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Permutation returns the order in which training examples are visited in
// epoch (1-based). It depends only on the seed and the epoch.
func Permutation(seed uint64, epoch, n int) []int {
	return rand.New(rand.NewPCG(seed, uint64(epoch))).Perm(n)
}

//abort restores the last stable parameters and leaves the Aborted state.
func (c *Controller) abort() {
	c.state = Aborted
	if c.stable != nil {
		if err := c.learner.SetState(c.stable); err != nil {
			klog.Errorf("train: restoring epoch %d parameters: %v", c.stableEpoch, err)
		}
	}
}

func (c *Controller) diverged(epoch, batch int, loss float64) error {
	c.abort()
	return &DivergedError{Epoch: epoch, Batch: batch, Loss: loss, Checkpoint: c.checkpoint,
		StableEpoch: c.stableEpoch, History: c.History()}
}

// Run trains until early stopping or the epoch cap, then restores the
// parameters of the best validation epoch and finalizes. Cancelling ctx
// aborts the run; the last checkpoint on disk stays valid.
func (c *Controller) Run(ctx context.Context) error {
	if c.state == Finalized || c.state == Aborted {
		return errors.Errorf("train: can't run a controller in state %s", c.state)
	}
	c.state = Training
	if c.stable == nil {
		s, err := c.learner.State()
		if err != nil {
			c.state = Aborted
			return err
		}
		c.stable, c.stableEpoch = s, c.epoch
	}
	for {
		if c.stall >= c.opts.Patience {
			c.stop = EarlyStopped
			break
		}
		if c.epoch >= c.opts.MaxEpochs {
			c.stop = MaxEpochsReached
			break
		}
		if err := ctx.Err(); err != nil {
			c.abort()
			return errors.Wrapf(err, "train: stopped after epoch %d", c.epoch)
		}
		stats, err := c.runEpoch(ctx, c.epoch+1)
		if err != nil {
			return err
		}
		for _, h := range c.hooks {
			h(stats)
		}
	}
	c.state = c.stop
	klog.Infof("train: %s after %d epochs, best validation loss %.5g at epoch %d", c.stop, c.epoch, c.bestLoss, c.bestEpoch)
	if c.best != nil {
		if err := c.learner.SetState(c.best); err != nil {
			c.state = Aborted
			return errors.Wrap(err, "train: restoring best parameters")
		}
		c.stable, c.stableEpoch = c.best, c.bestEpoch
	}
	c.state = Finalized
	if c.opts.Checkpoint != "" {
		if err := c.save(c.opts.Checkpoint); err != nil {
			c.state = Aborted
			return err
		}
	}
	return nil
}

func (c *Controller) runEpoch(ctx context.Context, epoch int) (EpochStats, error) {
	perm := Permutation(c.opts.Seed, epoch, len(c.train))
	bs := c.opts.BatchSize
	batch := make([]dataset.Example, 0, bs)
	var sum float64
	for b := 0; b*bs < len(perm); b++ {
		batch = batch[:0]
		for _, i := range perm[b*bs : min((b+1)*bs, len(perm))] {
			batch = append(batch, c.train[i])
		}
		loss, err := c.learner.Step(ctx, batch, c.lr)
		if err != nil {
			c.abort()
			return EpochStats{}, errors.Wrapf(err, "train: epoch %d batch %d", epoch, b)
		}
		if !finite(loss) {
			return EpochStats{}, c.diverged(epoch, b, loss)
		}
		sum += loss * float64(len(batch))
	}
	val, err := c.learner.Loss(ctx, c.val)
	if err != nil {
		c.abort()
		return EpochStats{}, errors.Wrapf(err, "train: epoch %d validation", epoch)
	}
	if !finite(val) {
		return EpochStats{}, c.diverged(epoch, -1, val)
	}
	cur, err := c.learner.State()
	if err != nil {
		c.abort()
		return EpochStats{}, err
	}
	stats := EpochStats{Epoch: epoch, TrainLoss: sum / float64(len(perm)), ValLoss: val, LR: c.lr}
	if val < c.bestLoss-c.opts.MinDelta {
		stats.Improved = true
		c.bestLoss, c.bestEpoch, c.best = val, epoch, cur
		c.stall, c.lrStall = 0, 0
	} else {
		c.stall++
		c.lrStall++
		if c.lrStall >= c.opts.DecayPatience {
			c.lr *= c.opts.DecayFactor
			c.lrStall = 0
			klog.V(1).Infof("train: epoch %d: learning rate lowered to %.3g", epoch, c.lr)
		}
	}
	c.epoch = epoch
	c.stable, c.stableEpoch = cur, epoch
	c.history = append(c.history, stats)
	klog.V(1).Infof("train: epoch %d: train %.5g, validation %.5g", epoch, stats.TrainLoss, val)
	if c.opts.Checkpoint != "" {
		if err := c.save(c.opts.Checkpoint); err != nil {
			c.state = Aborted
			return stats, err
		}
	}
	return stats, nil
}
