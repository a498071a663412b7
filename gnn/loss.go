/*
 * loss.go, part of gofullerene.
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
	"math"

	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"golang.org/x/sync/errgroup"
)

//Loss of a batch, in normalized units:
//
//	L = sum_s sum_k w_k m_sk (y'_sk - y_sk)^2 / sum_s sum_k w_k m_sk
//
//where m_sk is 0 for missing labels. As targets are scaled by the training
//standard deviation of each property, no property dominates because of its
//units.

//sampleLoss returns the weighted squared error of one example, its weight
//(the denominator contribution), and dL/dout before dividing by the batch
//weight.
func (m *Model) sampleLoss(out []float64, ex dataset.Example) (sse, weight float64, dOut []float64) {
	dOut = make([]float64, len(out))
	for k, y := range out {
		if !ex.Mask[k] {
			continue
		}
		w := m.Weights[k]
		d := y - ex.Targets[k]
		sse += w * d * d
		weight += w
		dOut[k] = 2 * w * d
	}
	return sse, weight, dOut
}

func (m *Model) checkExample(ex dataset.Example) error {
	if len(ex.Targets) != len(m.Arch.Tasks) || len(ex.Mask) != len(m.Arch.Tasks) {
		return errors.Errorf("gnn: example %s has %d targets, model has %d tasks", ex.Graph.ID, len(ex.Targets), len(m.Arch.Tasks))
	}
	return nil
}

// Gradients returns the loss of batch and its gradient with respect to the
// parameters. Examples are processed in parallel, but the gradients are
// summed in batch order, so the result does not depend on scheduling.
func (m *Model) Gradients(ctx context.Context, batch []dataset.Example) (float64, *Params, error) {
	if len(batch) == 0 {
		return 0, nil, errors.New("gnn: empty batch")
	}
	sse := make([]float64, len(batch))
	wt := make([]float64, len(batch))
	grads := make([]*Params, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, ex := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := m.checkExample(ex); err != nil {
				return err
			}
			p, err := m.forward(ex.Graph)
			if err != nil {
				return err
			}
			var dOut []float64
			sse[i], wt[i], dOut = m.sampleLoss(p.out, ex)
			grads[i] = zeroParams(m.Arch)
			m.backward(p, dOut, grads[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	total := zeroParams(m.Arch)
	var S, W float64
	for i := range batch {
		S += sse[i]
		W += wt[i]
		total.Add(grads[i])
	}
	if W == 0 {
		return 0, total, nil
	}
	total.Scale(1 / W)
	return S / W, total, nil
}

// Loss returns the loss over examples, without computing gradients.
func (m *Model) Loss(ctx context.Context, examples []dataset.Example) (float64, error) {
	if len(examples) == 0 {
		return 0, errors.New("gnn: no examples")
	}
	sse := make([]float64, len(examples))
	wt := make([]float64, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, ex := range examples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := m.checkExample(ex); err != nil {
				return err
			}
			p, err := m.forward(ex.Graph)
			if err != nil {
				return err
			}
			sse[i], wt[i], _ = m.sampleLoss(p.out, ex)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var S, W float64
	for i := range examples {
		S += sse[i]
		W += wt[i]
	}
	if W == 0 {
		return math.NaN(), errors.New("gnn: no valid label in examples")
	}
	return S / W, nil
}
