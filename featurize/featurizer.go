/*
 * featurizer.go, part of gofullerene.
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

//Package featurize turns atomic configurations into the graphs the
//regression model reads: one node per atom, one directed edge per ordered
//pair of atoms (or periodic images) closer than a cutoff radius.
//
//All numeric node and edge features are built from relative geometry
//(distances, angles, the strain tensor projected on bonds), so the features
//of a configuration do not change under rigid rotations or translations.
package featurize

import (
	"context"
	"math"

	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Number of element descriptors (Z, valence, electronegativity, radius)
// and strain descriptors (volumetric, equivalent, bond-projected) per node.
const (
	elementDescriptors = 4
	dopingDescriptors  = 2
	strainDescriptors  = 3
	alignmentFeatures  = 2
)

// Options holds everything needed to reproduce a featurization. It is
// stored with trained models, so inference uses exactly the settings the
// model was trained with.
type Options struct {
	Cutoff      float64              `json:"cutoff"`       //Angstrom
	Vocabulary  fullerene.Vocabulary `json:"vocabulary"`   //allowed elements, fixes the one-hot layout
	RadialBasis int                  `json:"radial_basis"` //number of Gaussians expanding each distance
}

// DefaultOptions returns a 6 A cutoff, the C/B/N/P vocabulary and 16 radial
// basis functions.
func DefaultOptions() Options {
	return Options{Cutoff: 6.0, Vocabulary: fullerene.DefaultVocabulary(), RadialBasis: 16}
}

// Validate checks that the options can be used to build a featurizer.
func (O Options) Validate() error {
	if !(O.Cutoff > 0) || math.IsInf(O.Cutoff, 0) {
		return errors.Errorf("featurize: cutoff must be positive and finite, got %v", O.Cutoff)
	}
	if len(O.Vocabulary) == 0 {
		return errors.New("featurize: empty element vocabulary")
	}
	if _, err := fullerene.NewVocabulary(O.Vocabulary...); err != nil {
		return errors.Wrap(err, "featurize")
	}
	if O.RadialBasis < 2 {
		return errors.Errorf("featurize: need at least 2 radial basis functions, got %d", O.RadialBasis)
	}
	return nil
}

// Featurizer builds StructureGraphs. It has no mutable state, and can be
// used from several goroutines at once.
type Featurizer struct {
	opts    Options
	centers []float64
	width   float64
}

// New returns a Featurizer for the given options.
func New(opts Options) (*Featurizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Vocabulary = append(fullerene.Vocabulary(nil), opts.Vocabulary...)
	F := &Featurizer{opts: opts, centers: make([]float64, opts.RadialBasis)}
	for k := range F.centers {
		F.centers[k] = float64(k) * opts.Cutoff / float64(opts.RadialBasis-1)
	}
	F.width = opts.Cutoff / float64(opts.RadialBasis)
	return F, nil
}

func (F *Featurizer) Options() Options {
	o := F.opts
	o.Vocabulary = append(fullerene.Vocabulary(nil), o.Vocabulary...)
	return o
}

// NodeDim returns the length of the node feature vectors.
func (F *Featurizer) NodeDim() int {
	return len(F.opts.Vocabulary) + elementDescriptors + dopingDescriptors + strainDescriptors
}

// EdgeDim returns the length of the edge feature vectors.
func (F *Featurizer) EdgeDim() int {
	return F.opts.RadialBasis + alignmentFeatures
}

// Featurize builds the graph for C. It returns an *InvalidElementError if an
// atom is not in the vocabulary, and a *DisconnectedStructureError if some
// atom has no neighbour within the cutoff, periodic images included.
// Periodic structures may hold unwrapped coordinates; the graph is built
// from their wrapped copy.
func (F *Featurizer) Featurize(C *fullerene.Configuration) (*StructureGraph, error) {
	if err := C.Validate(); err != nil {
		return nil, err
	}
	for i, a := range C.Atoms {
		if !F.opts.Vocabulary.Contains(a.Symbol) {
			return nil, &fullerene.InvalidElementError{ID: C.ID, Index: i, Symbol: a.Symbol}
		}
	}
	//neighbour search needs every atom inside the home cell
	C, err := C.Wrapped()
	if err != nil {
		return nil, err
	}
	edges := neighbors(C, F.opts.Cutoff)
	n := C.Len()
	deg := make([]int, n)
	for _, e := range edges {
		deg[e.From]++
	}
	var isolated []int
	for i, d := range deg {
		if d == 0 {
			isolated = append(isolated, i)
		}
	}
	if len(isolated) > 0 {
		return nil, &fullerene.DisconnectedStructureError{ID: C.ID, Isolated: isolated, Cutoff: F.opts.Cutoff}
	}
	G := &StructureGraph{
		ID:      C.ID,
		Group:   C.GroupKey(),
		Stratum: C.Stratum(),
		Nodes:   mat.NewDense(n, F.NodeDim(), nil),
		Edges:   edges,
		degree:  deg,
	}
	if len(edges) > 0 {
		G.EdgeFeatures = mat.NewDense(len(edges), F.EdgeDim(), nil)
	}
	F.nodeFeatures(C, G)
	F.edgeFeatures(C, G)
	if klog.V(2).Enabled() {
		klog.Infof("featurized %s: %d nodes, %d edges", C.ID, n, len(edges))
	}
	return G, nil
}

func (F *Featurizer) nodeFeatures(C *fullerene.Configuration, G *StructureGraph) {
	V := len(F.opts.Vocabulary)
	conc := C.Doping.Total() / 100
	vol := C.Strain.Volumetric()
	eqv := C.Strain.Equivalent()
	along := make([]float64, C.Len())
	if C.Strain != nil {
		for _, e := range G.Edges {
			along[e.From] += C.Strain.Along(e.Direction)
		}
	}
	for i, a := range C.Atoms {
		row := G.Nodes.RawRowView(i)
		row[F.opts.Vocabulary.Index(a.Symbol)] = 1
		el, _ := fullerene.LookupElement(a.Symbol)
		row[V] = float64(el.Z) / 20
		row[V+1] = float64(el.Valence) / 8
		row[V+2] = el.Electronegativity / 4
		row[V+3] = el.CovalentRadius
		if C.Doping.IsDopant(i) {
			row[V+4] = 1
		}
		row[V+5] = conc
		row[V+6] = vol
		row[V+7] = eqv
		row[V+8] = along[i] / float64(G.degree[i])
	}
}

//Each edge gets its distance expanded on Gaussians, exp(-((d-mu_k)/w)^2),
//plus the cosines between the bond and the radial directions (from the
//centroid) of both ends. The second cosine is taken against the reversed
//bond, so reversing an edge swaps the two values.
func (F *Featurizer) edgeFeatures(C *fullerene.Configuration, G *StructureGraph) {
	c := C.Centroid()
	radial := make([][3]float64, C.Len())
	for i, a := range C.Atoms {
		radial[i] = fullerene.Unit(fullerene.Sub(a.Pos, c))
	}
	nb := F.opts.RadialBasis
	for k, e := range G.Edges {
		row := G.EdgeFeatures.RawRowView(k)
		for j, mu := range F.centers {
			x := (e.Distance - mu) / F.width
			row[j] = math.Exp(-x * x)
		}
		row[nb] = fullerene.Dot(e.Direction, radial[e.From])
		row[nb+1] = -fullerene.Dot(e.Direction, radial[e.To])
	}
}

// FeaturizeAll featurizes cfgs using up to workers goroutines. Configurations
// that fail with a data error are skipped and returned as rejections; the
// output keeps the input order of the accepted ones. The error is non-nil
// only if ctx is cancelled.
func (F *Featurizer) FeaturizeAll(ctx context.Context, cfgs []*fullerene.Configuration, workers int) ([]*StructureGraph, *fullerene.Rejections, error) {
	if workers < 1 {
		workers = 1
	}
	graphs := make([]*StructureGraph, len(cfgs))
	errs := make([]error, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, C := range cfgs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			graphs[i], errs[i] = F.Featurize(C)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "featurize: cancelled")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "featurize: cancelled")
	}
	rej := new(fullerene.Rejections)
	ret := make([]*StructureGraph, 0, len(cfgs))
	for i, G := range graphs {
		if errs[i] != nil {
			rej.Add(cfgs[i].ID, errs[i])
			continue
		}
		ret = append(ret, G)
	}
	return ret, rej, nil
}
