/*
 * errors.go, part of gofullerene.
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

package fullerene

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParseError is returned for malformed structure or label records.
type ParseError struct {
	File   string
	Line   int //0 if the error is not tied to a line.
	Reason string
}

func (err *ParseError) Error() string {
	if err.Line > 0 {
		return fmt.Sprintf("gofullerene: %s:%d: %s", err.File, err.Line, err.Reason)
	}
	return fmt.Sprintf("gofullerene: %s: %s", err.File, err.Reason)
}

// InvalidElementError is returned when an atom's symbol is not part of the
// element vocabulary in use.
type InvalidElementError struct {
	ID     string
	Index  int
	Symbol string
}

func (err *InvalidElementError) Error() string {
	return fmt.Sprintf("gofullerene: configuration %q: atom %d has element %q, which is not in the vocabulary", err.ID, err.Index, err.Symbol)
}

// DisconnectedStructureError is returned when at least one atom has no
// neighbour within the cutoff radius, periodic images included.
type DisconnectedStructureError struct {
	ID       string
	Isolated []int
	Cutoff   float64
}

func (err *DisconnectedStructureError) Error() string {
	return fmt.Sprintf("gofullerene: configuration %q: %d isolated atom(s) %v within cutoff %.2f A", err.ID, len(err.Isolated), err.Isolated, err.Cutoff)
}

// MissingLabelsError is returned for samples that have no valid property label.
type MissingLabelsError struct {
	ID string
}

func (err *MissingLabelsError) Error() string {
	return fmt.Sprintf("gofullerene: configuration %q has no valid property label", err.ID)
}

// Kind returns a short name for the class of data error err belongs to.
func Kind(err error) string {
	var pe *ParseError
	var ie *InvalidElementError
	var de *DisconnectedStructureError
	var me *MissingLabelsError
	switch {
	case errors.As(err, &pe):
		return "malformed"
	case errors.As(err, &ie):
		return "invalid element"
	case errors.As(err, &de):
		return "disconnected"
	case errors.As(err, &me):
		return "missing labels"
	}
	return "other"
}

// Rejection is a single item dropped from a batch operation.
type Rejection struct {
	ID  string
	Err error
}

// Rejections collects the per-item data errors of a batch run, so the run can
// go on and report a summary at the end.
type Rejections struct {
	Items []Rejection
}

// Add records that the item id was rejected because of err.
func (R *Rejections) Add(id string, err error) {
	R.Items = append(R.Items, Rejection{ID: id, Err: err})
}

// Merge appends the rejections in o to R.
func (R *Rejections) Merge(o *Rejections) {
	if o == nil {
		return
	}
	R.Items = append(R.Items, o.Items...)
}

func (R *Rejections) Len() int {
	if R == nil {
		return 0
	}
	return len(R.Items)
}

// Counts returns the number of rejections per error kind.
func (R *Rejections) Counts() map[string]int {
	c := make(map[string]int)
	if R == nil {
		return c
	}
	for _, v := range R.Items {
		c[Kind(v.Err)]++
	}
	return c
}

// Summary returns a one-line description of the rejections.
func (R *Rejections) Summary() string {
	if R.Len() == 0 {
		return "0 rejected"
	}
	counts := R.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return fmt.Sprintf("%d rejected (%s)", R.Len(), strings.Join(parts, ", "))
}

// Log writes one warning per rejected item and a final summary, prefixed
// by stage.
func (R *Rejections) Log(stage string) {
	if R.Len() == 0 {
		return
	}
	for _, v := range R.Items {
		klog.Warningf("%s: skipping %q: %v", stage, v.ID, v.Err)
	}
	klog.Warningf("%s: %s", stage, R.Summary())
}
