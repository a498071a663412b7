/*
 * result.go, part of gofullerene.
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
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/internal/tty"
)

// Status is the confirmation status written for every screened candidate.
const Status = "unconfirmed"

// Candidate is one screened configuration. Predicted and Sigma are in the
// physical units of each property. Rank is 0 for candidates that violate a
// constraint.
type Candidate struct {
	ID         string
	Config     *fullerene.Configuration
	Strain     string
	Dopants    string
	Predicted  []float64
	Sigma      []float64
	Score      float64
	Rank       int
	Violations []string
}

func newCandidate(C *fullerene.Configuration, p, s []float64) *Candidate {
	cand := &Candidate{ID: C.ID, Config: C, Strain: "none", Dopants: C.Stratum(), Predicted: p, Sigma: s}
	if C.Strain != nil {
		cand.Strain = C.Strain.String()
	}
	return cand
}

// Result of a screening run. Ranked holds every scored candidate, those
// meeting the constraints first and best first; Shortlist is the top of
// that feasible part. Nothing in a Result is a confirmed value, see Advisory.
type Result struct {
	Tasks     []string
	Objective Objective
	Ranked    []*Candidate
	Shortlist []*Candidate
	Excluded  *fullerene.Rejections
	Fit       bool //the model passed its accuracy threshold
	Advisory  string
}

func fmtFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func join(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ";")
}

// Frame returns the full score table: one row per ranked candidate with
// the prediction and uncertainty of every property, the constraints it
// violates and its confirmation status.
func (R *Result) Frame() dataframe.DataFrame {
	header := []string{"rank", "id", "strain", "dopants"}
	for _, t := range R.Tasks {
		header = append(header, t, t+"_sigma")
	}
	header = append(header, "score", "violations", "status")
	records := [][]string{header}
	for _, c := range R.Ranked {
		row := []string{strconv.Itoa(c.Rank), c.ID, c.Strain, c.Dopants}
		for k := range R.Tasks {
			row = append(row, fmtFloat(c.Predicted[k]), fmtFloat(c.Sigma[k]))
		}
		row = append(row, fmtFloat(c.Score), join(c.Violations), Status)
		records = append(records, row)
	}
	return dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.HasHeader(true))
}

// WriteCSV writes the full score table as CSV.
func (R *Result) WriteCSV(w io.Writer) error {
	df := R.Frame()
	if df.Err != nil {
		return errors.Wrap(df.Err, "screen: building score table")
	}
	return errors.Wrap(df.WriteCSV(w), "screen: writing score table")
}

// WriteShortlist writes one extended XYZ file per shortlisted candidate in
// dir, named after its identifier, to hand over for DFT confirmation.
func (R *Result) WriteShortlist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "screen")
	}
	for _, c := range R.Shortlist {
		if err := fullerene.WriteXYZFile(filepath.Join(dir, c.ID+".xyz"), c.Config); err != nil {
			return errors.WithMessage(err, "screen")
		}
	}
	return nil
}

// Render returns the shortlist as a terminal table, followed by the
// advisory and, if any, the excluded candidates. Everything is drawn as a
// warning if the model is unfit.
func (R *Result) Render() string {
	headers := []string{"rank", "id"}
	for _, t := range R.Tasks {
		headers = append(headers, t)
	}
	T := tty.NewTable(headers...)
	for _, c := range R.Shortlist {
		row := []string{strconv.Itoa(c.Rank), c.ID}
		for k := range R.Tasks {
			cell := fmtFloat(c.Predicted[k])
			if !math.IsNaN(c.Sigma[k]) {
				cell += " ± " + strconv.FormatFloat(c.Sigma[k], 'g', 2, 64)
			}
			row = append(row, cell)
		}
		T.Row(!R.Fit, row...)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "top %d of %d candidates (%s)\n%s\n", len(R.Shortlist), len(R.Ranked), Status, T)
	if !R.Fit {
		b.WriteString("WARNING: the model did not pass its accuracy threshold.\n")
	}
	b.WriteString(R.Advisory + "\n")
	if R.Excluded.Len() > 0 {
		fmt.Fprintf(&b, "excluded: %s\n", R.Excluded.Summary())
	}
	return b.String()
}
