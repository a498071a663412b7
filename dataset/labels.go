/*
 * labels.go, part of gofullerene.
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

package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
)

// IDColumn is the label table column holding configuration identifiers.
const IDColumn = "id"

// Labels holds the first-principles results for one configuration, in task
// order. Valid[k] is false if property k was not computed.
type Labels struct {
	Values []float64
	Valid  []bool
}

// Any returns true if at least one property is valid.
func (L Labels) Any() bool {
	for _, v := range L.Valid {
		if v {
			return true
		}
	}
	return false
}

//Markers the DFT pipeline (or pandas) writes for properties it did not compute.
var missingMarkers = map[string]bool{"": true, "na": true, "nan": true, "n/a": true, "null": true, "none": true, "<nil>": true, "not_computed": true, "not computed": true}

func isMissing(s string) bool {
	return missingMarkers[strings.ToLower(strings.TrimSpace(s))]
}

// ReadLabelsFile reads a label table from path. Files ending in .json are
// read with ReadLabelsJSON, others as CSV.
func ReadLabelsFile(path string, tasks []string) (map[string]Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: opening %s", path)
	}
	defer f.Close()
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return readLabelsJSON(f, path, tasks)
	}
	return readLabels(f, path, tasks)
}

// ReadLabels reads a CSV table with an "id" column and one column per task.
// Empty cells, NA, NaN, null and not_computed mark a missing property; they
// are never read as zero. Unparseable numbers and repeated identifiers give
// a *fullerene.ParseError.
func ReadLabels(r io.Reader, tasks []string) (map[string]Labels, error) {
	return readLabels(r, "labels", tasks)
}

func readLabels(r io.Reader, name string, tasks []string) (map[string]Labels, error) {
	df := dataframe.ReadCSV(r, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	if df.Err != nil {
		return nil, &fullerene.ParseError{File: name, Reason: df.Err.Error()}
	}
	names := make(map[string]bool)
	for _, n := range df.Names() {
		names[n] = true
	}
	for _, c := range append([]string{IDColumn}, tasks...) {
		if !names[c] {
			return nil, &fullerene.ParseError{File: name, Line: 1, Reason: fmt.Sprintf("no %q column", c)}
		}
	}
	ids := df.Col(IDColumn).Records()
	cols := make([][]string, len(tasks))
	for k, t := range tasks {
		cols[k] = df.Col(t).Records()
	}
	ret := make(map[string]Labels, len(ids))
	for row, id := range ids {
		line := row + 2 //header is line 1
		id = strings.TrimSpace(id)
		if isMissing(id) {
			return nil, &fullerene.ParseError{File: name, Line: line, Reason: "missing id"}
		}
		if _, ok := ret[id]; ok {
			return nil, &fullerene.ParseError{File: name, Line: line, Reason: fmt.Sprintf("id %q repeated", id)}
		}
		L := Labels{Values: make([]float64, len(tasks)), Valid: make([]bool, len(tasks))}
		for k := range tasks {
			v := cols[k][row]
			if isMissing(v) {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsInf(f, 0) {
				return nil, &fullerene.ParseError{File: name, Line: line, Reason: fmt.Sprintf("%s of %s: bad value %q", tasks[k], id, v)}
			}
			if math.IsNaN(f) {
				continue
			}
			L.Values[k], L.Valid[k] = f, true
		}
		ret[id] = L
	}
	return ret, nil
}

// ReadLabelsJSON reads labels given as a JSON object from configuration id to
// an object of property name to value. null, a missing key, or any of the
// missing markers as a string mean the property was not computed.
func ReadLabelsJSON(r io.Reader, tasks []string) (map[string]Labels, error) {
	return readLabelsJSON(r, "labels", tasks)
}

func readLabelsJSON(r io.Reader, name string, tasks []string) (map[string]Labels, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &fullerene.ParseError{File: name, Reason: err.Error()}
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ret := make(map[string]Labels, len(raw))
	for _, id := range ids {
		props := raw[id]
		L := Labels{Values: make([]float64, len(tasks)), Valid: make([]bool, len(tasks))}
		for k, t := range tasks {
			v, ok := props[t]
			if !ok || string(v) == "null" {
				continue
			}
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				var s string
				if json.Unmarshal(v, &s) == nil && isMissing(s) {
					continue
				}
				return nil, &fullerene.ParseError{File: name, Reason: fmt.Sprintf("%s of %s: bad value %s", t, id, v)}
			}
			L.Values[k], L.Valid[k] = f, true
		}
		ret[id] = L
	}
	return ret, nil
}
