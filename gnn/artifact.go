/*
 * artifact.go, part of gofullerene.
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
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/featurize"
)

// FormatVersion is written in every model file. Load refuses other versions.
const FormatVersion = 1

type artifact struct {
	Format      int                 `json:"format"`
	RunID       string              `json:"run_id"`
	Arch        Architecture        `json:"architecture"`
	Features    featurize.Options   `json:"features"`
	Normalizer  *dataset.Normalizer `json:"normalizer"`
	Weights     []float64           `json:"weights"`
	Params      []Matrix            `json:"params"`
	Calibration *Calibration        `json:"calibration,omitempty"`
}

// Save writes the model to path as zstd-compressed JSON. The file is written
// next to path first and renamed over it, so an interrupted Save never
// leaves a truncated model behind.
func (m *Model) Save(path string) error {
	a := artifact{Format: FormatVersion, RunID: m.RunID, Arch: m.Arch, Features: m.Features,
		Normalizer: m.Normalizer, Weights: m.Weights, Params: m.Params.export(), Calibration: m.Calibration}
	return EncodeFile(path, a)
}

// Load reads a model written by Save. The loaded model is ready for
// prediction.
func Load(path string) (*Model, error) {
	var a artifact
	if err := DecodeFile(path, &a); err != nil {
		return nil, err
	}
	if a.Format != FormatVersion {
		return nil, errors.Errorf("gnn: %s has format %d, this version reads %d", path, a.Format, FormatVersion)
	}
	if err := a.Arch.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	F, err := featurize.New(a.Features)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	if F.NodeDim() != a.Arch.NodeFeatures || F.EdgeDim() != a.Arch.EdgeFeatures {
		return nil, errors.Errorf("gnn: %s: featurizer settings don't match the architecture", path)
	}
	P, err := importParams(a.Arch, a.Params)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	m := &Model{Arch: a.Arch, Features: a.Features, Weights: a.Weights, Params: P, RunID: a.RunID,
		Calibration: a.Calibration, featurizer: F, opt: newAdam(a.Arch)}
	if err := m.SetNormalizer(a.Normalizer); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if len(m.Weights) != len(a.Arch.Tasks) {
		return nil, errors.Errorf("gnn: %s: %d weights for %d tasks", path, len(m.Weights), len(a.Arch.Tasks))
	}
	return m, nil
}

// EncodeFile writes v as zstd-compressed JSON to path, atomically.
func EncodeFile(path string, v interface{}) error {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return errors.Wrap(err, "gnn: zstd")
	}
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		zw.Close()
		return errors.Wrapf(err, "gnn: encoding %s", path)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(err, "gnn: compressing %s", path)
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// DecodeFile reads a file written by EncodeFile into v.
func DecodeFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "gnn: opening %s", path)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gnn: reading %s", path)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		return errors.Wrapf(err, "gnn: decoding %s", path)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the directory of path,
// syncs it and renames it to path.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "gnn: writing %s", path)
	}
	name := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(name)
		return errors.Wrapf(err, "gnn: writing %s", path)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "gnn: writing %s", path)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "gnn: writing %s", path)
	}
	return nil
}
