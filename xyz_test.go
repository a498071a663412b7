/*
 * xyz_test.go, part of gofullerene.
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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXYZ = `4
id=sq_B1 group=sq Lattice="3 0 0 0 3 0 0 0 10" pbc="T T F" strain=biaxial:2.5 dopants=B:25 dopant_sites=1:B
C 0.0 0.0 0.0
B 1.5 0.0 0.0
C 0.0 1.5 0.0
c1 1.5 1.5 0.0
`

func TestReadXYZ(t *testing.T) {
	C, err := ReadXYZ(strings.NewReader(sampleXYZ), "sample.xyz")
	require.NoError(t, err)
	assert.Equal(t, "sq_B1", C.ID)
	assert.Equal(t, "sq", C.GroupKey())
	require.Equal(t, 4, C.Len())
	assert.Equal(t, "C", C.Atoms[3].Symbol)
	assert.Equal(t, [3]float64{1.5, 0, 0}, C.Atoms[1].Pos)
	require.NotNil(t, C.Cell)
	assert.Equal(t, [3]bool{true, true, false}, C.Cell.PBC)
	assert.Equal(t, 10.0, C.Cell.Vectors[2][2])
	require.NotNil(t, C.Strain)
	assert.Equal(t, Biaxial, C.Strain.Kind)
	assert.InDelta(t, 0.05, C.Strain.Volumetric(), 1e-12)
	assert.True(t, C.Doping.IsDopant(1))
	assert.False(t, C.Doping.IsDopant(0))
	assert.Equal(t, "B", C.Stratum())
	assert.Equal(t, 25.0, C.Doping.Total())
}

func TestXYZRoundTrip(t *testing.T) {
	C, err := ReadXYZ(strings.NewReader(sampleXYZ), "sample.xyz")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteXYZ(&buf, C))
	D, err := ReadXYZ(&buf, "again.xyz")
	require.NoError(t, err)
	assert.Equal(t, C.ID, D.ID)
	assert.Equal(t, C.Atoms, D.Atoms)
	assert.Equal(t, *C.Cell, *D.Cell)
	assert.Equal(t, C.Strain.Tensor(), D.Strain.Tensor())
	assert.Equal(t, C.Doping.Sites, D.Doping.Sites)
	assert.Equal(t, C.Doping.Concentrations, D.Doping.Concentrations)
}

func TestXYZQuotedValues(t *testing.T) {
	C, err := ReadXYZ(strings.NewReader(sampleXYZ), "sample.xyz")
	require.NoError(t, err)
	for _, id := range []string{`a "b"\c`, `x\y`, "p=q", "two words"} {
		C.ID = id
		var buf bytes.Buffer
		require.NoError(t, WriteXYZ(&buf, C))
		D, err := ReadXYZ(&buf, "again.xyz")
		require.NoError(t, err, id)
		assert.Equal(t, id, D.ID)
		assert.Equal(t, *C.Cell, *D.Cell)
	}
	//backslashes that are not Go escapes are kept as written
	m, err := parseComment(`id="C:\data\c60" pbc="T T T"`)
	require.NoError(t, err)
	assert.Equal(t, `C:\data\c60`, m["id"])
	assert.Equal(t, "T T T", m["pbc"])
	_, err = parseComment(`id="open\"`)
	assert.Error(t, err)
}

func TestReadXYZMalformed(t *testing.T) {
	cases := []struct {
		name, text string
		line       int
	}{
		{"bad count", "x\n\nC 0 0 0\n", 1},
		{"short", "3\n\nC 0 0 0\nC 1 0 0\n", 4},
		{"bad coordinate", "2\n\nC 0 0 0\nC 1 zero 0\n", 4},
		{"missing column", "1\n\nC 0 0\n", 3},
		{"trailing", "1\n\nC 0 0 0\nC 1 1 1\n", 4},
		{"bad lattice", "1\nLattice=\"1 0 0\"\nC 0 0 0\n", 2},
		{"bad strain", "1\nstrain=twist:3\nC 0 0 0\n", 2},
		{"unterminated", "1\nid=\"abc\nC 0 0 0\n", 2},
		{"site out of range", "1\ndopant_sites=4:B\nC 0 0 0\n", 0},
		{"site element mismatch", "1\ndopant_sites=0:B\nC 0 0 0\n", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ReadXYZ(strings.NewReader(c.text), "bad.xyz")
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
			assert.Equal(t, "bad.xyz", pe.File)
			assert.Equal(t, c.line, pe.Line)
			assert.Equal(t, "malformed", Kind(err))
		})
	}
}

func TestReadXYZDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xyz"), []byte(sampleXYZ), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xyz"), []byte("2\n\nC 0 0 0\n"), 0o644))
	require.NoError(t, WriteXYZFile(filepath.Join(dir, "c.xyz"), C60("C60")))
	cfgs, rej, err := ReadXYZDir(dir)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "sq_B1", cfgs[0].ID)
	assert.Equal(t, "C60", cfgs[1].ID)
	require.Equal(t, 1, rej.Len())
	assert.Equal(t, "b.xyz", rej.Items[0].ID)
	assert.Equal(t, map[string]int{"malformed": 1}, rej.Counts())
	assert.Contains(t, rej.Summary(), "1 rejected")
}
