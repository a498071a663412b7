/*
 * xyz.go, part of gofullerene.
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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

//The structure generator writes one extended XYZ file per configuration:
//the atom count, a comment line with ASE-style key=value metadata, and one
//"symbol x y z" line per atom. Recognized keys:
//
//	id            configuration identifier (default: file name without extension)
//	group         physical configuration shared by replicas (default: id)
//	Lattice       "ax ay az bx by bz cx cy cz"
//	pbc           "T T T" (default when Lattice is present)
//	strain        kind:percent, e.g. biaxial:2.5
//	strain_tensor "xx xy xz yx yy yz zx zy zz"
//	dopants       element:percent list, e.g. B:5,N:2.5
//	dopant_sites  index:element list (0-based), e.g. 3:B,17:B
//
//Other keys are ignored.

// ReadXYZFile reads the configuration in the extended XYZ file path.
func ReadXYZFile(path string) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "gofullerene: opening %s", path)
	}
	defer f.Close()
	return ReadXYZ(f, path)
}

// ReadXYZ reads one configuration from r. name is used in error messages and
// as the default identifier.
func ReadXYZ(r io.Reader, name string) (*Configuration, error) {
	perr := func(line int, format string, a ...interface{}) error {
		return &ParseError{File: name, Line: line, Reason: fmt.Sprintf(format, a...)}
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		lineno++
		return sc.Text(), true
	}
	first, ok := next()
	if !ok {
		if err := sc.Err(); err != nil {
			return nil, errors.Wrapf(err, "gofullerene: reading %s", name)
		}
		return nil, perr(0, "empty file")
	}
	natoms, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || natoms <= 0 {
		return nil, perr(lineno, "invalid atom count %q", strings.TrimSpace(first))
	}
	comment, ok := next()
	if !ok {
		return nil, perr(lineno, "missing comment line")
	}
	meta, err := parseComment(comment)
	if err != nil {
		return nil, perr(lineno, "%v", err)
	}
	C := &Configuration{Atoms: make([]Atom, 0, natoms)}
	for len(C.Atoms) < natoms {
		line, ok := next()
		if !ok {
			return nil, perr(lineno, "expected %d atoms, found %d", natoms, len(C.Atoms))
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, perr(lineno, "atom line needs an element and 3 coordinates: %q", line)
		}
		var at Atom
		at.Symbol = normalizeSymbol(fields[0])
		for k := 0; k < 3; k++ {
			at.Pos[k], err = strconv.ParseFloat(fields[k+1], 64)
			if err != nil {
				return nil, perr(lineno, "bad coordinate %q", fields[k+1])
			}
		}
		C.Atoms = append(C.Atoms, at)
	}
	for {
		line, ok := next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) != "" {
			return nil, perr(lineno, "unexpected data after %d atoms", natoms)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "gofullerene: reading %s", name)
	}
	if err := applyMeta(C, meta, name); err != nil {
		return nil, perr(2, "%v", err)
	}
	if err := C.Validate(); err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = name
		}
		return nil, err
	}
	return C, nil
}

func applyMeta(C *Configuration, meta map[string]string, name string) error {
	C.ID = meta["id"]
	if C.ID == "" {
		base := filepath.Base(name)
		C.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	C.Group = meta["group"]
	if lat, ok := meta["lattice"]; ok {
		v, err := parseFloats(lat, 9)
		if err != nil {
			return errors.Wrap(err, "Lattice")
		}
		C.Cell = &Cell{PBC: [3]bool{true, true, true}}
		for i := 0; i < 3; i++ {
			copy(C.Cell.Vectors[i][:], v[3*i:3*i+3])
		}
	}
	if pbc, ok := meta["pbc"]; ok {
		f := strings.Fields(pbc)
		if len(f) != 3 {
			return errors.Errorf("pbc needs 3 flags, got %q", pbc)
		}
		if C.Cell == nil {
			return errors.New("pbc given without Lattice")
		}
		for i, v := range f {
			switch strings.ToUpper(v) {
			case "T", "TRUE", "1":
				C.Cell.PBC[i] = true
			case "F", "FALSE", "0":
				C.Cell.PBC[i] = false
			default:
				return errors.Errorf("invalid pbc flag %q", v)
			}
		}
	}
	_, hasStrain := meta["strain"]
	_, hasTensor := meta["strain_tensor"]
	if hasStrain && hasTensor {
		return errors.New("both strain and strain_tensor given")
	}
	var err error
	if hasStrain {
		if C.Strain, err = ParseStrain(meta["strain"]); err != nil {
			return err
		}
	}
	if hasTensor {
		v, err := parseFloats(meta["strain_tensor"], 9)
		if err != nil {
			return errors.Wrap(err, "strain_tensor")
		}
		var t [3][3]float64
		for i := 0; i < 3; i++ {
			copy(t[i][:], v[3*i:3*i+3])
		}
		if C.Strain, err = NewStrainTensor(t); err != nil {
			return err
		}
	}
	conc, hasConc := meta["dopants"]
	sites, hasSites := meta["dopant_sites"]
	if hasConc || hasSites {
		C.Doping = &Doping{Sites: make(map[int]string), Concentrations: make(map[string]float64)}
	}
	if hasConc {
		for _, item := range splitList(conc) {
			e, v, err := splitPair(item)
			if err != nil {
				return errors.Wrap(err, "dopants")
			}
			c, err := strconv.ParseFloat(v, 64)
			if err != nil || c < 0 || c > 100 {
				return errors.Errorf("dopants: invalid concentration %q", v)
			}
			C.Doping.Concentrations[normalizeSymbol(e)] = c
		}
	}
	if hasSites {
		for _, item := range splitList(sites) {
			idx, e, err := splitPair(item)
			if err != nil {
				return errors.Wrap(err, "dopant_sites")
			}
			i, err := strconv.Atoi(idx)
			if err != nil {
				return errors.Errorf("dopant_sites: invalid index %q", idx)
			}
			C.Doping.Sites[i] = normalizeSymbol(e)
		}
	}
	return nil
}

// WriteXYZ writes C in the extended XYZ format read by ReadXYZ.
func WriteXYZ(w io.Writer, C *Configuration) error {
	bw := bufio.NewWriter(w)
	meta := []string{"id=" + quote(C.ID)}
	if C.Group != "" {
		meta = append(meta, "group="+quote(C.Group))
	}
	if C.Cell != nil {
		v := make([]float64, 0, 9)
		for i := 0; i < 3; i++ {
			v = append(v, C.Cell.Vectors[i][:]...)
		}
		meta = append(meta, fmt.Sprintf("Lattice=%q", formatFloats(v)))
		flags := make([]string, 3)
		for i, p := range C.Cell.PBC {
			flags[i] = "F"
			if p {
				flags[i] = "T"
			}
		}
		meta = append(meta, fmt.Sprintf("pbc=%q", strings.Join(flags, " ")))
	}
	if C.Strain != nil {
		if C.Strain.Kind == General {
			t := C.Strain.Tensor()
			v := make([]float64, 0, 9)
			for i := 0; i < 3; i++ {
				v = append(v, t[i][:]...)
			}
			meta = append(meta, fmt.Sprintf("strain_tensor=%q", formatFloats(v)))
		} else {
			meta = append(meta, fmt.Sprintf("strain=%s:%s", C.Strain.Kind, strconv.FormatFloat(C.Strain.Percent, 'g', -1, 64)))
		}
	}
	if C.Doping != nil {
		els := make([]string, 0, len(C.Doping.Concentrations))
		for e := range C.Doping.Concentrations {
			els = append(els, e)
		}
		sort.Strings(els)
		items := make([]string, len(els))
		for i, e := range els {
			items[i] = e + ":" + strconv.FormatFloat(C.Doping.Concentrations[e], 'g', -1, 64)
		}
		if len(items) > 0 {
			meta = append(meta, "dopants="+strings.Join(items, ","))
		}
		idx := make([]int, 0, len(C.Doping.Sites))
		for i := range C.Doping.Sites {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		items = items[:0]
		for _, i := range idx {
			items = append(items, fmt.Sprintf("%d:%s", i, C.Doping.Sites[i]))
		}
		if len(items) > 0 {
			meta = append(meta, "dopant_sites="+strings.Join(items, ","))
		}
	}
	fmt.Fprintf(bw, "%d\n%s\n", len(C.Atoms), strings.Join(meta, " "))
	for _, a := range C.Atoms {
		fmt.Fprintf(bw, "%-2s %s %s %s\n", a.Symbol, strconv.FormatFloat(a.Pos[0], 'f', -1, 64),
			strconv.FormatFloat(a.Pos[1], 'f', -1, 64), strconv.FormatFloat(a.Pos[2], 'f', -1, 64))
	}
	return bw.Flush()
}

// WriteXYZFile writes C to path.
func WriteXYZFile(path string, C *Configuration) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "gofullerene: creating %s", path)
	}
	if err := WriteXYZ(f, C); err != nil {
		f.Close()
		return errors.Wrapf(err, "gofullerene: writing %s", path)
	}
	return f.Close()
}

// ReadXYZDir reads every *.xyz file in dir, in lexical order. Malformed
// files do not stop the read, they are returned as rejections. The error
// is only non-nil if the directory itself can't be listed.
func ReadXYZDir(dir string) ([]*Configuration, *Rejections, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.xyz"))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "gofullerene: listing %s", dir)
	}
	sort.Strings(files)
	rej := new(Rejections)
	ret := make([]*Configuration, 0, len(files))
	seen := make(map[string]string)
	for _, f := range files {
		C, err := ReadXYZFile(f)
		if err != nil {
			rej.Add(filepath.Base(f), err)
			continue
		}
		if prev, ok := seen[C.ID]; ok {
			rej.Add(filepath.Base(f), &ParseError{File: f, Reason: fmt.Sprintf("id %q already used by %s", C.ID, prev)})
			continue
		}
		seen[C.ID] = f
		ret = append(ret, C)
	}
	return ret, rej, nil
}

//parseComment splits an extended XYZ comment line into key=value pairs.
//Keys are lowercased. Values may be double-quoted, with Go escapes. Bare
//words are taken as flags with the value "T".
func parseComment(line string) (map[string]string, error) {
	meta := make(map[string]string)
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		start := i
		for i < len(line) && line[i] != '=' && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		key := strings.ToLower(line[start:i])
		if i >= len(line) || line[i] != '=' {
			meta[key] = "T"
			continue
		}
		i++ //skip '='
		if i < len(line) && line[i] == '"' {
			end := i + 1
			for end < len(line) && line[end] != '"' {
				if line[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(line) {
				return nil, errors.Errorf("unterminated quote in value of %s", key)
			}
			v, err := strconv.Unquote(line[i : end+1])
			if err != nil {
				//other writers leave backslashes alone
				v = line[i+1 : end]
			}
			meta[key] = v
			i = end + 1
			continue
		}
		start = i
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		meta[key] = line[start:i]
	}
	return meta, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	f := strings.Fields(s)
	if len(f) != n {
		return nil, errors.Errorf("expected %d numbers, got %d", n, len(f))
	}
	ret := make([]float64, n)
	for i, v := range f {
		var err error
		if ret[i], err = strconv.ParseFloat(v, 64); err != nil {
			return nil, errors.Errorf("bad number %q", v)
		}
	}
	return ret, nil
}

func formatFloats(v []float64) string {
	s := make([]string, len(v))
	for i, f := range v {
		s[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(s, " ")
}

func splitList(s string) []string {
	ret := make([]string, 0, 4)
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			ret = append(ret, v)
		}
	}
	return ret
}

func splitPair(s string) (string, string, error) {
	f := strings.SplitN(s, ":", 2)
	if len(f) != 2 || f[0] == "" || f[1] == "" {
		return "", "", errors.Errorf("%q is not a key:value pair", s)
	}
	return strings.TrimSpace(f[0]), strings.TrimSpace(f[1]), nil
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"\\=") {
		return strconv.Quote(s)
	}
	return s
}

//"c", "C" and "C1" (as some programs write) all give "C".
func normalizeSymbol(s string) string {
	s = strings.TrimRightFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
