/*
 * elements.go, part of gofullerene.
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
	"sort"

	"github.com/pkg/errors"
)

// HostElement is the element substituted by dopants.
const HostElement = "C"

// Element holds the per-element descriptors used to encode atoms.
type Element struct {
	Symbol            string
	Z                 int
	Valence           int     //valence electrons
	Electronegativity float64 //Pauling
	CovalentRadius    float64 //Angstrom
}

//Covalent radii from Cordero et al., 2008 (DOI:10.1039/B801115J), except
//for B, C, N and P, which keep the values the reference data set was
//featurized with.
var elements = map[string]Element{
	"H":  {"H", 1, 1, 2.20, 0.31},
	"B":  {"B", 5, 3, 2.04, 0.88},
	"C":  {"C", 6, 4, 2.55, 0.77},
	"N":  {"N", 7, 5, 3.04, 0.71},
	"O":  {"O", 8, 6, 3.44, 0.66},
	"F":  {"F", 9, 7, 3.98, 0.57},
	"Si": {"Si", 14, 4, 1.90, 1.11},
	"P":  {"P", 15, 5, 2.19, 1.07},
	"S":  {"S", 16, 6, 2.58, 1.05},
	"Cl": {"Cl", 17, 7, 3.16, 1.02},
}

// LookupElement returns the descriptors for symbol.
func LookupElement(symbol string) (Element, bool) {
	e, ok := elements[symbol]
	return e, ok
}

// Vocabulary is the ordered set of elements a featurizer and a trained model
// accept. The order fixes the one-hot slot of each element.
type Vocabulary []string

// DefaultVocabulary contains the host and the usual substitutional dopants.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{"C", "B", "N", "P"}
}

// NewVocabulary builds a vocabulary from symbols, which must be known
// elements and appear only once.
func NewVocabulary(symbols ...string) (Vocabulary, error) {
	if len(symbols) == 0 {
		return nil, errors.New("gofullerene: empty element vocabulary")
	}
	seen := make(map[string]bool, len(symbols))
	v := make(Vocabulary, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := elements[s]; !ok {
			return nil, errors.Errorf("gofullerene: unknown element %q in vocabulary", s)
		}
		if seen[s] {
			return nil, errors.Errorf("gofullerene: element %q repeated in vocabulary", s)
		}
		seen[s] = true
		v = append(v, s)
	}
	return v, nil
}

// Index returns the slot of symbol in V, or -1.
func (V Vocabulary) Index(symbol string) int {
	for i, s := range V {
		if s == symbol {
			return i
		}
	}
	return -1
}

func (V Vocabulary) Contains(symbol string) bool {
	return V.Index(symbol) >= 0
}

// Sorted returns a sorted copy of the vocabulary.
func (V Vocabulary) Sorted() []string {
	r := append([]string(nil), V...)
	sort.Strings(r)
	return r
}
