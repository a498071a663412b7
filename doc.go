/*
 * doc.go, part of gofullerene.
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

/*Package fullerene is the core of gofullerene, a graph neural network surrogate
for DFT properties of strained and doped fullerene cages. It provides the
atomic configuration model and the pieces every other package shares.


	**gofullerene Capabilities**


    Reads/writes extended XYZ files, with the strain, doping, cell and
	replica-group metadata stored in the comment line.

    Describes strain either by mode (biaxial, uniaxial, shear) and percentage,
	or by a full symmetric strain tensor, and derives invariants from it.

    Builds the ideal C60 cage and derives strained and doped variants from a
	reference structure, choosing dopant sites deterministically.

    Moves configurations rigidly (rotation plus translation), which is used to
	check that featurization doesn't depend on orientation.

    Classifies data errors (malformed file, unknown element, isolated atom,
	missing labels) and collects the ones a batch run skips.

The rest of the pipeline lives in sub-packages: featurize turns
configurations into graphs, dataset pairs graphs with DFT labels and splits
them, gnn is the model, train drives its training, evaluate measures its
accuracy and screen ranks new candidates with it.*/
package fullerene
