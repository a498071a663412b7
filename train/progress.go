/*
 * progress.go, part of gofullerene.
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

package train

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar returns a hook drawing a bar on w that advances one step per
// epoch and shows the latest losses. Early stopping leaves the bar short of
// its end, so callers should Finish it.
func ProgressBar(w io.Writer, maxEpochs int, title string) (Hook, *progressbar.ProgressBar) {
	bar := progressbar.NewOptions(maxEpochs,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
	return func(s EpochStats) {
		mark := ""
		if s.Improved {
			mark = " *"
		}
		bar.Describe(fmt.Sprintf("%s train %.4f val %.4f%s", title, s.TrainLoss, s.ValLoss, mark))
		_ = bar.Add(1)
	}, bar
}
