/*
 * report.go, part of gofullerene.
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

package evaluate

import (
	"fmt"
	"math"
	"strings"

	"github.com/rmera/gofullerene/internal/tty"
)

func summary(m []Metrics) string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = fmt.Sprintf("%s R2 %.3f MAE %.3g (n=%d)", v.Task, v.R2, v.MAE, v.N)
	}
	return strings.Join(parts, "; ")
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4g", v)
}

// Render returns the report as a table: one row per task with the mean and
// standard deviation over folds. Tasks below the threshold are flagged.
func (R *Report) Render() string {
	T := tty.NewTable("property", "R2", "+/-", "MAE", "+/-", "RMSE", "+/-", "n")
	unfit := make(map[string]bool)
	for _, t := range R.Unfit {
		unfit[t] = true
	}
	for k, t := range R.Tasks {
		m, s := R.Mean[k], R.Std[k]
		T.Row(unfit[t], t, num(m.R2), num(s.R2), num(m.MAE), num(s.MAE), num(m.RMSE), num(s.RMSE), fmt.Sprint(m.N))
	}
	verdict := "fit for screening"
	if !R.Fit {
		verdict = "UNFIT for screening (R2 below " + num(R.Threshold) + " for " + strings.Join(R.Unfit, ", ") + ")"
	}
	return fmt.Sprintf("%d-fold cross validation\n%s\nmodel %s\n", len(R.Folds), T, verdict)
}
