/*
 * commands.go, part of gofullerene.
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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	fullerene "github.com/rmera/gofullerene"
	"github.com/rmera/gofullerene/config"
	"github.com/rmera/gofullerene/dataset"
	"github.com/rmera/gofullerene/evaluate"
	"github.com/rmera/gofullerene/featurize"
	"github.com/rmera/gofullerene/gnn"
	"github.com/rmera/gofullerene/internal/tty"
	"github.com/rmera/gofullerene/screen"
	"github.com/rmera/gofullerene/train"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

//graphs reads and featurizes every structure in dir. Bad structures are
//logged and skipped.
func graphs(ctx context.Context, c *config.Config, dir string) ([]*featurize.StructureGraph, error) {
	cfgs, rej, err := fullerene.ReadXYZDir(dir)
	if err != nil {
		return nil, err
	}
	rej.Log("read " + dir)
	F, err := featurize.New(c.FeatureOptions())
	if err != nil {
		return nil, err
	}
	gs, frej, err := F.FeaturizeAll(ctx, cfgs, c.Workers)
	if err != nil {
		return nil, err
	}
	frej.Log("featurize")
	klog.Infof("%s structures featurized, %s rejected", humanize.Comma(int64(len(gs))), humanize.Comma(int64(rej.Len()+frej.Len())))
	return gs, nil
}

//samples pairs the structures in dir with the DFT labels in the labels file.
func samples(ctx context.Context, c *config.Config, dir, labels string) ([]*dataset.LabeledSample, error) {
	gs, err := graphs(ctx, c, dir)
	if err != nil {
		return nil, err
	}
	L, err := dataset.ReadLabelsFile(labels, c.TaskNames())
	if err != nil {
		return nil, err
	}
	s, rej := dataset.Pair(gs, L)
	rej.Log("labels")
	if len(s) == 0 {
		return nil, errors.Errorf("no labeled structures in %s", dir)
	}
	return s, nil
}

func featurizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "featurize STRUCTURE_DIR",
		Short: "featurize every structure in a directory and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			gs, err := graphs(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			var atoms, edges int
			T := tty.NewTable("structure", "atoms", "edges", "fragments")
			for _, G := range gs {
				atoms += G.Len()
				edges += len(G.Edges)
				frag := len(G.Components())
				T.Row(frag > 1, G.ID, fmt.Sprint(G.Len()), fmt.Sprint(len(G.Edges)), fmt.Sprint(frag))
			}
			fmt.Println(T)
			fmt.Printf("%s structures, %s atoms, %s directed edges\n", humanize.Comma(int64(len(gs))),
				humanize.Comma(int64(atoms)), humanize.Comma(int64(edges)))
			return nil
		},
	}
}

func crossvalCmd() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "crossval STRUCTURE_DIR LABELS",
		Short: "estimate the model accuracy with k-fold cross validation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := samples(cmd.Context(), c, args[0], args[1])
			if err != nil {
				return err
			}
			opts := c.CrossValidation(uuid.NewString())
			opts.Parallel = parallel
			R, err := evaluate.CrossValidate(cmd.Context(), s, c.Assembler(), opts)
			if err != nil {
				return err
			}
			fmt.Print(R.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 1, "folds trained at the same time")
	return cmd
}

func trainCmd() *cobra.Command {
	var checkpoint string
	var skipCV bool
	var parallel int
	cmd := &cobra.Command{
		Use:   "train STRUCTURE_DIR LABELS MODEL_OUT",
		Short: "cross validate, then train and save a model",
		Long: "Runs k-fold cross validation to calibrate the model, then trains on a single\n" +
			"train/validation/test split and saves the model with its calibration.\n" +
			"A model saved without cross validation can't be used for screening\n" +
			"unless unfit models are explicitly allowed.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := samples(ctx, c, args[0], args[1])
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			var cal *gnn.Calibration
			A := c.Assembler()
			if !skipCV {
				opts := c.CrossValidation(runID)
				opts.Parallel = parallel
				R, err := evaluate.CrossValidate(ctx, s, A, opts)
				if err != nil {
					return err
				}
				fmt.Print(R.Render())
				cal = R.Calibration()
			} else {
				klog.Warning("cross validation skipped: the model will be uncalibrated")
			}
			P, rej, err := A.Assemble(s)
			if err != nil {
				return err
			}
			rej.Log("split")
			setup := c.Setup(runID, checkpoint)
			hook, bar := train.ProgressBar(os.Stderr, setup.Train.MaxEpochs, "training")
			fit := train.Fit
			if checkpoint != "" {
				fit = train.Continue
			}
			m, ctl, err := fit(ctx, P, setup, hook)
			_ = bar.Finish()
			if err != nil {
				var de *train.DivergedError
				if errors.As(err, &de) && de.Checkpoint != "" {
					klog.Errorf("last stable parameters (epoch %d) are in %s", de.StableEpoch, de.Checkpoint)
				}
				return err
			}
			met, err := evaluate.Evaluate(m, P.Test, P.Tasks)
			if err != nil {
				return err
			}
			T := tty.NewTable("property", "R2 (test)", "MAE", "RMSE", "n")
			for _, v := range met {
				T.Row(!(v.R2 >= c.Threshold), v.Task, fmt.Sprintf("%.4g", v.R2), fmt.Sprintf("%.4g", v.MAE), fmt.Sprintf("%.4g", v.RMSE), fmt.Sprint(v.N))
			}
			fmt.Printf("%s, best epoch %d of %d\n%s\n(single split, not a generalization estimate)\n", ctl.StopReason(), ctl.BestEpoch(), ctl.Epoch(), T)
			m.Calibration = cal
			if err := m.Save(args[2]); err != nil {
				return err
			}
			if st, err := os.Stat(args[2]); err == nil {
				fmt.Printf("model %s written to %s (%s)\n", m.RunID, args[2], humanize.Bytes(uint64(st.Size())))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint file, updated every epoch; an existing one is resumed")
	cmd.Flags().BoolVar(&skipCV, "no-crossval", false, "skip cross validation (the model can't be used for screening)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "cross validation folds trained at the same time")
	return cmd
}

func screenCmd() *cobra.Command {
	var ref, csvOut, shortlist string
	var ensemble []string
	var allowUnfit bool
	cmd := &cobra.Command{
		Use:   "screen MODEL",
		Short: "rank strained and doped candidates by predicted properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := gnn.Load(args[0])
			if err != nil {
				return err
			}
			var members []*gnn.Model
			for _, p := range ensemble {
				e, err := gnn.Load(p)
				if err != nil {
					return err
				}
				members = append(members, e)
			}
			opts := c.EngineOptions()
			opts.AllowUnfit = opts.AllowUnfit || allowUnfit
			E, err := screen.NewEngine(m, opts, members...)
			if err != nil {
				return err
			}
			R := fullerene.C60("C60")
			if ref != "" {
				if R, err = fullerene.ReadXYZFile(ref); err != nil {
					return err
				}
			}
			grid, err := c.Grid()
			if err != nil {
				return err
			}
			res, err := E.Screen(cmd.Context(), R, grid, c.Objective())
			if err != nil {
				return err
			}
			fmt.Print(res.Render())
			if csvOut != "" {
				f, err := os.Create(csvOut)
				if err != nil {
					return errors.Wrap(err, "screen")
				}
				err = res.WriteCSV(f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
			}
			if shortlist != "" {
				return res.WriteShortlist(shortlist)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "reference structure (extended XYZ); ideal C60 if empty")
	cmd.Flags().StringVar(&csvOut, "csv", "", "write the full score table here")
	cmd.Flags().StringVar(&shortlist, "shortlist", "", "write the shortlisted structures to this directory")
	cmd.Flags().StringSliceVar(&ensemble, "ensemble", nil, "more models to average with MODEL")
	cmd.Flags().BoolVar(&allowUnfit, "allow-unfit", false, "screen even if the model failed its accuracy threshold")
	return cmd
}
