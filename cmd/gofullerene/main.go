/*
 * main.go, part of gofullerene.
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

//gofullerene trains and applies a graph neural network surrogate for DFT
//properties (band gap, carrier mobility, formation energy) of strained and
//doped fullerene cages.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/rmera/gofullerene/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

var configPath string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gofullerene",
		Short:        "GNN surrogate for properties of strained and doped fullerenes",
		SilenceUsage: true,
	}
	gofs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(gofs)
	root.PersistentFlags().AddGoFlagSet(gofs)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file (defaults are used if empty)")
	root.AddCommand(featurizeCmd(), crossvalCmd(), trainCmd(), screenCmd(), configCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		c := config.Default()
		return c, c.Validate()
	}
	return config.Load(configPath)
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [OUT.yaml]",
		Short: "print or write the effective settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return c.Save(args[0])
			}
			b, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(b)
			return err
		},
	}
}
