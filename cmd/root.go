package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/umts-sim/umts-sim/sim/network"
	"github.com/umts-sim/umts-sim/sim/scenario"
)

var (
	scenarioPath string // Scenario YAML
	optionsPath  string // Optional options file
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "umts-sim",
	Short: "Discrete-event simulator for UMTS radio access networks",
}

// runCmd executes the simulation described by a scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario to its horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		SetDefaults(v)
		bindFlags(v, cmd)
		opts, err := LoadOptions(v, optionsPath)
		if err != nil {
			return err
		}

		level, err := logrus.ParseLevel(opts.Log)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", opts.Log)
		}
		logrus.SetLevel(level)

		s, err := scenario.Load(scenarioPath)
		if err != nil {
			return err
		}
		opts.Apply(s)
		net, err := network.Build(s, opts.NetworkConfig())
		if err != nil {
			return err
		}

		logrus.Infof("Starting simulation of %s: seed=%d, horizon=%v", scenarioPath, s.Seed, s.Horizon)
		startTime := time.Now()
		report := net.Run()
		report.Print(cmd.OutOrStdout())
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))

		if opts.MetricsOut != "" {
			if err := writeMetrics(net, opts.MetricsOut); err != nil {
				return err
			}
		}
		return nil
	},
}

// validateCmd checks a scenario without running it
var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Check a scenario file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := scenario.Load(args[0])
		if err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stations, %d terminals, %d flows, %d services\n",
			args[0], len(s.Stations), len(s.Terminals), len(s.Flows), len(s.Services))
		return nil
	},
}

func writeMetrics(net *network.Network, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metrics file: %w", err)
	}
	defer f.Close()
	if err := net.Metrics().WriteText(f); err != nil {
		return err
	}
	return f.Close()
}

// bindFlags maps explicitly set flags onto option keys; unset flags leave the
// options file and defaults in charge.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"log":         "log",
		"seed":        "seed",
		"horizon":     "horizon",
		"trace":       "trace",
		"engine":      "engine",
		"rng":         "rng",
		"metrics-out": "metrics_out",
	} {
		if cmd.Flags().Changed(flag) {
			_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
		}
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML file")
	runCmd.Flags().StringVar(&optionsPath, "config", "", "Options file (log level, overrides, protocol constants)")
	runCmd.Flags().Int64("seed", 0, "Override the scenario seed")
	runCmd.Flags().Duration("horizon", 0, "Override the scenario horizon (e.g. 30s)")
	runCmd.Flags().String("log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().String("trace", "", "Decision trace level (none, decisions)")
	runCmd.Flags().String("engine", "", "Event engine (heap, evtm)")
	runCmd.Flags().String("rng", "", "Random generator (math, mrg32k3a)")
	runCmd.Flags().String("metrics-out", "", "Write Prometheus text metrics to this file")
	_ = runCmd.MarkFlagRequired("scenario")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
