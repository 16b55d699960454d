package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SmartCGMS/core-sub004/sim"
	"github.com/SmartCGMS/core-sub004/sim/event"
	"github.com/SmartCGMS/core-sub004/sim/gct"
	"github.com/SmartCGMS/core-sub004/sim/metrics"
	"github.com/SmartCGMS/core-sub004/sim/record"
	"github.com/SmartCGMS/core-sub004/sim/scenario"
)

// envDefaults supplies flag defaults from the environment.
type envDefaults struct {
	LogLevel   string `env:"GCTSIM_LOG" envDefault:"warn"`
	DBPath     string `env:"GCTSIM_DB"`
	Workers    int    `env:"GCTSIM_WORKERS" envDefault:"0"`
	MicroSteps int    `env:"GCTSIM_MICRO_STEPS" envDefault:"0"`
}

var (
	// CLI flags for the run command
	scenarioPath   string // Scenario YAML file
	logLevel       string // Log verbosity level
	microSteps     int    // Micro-steps per outer step, overrides the scenario
	workers        int    // Concurrent compartments, overrides the scenario
	integratorName string // Quadrature, overrides the scenario
	dbPath         string // SQLite file receiving emitted signals
	printMetrics   bool   // Print engine metrics after the run
	quiet          bool   // Suppress signal output

	// CLI flags for the params command
	paramsPath string // Parameter YAML file
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "gctsim",
	Short: "Compartmental glucose/insulin/carbohydrate simulator",
}

// runCmd executes a scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(logLevel); err != nil {
			return err
		}
		if scenarioPath == "" {
			return fmt.Errorf("--scenario is required")
		}
		sc, err := scenario.Load(scenarioPath)
		if err != nil {
			return err
		}
		opts := runOptions{
			microSteps:   microSteps,
			workers:      workers,
			integrator:   integratorName,
			dbPath:       dbPath,
			printMetrics: printMetrics,
			quiet:        quiet,
		}
		return runScenario(cmd.Context(), cmd.OutOrStdout(), sc, opts)
	},
}

// paramsCmd prints the effective model parameters
var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the effective (clamped) model parameters as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(logLevel); err != nil {
			return err
		}
		p := gct.DefaultParameters()
		if paramsPath != "" {
			var err error
			if p, err = gct.LoadParameters(paramsPath); err != nil {
				return err
			}
		}
		return writeParams(cmd.OutOrStdout(), p)
	},
}

func setLogLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", name)
	}
	logrus.SetLevel(level)
	return nil
}

// runOptions are the command-line overrides of a scenario run.
type runOptions struct {
	microSteps   int
	workers      int
	integrator   string
	dbPath       string
	printMetrics bool
	quiet        bool
}

func runScenario(ctx context.Context, w io.Writer, sc *scenario.Scenario, o runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var extra []gct.Option
	if o.microSteps > 0 {
		extra = append(extra, gct.WithMicroSteps(o.microSteps))
	}
	if o.workers > 0 {
		extra = append(extra, gct.WithWorkers(o.workers))
	}
	if o.integrator != "" {
		in, err := sim.IntegratorByName(o.integrator)
		if err != nil {
			return err
		}
		extra = append(extra, gct.WithIntegrator(in))
	}
	collector := metrics.NewCollector("")
	extra = append(extra, gct.WithObserver(collector))

	emitters := []event.Emitter{}
	if !o.quiet {
		emitters = append(emitters, event.EmitterFunc(func(e event.Event) error {
			var err error
			if e.Kind == event.KindLevel {
				_, err = fmt.Fprintf(w, "%10.2f  %-30s %g\n", e.DeviceTime, e.Signal, e.Level)
			} else {
				_, err = fmt.Fprintf(w, "%10.2f  %s\n", e.DeviceTime, e.Kind)
			}
			return err
		}))
	}
	if o.dbPath != "" {
		store, err := record.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		run, err := store.NewRun(ctx, sc.Name)
		if err != nil {
			return err
		}
		logrus.Infof("recording run %s to %s", run.ID(), o.dbPath)
		emitters = append(emitters, run)
	}

	logrus.Infof("Starting scenario %q: t=[%g, %g], step=%g", sc.Name, sc.Start, sc.End(), sc.Step)
	startTime := time.Now()
	res, err := scenario.Run(sc, event.Tee(emitters...), extra...)
	if err != nil {
		return err
	}
	logrus.Infof("Scenario complete in %v: %d steps", time.Since(startTime), res.Steps)

	if o.printMetrics {
		snapshot, err := collector.Snapshot()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "=== Engine Metrics ===")
		for _, k := range keys {
			fmt.Fprintf(w, "%s %g\n", k, snapshot[k])
		}
	}
	return nil
}

// writeParams writes the clamped parameters as YAML.
func writeParams(w io.Writer, p gct.Parameters) error {
	clamped, adjusted := p.Clamped()
	for _, name := range adjusted {
		logrus.Warnf("parameter %s out of range, clamped", name)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(clamped); err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	return enc.Close()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	var defaults envDefaults
	if err := env.Parse(&defaults); err != nil {
		logrus.Fatalf("Invalid environment: %v", err)
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log", defaults.LogLevel, "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML file")
	runCmd.Flags().IntVar(&microSteps, "micro-steps", defaults.MicroSteps, "Micro-steps per outer step (0 keeps the scenario value)")
	runCmd.Flags().IntVar(&workers, "workers", defaults.Workers, "Compartments stepped concurrently (0 keeps the scenario value)")
	runCmd.Flags().StringVar(&integratorName, "integrator", "", fmt.Sprintf("Quadrature %v (empty keeps the scenario value)", sim.IntegratorNames()))
	runCmd.Flags().StringVar(&dbPath, "db", defaults.DBPath, "SQLite file to record emitted signals to")
	runCmd.Flags().BoolVar(&printMetrics, "metrics", false, "Print engine metrics after the run")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "Do not print emitted signals")

	paramsCmd.Flags().StringVar(&paramsPath, "params", "", "Parameter YAML file (defaults when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(paramsCmd)
}
