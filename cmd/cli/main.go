// Command gtu-engine reads a SimulationInput JSON from a file argument (or stdin),
// runs the simulation, and writes the SimulationLog JSON to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cxd309/gtu-engine/internal/config"
	"github.com/cxd309/gtu-engine/internal/engine"
)

var version = "dev"

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:           "gtu-engine",
		Short:         "Simulate GTU tactical driving decisions on a road network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd = &cobra.Command{
		Use:   "run [input.json]",
		Short: "Run a simulation; reads stdin when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "gtu.yaml", "behaviour config file; missing means defaults")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "overrides the config log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Level())
	slog.SetDefault(logger)

	var data []byte
	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", slog.String("addr", metricsAddr))
	}

	start := time.Now()
	result, err := engine.RunJSONContext(ctx, string(data), engine.WithConfig(cfg), engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	logger.Info("simulation finished", slog.Duration("elapsed", time.Since(start)))

	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
