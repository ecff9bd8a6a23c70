package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"stepcore/core"
	"stepcore/host/sim"
	"stepcore/metrics"
)

var (
	jobPath     string
	metricsAddr string
	diagnostics bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a job against the motion core on a virtual clock",
	Long: `Run a job file through planning and step generation without hardware.

Every driver is replaced by a step counter and the step clock advances
straight to the next deadline, so a job of any length finishes quickly.
With --metrics-addr the counters stay available over HTTP until interrupted.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&jobPath, "job", "j", "", "Job file (YAML)")
	simulateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	simulateCmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "Print the motion diagnostics block")
	simulateCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mc, err := cfg.Movement()
	if err != nil {
		return err
	}

	job, err := sim.LoadJob(jobPath)
	if err != nil {
		return err
	}
	actions, err := job.Actions(cfg.AxisLetters())
	if err != nil {
		return err
	}

	s, err := sim.New(mc, logger)
	if err != nil {
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(s.Move()))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", metricsAddr)
	}

	logger.Info("simulating job", "name", job.Name, "actions", len(actions))
	report, err := s.Run(ctx, actions)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:         %s\n", report.RunID)
	fmt.Fprintf(out, "Moves:       %d\n", report.Moves)
	fmt.Fprintf(out, "Duration:    %.3fs\n", report.Seconds)
	fmt.Fprintf(out, "Steps:       %v\n", report.Steps)
	fmt.Fprintf(out, "Hiccups:     %d\n", report.Hiccups)
	fmt.Fprintf(out, "Step errors: %d\n", report.StepErrors)
	fmt.Fprintf(out, "Position:    %v\n", report.FinalPosition[:len(report.Steps)])
	if diagnostics {
		s.Move().Diagnostics(out)
		core.DumpTimingRing()
	}

	if srv != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}
