package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/profile-exporter/internal/config"
	"github.com/szibis/profile-exporter/internal/health"
	"github.com/szibis/profile-exporter/internal/logging"
	"github.com/szibis/profile-exporter/internal/plugin"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowVersion {
		fmt.Printf("profile-exporter version %s\n", config.Version())
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin); err != nil {
		logging.Fatal("profile exporter failed", logging.F("error", err.Error()))
	}
}

// loadConfig parses args. Syntax errors are printed by the flag set;
// every other configuration error is logged.
func loadConfig(args []string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.ParseFlags(args, stderr)
	if err != nil && !errors.Is(err, config.ErrUsage) {
		logging.Error("invalid configuration", logging.F("error", err.Error()))
	}
	return cfg, err
}

// run drives one job step: it creates the configured datasets, pushes each
// stdin sample and deletes the step's series when input ends.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetResource(map[string]string{
		"service.name":    "profile-exporter",
		"service.version": config.Version(),
		"host.name":       cfg.NodeName,
	})

	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.FromCgroup),
		)
		if err != nil {
			logging.Debug("memory limit not set", logging.F("error", err.Error()))
		} else {
			logging.Debug("memory limit set", logging.F("limit_bytes", limit))
		}
	}

	p, err := plugin.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	requested, err := cfg.RequestedProfile()
	if err != nil {
		return err
	}
	if err := p.NodeStepStart(plugin.Step{
		JobID:    cfg.JobID,
		NodeName: cfg.NodeName,
		Profile:  requested,
	}); err != nil {
		return err
	}

	datasets, err := createDatasets(p, cfg.Datasets)
	if err != nil {
		return err
	}
	if err := p.TaskStart(0); err != nil {
		return err
	}

	running, _ := p.Get(plugin.InfoRunning)
	logging.Info("profile exporter started", logging.F(
		"host", cfg.Host,
		"job_id", cfg.JobID,
		"node", cfg.NodeName,
		"running_profile", fmt.Sprint(running),
		"datasets", len(datasets),
		"stats_addr", cfg.StatsAddr,
	))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(loopCtx)

	checker := health.New()
	checker.Register("step", p.Ready)
	checker.Register("collector", p.CollectorStatus)

	if cfg.StatsAddr != "" {
		statsServer := newStatsServer(cfg.StatsAddr, checker)
		g.Go(func() error {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "paths", "/metrics,/live,/ready"))
			if err := statsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("stats server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			checker.SetShuttingDown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return statsServer.Shutdown(shutdownCtx)
		})
	}

	var accepted int
	g.Go(func() error {
		defer cancel()
		var err error
		accepted, err = sampleLoop(gctx, p, datasets, readLines(gctx, stdin))
		return err
	})

	err = g.Wait()

	// The step's context may already be cancelled; the delete still runs.
	deleteCtx, cancelDelete := context.WithTimeout(context.Background(), cfg.Timeout+time.Second)
	defer cancelDelete()
	_ = p.TaskEnd(deleteCtx, os.Getpid())
	_ = p.NodeStepEnd()

	logging.Info("profile exporter stopped", logging.F("samples", accepted))
	return err
}

func newStatsServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
