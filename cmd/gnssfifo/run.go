package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rjboer/GoGNSS/internal/agc"
	"github.com/rjboer/GoGNSS/internal/app"
	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/fifo"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/mdns"
	"github.com/rjboer/GoGNSS/internal/metrics"
	"github.com/rjboer/GoGNSS/internal/runstate"
	"github.com/rjboer/GoGNSS/internal/sdr"
	"github.com/rjboer/GoGNSS/internal/telemetry"
)

func newRunCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Acquire IF data into the ring until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run := runstate.New()
			detach := runstate.NotifyOnSignal(run, c.logger, os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)
			defer detach()

			sum, err := runPipeline(cmd.Context(), c.settings, c.logger, run)
			c.logger.Info("acquisition finished",
				logging.F("blocks", sum.Status.Count),
				logging.F("overflows", sum.Status.Overflows),
				logging.F("source_dropped", sum.Status.Dropped),
				logging.F("packets", sum.Monitor.Packets),
				logging.F("gaps", sum.Monitor.Gaps),
				logging.F("lost", sum.Monitor.Lost))
			return err
		},
	}
}

// summary is the final state of a pipeline run.
type summary struct {
	Status  fifo.Status
	Monitor app.Stats
}

// runPipeline wires source, ring, importer, monitor and telemetry together
// and blocks until the run flag is cleared or a component fails.
func runPipeline(ctx context.Context, s config.Settings, logger logging.Logger, run *runstate.Flag) (summary, error) {
	opener, err := sdr.NewOpener(s.Source, s.SDRConfig())
	if err != nil {
		return summary{}, err
	}
	queue, err := fifo.New(s.Depth, s.SamplesPerMs, logger)
	if err != nil {
		return summary{}, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	fm, err := metrics.NewFIFOMetrics(registry)
	if err != nil {
		return summary{}, fmt.Errorf("register metrics: %w", err)
	}
	if d, ok := opener.(sdr.DropCounter); ok {
		if err := fm.RegisterSourceDrops(d.Dropped); err != nil {
			return summary{}, fmt.Errorf("register metrics: %w", err)
		}
	}

	importer := fifo.NewImporter(queue, opener, run, s.ImporterConfig(),
		fifo.WithRecorder(fm),
		fifo.WithImporterLogger(logger))

	hub := telemetry.NewHub(s.HistoryLimit, logger)
	hub.Attach(importer)
	reporters := telemetry.MultiReporter{hub}
	if s.WebAddr == "" {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	monitor := app.NewMonitor(queue, reporters, logger, app.Config{
		ReportEvery:   s.ReportEvery,
		SpectrumEvery: s.SpectrumEvery,
		SampleRate:    float64(s.SamplesPerMs) * 1000,
		FullScale:     float64(agc.Limit(s.AGCBits)),
	}, app.WithStatus(importer), app.WithPacketRecorder(fm))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// A stop request gives blocked ring calls shutdown_grace to finish
	// before the context is pulled. A failing component stops the flag.
	go func() {
		select {
		case <-run.Done():
			timer := time.NewTimer(s.ShutdownGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
				logger.Warn("shutdown grace elapsed", logging.F("grace", s.ShutdownGrace))
				cancel()
			case <-gctx.Done():
			}
		case <-gctx.Done():
			run.Stop()
		}
	}()

	if err := importer.Start(gctx); err != nil {
		return summary{}, err
	}
	g.Go(func() error {
		err := importer.Wait()
		cancel()
		if errors.Is(err, fifo.ErrStopped) {
			return nil
		}
		return err
	})
	g.Go(func() error { return monitor.Run(gctx) })

	if s.WebAddr != "" {
		web := telemetry.NewWebServer(s.WebAddr, hub, registry, logger)
		g.Go(func() error { return web.Start(gctx) })
		if s.MDNS {
			if ann := announce(s, opener, logger); ann != nil {
				defer ann.Shutdown()
			}
		}
	}

	err = g.Wait()
	return summary{Status: importer.Status(), Monitor: monitor.Stats()}, err
}

// announce publishes the web endpoint over mDNS. Failures only cost
// discoverability, so they are logged and swallowed.
func announce(s config.Settings, opener sdr.Opener, logger logging.Logger) *mdns.Announcer {
	port, err := mdns.PortFromAddr(s.WebAddr)
	if err != nil {
		logger.Warn("mdns disabled", logging.F("error", err))
		return nil
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gnssfifo"
	}
	txt := []string{
		"source=" + opener.String(),
		fmt.Sprintf("depth=%d", s.Depth),
		fmt.Sprintf("samples_per_ms=%d", s.SamplesPerMs),
	}
	ann, err := mdns.Announce(host, port, txt)
	if err != nil {
		logger.Warn("mdns announce failed", logging.F("error", err))
		return nil
	}
	logger.Info("mdns announced", logging.F("service", mdns.ServiceType), logging.F("port", port))
	return ann
}
