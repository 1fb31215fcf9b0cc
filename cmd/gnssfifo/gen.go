package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

func newGenCommand(c *cli) *cobra.Command {
	var (
		out      string
		duration time.Duration
		seed     uint64
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a synthetic IF stream to a pipe, a file or stdout",
		Long: "gen plays the part of the USB front end driver: it writes synthetic\n" +
			"interleaved int16 IQ samples to --out at real-time pace, one block per\n" +
			"millisecond. A missing output path is created as a named pipe; \"-\" means stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			w, closeOut, err := openOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeOut()

			n, err := generate(ctx, w, c.settings, seed)
			c.logger.Info("generator stopped", logging.F("out", out), logging.F("bytes", n))
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", sdr.DefaultPipePath, "output path, - for stdout")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "noise generator seed")
	return cmd
}

// openOutput opens path for writing. Opening a FIFO blocks until a reader
// attaches.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}
	if err := sdr.EnsurePipe(path); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// generate streams synthetic blocks into w until ctx ends and returns the
// number of bytes written. Running out of time is a normal stop.
func generate(ctx context.Context, w io.Writer, s config.Settings, seed uint64) (int64, error) {
	cfg := s.SDRConfig()
	synth := sdr.NewSynth(sdr.SynthConfig{
		SampleRate:   cfg.SampleRate,
		SamplesPerMs: cfg.SamplesPerMs,
		ToneOffset:   cfg.ToneOffset,
		Amplitude:    cfg.Amplitude,
		Noise:        cfg.Noise,
		Seed:         seed,
	})

	var n int64
	err := synth.Stream(ctx, func(b []byte) error {
		m, err := w.Write(b)
		n += int64(m)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	})
	if ctx.Err() != nil && !errors.Is(err, syscall.EPIPE) {
		return n, nil
	}
	return n, err
}
