// Command gnssfifo captures GNSS IF samples from a front end into a bounded
// ring of one-millisecond packets and serves live telemetry about it.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/logging"
)

func main() {
	if err := newRootCommand(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand once flags are parsed.
type cli struct {
	v          *viper.Viper
	configPath string
	saveConfig bool
	logOut     io.Writer

	settings config.Settings
	logger   logging.Logger
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), logOut: logOut}

	root := &cobra.Command{
		Use:          "gnssfifo",
		Short:        "GNSS IF acquisition FIFO",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default ./"+config.FileName+")")
	pf.BoolVar(&c.saveConfig, "save-config", false, "write the effective settings back to the config file")
	if err := setupFlags(pf, c.v); err != nil {
		panic(err)
	}

	root.AddCommand(
		newRunCommand(c),
		newGenCommand(c),
		newDiscoverCommand(c),
		newConfigCommand(c),
	)
	return root
}

// setupFlags defines one flag per setting and binds it to the matching
// viper key, so flags win over environment and file values.
func setupFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := config.Defaults()

	fs.String("source", d.Source, "capture source uri (pipe://, file://, tcp://, ssh://, synth://)")
	fs.Int("samples-per-ms", d.SamplesPerMs, "complex samples per one millisecond packet")
	fs.Int("depth", d.Depth, "ring depth in packets")
	fs.Int("read-chunk", d.ReadChunk, "largest single read from the source in bytes")
	fs.Duration("idle-backoff", d.IdleBackoff, "sleep after an empty read")
	fs.Int("agc-bits", d.AGCBits, "output bit width of the gain normalizer")
	fs.Int32("agc-scale", d.AGCScale, "initial Q12 gain scale")
	fs.Int("open-attempts", d.OpenAttempts, "source open attempts before giving up")
	fs.Int("cpu", d.CPU, "pin the acquisition thread to this CPU (-1 disables)")
	fs.BoolP("verbose", "v", d.Verbose, "log acquisition lifecycle at info level")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "log format (text, json)")
	fs.String("web-addr", d.WebAddr, "web telemetry listen address, empty disables")
	fs.Bool("mdns", d.MDNS, "announce the web telemetry over mDNS")
	fs.Int("report-every", d.ReportEvery, "packets between telemetry samples")
	fs.Int("spectrum-every", d.SpectrumEvery, "packets between spectrum snapshots, 0 disables")
	fs.Int("history-limit", d.HistoryLimit, "telemetry samples kept for /api/history")
	fs.Duration("shutdown-grace", d.ShutdownGrace, "time allowed for blocked ring calls after a stop request")
	fs.Float64("synth-tone-hz", d.SynthToneHz, "synthetic front end tone offset in Hz")
	fs.Float64("synth-noise", d.SynthNoise, "synthetic front end noise sigma in ADC counts")
	fs.Float64("synth-amplitude", d.SynthAmplitude, "synthetic front end tone amplitude in ADC counts")
	fs.Float64("synth-sample-rate", d.SynthSampleRate, "synthetic front end sample rate in Hz")
	fs.String("ssh-key-path", d.SSHKeyPath, "private key for ssh:// sources")

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" || f.Name == "save-config" {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// load resolves settings and builds the process logger.
func (c *cli) load() error {
	s, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	logger, err := s.Logger(c.logOut)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	c.settings = s
	c.logger = logger

	if c.saveConfig {
		path := c.configPath
		if path == "" {
			path = config.FileName
		}
		if err := config.Save(path, s); err != nil {
			return err
		}
		logger.Info("config saved", logging.F("path", path))
	}
	return nil
}

func newConfigCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Marshal(c.settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
