// Package config loads receiver settings from flags, GNSSFIFO_* environment
// variables and gnssfifo.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoGNSS/internal/agc"
	"github.com/rjboer/GoGNSS/internal/fifo"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

const (
	// EnvPrefix prefixes every environment override, e.g. GNSSFIFO_DEPTH.
	EnvPrefix = "GNSSFIFO"
	// FileName is the config file looked up in the working directory.
	FileName = "gnssfifo.yaml"
)

// Settings is the full receiver configuration.
type Settings struct {
	Source        string        `mapstructure:"source"`
	SamplesPerMs  int           `mapstructure:"samples_per_ms"`
	Depth         int           `mapstructure:"depth"`
	ReadChunk     int           `mapstructure:"read_chunk"`
	IdleBackoff   time.Duration `mapstructure:"idle_backoff"`
	AGCBits       int           `mapstructure:"agc_bits"`
	AGCScale      int32         `mapstructure:"agc_scale"`
	OpenAttempts  int           `mapstructure:"open_attempts"`
	CPU           int           `mapstructure:"cpu"`
	Verbose       bool          `mapstructure:"verbose"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	WebAddr       string        `mapstructure:"web_addr"`
	MDNS          bool          `mapstructure:"mdns"`
	ReportEvery   int           `mapstructure:"report_every"`
	SpectrumEvery int           `mapstructure:"spectrum_every"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	SynthToneHz     float64 `mapstructure:"synth_tone_hz"`
	SynthNoise      float64 `mapstructure:"synth_noise"`
	SynthAmplitude  float64 `mapstructure:"synth_amplitude"`
	SynthSampleRate float64 `mapstructure:"synth_sample_rate"`

	SSHPassword string `mapstructure:"ssh_password"`
	SSHKeyPath  string `mapstructure:"ssh_key_path"`
}

// Defaults returns the stock receiver settings.
func Defaults() Settings {
	return Settings{
		Source:          "pipe://" + sdr.DefaultPipePath,
		SamplesPerMs:    fifo.SamplesPerMs,
		Depth:           fifo.Depth,
		ReadChunk:       fifo.ReadChunk,
		IdleBackoff:     time.Millisecond,
		AGCBits:         5,
		AGCScale:        agc.DefaultScale,
		OpenAttempts:    5,
		CPU:             -1,
		LogLevel:        "info",
		LogFormat:       "text",
		WebAddr:         ":8080",
		ReportEvery:     100,
		SpectrumEvery:   1000,
		HistoryLimit:    500,
		ShutdownGrace:   2 * time.Second,
		SynthToneHz:     604e3,
		SynthAmplitude:  400,
		SynthNoise:      200,
		SynthSampleRate: 2.048e6,
	}
}

// values flattens s into config keys. The ssh password is never persisted.
func (s Settings) values() map[string]any {
	return map[string]any{
		"source":            s.Source,
		"samples_per_ms":    s.SamplesPerMs,
		"depth":             s.Depth,
		"read_chunk":        s.ReadChunk,
		"idle_backoff":      s.IdleBackoff.String(),
		"agc_bits":          s.AGCBits,
		"agc_scale":         s.AGCScale,
		"open_attempts":     s.OpenAttempts,
		"cpu":               s.CPU,
		"verbose":           s.Verbose,
		"log_level":         s.LogLevel,
		"log_format":        s.LogFormat,
		"web_addr":          s.WebAddr,
		"mdns":              s.MDNS,
		"report_every":      s.ReportEvery,
		"spectrum_every":    s.SpectrumEvery,
		"history_limit":     s.HistoryLimit,
		"shutdown_grace":    s.ShutdownGrace.String(),
		"synth_tone_hz":     s.SynthToneHz,
		"synth_noise":       s.SynthNoise,
		"synth_amplitude":   s.SynthAmplitude,
		"synth_sample_rate": s.SynthSampleRate,
		"ssh_key_path":      s.SSHKeyPath,
	}
}

// SetDefaults registers every key with its default so environment variables
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	for key, val := range Defaults().values() {
		v.SetDefault(key, val)
	}
	v.SetDefault("ssh_password", "")
}

// Load resolves settings through v. path selects an explicit config file;
// when empty, gnssfifo.yaml is looked up in the working directory and may be
// absent.
func Load(v *viper.Viper, path string) (Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Marshal renders s as YAML.
func Marshal(s Settings) ([]byte, error) {
	data, err := yaml.Marshal(s.values())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Save writes s to path as YAML.
func Save(path string, s Settings) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Source) == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if s.SamplesPerMs <= 0 {
		errs = append(errs, fmt.Errorf("samples_per_ms must be positive, got %d", s.SamplesPerMs))
	}
	if s.Depth <= 0 {
		errs = append(errs, fmt.Errorf("depth must be positive, got %d", s.Depth))
	}
	if s.ReadChunk <= 0 {
		errs = append(errs, fmt.Errorf("read_chunk must be positive, got %d", s.ReadChunk))
	}
	if s.IdleBackoff < 0 {
		errs = append(errs, fmt.Errorf("idle_backoff must not be negative, got %s", s.IdleBackoff))
	}
	if s.AGCBits < 2 || s.AGCBits > 16 {
		errs = append(errs, fmt.Errorf("agc_bits must be within 2..16, got %d", s.AGCBits))
	}
	if s.AGCScale < agc.MinScale || s.AGCScale > agc.MaxScale {
		errs = append(errs, fmt.Errorf("agc_scale must be within %d..%d, got %d", agc.MinScale, agc.MaxScale, s.AGCScale))
	}
	if s.OpenAttempts < 1 {
		errs = append(errs, fmt.Errorf("open_attempts must be at least 1, got %d", s.OpenAttempts))
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(s.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if s.ReportEvery <= 0 {
		errs = append(errs, fmt.Errorf("report_every must be positive, got %d", s.ReportEvery))
	}
	if s.SpectrumEvery < 0 {
		errs = append(errs, fmt.Errorf("spectrum_every must not be negative, got %d", s.SpectrumEvery))
	}
	if s.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", s.HistoryLimit))
	}
	if s.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must not be negative, got %s", s.ShutdownGrace))
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by the log settings.
func (s Settings) Logger(out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(s.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

// SDRConfig maps the source settings onto sdr.Config.
func (s Settings) SDRConfig() sdr.Config {
	return sdr.Config{
		SampleRate:   s.SynthSampleRate,
		SamplesPerMs: s.SamplesPerMs,
		ToneOffset:   s.SynthToneHz,
		Amplitude:    s.SynthAmplitude,
		Noise:        s.SynthNoise,
		SSHPassword:  s.SSHPassword,
		SSHKeyPath:   s.SSHKeyPath,
	}
}

// ImporterConfig maps the acquisition settings onto fifo.ImporterConfig.
func (s Settings) ImporterConfig() fifo.ImporterConfig {
	cfg := fifo.DefaultImporterConfig()
	cfg.AGCBits = s.AGCBits
	cfg.Scale = s.AGCScale
	cfg.ChunkSize = s.ReadChunk
	cfg.IdleBackoff = s.IdleBackoff
	cfg.OpenAttempts = s.OpenAttempts
	cfg.CPU = s.CPU
	cfg.Verbose = s.Verbose
	return cfg
}
