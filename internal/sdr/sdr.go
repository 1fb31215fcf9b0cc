package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownScheme is returned by NewOpener for unsupported source URIs.
var ErrUnknownScheme = errors.New("unknown source scheme")

// Opener acquires the byte stream of a capture front end. The stream carries
// raw interleaved CPX samples with no framing.
//
// ctx bounds acquisition only: a blocked pipe open or a dial. The returned
// stream stays readable after ctx ends and lives until it is closed.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// DropCounter is implemented by sources that discard data when their reader
// falls behind.
type DropCounter interface {
	Dropped() uint64
}

// Config carries the parameters needed to build a capture source from a URI.
type Config struct {
	// SampleRate is used by the synthetic front end to pace its output.
	SampleRate float64
	// SamplesPerMs sizes the synthetic front end's blocks.
	SamplesPerMs int
	ToneOffset   float64
	Amplitude    float64
	Noise        float64

	DialTimeout time.Duration

	SSHPassword string
	SSHKeyPath  string
}

// NewOpener selects a source implementation from a URI:
//
//	pipe:///tmp/GPSPIPE        named pipe, created when missing
//	file:///data/capture.bin   regular file replay
//	tcp://host:1234            raw TCP stream
//	ssh://root@host:22/cmd     stdout of a remote command
//	synth://                   synthetic front end
//
// A bare path is treated as a named pipe.
func NewOpener(uri string, cfg Config) (Opener, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("source uri is required")
	}
	if !strings.Contains(uri, "://") {
		return &PipeSource{Path: uri, Create: true}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse source uri: %w", err)
	}

	switch u.Scheme {
	case "pipe":
		return &PipeSource{Path: u.Path, Create: true}, nil
	case "file":
		return &PipeSource{Path: u.Path}, nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("tcp source requires host:port")
		}
		return &TCPSource{Addr: u.Host, Timeout: cfg.DialTimeout}, nil
	case "ssh":
		return newSSHFromURL(u, cfg)
	case "synth":
		return NewSynth(synthConfigFrom(cfg, u.Query())), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownScheme, u.Scheme)
	}
}

func newSSHFromURL(u *url.URL, cfg Config) (*SSHSource, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("ssh source requires a host")
	}
	port := 0
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("ssh port %q: %w", p, err)
		}
		port = parsed
	}
	command := strings.TrimPrefix(u.Path, "/")
	if command == "" {
		command = "cat " + DefaultPipePath
	}
	sshCfg := SSHConfig{
		Host:     host,
		User:     u.User.Username(),
		Password: cfg.SSHPassword,
		KeyPath:  cfg.SSHKeyPath,
		Port:     port,
	}
	if pw, ok := u.User.Password(); ok {
		sshCfg.Password = pw
	}
	return NewSSHSource(sshCfg, command)
}

func synthConfigFrom(cfg Config, q url.Values) SynthConfig {
	sc := SynthConfig{
		SampleRate:   cfg.SampleRate,
		SamplesPerMs: cfg.SamplesPerMs,
		ToneOffset:   cfg.ToneOffset,
		Amplitude:    cfg.Amplitude,
		Noise:        cfg.Noise,
	}
	if v, err := strconv.ParseFloat(q.Get("tone"), 64); err == nil {
		sc.ToneOffset = v
	}
	if v, err := strconv.ParseFloat(q.Get("amplitude"), 64); err == nil {
		sc.Amplitude = v
	}
	if v, err := strconv.ParseFloat(q.Get("noise"), 64); err == nil {
		sc.Noise = v
	}
	return sc
}
