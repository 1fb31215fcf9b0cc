package sdr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenerSchemes(t *testing.T) {
	cases := []struct {
		uri  string
		want string
	}{
		{"/tmp/GPSPIPE", "pipe:///tmp/GPSPIPE"},
		{"pipe:///tmp/x", "pipe:///tmp/x"},
		{"file:///data/if.bin", "file:///data/if.bin"},
		{"tcp://10.0.0.2:1234", "tcp://10.0.0.2:1234"},
		{"ssh://pi@frontend:2222/cat%20/tmp/GPSPIPE", "ssh://pi@frontend:2222/cat /tmp/GPSPIPE"},
		{"ssh://frontend", "ssh://root@frontend:22/cat /tmp/GPSPIPE"},
		{"synth://", "synth://"},
	}
	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			o, err := NewOpener(tc.uri, Config{SSHPassword: "pw"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, o.String())
		})
	}
}

func TestNewOpenerErrors(t *testing.T) {
	_, err := NewOpener("", Config{})
	assert.Error(t, err)

	_, err = NewOpener("usb://0", Config{})
	assert.True(t, errors.Is(err, ErrUnknownScheme))

	_, err = NewOpener("tcp://", Config{})
	assert.Error(t, err)

	_, err = NewOpener("ssh://host:notaport/x", Config{})
	assert.Error(t, err)
}

func TestSynthQueryOverrides(t *testing.T) {
	o, err := NewOpener("synth://?tone=1000&noise=3&amplitude=50", Config{SampleRate: 4000})
	require.NoError(t, err)
	s, ok := o.(*SynthSource)
	require.True(t, ok)
	cfg := s.Config()
	assert.Equal(t, 1000.0, cfg.ToneOffset)
	assert.Equal(t, 3.0, cfg.Noise)
	assert.Equal(t, 50.0, cfg.Amplitude)
	assert.Equal(t, 4, cfg.SamplesPerMs)
}

func TestSSHSourceRequiresCredentials(t *testing.T) {
	_, err := NewSSHSource(SSHConfig{}, "cat")
	assert.Error(t, err)

	s, err := NewSSHSource(SSHConfig{Host: "frontend"}, "cat /tmp/GPSPIPE")
	require.NoError(t, err)
	_, err = s.Open(t.Context())
	assert.ErrorContains(t, err, "no ssh password or key")
}

func TestTCPSourceDialFailure(t *testing.T) {
	s := &TCPSource{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond}
	_, err := s.Open(t.Context())
	assert.Error(t, err)
}
