package sdr

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach a remote front end host.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
}

// SSHSource runs a command on a remote host (typically `cat /tmp/GPSPIPE`)
// and streams its stdout as the capture source.
type SSHSource struct {
	cfg     SSHConfig
	command string
}

// NewSSHSource validates configuration and prepares a source instance.
func NewSSHSource(cfg SSHConfig, command string) (*SSHSource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if command == "" {
		return nil, fmt.Errorf("remote command is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSHSource{cfg: cfg, command: command}, nil
}

func (s *SSHSource) String() string {
	return fmt.Sprintf("ssh://%s@%s:%d/%s", s.cfg.User, s.cfg.Host, s.cfg.Port, s.command)
}

func (s *SSHSource) Open(ctx context.Context) (io.ReadCloser, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	if err := session.Start(s.command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start remote command: %w", err)
	}

	return &sshStream{Reader: stdout, session: session, client: client}, nil
}

func (s *SSHSource) clientConfig() (*ssh.ClientConfig, error) {
	auth := []ssh.AuthMethod{}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if s.cfg.KeyPath != "" {
		key, err := os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}, nil
}

type sshStream struct {
	io.Reader
	session *ssh.Session
	client  *ssh.Client
	once    sync.Once
}

func (s *sshStream) Close() error {
	var err error
	s.once.Do(func() {
		s.session.Close()
		err = s.client.Close()
	})
	return err
}
