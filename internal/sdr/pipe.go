package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultPipePath is where the USB front end driver writes IF data.
const DefaultPipePath = "/tmp/GPSPIPE"

// PipeSource reads IF data from a named pipe or a plain file.
type PipeSource struct {
	Path string
	// Create makes a FIFO at Path when nothing exists there yet.
	Create bool
}

func (p *PipeSource) String() string {
	if p.Create {
		return "pipe://" + p.Path
	}
	return "file://" + p.Path
}

// Open opens the path read-only. Opening a FIFO blocks until a writer shows
// up; ctx bounds that wait.
func (p *PipeSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if p.Path == "" {
		return nil, errors.New("pipe path is required")
	}
	if p.Create {
		if err := EnsurePipe(p.Path); err != nil {
			return nil, err
		}
	}

	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(p.Path, os.O_RDONLY, 0)
		ch <- result{f: f, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open %s: %w", p.Path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// EnsurePipe creates a FIFO at path unless something already exists there.
// Reader and writer may race to create it.
func EnsurePipe(path string) error {
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := mkfifo(path, 0o666); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create pipe %s: %w", path, err)
	}
	return nil
}
