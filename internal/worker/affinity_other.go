//go:build !linux

package worker

import "errors"

func setAffinity(int) error { return errors.New("cpu affinity not supported on this platform") }
