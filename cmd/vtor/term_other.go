//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package main

import "errors"

type termState struct{}

func makeRaw(fd uintptr) (*termState, error) {
	return nil, errors.New("raw terminal mode not supported")
}

func restore(fd uintptr, state *termState) error { return nil }
