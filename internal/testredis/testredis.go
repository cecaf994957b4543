// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package testredis is a thin miniredis wrapper used only by tests, modeled
// on the storj.io/storj/private/testredis helper referenced by
// private/kvstore/redis/client_test.go (testredis.Start / testredis.Mini).
// That package itself was not present in the retrieved corpus, so this
// reproduces just enough of its surface for this repo's tests.
package testredis

import (
	"github.com/alicebob/miniredis/v2"
)

// Server wraps a running in-process miniredis instance.
type Server struct {
	mini *miniredis.Miniredis
}

// Start launches a fresh miniredis server.
func Start() (*Server, error) {
	mini, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	return &Server{mini: mini}, nil
}

// Addr returns the "host:port" the server is listening on.
func (s *Server) Addr() string {
	return s.mini.Addr()
}

// Close shuts the server down.
func (s *Server) Close() error {
	s.mini.Close()
	return nil
}
