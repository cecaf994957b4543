// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Command hsm-action-shipper ships Lustre HSM action-log events to Redis
// streams. See internal/shipper for the daemon implementation.
package main

import (
	"fmt"
	"os"

	"github.com/lustre-hsm/action-shipper/cmd/hsm-action-shipper/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
