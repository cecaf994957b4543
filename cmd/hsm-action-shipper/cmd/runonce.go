// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Perform exactly one poll cycle and one maintenance pass, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		svc, err := buildService(log)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		ctx := context.Background()

		if err := svc.RunOnceWithMaintenance(ctx); err != nil {
			log.Error("run-once cycle failed", zap.Error(err))
			os.Exit(1)
		}
		return nil
	},
}
