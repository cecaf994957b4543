// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/redisstream"
	"github.com/lustre-hsm/action-shipper/internal/shipper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shipper daemon until a termination signal is received",
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

		// The Lifecycle Coordinator (§4.7): a process-wide stop flag set by
		// signal handlers. Cancelling ctx signals both workers immediately;
		// the shipper loop still performs one final Cache commit before
		// returning (shipper.Service.finalFlush).
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("starting hsm-action-shipper",
			zap.String("glob", config.MDTWatchGlob),
			zap.Duration("poll_interval", config.PollInterval),
			zap.Duration("reconcile_interval", config.ReconcileInterval))

		return shipper.RunGroup(ctx, svc.Group())
	},
}

func buildService(log *zap.Logger) (*shipper.Service, error) {
	conn := redisstream.New(log, redisstream.Config{
		Host:     config.RedisHost,
		Port:     int(config.RedisPort),
		DB:       int(config.RedisDB),
		Password: config.RedisPassword,
	})

	svcConfig := shipper.Config{
		MDTWatchGlob:      config.MDTWatchGlob,
		CachePath:         config.CachePath,
		PollInterval:      config.PollInterval,
		ReconcileInterval: config.ReconcileInterval,
	}
	svcConfig.Maintenance.StreamPrefix = config.RedisStreamPrefix
	svcConfig.Maintenance.ReplayChunkSize = config.ReplayChunkSize
	svcConfig.Maintenance.TrimChunkSize = config.TrimChunkSize
	svcConfig.Maintenance.AggressiveTrimThreshold = config.AggressiveTrimThreshold

	return shipper.New(log, svcConfig, conn), nil
}
