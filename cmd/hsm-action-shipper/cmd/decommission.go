// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/lustre-hsm/action-shipper/internal/redisstream"
)

var decommissionCmd = &cobra.Command{
	Use:   "decommission-stream <mdt>",
	Short: "Delete the Redis stream for an MDT that has been permanently removed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		conn := redisstream.New(log, redisstream.Config{
			Host:     config.RedisHost,
			Port:     int(config.RedisPort),
			DB:       int(config.RedisDB),
			Password: config.RedisPassword,
		})
		defer func() { _ = conn.Close() }()

		streamKey := action.StreamKey(config.RedisStreamPrefix, args[0])
		if err := conn.DeleteKey(context.Background(), streamKey); err != nil {
			log.Error("failed to delete stream", zap.String("stream", streamKey), zap.Error(err))
			return err
		}
		log.Info("deleted stream for decommissioned mdt", zap.String("stream", streamKey))
		return nil
	},
}
