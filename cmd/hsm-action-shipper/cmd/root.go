// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package cmd implements the hsm-action-shipper command tree: `run` (daemon
// mode), `run-once` (single poll cycle), `config` (print bound
// configuration) and `decommission-stream` (operator cleanup for a removed
// MDT), following the teacher's cobra+viper wiring style.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lustre-hsm/action-shipper/internal/process"
)

var config Config

// RootCmd is the entry point cobra.Command for the hsm-action-shipper binary.
var RootCmd = &cobra.Command{
	Use:   "hsm-action-shipper",
	Short: "Ship Lustre HSM action-log events to Redis streams",
}

func init() {
	RootCmd.AddCommand(runCmd, runOnceCmd, configCmd, decommissionCmd)
	for _, cmd := range []*cobra.Command{runCmd, runOnceCmd, configCmd, decommissionCmd} {
		if err := process.Bind(cmd, &config); err != nil {
			panic(fmt.Sprintf("hsm-action-shipper: failed to bind configuration: %v", err))
		}
	}
}

func newLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", config.LogLevel, err)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.Encoding = "console"
	zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return zapConfig.Build()
}
