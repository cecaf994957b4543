// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lustre-hsm/action-shipper/internal/process"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the bound configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		// process.Snapshot omits every hidden:"true" field (RedisPassword),
		// so a credential is never written to stdout.
		out, err := yaml.Marshal(process.Snapshot(&config))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}
