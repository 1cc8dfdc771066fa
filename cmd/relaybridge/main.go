// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command relaybridge relays chat messages between QQ (OneBot), Discord,
// Mattermost and Matrix channels according to configured rules.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiku/relaybridge/pkg/config"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "relaybridge",
		Short:         "Relay chat messages between QQ, Discord, Mattermost and Matrix",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newLookupCommand())
	root.AddCommand(&cobra.Command{
		Use:   "example-config",
		Short: "Print the example config",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("relaybridge %s (commit %s, built %s)", Tag, Commit, BuildTime)
}
