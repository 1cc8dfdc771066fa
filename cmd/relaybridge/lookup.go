// Copyright 2024-2026 Aiku AI

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/relaybridge/pkg/config"
	"github.com/aiku/relaybridge/pkg/correlation"
)

func newLookupCommand() *cobra.Command {
	var source, target, bot, channel string
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Query the correlation store",
		Long: "Find the relayed copies of a message (--source) or the message a relayed\n" +
			"copy came from (--target). --bot is the platform:selfId of the bot that\n" +
			"saw the message and --channel its channel id.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (source == "") == (target == "") {
				return errors.New("exactly one of --source and --target is required")
			}
			if bot == "" || channel == "" {
				return errors.New("--bot and --channel are required")
			}
			cfg, err := config.Load(configPath, false)
			if err != nil {
				return err
			}
			store, err := correlation.OpenSQLite(cfg.Database.Path, zerolog.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			var records []correlation.Record
			if source != "" {
				records, err = store.FindBySource(cmd.Context(), source, bot, channel)
			} else {
				records, err = store.FindByTarget(cmd.Context(), target, bot, channel)
			}
			if err != nil {
				return fmt.Errorf("failed to query correlations: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "inbound message id")
	cmd.Flags().StringVar(&target, "target", "", "relayed message id")
	cmd.Flags().StringVar(&bot, "bot", "", "platform:selfId of the bot")
	cmd.Flags().StringVar(&channel, "channel", "", "channel id")
	return cmd
}
