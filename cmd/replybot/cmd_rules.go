package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"replybot/internal/config"
	"replybot/internal/storage"
	logx "replybot/pkg/logx"
)

// rulesCmd groups offline rule-table commands. They open the store directly
// and never connect to chat; a running bot picks changes up on its next resync.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect or edit the rule table offline",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every rule as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			all, err := st.ListAll(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		})
	},
}

var rulesSetCmd = &cobra.Command{
	Use:   "set <channel> <match> <response...>",
	Short: "Create or replace a rule",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := storage.Rule{
			Channel:   strings.TrimPrefix(args[0], "#"),
			MatchExpr: args[1],
			Response:  strings.Join(args[2:], " "),
		}
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			if _, err := st.Upsert(ctx, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s in #%s\n", r.MatchExpr, r.Channel)
			return nil
		})
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <channel> <match>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := strings.TrimPrefix(args[0], "#")
		return withStore(cmd.Context(), func(ctx context.Context, st storage.Store) error {
			n, err := st.Remove(ctx, channel, args[1])
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("no rule %s in #%s", args[1], channel)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from #%s\n", args[1], channel)
			return nil
		})
	},
}

func withStore(ctx context.Context, fn func(context.Context, storage.Store) error) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return errors.Join(fn(ctx, st), st.Close())
}
