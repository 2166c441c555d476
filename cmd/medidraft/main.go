package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medidraft/medidraft/internal/config"
	"github.com/medidraft/medidraft/internal/platform/api"
	"github.com/medidraft/medidraft/internal/platform/db"
	"github.com/medidraft/medidraft/internal/platform/kvstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medidraft",
		Short: "Draft composition engine for the records browser",
	}

	rootCmd.AddCommand(draftsCmd())
	rootCmd.AddCommand(refsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// openStore builds the configured persistence backend. The postgres
// backend also ensures its schema.
func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		return kvstore.NewMemory(), func() {}, nil
	case config.StoreBackendFile:
		store, err := kvstore.NewFile(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.StoreBackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		store := kvstore.NewPG(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func loadAndOpen(ctx context.Context) (*config.Config, kvstore.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, closeStore, nil
}

func draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and manage persisted drafts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, closeStore, err := loadAndOpen(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			keys, err := store.Keys(ctx, "draft.")
			if err != nil {
				return err
			}
			drafts := map[string]int{}
			for _, k := range keys {
				// draft.{kind}.{id}.{field}
				parts := strings.SplitN(k, ".", 4)
				if len(parts) < 4 {
					continue
				}
				drafts[parts[1]+"/"+parts[2]]++
			}
			names := make([]string, 0, len(drafts))
			for name := range drafts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d keys\n", name, drafts[name])
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Dump the persisted state of one draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, closeStore, err := loadAndOpen(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			prefix := fmt.Sprintf("draft.%s.%s.", args[0], args[1])
			keys, err := store.Keys(ctx, prefix)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("no persisted draft for %s/%s", args[0], args[1])
			}
			for _, k := range keys {
				data, err := store.Get(ctx, k)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, data)
			}
			return nil
		},
	}

	discardCmd := &cobra.Command{
		Use:   "discard <kind> <id>",
		Short: "Remove the persisted state of one draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, closeStore, err := loadAndOpen(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			log := newLogger(cfg.LogLevel)
			prefix := fmt.Sprintf("draft.%s.%s.", args[0], args[1])
			if err := store.DeletePrefix(ctx, prefix); err != nil {
				return err
			}
			log.Info().Str("kind", args[0]).Str("id", args[1]).Msg("draft discarded")
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, discardCmd)
	return cmd
}

func refsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Query reference lists on the records backend",
	}

	listCmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List a reference list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			client := api.New(cfg.APIBaseURL, cfg.APIToken, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second, log)

			items, err := client.ListReferenceItems(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", it.ID, it.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}
