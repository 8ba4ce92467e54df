package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArCaneSec/watcher/internal/config"
	"github.com/ArCaneSec/watcher/internal/reload"
	"github.com/ArCaneSec/watcher/internal/store"
	"github.com/ArCaneSec/watcher/internal/store/gormstore"
	"github.com/ArCaneSec/watcher/internal/store/mongostore"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type backend interface {
	store.Store
	store.Admin
}

func loadConfig() *config.Config {
	cfg := config.Load()
	cfg.SetupLogger()
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config, autoMigrate bool) (backend, error) {
	switch cfg.StoreDriver {
	case "mongo", "mongodb":
		return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		dialector, err := gormstore.Dialector(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return gormstore.Open(
			gormstore.WithDialector(dialector),
			gormstore.WithAutoMigrate(autoMigrate),
		)
	}
}

// reloadNotifier builds the notifier selected by RELOAD_TRANSPORT. The
// returned func releases its connections.
func reloadNotifier(ctx context.Context, cfg *config.Config) (reload.Notifier, func(), error) {
	switch cfg.ReloadTransport {
	case config.ReloadHTTP:
		return reload.NewHTTPNotifier(cfg.CheckerAPIURL), func() {}, nil
	case config.ReloadRedis:
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("RELOAD_TRANSPORT=redis needs REDIS_URL")
		}
		client, err := reload.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return reload.NewRedisNotifier(client), func() { _ = client.Close() }, nil
	case config.ReloadNone:
		return reload.Nop{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown RELOAD_TRANSPORT %q", cfg.ReloadTransport)
	}
}

// signalReload is used by the one-shot commands; a checker that is down
// will pick the change up at its next periodic reconcile.
func signalReload(ctx context.Context, cfg *config.Config) {
	notifier, closeFn, err := reloadNotifier(ctx, cfg)
	if err != nil {
		log.Warn("Couldn't set up reload notifier.", "err", err)
		return
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(ctx, reload.NotifyTimeout)
	defer cancel()

	if err := notifier.NotifyReload(ctx); err != nil {
		log.Warn("Couldn't notify checker, it will reconcile on its own.", "err", err)
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		st, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "[*] Database schema has changed successfully.")
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every watcher table or collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to flush without --yes")
		}

		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		st, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Flush(ctx); err != nil {
			return fmt.Errorf("flush database: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "[*] Database flushed.")
		return nil
	},
}

func init() {
	flushCmd.Flags().Bool("yes", false, "confirm dropping all data")

	rootCmd.AddCommand(migrateCmd, flushCmd)
}
