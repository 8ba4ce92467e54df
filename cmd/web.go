package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ArCaneSec/watcher/internal/routes"
	"github.com/ArCaneSec/watcher/internal/server"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the administrative and query API",
	RunE:  runWeb,
}

func init() {
	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	notifier, closeNotifier, err := reloadNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	api := routes.New(st, notifier)
	httpServer := &http.Server{
		Addr:    cfg.WebAddr,
		Handler: api.Router(),
	}

	err = server.Serve(ctx, httpServer, cfg.ShutdownGrace)
	api.Wait()
	if err != nil {
		return err
	}

	log.Info("Web API stopped.")
	return nil
}
