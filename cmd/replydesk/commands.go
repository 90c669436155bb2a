package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lisanmuaddib/replydesk/internal/deskconfig"
	"github.com/lisanmuaddib/replydesk/pkg/agent"
	"github.com/lisanmuaddib/replydesk/pkg/api"
	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/logging"
)

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.scheduler.Restore(ctx); err != nil {
			return err
		}

		runner, err := agent.New(agent.Config{Logger: a.logger})
		if err != nil {
			return err
		}
		actions, err := deskconfig.ConfigureActions(a.config, deskconfig.ActionConfig{
			Syncer:     a.engine,
			Sellers:    a.settings,
			Sweeper:    a.escalator,
			Settings:   a.settings,
			Candidates: a.interactions,
			Drafter:    a.drafts,
			Scheduler:  a.scheduler,
			Logger:     a.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to configure actions: %w", err)
		}
		for _, action := range actions {
			if err := runner.RegisterAction(action); err != nil {
				return err
			}
		}

		srv := &http.Server{
			Addr:              a.config.HTTPAddr,
			Handler:           api.NewRouter(api.RouterConfig{Service: a.service, Logger: a.logger}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.WithField("addr", srv.Addr).Info("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			err := runner.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		a.logger.Info("Shutdown complete")
		return err
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <seller-id>",
	Short: "Run one sync for a seller and print the result",
	Long: `Run one sync for a seller and print the result.

Examples:
  replydesk sync 1234
  replydesk sync 1234 --channel review --mode full`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		mode, _ := cmd.Flags().GetString("mode")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.service.TriggerSync(cmd.Context(), args[0], models.Channel(channel), models.SyncMode(mode))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	syncCmd.Flags().String("channel", "", "review, question or chat; all channels when empty")
	syncCmd.Flags().String("mode", string(models.SyncModeIncremental), "incremental or full")
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.NewLogger()
		config, err := db.NewDBConfig()
		if err != nil {
			return err
		}
		gdb, err := db.SetupDatabase(logger, config)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if config.Driver == db.DriverSQLite {
			fmt.Fprintln(os.Stdout, "sqlite schema is up to date")
			return nil
		}
		version, dirty, err := db.MigrationStatus(logger, config)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}
