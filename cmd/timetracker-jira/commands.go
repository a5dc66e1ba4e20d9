package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/netresearch/timetracker-sub002/internal/app"
	"github.com/netresearch/timetracker-sub002/internal/config"
	"github.com/netresearch/timetracker-sub002/internal/version"
	"github.com/netresearch/timetracker-sub002/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           version.Name,
		Short:         "Sync timetracker entries to Jira worklogs",
		Long:          "Connects timetracker users to Jira through OAuth and keeps Jira worklogs in step with local time entries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newValidateCommand(),
		newMigrateCommand(),
		newVersionCommand(),
	)
	return cmd
}

// loadApp reads the configuration and wires the service graph. Logs go to
// stderr so command output stays machine readable.
func loadApp(ctx context.Context, stderr io.Writer) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel, stderr)
	return app.New(ctx, cfg, log)
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Error("Failed to close application", "error", err)
	}
}

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth endpoints and run the scheduled sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			a.Logger.Info("Starting timetracker Jira service",
				"version", version.Version,
				"port", a.Config.Port)

			if migrate {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
			}

			var runScheduler func(context.Context) error
			if a.Config.SyncSchedule != "" {
				if err := a.Scheduler.Schedule(ctx, a.Config.SyncSchedule); err != nil {
					return err
				}
				runScheduler = a.Scheduler.Run
			}

			return serve(ctx, a.Server(), runScheduler, a.Logger)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations on startup")
	return cmd
}

// httpService is the listener side of serve
type httpService interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv and the optional scheduler until ctx ends or the listener
// fails. It returns only after the scheduler has stopped, so a running sync
// finishes before the store is closed.
func serve(ctx context.Context, srv httpService, runScheduler func(context.Context) error, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan struct{})
	if runScheduler != nil {
		go func() {
			defer close(schedulerDone)
			if err := runScheduler(ctx); err != nil {
				logger.Error("Scheduler stopped", "error", err)
			}
		}()
	} else {
		close(schedulerDone)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var startErr error
	select {
	case startErr = <-errCh:
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
	}

	cancel()
	<-schedulerDone

	if startErr != nil {
		return startErr
	}
	logger.Info("Server exited")
	return nil
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one batch sync over all connected users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			result, err := a.Scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d pairs, %d skipped, %d synced, %d failed\n",
				result.RunID, result.Pairs, result.Skipped, result.Synced, result.Failed)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	var userID, ticketSystemID int64

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the stored Jira credentials of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			user, err := a.Store.FindUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}
			ts, err := a.Store.FindTicketSystem(ctx, ticketSystemID)
			if err != nil {
				return fmt.Errorf("ticket system %d: %w", ticketSystemID, err)
			}

			if !a.Integration.ValidateJiraConnection(ctx, user, ts) {
				return fmt.Errorf("user %d is not connected to %s", userID, ts.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d is connected to %s\n", userID, ts.Name)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "timetracker user id")
	cmd.Flags().Int64Var(&ticketSystemID, "ticket-system", 0, "ticket system id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("ticket-system")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
