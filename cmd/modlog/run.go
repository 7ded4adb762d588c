package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"modlog/internal/app"
	"modlog/internal/config"

	"github.com/spf13/cobra"
)

const stopTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start logging",
	RunE:  runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, env, configPath)
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}
