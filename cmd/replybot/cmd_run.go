package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"replybot/internal/app"
	"replybot/internal/config"
	"replybot/internal/irc"
)

// runCmd connects to chat and serves until a signal or a fatal error.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to chat and serve",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		switch err := a.Err(); {
		case err == nil:
			reason = app.StopAppStop
		case errors.Is(err, irc.ErrReadFailed), errors.Is(err, irc.ErrWriteFailed):
			reason = app.StopConnectionLost
		default:
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError || reason == app.StopConnectionLost {
		return a.Err()
	}
	return nil
}
