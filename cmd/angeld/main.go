package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"angeld/internal/app"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "angeld",
	Short: "Context-aware companion notification daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("angeld %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := startWatchdog(ctx)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		return err
	}

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startWatchdog feeds the systemd watchdog when enabled. No-op outside
// systemd.
func startWatchdog(ctx context.Context) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return func() { close(done) }
}
