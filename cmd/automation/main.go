// Command automation runs the order, trailing stop, DCA and scheduler loops against
// live prices and the swap venue until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/cmd/common"
	"github.com/ducminhle1904/trade-automation/internal/config"
	"github.com/ducminhle1904/trade-automation/internal/logger"
)

func main() {
	fs := flag.NewFlagSet("automation", flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	statusEvery := fs.Duration("status-every", 5*time.Minute, "Interval of the console status table (0 disables)")
	console := fs.Bool("console", true, "Also log to stdout")
	fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion("automation")
		return
	}
	if err := flags.Apply(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(*statusEvery, *console); err != nil {
		fmt.Fprintf(os.Stderr, "automation: %v\n", err)
		os.Exit(1)
	}
}

func run(statusEvery time.Duration, console bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	session, err := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogDir,
		Prefix:  "automation",
		Console: console,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	log := session.Logger

	log.Info("starting",
		zap.String("version", common.GetFullVersion()),
		zap.String("env", cfg.Environment),
		zap.String("log_file", session.Path()))

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.restore(ctx); err != nil {
		a.stop(10 * time.Second)
		return err
	}
	if err := a.start(ctx, statusEvery); err != nil {
		cancel()
		a.stop(10 * time.Second)
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	a.stop(cfg.Executor.Timeout + 5*time.Second)
	log.Info("stopped")
	return nil
}
