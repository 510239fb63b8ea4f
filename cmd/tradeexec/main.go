package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/chendrizzy/discord-trade-exec-sub002/internal/app"
	glog "github.com/goliatone/go-logger/glog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	successURL := flag.String("success-url", "/", "where the browser lands after a broker is connected")
	flag.Parse()

	_, logger := glog.Resolve("tradeexec", nil, nil)
	logger = glog.Ensure(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app.ParseCommand(flag.Args()), app.Options{
		ConfigPath: *configPath,
		Addr:       *addr,
		SuccessURL: *successURL,
		Logger:     logger,
	}, logger); err != nil {
		logger.Error("tradeexec failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd app.Command, opts app.Options, logger glog.Logger) error {
	application, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer application.Close()

	switch cmd {
	case app.CommandMigrate:
		logger.Info("migrations applied")
		return nil
	case app.CommandReencrypt:
		result, err := application.ReencryptTokens(ctx)
		if err != nil {
			return err
		}
		logger.Info("credentials re-encrypted", "scanned", result.Scanned, "rotated", result.Rotated, "skipped", result.Skipped, "failed", result.Failed)
		return nil
	case app.CommandSchedule:
		scheduled, err := application.ScheduleRefreshes(ctx)
		if err != nil {
			return err
		}
		handled, err := application.DrainRefreshes(ctx)
		if err != nil {
			return err
		}
		logger.Info("refresh jobs processed", "scheduled", scheduled, "handled", handled)
		return nil
	default:
		return application.Run(ctx)
	}
}
