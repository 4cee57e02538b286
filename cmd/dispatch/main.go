package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"coachly/internal/config"
	"coachly/pkg/logger"
)

// App is handed to every command.
type App struct {
	Config *config.Config
	Logger *zap.Logger
}

var CLI struct {
	ConfigDir string `help:"Directory holding base.yaml, <env>.yaml and secrets.env." default:"config" env:"CONFIG_DIR"`
	Env       string `help:"Config environment layered over base.yaml." default:"local" env:"CONFIG_ENV"`

	Run         RunCmd         `cmd:"" help:"Run one dispatch tick (default)." default:"withargs"`
	Migrate     MigrateCmd     `cmd:"" help:"Apply pending database migrations."`
	Unsubscribe UnsubscribeCmd `cmd:"" help:"Turn off all notifications for the owner of an unsubscribe token."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("dispatch"),
		kong.Description("Commitment reminder dispatcher. Invoke once per day from cron."),
		kong.UsageOnError(),
	)

	cfg, err := config.LoadFrom(CLI.Env, CLI.ConfigDir, func(c *config.Config) {
		if CLI.Run.DryRun {
			c.Dispatch.DryRun = true
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log)
	defer func() { _ = log.Sync() }()

	if err := ctx.Run(&App{Config: cfg, Logger: log}); err != nil {
		log.Error("Command failed", zap.String("command", ctx.Command()), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
