package main

import (
	"context"

	"go.uber.org/zap"

	"coachly/migrations"
	"coachly/pkg/db"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *App) error {
	ctx := context.Background()
	pool, err := db.NewConnection(ctx, app.Config.DB, app.Logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.NewMigrator(pool, migrations.FS, app.Logger).Apply(ctx)
	if err != nil {
		return err
	}
	app.Logger.Info("Migrations finished", zap.Int("applied", applied))
	return nil
}
