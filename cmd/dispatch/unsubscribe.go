package main

import (
	"context"
	"fmt"
	"time"

	"coachly/internal/repository"
	tokens "coachly/internal/util"
	"coachly/pkg/db"
)

type UnsubscribeCmd struct {
	Token string `help:"Token from an unsubscribe link." required:""`
}

func (c *UnsubscribeCmd) Run(app *App) error {
	if _, err := tokens.NewTokenMinter(app.Config.Token.Secret).Parse(c.Token); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, app.Config.DB, app.Logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	userID, err := repository.NewPreferencesRepository(pool, app.Logger).UnsubscribeByToken(ctx, c.Token, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Unsubscribed user %d from all notifications\n", userID)
	return nil
}
