package preference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coachly/internal/model"
	"coachly/internal/repository"
)

// Store is the subset of the preferences repository the gate needs.
type Store interface {
	Get(ctx context.Context, userID int64) (*model.NotificationPreferences, error)
	GetOrCreate(ctx context.Context, userID int64, token string) (*model.NotificationPreferences, error)
}

// TokenMinter issues the unsubscribe token for a user's first preferences row.
type TokenMinter interface {
	Mint(userID int64) (string, error)
}

type Gate struct {
	store  Store
	minter TokenMinter
	logger *zap.Logger
}

func NewGate(store Store, minter TokenMinter, logger *zap.Logger) *Gate {
	return &Gate{store: store, minter: minter, logger: logger}
}

// Resolve returns the stored preferences, creating all-enabled defaults on
// first access. Results are never cached.
func (g *Gate) Resolve(ctx context.Context, userID int64) (*model.NotificationPreferences, error) {
	prefs, err := g.store.Get(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	token, err := g.minter.Mint(userID)
	if err != nil {
		return nil, fmt.Errorf("mint unsubscribe token for user %d: %w", userID, err)
	}
	prefs, err = g.store.GetOrCreate(ctx, userID, token)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("Preferences resolved with defaults", zap.Int64("user_id", userID))
	return prefs, nil
}

// IsAllowed is false when the master flag is off or the category flag is off.
func IsAllowed(prefs *model.NotificationPreferences, category model.Category) bool {
	if prefs == nil {
		return false
	}
	return prefs.Allows(category)
}

// Decision is the gate verdict for one candidate.
type Decision struct {
	Preferences *model.NotificationPreferences
	Allowed     bool
	Reason      string
}

// Check resolves and gates in one step. Reason explains a suppression.
func (g *Gate) Check(ctx context.Context, userID int64, category model.Category) (Decision, error) {
	prefs, err := g.Resolve(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case !prefs.Enabled:
		return Decision{Preferences: prefs, Reason: "notifications_disabled"}, nil
	case !IsAllowed(prefs, category):
		return Decision{Preferences: prefs, Reason: string(category) + "_disabled"}, nil
	}
	return Decision{Preferences: prefs, Allowed: true}, nil
}
