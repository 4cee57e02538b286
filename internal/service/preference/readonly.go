package preference

import (
	"context"
	"errors"

	"coachly/internal/model"
	"coachly/internal/repository"
)

type readOnlyStore struct {
	Store
}

// ReadOnly wraps s so GetOrCreate returns defaults without inserting them.
// Dry runs resolve preferences through it.
func ReadOnly(s Store) Store {
	return readOnlyStore{Store: s}
}

func (r readOnlyStore) GetOrCreate(ctx context.Context, userID int64, token string) (*model.NotificationPreferences, error) {
	prefs, err := r.Store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		d := model.DefaultPreferences(userID, token)
		return &d, nil
	}
	return prefs, err
}
