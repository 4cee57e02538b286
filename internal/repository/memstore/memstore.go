// Package memstore is an in-memory implementation of the commitment, user and
// preference repositories with the same selection semantics as the SQL
// queries. It backs the runner tests and local dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coachly/internal/model"
	"coachly/internal/repository"
)

// FollowUpEvent records one successful RecordFollowUpSent call, standing in
// for the outbox row the SQL repository writes.
type FollowUpEvent struct {
	CommitmentID  int64
	UserID        int64
	FollowUpCount int
	SentAt        time.Time
}

type Store struct {
	mu          sync.Mutex
	nextID      int64
	commitments map[int64]*model.Commitment
	users       map[int64]*model.User
	sessions    map[int64][]time.Time
	prefs       map[int64]*model.NotificationPreferences
	events      []FollowUpEvent
}

func New() *Store {
	return &Store{
		commitments: map[int64]*model.Commitment{},
		users:       map[int64]*model.User{},
		sessions:    map[int64][]time.Time{},
		prefs:       map[int64]*model.NotificationPreferences{},
	}
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// AddSession logs a coaching session for userID starting at at.
func (s *Store) AddSession(userID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = append(s.sessions[userID], at)
}

// AddCommitment stores a copy of c, assigning an id when c.ID is zero.
func (s *Store) AddCommitment(c model.Commitment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	} else if c.ID > s.nextID {
		s.nextID = c.ID
	}
	if c.Status == "" {
		c.Status = model.StatusOpen
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.commitments[c.ID] = &c
	return c.ID
}

func (s *Store) SetPreferences(p model.NotificationPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = &p
}

// FollowUpEvents returns the follow-up records written so far.
func (s *Store) FollowUpEvents() []FollowUpEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FollowUpEvent(nil), s.events...)
}

func (s *Store) sortedCommitments(keep func(*model.Commitment) bool) []model.Commitment {
	out := []model.Commitment{}
	for _, c := range s.commitments {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) FindOpenCommitmentsOlderThan(_ context.Context, cutoff time.Time) ([]model.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedCommitments(func(c *model.Commitment) bool {
		return c.Status.IsOpen() && !c.CreatedAt.After(cutoff) && c.FollowUpCount == 0
	}), nil
}

func (s *Store) FindOpenCommitmentsForUser(_ context.Context, userID int64) ([]model.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedCommitments(func(c *model.Commitment) bool {
		return c.UserID == userID && c.Status.IsOpen()
	}), nil
}

func (s *Store) FindOverdueCommitmentsForUser(_ context.Context, userID int64, now time.Time) ([]model.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedCommitments(func(c *model.Commitment) bool {
		return c.UserID == userID && c.IsOverdue(now)
	}), nil
}

func (s *Store) RecordFollowUpSent(_ context.Context, commitmentID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[commitmentID]
	if !ok || !c.Status.IsOpen() {
		return fmt.Errorf("commitment %d: %w", commitmentID, repository.ErrNotFound)
	}
	updated := c.WithFollowUp(at)
	updated.UpdatedAt = at
	*c = updated
	s.events = append(s.events, FollowUpEvent{
		CommitmentID:  c.ID,
		UserID:        c.UserID,
		FollowUpCount: c.FollowUpCount,
		SentAt:        at,
	})
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*model.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return nil, fmt.Errorf("commitment %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateStatus(_ context.Context, id int64, status model.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return fmt.Errorf("commitment %d: %w", id, repository.ErrNotFound)
	}
	updated, err := c.WithStatus(status, at)
	if err != nil {
		return err
	}
	*c = updated
	return nil
}

// Users mirrors repository.UserRepository.
type Users struct{ s *Store }

func (s *Store) Users() Users { return Users{s: s} }

func (u Users) GetByID(_ context.Context, id int64) (*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	cp := *user
	cp.LastSessionAt = u.s.lastSession(id)
	return &cp, nil
}

func (u Users) FindUsersActiveSince(_ context.Context, cutoff time.Time) ([]model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.s.sortedUsers(func(id int64) bool {
		for _, at := range u.s.sessions[id] {
			if !at.Before(cutoff) {
				return true
			}
		}
		return false
	}), nil
}

func (u Users) FindUsersWithOverdueCommitments(_ context.Context, now time.Time) ([]model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.s.sortedUsers(func(id int64) bool {
		for _, c := range u.s.commitments {
			if c.UserID == id && c.IsOverdue(now) {
				return true
			}
		}
		return false
	}), nil
}

func (s *Store) sortedUsers(keep func(id int64) bool) []model.User {
	out := []model.User{}
	for id, user := range s.users {
		if user.Email == "" || !keep(id) {
			continue
		}
		cp := *user
		cp.LastSessionAt = s.lastSession(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) lastSession(userID int64) *time.Time {
	var last *time.Time
	for _, at := range s.sessions[userID] {
		if last == nil || at.After(*last) {
			t := at
			last = &t
		}
	}
	return last
}

// Preferences mirrors repository.PreferencesRepository.
type Preferences struct{ s *Store }

func (s *Store) Preferences() Preferences { return Preferences{s: s} }

func (p Preferences) Get(_ context.Context, userID int64) (*model.NotificationPreferences, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prefs, ok := p.s.prefs[userID]
	if !ok {
		return nil, fmt.Errorf("preferences for user %d: %w", userID, repository.ErrNotFound)
	}
	cp := *prefs
	return &cp, nil
}

func (p Preferences) GetOrCreate(_ context.Context, userID int64, token string) (*model.NotificationPreferences, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prefs, ok := p.s.prefs[userID]
	if !ok {
		d := model.DefaultPreferences(userID, token)
		prefs = &d
		p.s.prefs[userID] = prefs
	}
	cp := *prefs
	return &cp, nil
}

func (p Preferences) UnsubscribeByToken(_ context.Context, token string, at time.Time) (int64, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for id, prefs := range p.s.prefs {
		if prefs.UnsubscribeToken == token {
			prefs.Enabled = false
			prefs.UpdatedAt = at
			return id, nil
		}
	}
	return 0, fmt.Errorf("unsubscribe: %w", repository.ErrNotFound)
}
