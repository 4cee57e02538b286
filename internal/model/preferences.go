package model

import "time"

// Category is a notification kind a user can opt out of.
type Category string

const (
	CategoryFollowUp Category = "follow_up"
	CategoryWeekly   Category = "weekly_check_in"
	CategoryOverdue  Category = "overdue_alert"
)

type NotificationPreferences struct {
	UserID           int64     `json:"user_id"`
	Enabled          bool      `json:"enabled"`
	FollowUpEmails   bool      `json:"follow_up_emails"`
	WeeklyCheckIns   bool      `json:"weekly_check_ins"`
	OverdueAlerts    bool      `json:"overdue_alerts"`
	UnsubscribeToken string    `json:"unsubscribe_token"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultPreferences is what a user gets on first access: everything on.
func DefaultPreferences(userID int64, token string) NotificationPreferences {
	return NotificationPreferences{
		UserID:           userID,
		Enabled:          true,
		FollowUpEmails:   true,
		WeeklyCheckIns:   true,
		OverdueAlerts:    true,
		UnsubscribeToken: token,
	}
}

// Allows is false when the master flag is off, regardless of category flags.
func (p NotificationPreferences) Allows(c Category) bool {
	if !p.Enabled {
		return false
	}
	switch c {
	case CategoryFollowUp:
		return p.FollowUpEmails
	case CategoryWeekly:
		return p.WeeklyCheckIns
	case CategoryOverdue:
		return p.OverdueAlerts
	default:
		return false
	}
}

type User struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	LastSessionAt *time.Time `json:"last_session_at,omitempty"`
}
