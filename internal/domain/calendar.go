package domain

import "time"

// CalendarConnection is a family's link to its external calendar.
//
// CalendarID is resolved once (by name at bootstrap, or by creating the
// calendar) and then used by id.
type CalendarConnection struct {
	FamilyID     string    `json:"family_id" db:"family_id"`
	Provider     string    `json:"provider" db:"provider"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	TokenExpiry  time.Time `json:"-" db:"token_expiry"`
	CalendarID   string    `json:"calendar_id,omitempty" db:"calendar_id"`
	CalendarName string    `json:"calendar_name" db:"calendar_name"`
	Timezone     string    `json:"timezone" db:"timezone"`

	WatchChannelID  string     `json:"watch_channel_id,omitempty" db:"watch_channel_id"`
	WatchResourceID string     `json:"watch_resource_id,omitempty" db:"watch_resource_id"`
	WatchExpiresAt  *time.Time `json:"watch_expires_at,omitempty" db:"watch_expires_at"`
}

// Location returns the connection's timezone, defaulting to UTC.
func (c *CalendarConnection) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
