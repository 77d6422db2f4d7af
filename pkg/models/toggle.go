package models

import "time"

// Toggle is the persisted enable/disable state of a named handler.
type Toggle struct {
	ID        string    `db:"id" json:"id"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Toggle) TableName() string {
	return "toggles"
}
