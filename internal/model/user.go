package model

import "time"

// User is a member of the organization. Authentication itself is handled by
// the surrounding deployment; the service only consumes the resolved identity.
type User struct {
	ID      string `json:"id" gorm:"primaryKey;size:32"`
	Account string `json:"account" gorm:"size:128;uniqueIndex"`
	Name    string `json:"name" gorm:"size:128"`
	Mail    string `json:"mail" gorm:"size:256"`
	IsAdmin bool   `json:"is_admin"`

	CreatedAt time.Time `json:"created_at"`
}
