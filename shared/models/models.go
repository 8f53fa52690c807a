package models

import "time"

// User is the ProfileStore record. PasswordVersion increases on every
// password change and guards the conditional hash update.
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	PasswordVersion int64     `json:"-"`
	CreatedAt       time.Time `json:"createdTimestamp"`
	UpdatedAt       time.Time `json:"updatedTimestamp"`
}

// Credential is the CredentialStore record for an identity.
type Credential struct {
	UserID            string     `json:"userId"`
	Email             string     `json:"email"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdTimestamp"`
}
