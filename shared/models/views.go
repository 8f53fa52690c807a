package models

// UserView is the public listing projection of a user. It never exposes
// identifiers or password material.
type UserView struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
