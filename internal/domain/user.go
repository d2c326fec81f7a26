package domain

import (
	"time"
)

// TokenTypeBearer is the OAuth2 token_type returned with every token pair.
const TokenTypeBearer = "bearer"

// User represents a registered account. Username is the unique, immutable key;
// records are never updated by the auth flow once created.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     *string   `json:"full_name"`
	Disabled     bool      `json:"disabled"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the client-facing view of a User. It has no password field.
type PublicUser struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name"`
	Disabled bool    `json:"disabled"`
}

// Public returns the client-facing view of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Disabled: u.Disabled,
	}
}

// PublicUsers maps a slice of users to their public views.
func PublicUsers(users []User) []PublicUser {
	out := make([]PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out
}

// TokenPair is the OAuth2-style token response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
}
