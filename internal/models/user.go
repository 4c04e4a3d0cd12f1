package models

import (
	"github.com/google/uuid"
)

// User is the authenticated caller. Accounts live with the external identity
// provider; this service only sees the verified token subject.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email,omitempty"`
	Name  string    `json:"name,omitempty"`
}
