package reservation

import (
	"strings"

	"github.com/google/uuid"
)

// Identity tags this process's seat holds and channel subscription. It is
// created once per process and handed to every component that needs it.
type Identity struct {
	ClientID string
}

func NewIdentity() Identity {
	return Identity{ClientID: uuid.NewString()}
}

// IdentityFrom reuses a known client id, generating a fresh one when id is
// not a valid UUID.
func IdentityFrom(id string) Identity {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return NewIdentity()
	}
	return Identity{ClientID: parsed.String()}
}
