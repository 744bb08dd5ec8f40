package billing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const canonicalUUIDLen = 36

// ValidateUserID checks that userID is a canonical hyphenated UUID.
// Braced, URN and hyphen-less forms are rejected.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(userID) != canonicalUUIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}
