package library

import (
	"strings"

	"github.com/google/uuid"
)

// MemberKeyPrefix starts every generated member key.
const MemberKeyPrefix = "M-"

const maxKeyAttempts = 8

// NewMemberKey returns a short random member key such as "M-3FA91C".
func NewMemberKey() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return MemberKeyPrefix + strings.ToUpper(hex[:6])
}
