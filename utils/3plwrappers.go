package utils

import (
	"strings"

	"github.com/google/uuid"
)

func GetUUID() string {
	return uuid.New().String()
}

// CompactID is a uuid without dashes, upper-cased, for gateway-facing ids
// that have length and charset limits.
func CompactID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
