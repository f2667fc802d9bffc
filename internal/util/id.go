package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix + "_" + a random UUID as 32 hex characters, e.g.
// "sub_3f2c...". Submission and admin ids use it; sheet rows keep their
// content-derived keys.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
