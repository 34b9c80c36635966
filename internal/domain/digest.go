package domain

import (
	_ "crypto/sha256"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ValidateDigest checks that s is a canonical sha256 digest: the literal
// "sha256:" prefix followed by 64 lowercase hex characters.
func ValidateDigest(s string) error {
	if !strings.HasPrefix(s, string(digest.SHA256)+":") {
		return fmt.Errorf("%w: %q is not a sha256 digest", ErrInvalidDigestFormat, s)
	}

	d, err := digest.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidDigestFormat, s, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidDigestFormat, d.Algorithm())
	}

	return nil
}

// IsValidDigest is the boolean form of ValidateDigest.
func IsValidDigest(s string) bool {
	return ValidateDigest(s) == nil
}
