package session

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// fingerprint returns a short non-reversible tag for an access token so log
// lines can be correlated without exposing the token.
func fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64String(token), 16)
}

// TokenFingerprint returns the fingerprint of the access token.
func (s Session) TokenFingerprint() string {
	return fingerprint(s.AccessToken)
}
