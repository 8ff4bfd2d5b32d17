// Package idhash derives the deterministic content hash used as an
// episode's identity before it is published to the catalogue.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EpisodeID returns the first 32 hex characters of the SHA-256 digest over
// "{lower(company)}|{lower(channel)}|{timestamp}|{trim(audioURL)}|{lower(title)}",
//.
func EpisodeID(company, channel string, timestampSec int64, audioURL, title string) string {
	parts := fmt.Sprintf("%s|%s|%d|%s|%s",
		strings.ToLower(company),
		strings.ToLower(channel),
		timestampSec,
		strings.TrimSpace(audioURL),
		strings.ToLower(title),
	)
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])[:32]
}

// SafeChannel replaces path-unsafe characters in a channel name so it can
// be used as an object-store key path segment.
func SafeChannel(channel string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return replacer.Replace(channel)
}
