package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"channel_sync/models"
)

const fallbackPrefix = "syn-"

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
	localPartRegex  = regexp.MustCompile(`[^a-z0-9._-]`)
)

// NormalizeName folds accents, case and punctuation so that "José  Núñez"
// and "jose nunez" compare equal.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	folded = nonAlnumRegex.ReplaceAllString(folded, " ")
	folded = multiSpaceRegex.ReplaceAllString(folded, " ")
	return strings.TrimSpace(folded)
}

// FallbackKey synthesizes a dedup key for records that carry no external id.
// Keys built this way are lower confidence than a channel-issued id.
func FallbackKey(guestName string, checkIn, checkOut time.Time) string {
	input := fmt.Sprintf("%s|%s|%s",
		NormalizeName(guestName),
		checkIn.Format("2006-01-02"),
		checkOut.Format("2006-01-02"),
	)
	hash := sha256.Sum256([]byte(input))
	return fallbackPrefix + hex.EncodeToString(hash[:8])
}

// IsFallbackKey reports whether key was produced by FallbackKey.
func IsFallbackKey(key string) bool {
	return strings.HasPrefix(key, fallbackPrefix)
}

// GuestEmail returns the address used to key a guest. A real address wins;
// otherwise one is synthesized from the booking so repeated syncs of the same
// booking resolve to the same guest.
func GuestEmail(realEmail, externalID string, channel models.ChannelID) string {
	if e := strings.ToLower(strings.TrimSpace(realEmail)); e != "" && strings.Contains(e, "@") {
		return e
	}
	local := localPartRegex.ReplaceAllString(strings.ToLower(externalID), "")
	if local == "" {
		local = "unknown"
	}
	return fmt.Sprintf("%s@%s.com", local, channel)
}

// SplitName splits a display name on the first space.
func SplitName(full string) (first, last string) {
	full = multiSpaceRegex.ReplaceAllString(strings.TrimSpace(full), " ")
	if full == "" {
		return "", ""
	}
	if i := strings.Index(full, " "); i > 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}
