package services

import (
	"errors"
	"fmt"
	"sort"

	"channel_sync/identity"
	"channel_sync/models"
)

var (
	ErrMissingExternalID = errors.New("missing external id")
	ErrInvalidDates      = errors.New("invalid stay dates")
)

// DedupKey returns the key candidates are merged on. Records without an
// external id get a key synthesized from guest and dates.
func DedupKey(c *models.CandidateBooking) (key string, synthesized bool) {
	if c.ExternalID != "" {
		return c.ExternalID, false
	}
	if c.CheckIn.IsZero() || c.CheckOut.IsZero() {
		return "", false
	}
	return identity.FallbackKey(c.GuestName, c.CheckIn, c.CheckOut), true
}

// Merge collapses candidates that share a dedup key. Within a group the
// record from the highest priority method wins and lower priority records
// only fill its empty fields. Groups keep the order their key was first seen.
// Records with no usable key are passed through for Validate to reject.
func Merge(candidates []models.CandidateBooking) []models.CandidateBooking {
	groups := make(map[string][]models.CandidateBooking)
	var order []string
	var unkeyed []models.CandidateBooking

	for _, c := range candidates {
		key, synthesized := DedupKey(&c)
		if key == "" {
			unkeyed = append(unkeyed, c)
			continue
		}
		if synthesized {
			c.ExternalID = key
			c.LowConfidence = true
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	out := make([]models.CandidateBooking, 0, len(order)+len(unkeyed))
	for _, key := range order {
		out = append(out, mergeGroup(groups[key]))
	}
	return append(out, unkeyed...)
}

func mergeGroup(group []models.CandidateBooking) models.CandidateBooking {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].SourceMethod.Priority() < group[j].SourceMethod.Priority()
	})

	winner := group[0]
	for _, other := range group[1:] {
		fillEmpty(&winner, &other)
	}
	winner.ApplyDefaults()
	return winner
}

func fillEmpty(dst, src *models.CandidateBooking) {
	if dst.GuestName == "" {
		dst.GuestName = src.GuestName
	}
	if dst.GuestEmail == "" {
		dst.GuestEmail = src.GuestEmail
	}
	if (dst.CheckIn.IsZero() || dst.CheckOut.IsZero()) && !src.CheckIn.IsZero() && !src.CheckOut.IsZero() {
		dst.CheckIn, dst.CheckOut = src.CheckIn, src.CheckOut
	}
	if dst.NumGuests == 0 && src.NumGuests > 0 {
		dst.NumGuests = src.NumGuests
	}
	if dst.TotalPrice.IsZero() && !src.TotalPrice.IsZero() {
		dst.TotalPrice = src.TotalPrice
	}
	if dst.Status == "" {
		dst.Status = src.Status
	}
	if dst.Channel == "" {
		dst.Channel = src.Channel
	}
}

// Validate rejects candidates that cannot be keyed or whose stay is not a
// forward date range.
func Validate(c *models.CandidateBooking) error {
	if c.ExternalID == "" {
		return ErrMissingExternalID
	}
	if c.CheckIn.IsZero() || c.CheckOut.IsZero() {
		return fmt.Errorf("%w: missing dates", ErrInvalidDates)
	}
	if !c.CheckIn.Before(c.CheckOut) {
		return fmt.Errorf("%w: check-in %s not before check-out %s", ErrInvalidDates,
			c.CheckIn.Format("2006-01-02"), c.CheckOut.Format("2006-01-02"))
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("unknown status %q", c.Status)
	}
	return nil
}
