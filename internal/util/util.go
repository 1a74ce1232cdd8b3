package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NormalizePhone strips whitespace and the common visual separators. A
// leading "+" is kept.
func NormalizePhone(p string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(p))
}

func NewEventID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	return "evt_" + ulid.MustNew(ulid.Timestamp(NowUTC()), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
