package booking

import (
	"crypto/rand"
	"time"
)

// 32 characters, ambiguous glyphs (I, O, 0, 1) excluded; length is a power
// of two so masking a random byte stays uniform.
const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBookingNumber builds the human-readable booking reference
// BOK-YYYYMMDD-XXXXXX. The date part comes from the booking window start
// (UTC), the suffix is random.
func NewBookingNumber(start time.Time) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = numberAlphabet[b&31]
	}
	return "BOK-" + start.UTC().Format("20060102") + "-" + string(suffix)
}
