package maildir

import (
	"encoding/base32"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sequence is the process-wide mid sequence counter. It wraps around at
// 2^64, which in practice is never reached.
var sequence atomic.Uint64

// NextSequence returns the next value of the process-wide mid sequence
// counter, starting at 1.
func NextSequence() uint64 {
	return sequence.Add(1)
}

var guidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewMid returns a new message id of the form
// "<time_epoch>.<sequence_counter>.<host_id>", using the next value of
// the process-wide sequence counter.
func NewMid(hostID string) string {
	return fmt.Sprintf("%d.%d.%s", time.Now().Unix(), NextSequence(), hostID)
}

// NewMidWithDate returns a message id of the form
// "<time_epoch>.g<base32_guid>.<host_id>", used when the client supplied
// an internal date for the message being appended. base32_guid is a
// random v4 UUID, base32-encoded without padding and lower-cased.
func NewMidWithDate(hostID string, internalDate time.Time) string {
	id := uuid.New()
	g := guidEncoding.EncodeToString(id[:])
	g = toLower(g)
	return fmt.Sprintf("%d.g%s.%s", internalDate.Unix(), g, hostID)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// InternalDateFromMid parses the numeric epoch prefix out of mid, for use
// as a fallback INTERNALDATE when a message's digest carries no usable
// Received header.
func InternalDateFromMid(mid string) (time.Time, bool) {
	i := 0
	for i < len(mid) && mid[i] != '.' {
		i++
	}
	if i == 0 || i >= len(mid) {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(mid[:i], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
