package bridge

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	base36Digits     = "0123456789abcdefghijklmnopqrstuvwxyz"
	sessionSuffixLen = 5
)

// NewSessionID returns a per-request correlation token: the current
// Unix time in milliseconds in base 36, followed by five random base-36
// characters.
func NewSessionID() string {
	return newSessionID(time.Now(), rand.IntN)
}

func newSessionID(now time.Time, intn func(int) int) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	for range sessionSuffixLen {
		b.WriteByte(base36Digits[intn(len(base36Digits))])
	}
	return b.String()
}
