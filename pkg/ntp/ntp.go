// Package ntp contains functions to convert capture times from and to the NTP format
// used by RTCP sender reports.
package ntp

import (
	"time"
)

// seconds between 1st January 1900 and 1st January 1970
const unixOffset = 2208988800

// Encode encodes a time in NTP format.
// Higher 32 bits are seconds since 1st January 1900, lower 32 bits are the fractional part.
// Specification: RFC3550, section 4
func Encode(t time.Time) uint64 {
	v := uint64(t.UnixNano()) + unixOffset*uint64(time.Second)
	secs := v / uint64(time.Second)
	frac := ((v%uint64(time.Second))<<32 + uint64(time.Second)/2) / uint64(time.Second)
	return secs<<32 | frac
}

// Decode decodes a time in NTP format.
// Specification: RFC3550, section 4
func Decode(v uint64) time.Time {
	secs := int64(v>>32) - unixOffset
	nanos := int64(((v&0xFFFFFFFF)*uint64(time.Second) + 1<<31) >> 32)
	return time.Unix(secs, nanos)
}
