// Package token defines the single-byte token exchanged by the trickle
// consistency protocol, along with its serial-number ordering.
package token

import "fmt"

// Token is the value disseminated by the consistency protocol. It is a
// bounded counter; comparisons between two tokens use serial number
// arithmetic so that values remain ordered across wraparound.
type Token uint8

// Newer reports whether theirs is logically ahead of ours. The comparison
// is the signed modulo-256 difference: theirs is newer iff ours lags it by
// fewer than 128 steps forward. Newer(5, 250) is false and Newer(250, 5)
// is true.
func Newer(ours, theirs Token) bool {
	return int8(ours-theirs) < 0
}

// Next returns the token that follows t in serial order.
func (t Token) Next() Token {
	return t + 1
}

// String implements fmt.Stringer, matching the 0x%02x format used in the
// protocol logs.
func (t Token) String() string {
	return fmt.Sprintf("0x%02x", uint8(t))
}
