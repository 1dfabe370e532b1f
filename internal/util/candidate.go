// Package util provides shared utility functions.
package util

import (
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

// CandidateKey identifies a remote ICE candidate by its candidate line and
// m-line. Two candidates share a key only when all three fields are equal.
func CandidateKey(c webrtc.ICECandidateInit) string {
	var b strings.Builder
	b.WriteString(c.Candidate)
	b.WriteByte('|')
	if c.SDPMid != nil {
		b.WriteString(*c.SDPMid)
	}
	b.WriteByte('|')
	if c.SDPMLineIndex != nil {
		b.WriteString(strconv.Itoa(int(*c.SDPMLineIndex)))
	}
	return b.String()
}
