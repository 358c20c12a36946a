package sip2

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SIP2 timestamps are a fixed 18 characters: YYYYMMDDZZZZHHMMSS, where the
// four-character ZZZZ slot carries blanks for local time.
const sipDateLayout = "20060102    150405"

// Timestamp formats t in the SIP2 wire format.
func Timestamp(t time.Time) string {
	return t.Format(sipDateLayout)
}

// ComputeChecksum calculates the SIP2 checksum over data: the four-hex-digit
// two's complement of the byte sum, so that the whole frame including the
// checksum sums to zero mod 0x10000. The sum runs over raw bytes, not runes;
// SIP2 is an 8-bit protocol.
func ComputeChecksum(data string) string {
	sum := 0
	for i := 0; i < len(data); i++ {
		sum += int(data[i])
	}
	return fmt.Sprintf("%04X", (-sum)&0xFFFF)
}

// VerifyChecksum recomputes the checksum of a frame whose last four
// characters are the received hex checksum and compares the two.
func VerifyChecksum(raw string) bool {
	if len(raw) < 4 {
		return false
	}
	received := raw[len(raw)-4:]
	return ComputeChecksum(raw[:len(raw)-4]) == received
}

// sipbool renders the plain Y/N boolean used in most status positions.
func sipbool(b bool) byte {
	if b {
		return 'Y'
	}
	return 'N'
}

// denied renders the inverted-sense booleans of patron status bits 0-3:
// a privilege that is OK shows as blank, a denied one as 'Y'.
func denied(ok bool) byte {
	if ok {
		return ' '
	}
	return 'Y'
}

// boolspace renders patron status bits 4-13: 'Y' when the condition holds,
// blank otherwise.
func boolspace(b bool) byte {
	if b {
		return 'Y'
	}
	return ' '
}

// respBuilder accumulates a response frame: the two-character code, the
// fixed-position section, then delimited variable fields.
type respBuilder struct {
	sb    strings.Builder
	delim byte
}

func newResp(code string, delim byte) *respBuilder {
	b := &respBuilder{delim: delim}
	b.sb.WriteString(code)
	return b
}

func (b *respBuilder) Raw(s string) *respBuilder {
	b.sb.WriteString(s)
	return b
}

func (b *respBuilder) Byte(c byte) *respBuilder {
	b.sb.WriteByte(c)
	return b
}

func (b *respBuilder) Bool(v bool) *respBuilder {
	b.sb.WriteByte(sipbool(v))
	return b
}

// AddField emits "{fid}{value}{delimiter}". Required fields are emitted
// even when the value is empty.
func (b *respBuilder) AddField(fid, value string) *respBuilder {
	b.sb.WriteString(fid)
	b.sb.WriteString(value)
	b.sb.WriteByte(b.delim)
	return b
}

// MaybeAdd emits the field only when the value is non-empty.
func (b *respBuilder) MaybeAdd(fid, value string) *respBuilder {
	if value == "" {
		return b
	}
	return b.AddField(fid, value)
}

// AddCount appends a zero-padded four-digit decimal count to the fixed
// section. Out-of-range counts are clamped and logged; the SC would choke
// on anything wider than four digits.
func (b *respBuilder) AddCount(label string, n int) *respBuilder {
	if n < 0 {
		slog.Warn("negative count in response", "label", label, "count", n)
		n = 0
	}
	if n > 9999 {
		slog.Warn("count overflows four digits", "label", label, "count", n)
		n = 9999
	}
	fmt.Fprintf(&b.sb, "%04d", n)
	return b
}

func (b *respBuilder) String() string {
	return b.sb.String()
}
