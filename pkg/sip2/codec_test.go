package sip2

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestComputeChecksum(t *testing.T) {
	// Byte sum of "9900302.00" is 501; the two's complement of 501 in
	// sixteen bits is 0xFE0B.
	if got := ComputeChecksum("9900302.00"); got != "FE0B" {
		t.Errorf("ComputeChecksum(%q) = %s; want FE0B", "9900302.00", got)
	}
}

func TestVerifyChecksum(t *testing.T) {
	frame := "9900302.00AY1AZ"
	frame += ComputeChecksum(frame)
	if !VerifyChecksum(frame) {
		t.Errorf("VerifyChecksum rejected a frame with a fresh checksum: %q", frame)
	}

	// Flip one byte of the body.
	bad := "9910302.00" + frame[10:]
	if VerifyChecksum(bad) {
		t.Errorf("VerifyChecksum accepted a corrupted frame: %q", bad)
	}

	if VerifyChecksum("AZ1") {
		t.Error("VerifyChecksum accepted a frame shorter than a checksum")
	}
}

func TestChecksumRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.StringMatching(`[ -~]{0,80}`).Draw(t, "body")
		seq := rapid.ByteRange('0', '9').Draw(t, "seq")
		frame := body + "AY" + string(seq) + "AZ"
		frame += ComputeChecksum(frame)
		require.True(t, VerifyChecksum(frame), "frame %q", frame)
	})
}

func TestTimestamp(t *testing.T) {
	ts := Timestamp(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC))
	require.Len(t, ts, 18)
	require.Equal(t, "20060102    150405", ts)
}

func TestRespBuilder(t *testing.T) {
	b := newResp(MsgCheckoutResp, '|')
	b.Byte('1').Bool(false).Raw("U").Bool(true)
	b.AddField(FidPatronID, "djfiander")
	b.MaybeAdd(FidScreenMsg, "")
	b.MaybeAdd(FidTitleID, "Perl 5 desktop reference")
	got := b.String()
	want := "121NUYAAdjfiander|AJPerl 5 desktop reference|"
	if got != want {
		t.Errorf("respBuilder = %q; want %q", got, want)
	}
}

func TestAddCountClamps(t *testing.T) {
	b := newResp(MsgPatronInfoResp, '|')
	b.AddCount("test", -3)
	b.AddCount("test", 12345)
	b.AddCount("test", 42)
	got := strings.TrimPrefix(b.String(), MsgPatronInfoResp)
	if got != "000099990042" {
		t.Errorf("AddCount = %q; want 000099990042", got)
	}
}
