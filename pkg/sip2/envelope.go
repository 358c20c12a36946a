package sip2

import "log/slog"

// Error-detection trailer: an optional nine-character suffix
// "AY{seq}AZ{HHHH}" where seq is a single ASCII digit chosen by the SC and
// the hex checksum makes the whole frame sum to zero mod 0x10000.
const trailerLen = 9

func hasTrailer(frame string) bool {
	return len(frame) > trailerLen && frame[len(frame)-trailerLen:len(frame)-trailerLen+2] == FidSeqNo
}

// stripErrorDetection inspects an inbound frame for the checksum trailer.
// It returns the inner frame and whether processing should continue; a
// false return means the checksum failed and the caller must answer with
// a request-SC-resend.
func (s *Session) stripErrorDetection(frame string) (string, bool) {
	// A bare "97" is a resend demand with no trailer of its own; seeing
	// one means the SC is running error detection.
	if frame == MsgRequestACSResend {
		s.ErrorDetection = true
		return frame, true
	}

	if len(frame) > 11 && hasTrailer(frame) {
		s.ErrorDetection = true
		if !VerifyChecksum(frame) {
			slog.Warn("checksum mismatch", "frame", frame)
			return "", false
		}
		s.seqNo = frame[len(frame)-7]
		return frame[:len(frame)-trailerLen], true
	}

	if s.ErrorDetection {
		// The SC negotiated error detection and then dropped it. Process
		// the frame anyway; tolerant servers keep self-check lanes open.
		slog.Warn("error detection enabled but frame has no trailer", "frame", frame)
		s.ErrorDetection = false
	}
	return frame, true
}

// finalize terminates a response: the trailer (reusing the inbound
// sequence number) when error detection is on, then the carriage return.
// The emitted frame, minus the terminator, is remembered for resend
// arbitration.
func (s *Session) finalize(resp string) string {
	if s.ErrorDetection {
		resp += FidSeqNo + string(s.seqNo) + FidChecksum
		resp += ComputeChecksum(resp)
	}
	s.lastResponse = resp
	return resp + "\r"
}

// resendLast answers a "97" request-ACS-resend. With nothing buffered the
// only honest answer is to ask the SC to resend in turn. A buffered
// response is replayed with its trailer removed. The buffer itself is left
// untouched, so back-to-back resends replay the same frame.
func (s *Session) resendLast() string {
	if s.lastResponse == "" {
		return MsgRequestSCResend + "\r"
	}
	if hasTrailer(s.lastResponse) {
		return s.lastResponse[:len(s.lastResponse)-trailerLen] + "\r"
	}
	return s.lastResponse + "\r"
}
