package sip2

import (
	"log/slog"
	"time"

	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/ils"
)

// Session is the per-connection mutable state. It lives exactly as long as
// one connection and is owned by that connection's goroutine; nothing here
// needs locking. The protocol-level knobs that used to be process globals
// in older ACS implementations (delimiter, version, error detection, last
// response) all live here.
type Session struct {
	Delimiter       byte
	ErrorDetection  bool
	ProtocolVersion int
	Account         *config.Account
	ILS             ils.ILS
	Policy          *config.Config

	// Expected, when non-empty, short-circuits any inbound code other
	// than the expected one; "97" resend requests are always honored.
	Expected string

	seqNo        byte
	lastResponse string
	started      bool
	now          func() time.Time
}

// NewSession creates the state for one freshly accepted connection. The
// protocol version starts at 1.00 and upgrades on the first Login or an
// SC Status advertising 2.xx.
func NewSession(cfg *config.Config, backend ils.ILS) *Session {
	delim := byte(DefaultDelimiter)
	if cfg != nil && cfg.Delimiter != "" {
		delim = cfg.Delimiter[0]
	}
	return &Session{
		Delimiter:       delim,
		ProtocolVersion: ProtocolV1,
		ILS:             backend,
		Policy:          cfg,
		now:             time.Now,
	}
}

func (s *Session) timestamp() string {
	return Timestamp(s.now())
}

// loginRequired reports whether this session still has to authenticate
// before circulation messages are dispatched. Servers configured without
// accounts run open, which is how test rigs and trusted-network setups
// deploy.
func (s *Session) loginRequired() bool {
	return s.Account == nil && s.Policy != nil && len(s.Policy.Accounts) > 0
}

// Process runs one inbound frame through the envelope, the parser and the
// handler, and returns the exact bytes to write back. An empty return
// means the frame was absorbed without a response; the connection stays
// open in every case.
func (s *Session) Process(frame string) string {
	inner, ok := s.stripErrorDetection(frame)
	if !ok {
		// Bad checksum: ask the SC to resend, never touch the handler.
		return MsgRequestSCResend + "\r"
	}

	// Charset repair happens after checksum verification: the trailer
	// was computed by the terminal over the bytes it actually sent.
	msg := parseMessage(s, normalizeFrame(inner))
	if msg == nil {
		return ""
	}

	// Resend arbitration replays the previous response verbatim and must
	// not run through finalize again: a resent message carries no
	// sequence number.
	if msg.Code == MsgRequestACSResend {
		return s.resendLast()
	}

	if s.Expected != "" && msg.Code != s.Expected {
		slog.Warn("unexpected message while awaiting reply",
			"got", msg.Code, "want", s.Expected)
		return ""
	}

	if s.loginRequired() && msg.Code != MsgLogin && msg.Code != MsgSCStatus {
		slog.Warn("message refused before login", "code", msg.Code, "name", msg.Name)
		return ""
	}

	resp := msg.def.handler(s, msg)
	if resp == "" {
		return ""
	}
	return s.finalize(resp)
}
