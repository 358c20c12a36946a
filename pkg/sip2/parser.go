package sip2

import (
	"log/slog"
	"strings"
)

// Message is a request after parsing: the two-character code, the raw
// fixed-position slots in template order, and the recognized variable
// fields. Unset fields are simply absent from the map.
type Message struct {
	Code   string
	Name   string
	Fixed  []string
	Fields map[string]string

	def *msgDef
}

// Field returns the value of a variable field, or "" when it was not sent.
func (m *Message) Field(fid string) string {
	return m.Fields[fid]
}

// HasField reports whether the field was present on the wire, which
// matters for fields like the patron password where presence changes the
// response shape.
func (m *Message) HasField(fid string) bool {
	_, ok := m.Fields[fid]
	return ok
}

// parseMessage turns an inner frame (error-detection trailer already
// stripped) into a Message using the session's protocol version and
// delimiter. A nil return means the frame was discarded; the connection
// stays up either way.
func parseMessage(s *Session, frame string) *Message {
	if len(frame) < 2 {
		slog.Warn("frame too short for a message code", "frame", frame)
		return nil
	}
	code := frame[0:2]

	// The first message of a connection being a Login implies a 2.00
	// terminal, so the upgrade happens before schema lookup.
	if !s.started && code == MsgLogin {
		s.ProtocolVersion = ProtocolV2
	}
	s.started = true

	def, sc := lookupSchema(code, s.ProtocolVersion)
	if def == nil {
		slog.Warn("unknown message code", "code", code)
		return nil
	}
	if sc == nil {
		slog.Warn("message not supported in negotiated protocol version",
			"code", code, "name", def.name, "version", VersionString(s.ProtocolVersion))
		return nil
	}

	if len(frame) < 2+sc.fixedLen {
		slog.Warn("frame shorter than fixed-field section",
			"code", code, "name", def.name, "want", sc.fixedLen, "have", len(frame)-2)
		return nil
	}

	msg := &Message{
		Code:   code,
		Name:   def.name,
		Fields: make(map[string]string),
		def:    def,
	}

	// Fixed-position slots are raw substrings, no trimming.
	pos := 2
	for _, w := range sc.widths {
		msg.Fixed = append(msg.Fixed, frame[pos:pos+w])
		pos += w
	}

	// Variable section: two-byte field ID, value, delimiter. A missing
	// terminator on the last field is tolerated with a warning.
	rest := frame[pos:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			slog.Warn("trailing bytes too short for a field id", "code", code, "rest", rest)
			break
		}
		fid := rest[0:2]
		rest = rest[2:]
		end := strings.IndexByte(rest, s.Delimiter)
		var value string
		if end < 0 {
			slog.Warn("unterminated variable field", "code", code, "field", fid)
			value = rest
			rest = ""
		} else {
			value = rest[:end]
			rest = rest[end+1:]
		}
		if !sc.fields[fid] {
			slog.Warn("unrecognized field for message", "code", code, "field", fid, "value", value)
			continue
		}
		if _, dup := msg.Fields[fid]; dup {
			slog.Warn("duplicate field, keeping first value", "code", code, "field", fid)
			continue
		}
		msg.Fields[fid] = value
	}

	return msg
}
