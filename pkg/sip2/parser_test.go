package sip2

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestParseCheckout(t *testing.T) {
	s := v2Session()
	frame := "11YN" + testStamp + strings.Repeat(" ", 18) +
		"AOUWOLS|AAdjfiander|AB1565921879|AC|"
	msg := parseMessage(s, frame)
	if msg == nil {
		t.Fatal("checkout frame did not parse")
	}
	if msg.Code != MsgCheckout || msg.Name != "Checkout" {
		t.Errorf("parsed %s %q", msg.Code, msg.Name)
	}
	if len(msg.Fixed) != 4 {
		t.Fatalf("fixed fields = %d; want 4", len(msg.Fixed))
	}
	if msg.Fixed[0] != "Y" || msg.Fixed[1] != "N" {
		t.Errorf("renewal/no-block flags = %q %q", msg.Fixed[0], msg.Fixed[1])
	}
	if msg.Fixed[2] != testStamp {
		t.Errorf("transaction date = %q", msg.Fixed[2])
	}
	if msg.Field(FidPatronID) != "djfiander" || msg.Field(FidItemID) != "1565921879" {
		t.Errorf("fields = %v", msg.Fields)
	}
	if !msg.HasField(FidTerminalPwd) || msg.Field(FidTerminalPwd) != "" {
		t.Errorf("empty terminal password should be present and empty")
	}
}

func TestParseSkipsUnknownField(t *testing.T) {
	s := v2Session()
	frame := "23000" + testStamp + "AOUWOLS|ZZbogus|AAdjfiander|"
	msg := parseMessage(s, frame)
	if msg == nil {
		t.Fatal("frame did not parse")
	}
	if msg.HasField("ZZ") {
		t.Error("unknown field was kept")
	}
	if msg.Field(FidPatronID) != "djfiander" {
		t.Errorf("field after the unknown one was lost: %v", msg.Fields)
	}
}

func TestParseKeepsFirstDuplicate(t *testing.T) {
	s := v2Session()
	frame := "23000" + testStamp + "AOUWOLS|AAfirst|AAsecond|"
	msg := parseMessage(s, frame)
	if msg == nil {
		t.Fatal("frame did not parse")
	}
	if msg.Field(FidPatronID) != "first" {
		t.Errorf("duplicate handling kept %q; want first", msg.Field(FidPatronID))
	}
}

func TestParseUnterminatedLastField(t *testing.T) {
	s := v2Session()
	frame := "23000" + testStamp + "AOUWOLS|AAdjfiander"
	msg := parseMessage(s, frame)
	if msg == nil {
		t.Fatal("frame did not parse")
	}
	if msg.Field(FidPatronID) != "djfiander" {
		t.Errorf("unterminated field = %q; want djfiander", msg.Field(FidPatronID))
	}
}

func TestParseShortFrameDropped(t *testing.T) {
	s := v2Session()
	if msg := parseMessage(s, "2300"); msg != nil {
		t.Errorf("truncated frame parsed: %+v", msg)
	}
	if msg := parseMessage(s, "2"); msg != nil {
		t.Errorf("one-byte frame parsed: %+v", msg)
	}
}

func TestParsePatronStatusRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := v2Session()
		patron := rapid.StringMatching(`[a-z0-9]{1,20}`).Draw(t, "patron")
		pwd := rapid.StringMatching(`[a-zA-Z0-9 ]{0,12}`).Draw(t, "pwd")
		frame := "23000" + testStamp + "AOUWOLS|AA" + patron + "|AC|AD" + pwd + "|"
		msg := parseMessage(s, frame)
		if msg == nil {
			t.Fatalf("frame did not parse: %q", frame)
		}
		if got := msg.Field(FidPatronID); got != patron {
			t.Fatalf("patron id = %q; want %q", got, patron)
		}
		if got := msg.Field(FidPatronPwd); got != pwd {
			t.Fatalf("patron pwd = %q; want %q", got, pwd)
		}
	})
}
