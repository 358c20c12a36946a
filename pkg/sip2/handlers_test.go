package sip2

import (
	"regexp"
	"strings"
	"testing"
)

func v2Session() *Session {
	s := testSession(testConfig())
	s.Process("9900802.00") // negotiate 2.00
	return s
}

func process(t *testing.T, s *Session, frame string) string {
	t.Helper()
	resp := s.Process(frame)
	if resp == "" {
		t.Fatalf("no response to %q", frame)
	}
	return strings.TrimSuffix(resp, "\r")
}

func TestPatronStatusKnownPatron(t *testing.T) {
	s := testSession(testConfig())
	resp := process(t, s, "23000"+testStamp+"AOUWOLS|AAdjfiander|AC|")

	if !regexp.MustCompile(`^24 {14}000`).MatchString(resp) {
		t.Errorf("patron in good standing, got %q", resp)
	}
	for _, want := range []string{"AEDavid J. Fiander|", "AAdjfiander|", "AOUWOLS|"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
	// 1.00 session: no valid-patron field.
	if strings.Contains(resp, FidValidPatron) {
		t.Errorf("BL field on a 1.00 session: %q", resp)
	}
}

func TestPatronStatusUnknownBarcode(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "23000"+testStamp+"AOUWOLS|AAberick|AC|")

	if !regexp.MustCompile(`^24Y{4} {10}000`).MatchString(resp) {
		t.Errorf("unknown barcode should deny all privileges, got %q", resp)
	}
	for _, want := range []string{"AE|", "AAberick|", "BLN|"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
}

func TestPatronStatusPasswordCheck(t *testing.T) {
	s := v2Session()

	resp := process(t, s, "23000"+testStamp+"AOUWOLS|AAdjfiander|AC|ADwrong|")
	if !strings.Contains(resp, "CQN|") {
		t.Errorf("wrong password should set CQN, got %q", resp)
	}

	resp = process(t, s, "23000"+testStamp+"AOUWOLS|AAdjfiander|AC|AD6789|")
	if !strings.Contains(resp, "CQY|") || !strings.Contains(resp, "BLY|") {
		t.Errorf("correct password should set CQY and BLY, got %q", resp)
	}

	// No password sent: no CQ at all.
	resp = process(t, s, "23000"+testStamp+"AOUWOLS|AAdjfiander|AC|")
	if strings.Contains(resp, FidValidPatronPwd) {
		t.Errorf("CQ present without AD in the request: %q", resp)
	}
}

func TestBlockPatronThenEnable(t *testing.T) {
	s := v2Session()

	resp := process(t, s, "01N"+testStamp+"AOUWOLS|ALCard reported stolen|AAdjfiander|AC|")
	if !regexp.MustCompile(`^24Y{4}`).MatchString(resp) {
		t.Errorf("blocked patron should have privileges denied, got %q", resp)
	}

	resp = process(t, s, "25"+testStamp+"AOUWOLS|AAdjfiander|AC|AD6789|")
	if !regexp.MustCompile(`^26 {4}[ Y]{10}000`).MatchString(resp) {
		t.Errorf("enabled patron should have privileges restored, got %q", resp)
	}
	for _, want := range []string{"CQY|", "BLY|", "AEDavid J. Fiander|"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
}

func TestBlockPatronCardRetained(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "01Y"+testStamp+"AOUWOLS|ALLeft in machine|AAdjfiander|AC|")
	// Card retained sets the card-lost flag (position 4 of the status).
	if resp[6] != 'Y' {
		t.Errorf("card-lost flag not set: %q", resp)
	}
}

func TestPatronEnableWrongPassword(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "25"+testStamp+"AOUWOLS|AAdjfiander|AC|ADwrong|")
	if !regexp.MustCompile(`^26Y{4} {10}000`).MatchString(resp) {
		t.Errorf("enable with a bad password should fail, got %q", resp)
	}
	if !strings.Contains(resp, "CQN|") || !strings.Contains(resp, "BLN|") {
		t.Errorf("expected CQN and BLN, got %q", resp)
	}
}

func TestCheckoutAndCheckin(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)

	resp := process(t, s, "11YN"+testStamp+blank18+
		"AOUWOLS|AAdjfiander|AB1565921879|AC|")
	if !strings.HasPrefix(resp, "121NNY") {
		t.Fatalf("checkout = %q; want 121NNY prefix", resp)
	}
	if !strings.Contains(resp, "AJPerl 5 desktop reference|") {
		t.Errorf("checkout missing title: %q", resp)
	}
	if m := regexp.MustCompile(`AH([^|]+)\|`).FindStringSubmatch(resp); m == nil {
		t.Errorf("checkout missing due date: %q", resp)
	}

	resp = process(t, s, "09N"+testStamp+testStamp+
		"APMAIN|AOUWOLS|AB1565921879|AC|")
	if !strings.HasPrefix(resp, "101YNN") {
		t.Fatalf("checkin = %q; want 101YNN prefix", resp)
	}
	if !strings.Contains(resp, "AQMAIN|") {
		t.Errorf("checkin missing permanent location: %q", resp)
	}
}

func TestCheckoutFailureShape(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)

	resp := process(t, s, "11YN"+testStamp+blank18+
		"AOUWOLS|AAdjfiander|ABno-such-item|AC|")
	if !strings.HasPrefix(resp, "120NUN") {
		t.Fatalf("failed checkout = %q; want 120NUN prefix", resp)
	}
	for _, want := range []string{"AJ|", "AH|", "BLY|"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
}

func TestCheckinNotCheckedOut(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "09N"+testStamp+testStamp+
		"APMAIN|AOUWOLS|AB1565921879|AC|")
	if !strings.HasPrefix(resp, "100") {
		t.Errorf("checkin of a shelved item = %q; want 100 prefix", resp)
	}
	if !strings.Contains(resp, "AFItem not checked out|") {
		t.Errorf("expected a screen message, got %q", resp)
	}
}

func TestRenewFailureShape(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)
	resp := process(t, s, "29NN"+testStamp+blank18+
		"AOUWOLS|AAdjfiander|AB1565921879|AC|")
	if !strings.HasPrefix(resp, "300NUN") {
		t.Errorf("failed renew = %q; want 300NUN prefix", resp)
	}
}

func TestRenewAfterCheckout(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)
	process(t, s, "11YN"+testStamp+blank18+"AOUWOLS|AAdjfiander|AB0440242746|AC|")

	resp := process(t, s, "29NN"+testStamp+blank18+
		"AOUWOLS|AAdjfiander|AB0440242746|AC|")
	if !strings.HasPrefix(resp, "301Y") {
		t.Fatalf("renew = %q; want 301Y prefix", resp)
	}
	if !strings.Contains(resp, "AJThe deep blue alibi|") {
		t.Errorf("renew missing title: %q", resp)
	}
}

func TestPatronInformationSummary(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)
	process(t, s, "11YN"+testStamp+blank18+"AOUWOLS|AAdjfiander|AB1565921879|AC|")

	resp := process(t, s, "63000"+testStamp+"  Y       "+
		"AOUWOLS|AAdjfiander|")
	// Fixed section: status(14) lang(3) stamp(18) then six 4-digit counts.
	counts := resp[37:61]
	if counts != "000000000001000000000000" {
		t.Errorf("counts = %q; want one charged item", counts)
	}
	for _, want := range []string{
		"AU1565921879|",
		"AEDavid J. Fiander|",
		"BEdjfiander@hotmail.com|",
		"BLY|",
		"PCA|",
	} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
	if !strings.HasSuffix(resp, "AOUWOLS|") {
		t.Errorf("institution should close the response: %q", resp)
	}
}

func TestPatronInformationUnknownBarcode(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "63000"+testStamp+"          "+"AOUWOLS|AAwho|")
	if !regexp.MustCompile(`^64Y{4} {10}000`).MatchString(resp) {
		t.Errorf("unknown patron info = %q", resp)
	}
	if resp[37:61] != strings.Repeat("0000", 6) {
		t.Errorf("unknown patron should report zero counts: %q", resp)
	}
	if !strings.Contains(resp, "BLN|") {
		t.Errorf("expected BLN, got %q", resp)
	}
}

func TestEndPatronSession(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "35"+testStamp+"AOUWOLS|AAdjfiander|")
	if !strings.HasPrefix(resp, "361") {
		t.Errorf("end session = %q; want 361 prefix", resp)
	}
	if !strings.Contains(resp, "AAdjfiander|") {
		t.Errorf("end session missing patron: %q", resp)
	}
}

func TestFeePaid(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "37"+testStamp+"0100USD"+"BV5.00|AOUWOLS|AAmiker|")
	if !strings.HasPrefix(resp, "381") {
		t.Fatalf("fee paid = %q; want 381 prefix", resp)
	}
	if !strings.Contains(resp, FidTransactionID) {
		t.Errorf("fee paid missing transaction id: %q", resp)
	}

	// Paying more than the balance fails.
	resp = process(t, s, "37"+testStamp+"0100USD"+"BV5.00|AOUWOLS|AAmiker|")
	if !strings.HasPrefix(resp, "380") {
		t.Errorf("overpayment = %q; want 380 prefix", resp)
	}
}

func TestItemInformation(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "17"+testStamp+"AOUWOLS|AB1565921879|")
	if !strings.HasPrefix(resp, "18030201") {
		t.Fatalf("item info = %q; want 18030201 prefix", resp)
	}
	for _, want := range []string{"AB1565921879|", "AJPerl 5 desktop reference|", "AQMAIN|"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q: %q", want, resp)
		}
	}
}

func TestItemInformationUnknownBarcode(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "17"+testStamp+"AOUWOLS|ABmissing|")
	if !strings.HasPrefix(resp, "18010101") {
		t.Errorf("unknown item info = %q; want 18010101 prefix", resp)
	}
	if !strings.Contains(resp, "ABmissing|") || !strings.Contains(resp, "AJ|") {
		t.Errorf("unknown item should echo the barcode with an empty title: %q", resp)
	}
}

func TestItemStatusUpdate(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "19"+testStamp+"AOUWOLS|AB1565921879|CHspine damaged|")
	if !strings.HasPrefix(resp, "201") {
		t.Fatalf("item status update = %q; want 201 prefix", resp)
	}
	if !strings.Contains(resp, "CHspine damaged|") {
		t.Errorf("updated properties not echoed: %q", resp)
	}

	resp = process(t, s, "19"+testStamp+"AOUWOLS|ABmissing|")
	if !strings.HasPrefix(resp, "200") {
		t.Errorf("unknown item update = %q; want 200 prefix", resp)
	}
	if strings.Contains(resp, FidScreenMsg) {
		t.Errorf("failed update should carry no screen message: %q", resp)
	}
}

func TestHoldLifecycle(t *testing.T) {
	s := v2Session()

	resp := process(t, s, "15+"+testStamp+"AOUWOLS|AAdjfiander|AB0440242746|")
	if !strings.HasPrefix(resp, "161Y") {
		t.Fatalf("add hold = %q; want 161Y prefix", resp)
	}
	if !strings.Contains(resp, "BR1|") {
		t.Errorf("hold missing queue position: %q", resp)
	}

	resp = process(t, s, "15-"+testStamp+"AOUWOLS|AAdjfiander|AB0440242746|")
	if !strings.HasPrefix(resp, "161") {
		t.Errorf("cancel hold = %q; want 161 prefix", resp)
	}

	resp = process(t, s, "15-"+testStamp+"AOUWOLS|AAdjfiander|AB0440242746|")
	if !strings.HasPrefix(resp, "160") {
		t.Errorf("double cancel = %q; want 160 prefix", resp)
	}
}

func TestHoldUnknownMode(t *testing.T) {
	s := v2Session()
	resp := process(t, s, "15?"+testStamp+"AOUWOLS|AAdjfiander|AB0440242746|")
	if !strings.HasPrefix(resp, "160") {
		t.Errorf("unknown hold mode = %q; want 160 prefix", resp)
	}
}

func TestRenewAll(t *testing.T) {
	s := v2Session()
	blank18 := strings.Repeat(" ", 18)
	process(t, s, "11YN"+testStamp+blank18+"AOUWOLS|AAdjfiander|AB1565921879|AC|")
	process(t, s, "11YN"+testStamp+blank18+"AOUWOLS|AAdjfiander|AB0440242746|AC|")

	resp := process(t, s, "65"+testStamp+"AOUWOLS|AAdjfiander|")
	if !strings.HasPrefix(resp, "6610002"+"0000") {
		t.Fatalf("renew all = %q; want 661 with 0002 renewed", resp)
	}
	if !strings.Contains(resp, "BM1565921879|") || !strings.Contains(resp, "BM0440242746|") {
		t.Errorf("renewed items not listed: %q", resp)
	}
}
