package ils

import (
	"path/filepath"
	"testing"
	"time"
)

func testSQLite(t *testing.T) *SQLBackend {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "circ.db"), "UWOLS")
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	t.Cleanup(func() { s.db.Close() })
	s.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func TestSQLiteSeededRecords(t *testing.T) {
	s := testSQLite(t)

	p := s.FindPatron("djfiander")
	if p == nil {
		t.Fatal("seeded patron missing")
	}
	if p.Name() != "David J. Fiander" {
		t.Errorf("name = %q", p.Name())
	}
	if !p.CheckPassword("6789") {
		t.Error("seeded PIN rejected")
	}
	if p.CheckPassword("wrong") {
		t.Error("wrong PIN accepted")
	}

	if it := s.FindItem("1565921879"); it == nil || it.TitleID() != "Perl 5 desktop reference" {
		t.Errorf("seeded item missing or wrong: %v", it)
	}
	if s.FindPatron("nobody") != nil {
		t.Error("unknown patron found")
	}
}

func TestSQLiteSeedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "circ.db")
	s1, err := NewSQLite(path, "UWOLS")
	if err != nil {
		t.Fatal(err)
	}
	s1.db.Close()

	s2, err := NewSQLite(path, "UWOLS")
	if err != nil {
		t.Fatal(err)
	}
	defer s2.db.Close()

	var n int
	if err := s2.queryRow(`SELECT COUNT(*) FROM patrons`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("patron rows after reopen = %d; want 2", n)
	}
}

func TestSQLiteCheckoutLifecycle(t *testing.T) {
	s := testSQLite(t)

	st := s.Checkout("djfiander", "1565921879", false)
	if !st.OK {
		t.Fatalf("checkout failed: %s", st.ScreenMsg)
	}
	if st.Item.DueDate() == "" {
		t.Error("no due date recorded")
	}
	if got := s.FindPatron("djfiander").Count(ChargedItems); got != 1 {
		t.Errorf("charged count = %d; want 1", got)
	}
	if got := s.FindItem("1565921879").CirculationStatus(); got != "04" {
		t.Errorf("circulation status = %q; want 04", got)
	}

	if st := s.Checkout("miker", "1565921879", false); st.OK {
		t.Error("double checkout succeeded")
	}

	r := s.Renew(RenewRequest{PatronID: "djfiander", ItemID: "1565921879"})
	if !r.OK || !r.RenewalOK {
		t.Errorf("renew: ok=%v renewal=%v msg=%s", r.OK, r.RenewalOK, r.ScreenMsg)
	}

	ci := s.Checkin("1565921879", "", "", "", false)
	if !ci.OK {
		t.Fatalf("checkin failed: %s", ci.ScreenMsg)
	}
	if got := s.FindItem("1565921879").CirculationStatus(); got != "03" {
		t.Errorf("circulation status after checkin = %q; want 03", got)
	}
}

func TestSQLiteOfflineAudit(t *testing.T) {
	s := testSQLite(t)

	st := s.CheckoutNoBlock("djfiander", "1565921879",
		"20260824    100000", "20260901    235900")
	if !st.OK {
		t.Fatalf("no-block checkout failed: %s", st.ScreenMsg)
	}
	s.CheckinNoBlock("1565921879", "20260824    110000", "", "")

	var n int
	if err := s.queryRow(`SELECT COUNT(*) FROM offline_transactions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("offline audit rows = %d; want 2", n)
	}
}

func TestSQLiteBlockAndHolds(t *testing.T) {
	s := testSQLite(t)

	s.FindPatron("djfiander").Block(true, "retained")
	p := s.FindPatron("djfiander")
	if st := p.Status(); st.ChargeOK || !st.CardLost {
		t.Errorf("status after block = %+v", st)
	}
	if co := s.Checkout("djfiander", "1565921879", false); co.OK {
		t.Error("blocked patron checked out")
	}
	p.Enable()
	if co := s.Checkout("djfiander", "1565921879", false); !co.OK {
		t.Errorf("enabled patron refused: %s", co.ScreenMsg)
	}

	h := s.AddHold(HoldRequest{PatronID: "miker", ItemID: "1565921879", PickupLocation: "MAIN"})
	if !h.OK || h.Available {
		t.Errorf("hold: ok=%v available=%v", h.OK, h.Available)
	}
	if r := s.Renew(RenewRequest{PatronID: "djfiander", ItemID: "1565921879"}); r.OK {
		t.Error("renewal succeeded with pending hold")
	}
	if c := s.CancelHold(HoldRequest{PatronID: "miker", ItemID: "1565921879"}); !c.OK {
		t.Errorf("cancel hold failed: %s", c.ScreenMsg)
	}
}

func TestSQLitePayFee(t *testing.T) {
	s := testSQLite(t)
	st := s.PayFee(FeePayment{PatronID: "miker", FeeAmount: "5.00"})
	if !st.OK {
		t.Fatalf("payment failed: %s", st.ScreenMsg)
	}
	if got := s.FindPatron("miker").FeeAmount(); got != "" {
		t.Errorf("balance = %q; want empty", got)
	}
}

func TestSQLiteOverdueLoans(t *testing.T) {
	s := testSQLite(t)
	s.Checkout("djfiander", "1565921879", false)
	s.now = func() time.Time {
		return time.Date(2026, 10, 24, 12, 0, 0, 0, time.UTC)
	}
	loans := s.OverdueLoans()
	if len(loans) != 1 {
		t.Fatalf("overdue loans = %d; want 1", len(loans))
	}
	if loans[0].PatronID != "djfiander" {
		t.Errorf("overdue loan = %+v", loans[0])
	}
}
