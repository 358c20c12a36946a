package ils

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SQLBackend implements the circulation backend over database/sql. The
// sqlite and postgres constructors differ only in DDL and placeholder
// style; everything else lives here.
type SQLBackend struct {
	db   *sql.DB
	inst string
	// rebind rewrites ?-style placeholders for the driver.
	rebind func(string) string
	now    func() time.Time
}

func rebindPostgres(q string) string {
	var sb strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
		} else {
			sb.WriteByte(q[i])
		}
	}
	return sb.String()
}

func rebindNone(q string) string { return q }

func (s *SQLBackend) exec(q string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.rebind(q), args...)
}

func (s *SQLBackend) queryRow(q string, args ...any) *sql.Row {
	return s.db.QueryRow(s.rebind(q), args...)
}

func (s *SQLBackend) query(q string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.rebind(q), args...)
}

func (s *SQLBackend) Institution() string { return s.inst }

func (s *SQLBackend) CheckInstID(instID, whence string) {
	if instID != s.inst {
		slog.Warn("institution mismatch", "whence", whence, "got", instID, "want", s.inst)
	}
}

func (s *SQLBackend) Supports(capability string) bool {
	return capability == CapMagneticMedia
}

func (s *SQLBackend) CheckinOK() bool      { return true }
func (s *SQLBackend) CheckoutOK() bool     { return true }
func (s *SQLBackend) OfflineOK() bool      { return true }
func (s *SQLBackend) StatusUpdateOK() bool { return true }

func (s *SQLBackend) stamp() string {
	return s.now().Format(sipDateLayout)
}

func (s *SQLBackend) dueDate() string {
	return s.now().Add(14 * 24 * time.Hour).Format(sipDateLayout)
}

func (s *SQLBackend) FindPatron(id string) Patron {
	p := &sqlPatron{backend: s, id: id}
	err := s.queryRow(`SELECT name, pin_hash, language, address, email, phone,
			birthdate, class, currency, fees, blocked, card_lost, screen_msg
		FROM patrons WHERE id = ?`, id).Scan(
		&p.name, &p.pinHash, &p.lang, &p.address, &p.email, &p.phone,
		&p.birthdate, &p.class, &p.currency, &p.fees, &p.blocked,
		&p.cardLost, &p.screenMsg)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		slog.Error("patron lookup failed", "patron", id, "error", err)
		return nil
	}
	return p
}

func (s *SQLBackend) FindItem(id string) Item {
	it := &sqlItem{backend: s, id: id}
	err := s.queryRow(`SELECT title, permanent_location, current_location,
			media_type, props, magnetic, owner, fee, fee_currency
		FROM items WHERE id = ?`, id).Scan(
		&it.title, &it.permLoc, &it.currLoc, &it.media, &it.props,
		&it.magnetic, &it.owner, &it.fee, &it.feeCurr)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		slog.Error("item lookup failed", "item", id, "error", err)
		return nil
	}
	return it
}

func (s *SQLBackend) loan(itemID string) (patronID, due string, ok bool) {
	err := s.queryRow(`SELECT patron_id, due FROM loans WHERE item_id = ?`, itemID).
		Scan(&patronID, &due)
	return patronID, due, err == nil
}

func (s *SQLBackend) holdCount(itemID string) int {
	var n int
	s.queryRow(`SELECT COUNT(*) FROM holds WHERE item_id = ?`, itemID).Scan(&n)
	return n
}

func (s *SQLBackend) Checkout(patronID, itemID string, scRenewal bool) *CheckoutResult {
	st := &CheckoutResult{}
	p := s.FindPatron(patronID)
	it := s.FindItem(itemID)
	if p != nil {
		st.Patron = p
	}
	if it != nil {
		st.Item = it
	}
	switch {
	case p == nil:
		st.ScreenMsg = "Invalid patron barcode"
		return st
	case it == nil:
		st.ScreenMsg = "Invalid item barcode"
		return st
	case !p.Status().ChargeOK:
		st.ScreenMsg = "Patron blocked"
		return st
	}

	holder, _, onLoan := s.loan(itemID)
	switch {
	case onLoan && holder == patronID:
		if !scRenewal {
			st.ScreenMsg = "Item already checked out to you"
			return st
		}
		if _, err := s.exec(`UPDATE loans SET due = ?, renewals = renewals + 1
				WHERE item_id = ?`, s.dueDate(), itemID); err != nil {
			st.ScreenMsg = "Checkout failed"
			slog.Error("renewal via checkout failed", "item", itemID, "error", err)
			return st
		}
		st.RenewalOK = true
	case onLoan:
		st.ScreenMsg = "Item checked out to another patron"
		return st
	default:
		if _, err := s.exec(`INSERT INTO loans (item_id, patron_id, due, renewals)
				VALUES (?, ?, ?, 0)`, itemID, patronID, s.dueDate()); err != nil {
			st.ScreenMsg = "Checkout failed"
			slog.Error("checkout insert failed", "item", itemID, "error", err)
			return st
		}
	}
	st.OK = true
	st.Desensitize = true
	st.Item = s.FindItem(itemID) // reload for the fresh due date
	return st
}

func (s *SQLBackend) CheckoutNoBlock(patronID, itemID, transDate, nbDueDate string) *CheckoutResult {
	st := &CheckoutResult{}
	p := s.FindPatron(patronID)
	it := s.FindItem(itemID)
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	due := nbDueDate
	if strings.TrimSpace(due) == "" {
		due = s.dueDate()
	}
	holder, _, onLoan := s.loan(itemID)
	var err error
	if onLoan && holder == patronID {
		_, err = s.exec(`UPDATE loans SET due = ? WHERE item_id = ?`, due, itemID)
	} else {
		_, err = s.exec(`INSERT INTO loans (item_id, patron_id, due, renewals)
			VALUES (?, ?, ?, 0)`, itemID, patronID, due)
	}
	if err != nil {
		st.ScreenMsg = "Checkout failed"
		slog.Error("no-block checkout failed", "item", itemID, "error", err)
		return st
	}
	s.recordOffline("checkout", patronID, itemID, transDate, nbDueDate)
	st.OK = true
	st.Patron = p
	st.Item = s.FindItem(itemID)
	return st
}

func (s *SQLBackend) Checkin(itemID, transDate, returnDate, itemProps string, cancel bool) *CheckinResult {
	st := &CheckinResult{}
	it := s.FindItem(itemID)
	if it == nil {
		st.ScreenMsg = "Invalid item barcode"
		return st
	}
	st.Item = it
	holder, _, onLoan := s.loan(itemID)
	if !onLoan {
		st.ScreenMsg = "Item not checked out"
		return st
	}
	if _, err := s.exec(`DELETE FROM loans WHERE item_id = ?`, itemID); err != nil {
		st.ScreenMsg = "Checkin failed"
		slog.Error("checkin delete failed", "item", itemID, "error", err)
		return st
	}
	if itemProps != "" {
		s.exec(`UPDATE items SET props = ? WHERE id = ?`, itemProps, itemID)
	}
	if p := s.FindPatron(holder); p != nil {
		st.Patron = p
	}
	st.OK = true
	st.Resensitize = true
	st.Alert = s.holdCount(itemID) > 0
	if st.Alert {
		st.SortBin = "HOLD"
	}
	return st
}

func (s *SQLBackend) CheckinNoBlock(itemID, transDate, returnDate, itemProps string) *CheckinResult {
	st := s.Checkin(itemID, transDate, returnDate, itemProps, false)
	if st.OK {
		s.recordOffline("checkin", "", itemID, transDate, "")
	}
	return st
}

// recordOffline keeps an audit row for every transaction a terminal
// performed while disconnected.
func (s *SQLBackend) recordOffline(kind, patronID, itemID, transDate, nbDueDate string) {
	if _, err := s.exec(`INSERT INTO offline_transactions
			(kind, patron_id, item_id, trans_date, nb_due_date, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		kind, patronID, itemID, transDate, nbDueDate, s.stamp()); err != nil {
		slog.Error("offline transaction audit failed", "kind", kind, "item", itemID, "error", err)
	}
}

func (s *SQLBackend) EndPatronSession(patronID string) *Result {
	return &Result{OK: true, ScreenMsg: "Thank you!"}
}

func (s *SQLBackend) PayFee(f FeePayment) *FeeResult {
	st := &FeeResult{}
	p := s.FindPatron(f.PatronID)
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	paid, err := strconv.ParseFloat(f.FeeAmount, 64)
	if err != nil || paid <= 0 {
		st.ScreenMsg = "Invalid payment amount"
		return st
	}
	owed, _ := strconv.ParseFloat(p.FeeAmount(), 64)
	if paid > owed {
		st.ScreenMsg = "Payment exceeds balance"
		return st
	}
	fees := ""
	if owed-paid > 0 {
		fees = strconv.FormatFloat(owed-paid, 'f', 2, 64)
	}
	if _, err := s.exec(`UPDATE patrons SET fees = ? WHERE id = ?`, fees, f.PatronID); err != nil {
		st.ScreenMsg = "Payment failed"
		slog.Error("fee payment failed", "patron", f.PatronID, "error", err)
		return st
	}
	st.OK = true
	st.TransactionID = fmt.Sprintf("%s-%s", f.PatronID, s.stamp()[:8])
	return st
}

func (s *SQLBackend) AddHold(h HoldRequest) *HoldResult {
	st := &HoldResult{}
	p := s.FindPatron(h.PatronID)
	it := s.FindItem(h.ItemID)
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	var n int
	s.queryRow(`SELECT COUNT(*) FROM holds WHERE item_id = ? AND patron_id = ?`,
		h.ItemID, h.PatronID).Scan(&n)
	if n > 0 {
		st.ScreenMsg = "Hold already placed"
		return st
	}
	pos := s.holdCount(h.ItemID) + 1
	if _, err := s.exec(`INSERT INTO holds
			(item_id, patron_id, position, pickup_location, expiration)
			VALUES (?, ?, ?, ?, ?)`,
		h.ItemID, h.PatronID, pos, h.PickupLocation, h.Expiration); err != nil {
		st.ScreenMsg = "Hold failed"
		slog.Error("hold insert failed", "item", h.ItemID, "error", err)
		return st
	}
	_, _, onLoan := s.loan(h.ItemID)
	st.OK = true
	st.Patron = p
	st.Item = it
	st.Available = !onLoan
	st.ExpirationDate = h.Expiration
	st.PickupLocation = h.PickupLocation
	st.QueuePosition = strconv.Itoa(pos)
	return st
}

func (s *SQLBackend) CancelHold(h HoldRequest) *HoldResult {
	st := &HoldResult{}
	p := s.FindPatron(h.PatronID)
	it := s.FindItem(h.ItemID)
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	res, err := s.exec(`DELETE FROM holds WHERE item_id = ? AND patron_id = ?`,
		h.ItemID, h.PatronID)
	if err != nil {
		st.ScreenMsg = "Cancel failed"
		return st
	}
	if n, _ := res.RowsAffected(); n == 0 {
		st.ScreenMsg = "No hold to cancel"
		return st
	}
	st.OK = true
	st.Patron = p
	st.Item = it
	return st
}

func (s *SQLBackend) AlterHold(h HoldRequest) *HoldResult {
	st := &HoldResult{}
	p := s.FindPatron(h.PatronID)
	it := s.FindItem(h.ItemID)
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	res, err := s.exec(`UPDATE holds SET pickup_location = ?, expiration = ?
			WHERE item_id = ? AND patron_id = ?`,
		h.PickupLocation, h.Expiration, h.ItemID, h.PatronID)
	if err != nil {
		st.ScreenMsg = "Update failed"
		return st
	}
	if n, _ := res.RowsAffected(); n == 0 {
		st.ScreenMsg = "No hold to update"
		return st
	}
	st.OK = true
	st.Patron = p
	st.Item = it
	st.ExpirationDate = h.Expiration
	st.PickupLocation = h.PickupLocation
	return st
}

func (s *SQLBackend) Renew(r RenewRequest) *RenewResult {
	st := &RenewResult{}
	p := s.FindPatron(r.PatronID)
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	st.Patron = p
	it := s.FindItem(r.ItemID)
	if it == nil {
		st.ScreenMsg = "Invalid item barcode"
		return st
	}
	st.Item = it
	holder, _, onLoan := s.loan(r.ItemID)
	switch {
	case !onLoan || holder != r.PatronID:
		st.ScreenMsg = "Item not checked out to you"
	case !p.Status().RenewOK:
		st.ScreenMsg = "Renewals not permitted"
	case s.holdCount(r.ItemID) > 0:
		st.ScreenMsg = "Item on hold for another patron"
	default:
		due := s.dueDate()
		if r.NoBlock && r.NBDueDate != "" {
			due = r.NBDueDate
		}
		if _, err := s.exec(`UPDATE loans SET due = ?, renewals = renewals + 1
				WHERE item_id = ?`, due, r.ItemID); err != nil {
			st.ScreenMsg = "Renewal failed"
			return st
		}
		st.OK = true
		st.RenewalOK = true
		st.Desensitize = true
		st.Item = s.FindItem(r.ItemID)
	}
	return st
}

func (s *SQLBackend) RenewAll(patronID, patronPwd string, feeAck bool) *RenewAllResult {
	st := &RenewAllResult{}
	p := s.FindPatron(patronID)
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	if patronPwd != "" && !p.CheckPassword(patronPwd) {
		st.ScreenMsg = "Invalid password"
		return st
	}
	rows, err := s.query(`SELECT item_id FROM loans WHERE patron_id = ?`, patronID)
	if err != nil {
		st.ScreenMsg = "Renewal failed"
		return st
	}
	var itemIDs []string
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			itemIDs = append(itemIDs, id)
		}
	}
	rows.Close()

	st.OK = true
	renewOK := p.Status().RenewOK
	for _, id := range itemIDs {
		if !renewOK || s.holdCount(id) > 0 {
			st.Unrenewed = append(st.Unrenewed, id)
			continue
		}
		if _, err := s.exec(`UPDATE loans SET due = ?, renewals = renewals + 1
				WHERE item_id = ?`, s.dueDate(), id); err != nil {
			st.Unrenewed = append(st.Unrenewed, id)
			continue
		}
		st.Renewed = append(st.Renewed, id)
	}
	return st
}

// sqlPatron is a row snapshot; status and list accessors query live data
// so a block or checkout taken elsewhere is visible immediately.
type sqlPatron struct {
	backend *SQLBackend

	id        string
	name      string
	pinHash   string
	lang      string
	address   string
	email     string
	phone     string
	birthdate string
	class     string
	currency  string
	fees      string
	blocked   bool
	cardLost  bool
	screenMsg string
}

func (p *sqlPatron) ID() string       { return p.id }
func (p *sqlPatron) Name() string     { return p.name }
func (p *sqlPatron) Language() string { return p.lang }

func (p *sqlPatron) CheckPassword(pwd string) bool {
	if p.pinHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(p.pinHash), []byte(pwd)) == nil
}

func (p *sqlPatron) Status() PatronStatus {
	st := PatronStatus{ChargeOK: true, RenewOK: true, RecallOK: true, HoldOK: true}
	if p.blocked {
		st.ChargeOK = false
		st.RenewOK = false
		st.RecallOK = false
		st.HoldOK = false
	}
	st.CardLost = p.cardLost
	if owed, _ := strconv.ParseFloat(p.fees, 64); owed >= 25 {
		st.ExcessiveFines = true
	}
	now := p.backend.stamp()
	var overdue int
	p.backend.queryRow(`SELECT COUNT(*) FROM loans WHERE patron_id = ? AND due < ?`,
		p.id, now).Scan(&overdue)
	st.TooManyOverdue = overdue >= 10
	return st
}

func (p *sqlPatron) Currency() string    { return p.currency }
func (p *sqlPatron) FeeAmount() string   { return p.fees }
func (p *sqlPatron) ScreenMsg() string   { return p.screenMsg }
func (p *sqlPatron) PrintLine() string   { return "" }
func (p *sqlPatron) Address() string     { return p.address }
func (p *sqlPatron) EmailAddr() string   { return p.email }
func (p *sqlPatron) HomePhone() string   { return p.phone }
func (p *sqlPatron) Birthdate() string   { return p.birthdate }
func (p *sqlPatron) PatronClass() string { return p.class }

func (p *sqlPatron) Count(l SummaryList) int {
	var q string
	args := []any{p.id}
	switch l {
	case ChargedItems:
		q = `SELECT COUNT(*) FROM loans WHERE patron_id = ?`
	case OverdueItems:
		q = `SELECT COUNT(*) FROM loans WHERE patron_id = ? AND due < ?`
		args = append(args, p.backend.stamp())
	case HoldItems:
		q = `SELECT COUNT(*) FROM holds WHERE patron_id = ?`
	default:
		return 0
	}
	var n int
	p.backend.queryRow(q, args...).Scan(&n)
	return n
}

func (p *sqlPatron) Items(l SummaryList, start, end int) []string {
	var q string
	args := []any{p.id}
	switch l {
	case ChargedItems:
		q = `SELECT item_id FROM loans WHERE patron_id = ? ORDER BY item_id`
	case OverdueItems:
		q = `SELECT item_id FROM loans WHERE patron_id = ? AND due < ? ORDER BY item_id`
		args = append(args, p.backend.stamp())
	case HoldItems:
		q = `SELECT item_id FROM holds WHERE patron_id = ? ORDER BY item_id`
	default:
		return nil
	}
	rows, err := p.backend.query(q, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var all []string
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			all = append(all, id)
		}
	}
	if start < 1 {
		start = 1
	}
	if start > len(all) {
		return nil
	}
	if end > len(all) {
		end = len(all)
	}
	if end < start {
		return nil
	}
	return all[start-1 : end]
}

func (p *sqlPatron) Block(cardRetained bool, blockedMsg string) {
	p.blocked = true
	p.cardLost = cardRetained
	p.screenMsg = "Card blocked. Please see library staff"
	if _, err := p.backend.exec(`UPDATE patrons SET blocked = ?, card_lost = ?,
			screen_msg = ? WHERE id = ?`,
		true, cardRetained, p.screenMsg, p.id); err != nil {
		slog.Error("patron block failed", "patron", p.id, "error", err)
	}
	if blockedMsg != "" {
		slog.Info("patron blocked by terminal", "patron", p.id, "msg", blockedMsg)
	}
}

func (p *sqlPatron) Enable() {
	p.blocked = false
	p.cardLost = false
	p.screenMsg = ""
	if _, err := p.backend.exec(`UPDATE patrons SET blocked = ?, card_lost = ?,
			screen_msg = '' WHERE id = ?`, false, false, p.id); err != nil {
		slog.Error("patron enable failed", "patron", p.id, "error", err)
	}
}

// sqlItem is a row snapshot; loan-dependent accessors query live data.
type sqlItem struct {
	backend *SQLBackend

	id       string
	title    string
	permLoc  string
	currLoc  string
	media    string
	props    string
	magnetic bool
	owner    string
	fee      string
	feeCurr  string
}

func (it *sqlItem) ID() string                { return it.id }
func (it *sqlItem) TitleID() string           { return it.title }
func (it *sqlItem) PermanentLocation() string { return it.permLoc }
func (it *sqlItem) CurrentLocation() string   { return it.currLoc }
func (it *sqlItem) MediaType() string         { return it.media }
func (it *sqlItem) Properties() string        { return it.props }
func (it *sqlItem) Magnetic() bool            { return it.magnetic }

func (it *sqlItem) CirculationStatus() string {
	if _, _, onLoan := it.backend.loan(it.id); onLoan {
		return "04"
	}
	if it.backend.holdCount(it.id) > 0 {
		return "08"
	}
	return "03"
}

func (it *sqlItem) SecurityMarker() string { return "02" }
func (it *sqlItem) FeeType() string        { return "01" }
func (it *sqlItem) Fee() string            { return it.fee }
func (it *sqlItem) FeeCurrency() string    { return it.feeCurr }
func (it *sqlItem) Owner() string          { return it.owner }

func (it *sqlItem) HoldQueueLength() int {
	return it.backend.holdCount(it.id)
}

func (it *sqlItem) DueDate() string {
	_, due, _ := it.backend.loan(it.id)
	return due
}

func (it *sqlItem) RecallDate() string     { return "" }
func (it *sqlItem) HoldPickupDate() string { return "" }
func (it *sqlItem) ScreenMsg() string      { return "" }
func (it *sqlItem) PrintLine() string      { return "" }

func (it *sqlItem) StatusUpdate(props string) *Result {
	it.props = props
	if _, err := it.backend.exec(`UPDATE items SET props = ? WHERE id = ?`, props, it.id); err != nil {
		slog.Error("item status update failed", "item", it.id, "error", err)
		return &Result{ScreenMsg: "Update failed"}
	}
	return &Result{OK: true}
}
