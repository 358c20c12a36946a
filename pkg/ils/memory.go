package ils

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const sipDateLayout = "20060102    150405"

// Memory is a self-contained circulation backend holding everything in
// maps. It backs the default configuration and the protocol tests; the
// seed records give a terminal something to circulate out of the box.
type Memory struct {
	mu      sync.RWMutex
	inst    string
	patrons map[string]*memPatron
	items   map[string]*memItem
	loanTxn int

	now func() time.Time
}

// NewMemory creates an empty in-memory backend for the institution.
func NewMemory(inst string) *Memory {
	return &Memory{
		inst:    inst,
		patrons: make(map[string]*memPatron),
		items:   make(map[string]*memItem),
		now:     time.Now,
	}
}

// NewMemorySeeded creates an in-memory backend with a small circulation
// dataset: two patrons and three items.
func NewMemorySeeded(inst string) *Memory {
	m := NewMemory(inst)
	m.AddPatron(&PatronRecord{
		ID:       "djfiander",
		Name:     "David J. Fiander",
		Password: "6789",
		Language: "000",
		Address:  "2 Meadowvale Dr. St Thomas, ON",
		Email:    "djfiander@hotmail.com",
		Phone:    "(519) 555 1234",
		Class:    "A",
	})
	m.AddPatron(&PatronRecord{
		ID:        "miker",
		Name:      "Mike Rylander",
		Language:  "001",
		FeeAmount: "5.00",
		Currency:  "USD",
		Class:     "A",
	})
	m.AddItem(&ItemRecord{
		ID:       "1565921879",
		Title:    "Perl 5 desktop reference",
		Location: "MAIN",
		Media:    "01",
	})
	m.AddItem(&ItemRecord{
		ID:       "0440242746",
		Title:    "The deep blue alibi",
		Location: "MAIN",
		Media:    "01",
	})
	m.AddItem(&ItemRecord{
		ID:       "660",
		Title:    "Harry Potter y el cáliz de fuego",
		Location: "MAIN",
		Media:    "01",
		Magnetic: true,
	})
	return m
}

// PatronRecord seeds one patron into a Memory backend.
type PatronRecord struct {
	ID        string
	Name      string
	Password  string
	Language  string
	Address   string
	Email     string
	Phone     string
	Birthdate string
	Class     string
	Currency  string
	FeeAmount string
}

// ItemRecord seeds one item into a Memory backend.
type ItemRecord struct {
	ID       string
	Title    string
	Location string
	Media    string
	Props    string
	Magnetic bool
	Owner    string
}

// AddPatron registers a patron; a seeded patron starts unblocked with all
// privileges.
func (m *Memory) AddPatron(r *PatronRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lang := r.Language
	if lang == "" {
		lang = "000"
	}
	m.patrons[r.ID] = &memPatron{
		backend:   m,
		id:        r.ID,
		name:      r.Name,
		pwd:       r.Password,
		lang:      lang,
		address:   r.Address,
		email:     r.Email,
		phone:     r.Phone,
		birthdate: r.Birthdate,
		class:     r.Class,
		currency:  r.Currency,
		fees:      r.FeeAmount,
		status: PatronStatus{
			ChargeOK: true, RenewOK: true, RecallOK: true, HoldOK: true,
		},
	}
}

// AddItem registers an item on the shelf.
func (m *Memory) AddItem(r *ItemRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := r.Location
	if loc == "" {
		loc = "MAIN"
	}
	m.items[r.ID] = &memItem{
		backend:  m,
		id:       r.ID,
		title:    r.Title,
		permLoc:  loc,
		currLoc:  loc,
		media:    r.Media,
		props:    r.Props,
		magnetic: r.Magnetic,
		owner:    r.Owner,
	}
}

func (m *Memory) Institution() string { return m.inst }

func (m *Memory) CheckInstID(instID, whence string) {
	if instID != m.inst {
		slog.Warn("institution mismatch", "whence", whence, "got", instID, "want", m.inst)
	}
}

func (m *Memory) Supports(capability string) bool {
	switch capability {
	case CapMagneticMedia:
		return true
	case CapSecurityInhibit:
		return false
	}
	return false
}

func (m *Memory) CheckinOK() bool      { return true }
func (m *Memory) CheckoutOK() bool     { return true }
func (m *Memory) OfflineOK() bool      { return true }
func (m *Memory) StatusUpdateOK() bool { return true }

func (m *Memory) FindPatron(id string) Patron {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patrons[id]
	if !ok {
		return nil
	}
	return p
}

func (m *Memory) FindItem(id string) Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil
	}
	return it
}

func (m *Memory) nextTxn() string {
	m.loanTxn++
	return fmt.Sprintf("%06d", m.loanTxn)
}

func (m *Memory) Checkout(patronID, itemID string, scRenewal bool) *CheckoutResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &CheckoutResult{}
	p := m.patrons[patronID]
	it := m.items[itemID]
	if p != nil {
		st.Patron = p
	}
	if it != nil {
		st.Item = it
	}
	switch {
	case p == nil:
		st.ScreenMsg = "Invalid patron barcode"
	case it == nil:
		st.ScreenMsg = "Invalid item barcode"
	case !p.status.ChargeOK:
		st.ScreenMsg = "Patron blocked"
	case it.chargedTo == patronID:
		// Already out to this patron: a checkout doubles as a renewal.
		if !scRenewal {
			st.ScreenMsg = "Item already checked out to you"
			return st
		}
		it.due = m.dueDate()
		st.OK = true
		st.RenewalOK = true
		st.Desensitize = true
		st.TransactionID = m.nextTxn()
	case it.chargedTo != "":
		st.ScreenMsg = "Item checked out to another patron"
	default:
		it.chargedTo = patronID
		it.due = m.dueDate()
		p.charged = append(p.charged, itemID)
		st.OK = true
		st.Desensitize = true
		st.TransactionID = m.nextTxn()
	}
	return st
}

func (m *Memory) CheckoutNoBlock(patronID, itemID, transDate, nbDueDate string) *CheckoutResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &CheckoutResult{}
	p := m.patrons[patronID]
	it := m.items[itemID]
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	// The terminal already released the item while offline; record the
	// loan regardless of blocks.
	if it.chargedTo != patronID {
		it.chargedTo = patronID
		p.charged = append(p.charged, itemID)
	}
	if nbDueDate != "" {
		it.due = nbDueDate
	} else {
		it.due = m.dueDate()
	}
	st.OK = true
	st.Patron = p
	st.Item = it
	st.TransactionID = m.nextTxn()
	return st
}

func (m *Memory) Checkin(itemID, transDate, returnDate, itemProps string, cancel bool) *CheckinResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &CheckinResult{}
	it := m.items[itemID]
	if it == nil {
		st.ScreenMsg = "Invalid item barcode"
		return st
	}
	st.Item = it
	if it.chargedTo == "" {
		st.ScreenMsg = "Item not checked out"
		return st
	}
	p := m.patrons[it.chargedTo]
	if p != nil {
		st.Patron = p
		p.charged = remove(p.charged, itemID)
	}
	it.chargedTo = ""
	it.due = ""
	if itemProps != "" {
		it.props = itemProps
	}
	st.OK = true
	st.Resensitize = true
	st.Alert = len(it.holdQueue) > 0
	if st.Alert {
		st.SortBin = "HOLD"
	}
	return st
}

func (m *Memory) CheckinNoBlock(itemID, transDate, returnDate, itemProps string) *CheckinResult {
	return m.Checkin(itemID, transDate, returnDate, itemProps, false)
}

func (m *Memory) EndPatronSession(patronID string) *Result {
	return &Result{OK: true, ScreenMsg: "Thank you!"}
}

func (m *Memory) PayFee(f FeePayment) *FeeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &FeeResult{}
	p := m.patrons[f.PatronID]
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	paid, err := strconv.ParseFloat(f.FeeAmount, 64)
	if err != nil || paid <= 0 {
		st.ScreenMsg = "Invalid payment amount"
		return st
	}
	owed, _ := strconv.ParseFloat(p.fees, 64)
	if paid > owed {
		st.ScreenMsg = "Payment exceeds balance"
		return st
	}
	if owed-paid > 0 {
		p.fees = strconv.FormatFloat(owed-paid, 'f', 2, 64)
	} else {
		p.fees = ""
	}
	st.OK = true
	st.TransactionID = m.nextTxn()
	return st
}

func (m *Memory) AddHold(h HoldRequest) *HoldResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &HoldResult{}
	p := m.patrons[h.PatronID]
	it := m.items[h.ItemID]
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	for _, id := range it.holdQueue {
		if id == h.PatronID {
			st.ScreenMsg = "Hold already placed"
			return st
		}
	}
	it.holdQueue = append(it.holdQueue, h.PatronID)
	p.holds = append(p.holds, h.ItemID)
	st.OK = true
	st.Patron = p
	st.Item = it
	st.Available = it.chargedTo == ""
	st.ExpirationDate = h.Expiration
	st.PickupLocation = h.PickupLocation
	st.QueuePosition = strconv.Itoa(len(it.holdQueue))
	return st
}

func (m *Memory) CancelHold(h HoldRequest) *HoldResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &HoldResult{}
	p := m.patrons[h.PatronID]
	it := m.items[h.ItemID]
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	before := len(it.holdQueue)
	it.holdQueue = remove(it.holdQueue, h.PatronID)
	if len(it.holdQueue) == before {
		st.ScreenMsg = "No hold to cancel"
		return st
	}
	p.holds = remove(p.holds, h.ItemID)
	st.OK = true
	st.Patron = p
	st.Item = it
	return st
}

func (m *Memory) AlterHold(h HoldRequest) *HoldResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &HoldResult{}
	p := m.patrons[h.PatronID]
	it := m.items[h.ItemID]
	if p == nil || it == nil {
		st.ScreenMsg = "Invalid barcode"
		return st
	}
	for _, id := range it.holdQueue {
		if id == h.PatronID {
			st.OK = true
			st.Patron = p
			st.Item = it
			st.ExpirationDate = h.Expiration
			st.PickupLocation = h.PickupLocation
			return st
		}
	}
	st.ScreenMsg = "No hold to update"
	return st
}

func (m *Memory) Renew(r RenewRequest) *RenewResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &RenewResult{}
	p := m.patrons[r.PatronID]
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	st.Patron = p
	itemID := r.ItemID
	if itemID == "" && r.TitleID != "" {
		itemID = m.itemByTitle(r.TitleID)
	}
	it := m.items[itemID]
	if it == nil {
		st.ScreenMsg = "Invalid item barcode"
		return st
	}
	st.Item = it
	switch {
	case it.chargedTo != r.PatronID:
		st.ScreenMsg = "Item not checked out to you"
	case !p.status.RenewOK:
		st.ScreenMsg = "Renewals not permitted"
	case len(it.holdQueue) > 0:
		st.ScreenMsg = "Item on hold for another patron"
	default:
		if r.NoBlock && r.NBDueDate != "" {
			it.due = r.NBDueDate
		} else {
			it.due = m.dueDate()
		}
		st.OK = true
		st.RenewalOK = true
		st.Desensitize = true
		st.TransactionID = m.nextTxn()
	}
	return st
}

func (m *Memory) RenewAll(patronID, patronPwd string, feeAck bool) *RenewAllResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &RenewAllResult{}
	p := m.patrons[patronID]
	if p == nil {
		st.ScreenMsg = "Invalid patron barcode"
		return st
	}
	if p.pwd != "" && patronPwd != "" &&
		subtle.ConstantTimeCompare([]byte(p.pwd), []byte(patronPwd)) != 1 {
		st.ScreenMsg = "Invalid password"
		return st
	}
	st.OK = true
	for _, itemID := range p.charged {
		it := m.items[itemID]
		if it == nil {
			continue
		}
		if !p.status.RenewOK || len(it.holdQueue) > 0 {
			st.Unrenewed = append(st.Unrenewed, itemID)
			continue
		}
		it.due = m.dueDate()
		st.Renewed = append(st.Renewed, itemID)
	}
	return st
}

func (m *Memory) dueDate() string {
	return m.now().Add(14 * 24 * time.Hour).Format(sipDateLayout)
}

func (m *Memory) itemByTitle(title string) string {
	for id, it := range m.items {
		if it.title == title {
			return id
		}
	}
	return ""
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// memPatron is guarded by its backend's lock; accessor methods take the
// read lock themselves because handlers call them outside any backend
// operation.
type memPatron struct {
	backend *Memory

	id        string
	name      string
	pwd       string
	lang      string
	address   string
	email     string
	phone     string
	birthdate string
	class     string
	currency  string
	fees      string
	screenMsg string
	printLine string
	status    PatronStatus

	charged []string
	holds   []string
	overdue []string
	fines   []string
	recalls []string
	unavail []string
}

func (p *memPatron) ID() string   { return p.id }
func (p *memPatron) Name() string { return p.name }

func (p *memPatron) Language() string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.lang
}

func (p *memPatron) CheckPassword(pwd string) bool {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	if p.pwd == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(p.pwd), []byte(pwd)) == 1
}

func (p *memPatron) Status() PatronStatus {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.status
}

func (p *memPatron) Currency() string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.currency
}

func (p *memPatron) FeeAmount() string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.fees
}

func (p *memPatron) ScreenMsg() string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.screenMsg
}

func (p *memPatron) PrintLine() string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return p.printLine
}

func (p *memPatron) Address() string     { return p.address }
func (p *memPatron) EmailAddr() string   { return p.email }
func (p *memPatron) HomePhone() string   { return p.phone }
func (p *memPatron) Birthdate() string   { return p.birthdate }
func (p *memPatron) PatronClass() string { return p.class }

func (p *memPatron) list(l SummaryList) []string {
	switch l {
	case HoldItems:
		return p.holds
	case OverdueItems:
		return p.overdue
	case ChargedItems:
		return p.charged
	case FineItems:
		return p.fines
	case RecallItems:
		return p.recalls
	case UnavailableHolds:
		return p.unavail
	}
	return nil
}

func (p *memPatron) Count(l SummaryList) int {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	return len(p.list(l))
}

func (p *memPatron) Items(l SummaryList, start, end int) []string {
	p.backend.mu.RLock()
	defer p.backend.mu.RUnlock()
	items := p.list(l)
	if start < 1 {
		start = 1
	}
	if start > len(items) {
		return nil
	}
	if end > len(items) {
		end = len(items)
	}
	if end < start {
		return nil
	}
	out := make([]string, end-start+1)
	copy(out, items[start-1:end])
	return out
}

func (p *memPatron) Block(cardRetained bool, blockedMsg string) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	p.status.ChargeOK = false
	p.status.RenewOK = false
	p.status.RecallOK = false
	p.status.HoldOK = false
	p.status.CardLost = cardRetained
	p.screenMsg = "Card blocked. Please see library staff"
	if blockedMsg != "" {
		slog.Info("patron blocked by terminal", "patron", p.id, "msg", blockedMsg)
	}
}

func (p *memPatron) Enable() {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	p.status.ChargeOK = true
	p.status.RenewOK = true
	p.status.RecallOK = true
	p.status.HoldOK = true
	p.status.CardLost = false
	p.screenMsg = ""
}

// memItem is guarded by its backend's lock, same discipline as memPatron.
type memItem struct {
	backend *Memory

	id        string
	title     string
	permLoc   string
	currLoc   string
	media     string
	props     string
	magnetic  bool
	owner     string
	chargedTo string
	due       string
	recall    string
	holdPick  string
	fee       string
	feeCurr   string
	screenMsg string
	printLine string
	holdQueue []string
}

func (it *memItem) ID() string      { return it.id }
func (it *memItem) TitleID() string { return it.title }

func (it *memItem) PermanentLocation() string { return it.permLoc }

func (it *memItem) CurrentLocation() string {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	return it.currLoc
}

func (it *memItem) MediaType() string { return it.media }

func (it *memItem) Properties() string {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	return it.props
}

func (it *memItem) Magnetic() bool { return it.magnetic }

// Two-digit circulation status: 03 available, 04 charged, 08 waiting on
// the hold shelf.
func (it *memItem) CirculationStatus() string {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	switch {
	case it.chargedTo != "":
		return "04"
	case len(it.holdQueue) > 0:
		return "08"
	}
	return "03"
}

func (it *memItem) SecurityMarker() string { return "02" }
func (it *memItem) FeeType() string        { return "01" }

func (it *memItem) Fee() string {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	return it.fee
}

func (it *memItem) FeeCurrency() string { return it.feeCurr }
func (it *memItem) Owner() string       { return it.owner }

func (it *memItem) HoldQueueLength() int {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	return len(it.holdQueue)
}

func (it *memItem) DueDate() string {
	it.backend.mu.RLock()
	defer it.backend.mu.RUnlock()
	return it.due
}

func (it *memItem) RecallDate() string     { return it.recall }
func (it *memItem) HoldPickupDate() string { return it.holdPick }

func (it *memItem) ScreenMsg() string { return it.screenMsg }
func (it *memItem) PrintLine() string { return it.printLine }

func (it *memItem) StatusUpdate(props string) *Result {
	it.backend.mu.Lock()
	defer it.backend.mu.Unlock()
	it.props = props
	return &Result{OK: true}
}
