// Package ils defines the contract between the SIP2 message layer and the
// integrated library system that actually performs circulation. The
// message layer only reads these accessors and composes them into
// responses; it never mutates backend data beyond the operations below.
package ils

// Capability names understood by Supports. Unsupported capabilities get a
// defined default in responses: 'U' for magnetic media, an omitted CI
// field for security inhibit.
const (
	CapMagneticMedia   = "magnetic media"
	CapSecurityInhibit = "security inhibit"
)

// SummaryList identifies one of the six detail lists a Patron Information
// request can expand.
type SummaryList int

const (
	HoldItems SummaryList = iota
	OverdueItems
	ChargedItems
	FineItems
	RecallItems
	UnavailableHolds
)

// PatronStatus carries the fourteen condition flags rendered into the
// patron status string. The first four are privileges (OK = blank on the
// wire), the rest are problem indicators (set = 'Y').
type PatronStatus struct {
	ChargeOK           bool
	RenewOK            bool
	RecallOK           bool
	HoldOK             bool
	CardLost           bool
	TooManyCharged     bool
	TooManyOverdue     bool
	TooManyRenewal     bool
	TooManyClaimReturn bool
	TooManyLost        bool
	ExcessiveFines     bool
	ExcessiveFees      bool
	RecallOverdue      bool
	TooManyBilled      bool
}

// Patron is a live patron record. A nil Patron from FindPatron means the
// barcode is unknown.
type Patron interface {
	ID() string
	Name() string
	// Language is the three-digit SIP language code, "000" when unset.
	Language() string
	CheckPassword(pwd string) bool
	Status() PatronStatus
	Currency() string
	// FeeAmount is the outstanding balance, empty when none.
	FeeAmount() string
	ScreenMsg() string
	PrintLine() string
	Address() string
	EmailAddr() string
	HomePhone() string
	Birthdate() string
	PatronClass() string

	Count(list SummaryList) int
	// Items returns one page of a summary list; start and end are
	// 1-based inclusive positions as sent in the BP/BQ fields.
	Items(list SummaryList, start, end int) []string

	// Block marks the account unusable, recording the terminal's blocked
	// card message; cardRetained notes the SC kept the card.
	Block(cardRetained bool, blockedMsg string)
	// Enable lifts a block.
	Enable()
}

// Item is a live item record. A nil Item from FindItem means the barcode
// is unknown.
type Item interface {
	ID() string
	TitleID() string
	PermanentLocation() string
	CurrentLocation() string
	// MediaType is the two-digit SIP media type for the CK field.
	MediaType() string
	Properties() string
	Magnetic() bool
	// CirculationStatus, SecurityMarker and FeeType are the two-digit
	// codes of the item information response.
	CirculationStatus() string
	SecurityMarker() string
	FeeType() string
	Fee() string
	FeeCurrency() string
	Owner() string
	HoldQueueLength() int
	DueDate() string
	RecallDate() string
	HoldPickupDate() string
	ScreenMsg() string
	PrintLine() string

	// StatusUpdate records new item properties sent by the terminal.
	StatusUpdate(props string) *Result
}

// Result is the base transaction outcome. Failure is conveyed through OK,
// never through errors: every handler still owes the SC exactly one
// response.
type Result struct {
	OK        bool
	ScreenMsg string
	PrintLine string
}

// CheckoutResult is the outcome of Checkout, CheckoutNoBlock and Renew.
type CheckoutResult struct {
	Result
	Patron          Patron
	Item            Item
	RenewalOK       bool
	Desensitize     bool
	SecurityInhibit string // "Y"/"N"; empty when the backend has no inhibit support
	FeeAmount       string
	FeeType         string
	TransactionID   string
}

// RenewResult shares the checkout shape; the renew response reads the same
// accessors.
type RenewResult = CheckoutResult

// CheckinResult is the outcome of Checkin and CheckinNoBlock.
type CheckinResult struct {
	Result
	Patron      Patron
	Item        Item
	Resensitize bool
	Alert       bool
	SortBin     string
}

// FeeResult is the outcome of PayFee.
type FeeResult struct {
	Result
	TransactionID string
}

// HoldResult is the outcome of the three hold operations.
type HoldResult struct {
	Result
	Patron         Patron
	Item           Item
	Available      bool
	ExpirationDate string
	QueuePosition  string
	PickupLocation string
}

// RenewAllResult lists the item barcodes that did and did not renew.
type RenewAllResult struct {
	Result
	Renewed   []string
	Unrenewed []string
}

// HoldRequest carries the fields of a "15" message to the backend.
type HoldRequest struct {
	PatronID       string
	PatronPwd      string
	ItemID         string
	TitleID        string
	Expiration     string
	PickupLocation string
	HoldType       string
	FeeAck         bool
}

// FeePayment carries the fields of a "37" message to the backend.
type FeePayment struct {
	PatronID      string
	PatronPwd     string
	FeeAmount     string
	FeeType       string
	PayType       string
	Currency      string
	FeeID         string
	TransactionID string
}

// RenewRequest carries the fields of a "29" message to the backend.
type RenewRequest struct {
	PatronID   string
	PatronPwd  string
	ItemID     string
	TitleID    string
	ItemProps  string
	FeeAck     bool
	NoBlock    bool
	ThirdParty bool
	NBDueDate  string
}

// ILS is the circulation backend. One handle is shared by every
// connection, so implementations must be safe for concurrent use. All
// operations return a non-nil result; failure rides on Result.OK.
type ILS interface {
	Institution() string
	// CheckInstID logs a mismatch between the institution a terminal
	// claims and the one this backend serves; whence names the caller.
	CheckInstID(instID, whence string)
	Supports(capability string) bool

	CheckinOK() bool
	CheckoutOK() bool
	OfflineOK() bool
	StatusUpdateOK() bool

	FindPatron(id string) Patron
	FindItem(id string) Item

	Checkout(patronID, itemID string, scRenewal bool) *CheckoutResult
	// CheckoutNoBlock records a checkout the terminal already performed
	// while offline; enforcement is suppressed.
	CheckoutNoBlock(patronID, itemID, transDate, nbDueDate string) *CheckoutResult
	Checkin(itemID, transDate, returnDate, itemProps string, cancel bool) *CheckinResult
	CheckinNoBlock(itemID, transDate, returnDate, itemProps string) *CheckinResult
	EndPatronSession(patronID string) *Result
	PayFee(p FeePayment) *FeeResult
	AddHold(h HoldRequest) *HoldResult
	CancelHold(h HoldRequest) *HoldResult
	AlterHold(h HoldRequest) *HoldResult
	Renew(r RenewRequest) *RenewResult
	RenewAll(patronID, patronPwd string, feeAck bool) *RenewAllResult
}
