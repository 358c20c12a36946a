package sip2

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/yourusername/sip2-server/pkg/ils"
)

// patronStatusString renders the 14-character patron status block. The
// first four positions carry inverted sense: a privilege that is OK shows
// as blank, a denied one as 'Y'.
func patronStatusString(ps ils.PatronStatus) string {
	b := [14]byte{
		denied(ps.ChargeOK),
		denied(ps.RenewOK),
		denied(ps.RecallOK),
		denied(ps.HoldOK),
		boolspace(ps.CardLost),
		boolspace(ps.TooManyCharged),
		boolspace(ps.TooManyOverdue),
		boolspace(ps.TooManyRenewal),
		boolspace(ps.TooManyClaimReturn),
		boolspace(ps.TooManyLost),
		boolspace(ps.ExcessiveFines),
		boolspace(ps.ExcessiveFees),
		boolspace(ps.RecallOverdue),
		boolspace(ps.TooManyBilled),
	}
	return string(b[:])
}

// magneticOrU renders the magnetic-media indicator: the item's flag when
// the backend supports the capability, 'U' (unknown) otherwise.
func magneticOrU(s *Session, item ils.Item) byte {
	if item != nil && s.ILS.Supports(ils.CapMagneticMedia) {
		return sipbool(item.Magnetic())
	}
	return 'U'
}

// addFeeQuartet appends the v2 fee fields when a transaction carries a
// fee: the amount always, currency/type/id when known.
func addFeeQuartet(b *respBuilder, st *ils.CheckoutResult) {
	if st.FeeAmount == "" {
		return
	}
	b.AddField(FidFeeAmount, st.FeeAmount)
	if st.Item != nil {
		b.MaybeAdd(FidCurrency, st.Item.FeeCurrency())
	}
	b.MaybeAdd(FidFeeType, st.FeeType)
	b.MaybeAdd(FidTransactionID, st.TransactionID)
}

// buildPatronStatus composes a "24" patron status response. It serves the
// Patron Status request directly and the Block Patron request with
// language "000".
func buildPatronStatus(s *Session, patron ils.Patron, lang string, m *Message) string {
	b := newResp(MsgPatronStatusResp, s.Delimiter)
	if patron != nil {
		b.Raw(patronStatusString(patron.Status()))
		b.Raw(lang).Raw(s.timestamp())
		b.AddField(FidPersonalName, patron.Name())
		b.AddField(FidPatronID, patron.ID())
		if s.ProtocolVersion >= ProtocolV2 {
			b.AddField(FidValidPatron, "Y")
			if m.HasField(FidPatronPwd) {
				valid := patron.CheckPassword(m.Field(FidPatronPwd))
				b.AddField(FidValidPatronPwd, string(sipbool(valid)))
			}
			b.MaybeAdd(FidCurrency, patron.Currency())
			b.MaybeAdd(FidFeeAmount, patron.FeeAmount())
		}
		b.MaybeAdd(FidScreenMsg, patron.ScreenMsg())
		b.MaybeAdd(FidPrintLine, patron.PrintLine())
	} else {
		// Unknown barcode: all four privileges denied, no flags set.
		b.Raw("YYYY" + strings.Repeat(" ", 10))
		b.Raw(lang).Raw(s.timestamp())
		b.AddField(FidPersonalName, "")
		b.AddField(FidPatronID, m.Field(FidPatronID))
		if s.ProtocolVersion >= ProtocolV2 {
			b.AddField(FidValidPatron, "N")
		}
	}
	b.AddField(FidInstID, m.Field(FidInstID))
	return b.String()
}

func handlePatronStatus(s *Session, m *Message) string {
	lang := m.Fixed[0]
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_patron_status")
	patron := s.ILS.FindPatron(m.Field(FidPatronID))
	return buildPatronStatus(s, patron, lang, m)
}

func handleBlockPatron(s *Session, m *Message) string {
	cardRetained := m.Fixed[0] == "Y"
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_block_patron")
	patron := s.ILS.FindPatron(m.Field(FidPatronID))
	if patron != nil {
		patron.Block(cardRetained, m.Field(FidBlockedCardMsg))
	}
	return buildPatronStatus(s, patron, "000", m)
}

func handleCheckout(s *Session, m *Message) string {
	scRenewal := m.Fixed[0] == "Y"
	noBlock := m.Fixed[1] == "Y"
	transDate, nbDueDate := m.Fixed[2], m.Fixed[3]
	inst := m.Field(FidInstID)
	patronID := m.Field(FidPatronID)
	itemID := m.Field(FidItemID)

	s.ILS.CheckInstID(inst, "handle_checkout")

	var st *ils.CheckoutResult
	if noBlock {
		// The terminal already handed the item over while offline; this
		// is bookkeeping, not authorization.
		slog.Info("no-block checkout", "patron", patronID, "item", itemID)
		st = s.ILS.CheckoutNoBlock(patronID, itemID, transDate, nbDueDate)
	} else {
		st = s.ILS.Checkout(patronID, itemID, scRenewal)
	}

	b := newResp(MsgCheckoutResp, s.Delimiter)
	if st.OK {
		b.Byte('1').Bool(st.RenewalOK)
		b.Byte(magneticOrU(s, st.Item)).Bool(st.Desensitize)
		b.Raw(s.timestamp())
		b.AddField(FidInstID, inst)
		b.AddField(FidPatronID, patronID)
		b.AddField(FidItemID, itemID)
		b.AddField(FidTitleID, st.Item.TitleID())
		b.AddField(FidDueDate, st.Item.DueDate())
		if s.ProtocolVersion >= ProtocolV2 {
			if s.ILS.Supports(ils.CapSecurityInhibit) {
				b.AddField(FidSecurityInhibit, st.SecurityInhibit)
			}
			b.MaybeAdd(FidMediaType, st.Item.MediaType())
			b.MaybeAdd(FidItemProps, st.Item.Properties())
			addFeeQuartet(b, st)
		}
	} else {
		b.Raw("0NUN").Raw(s.timestamp())
		b.AddField(FidInstID, inst)
		b.AddField(FidPatronID, patronID)
		b.AddField(FidItemID, itemID)
		title := ""
		if st.Item != nil {
			title = st.Item.TitleID()
		}
		b.AddField(FidTitleID, title)
		b.AddField(FidDueDate, "")
		if s.ProtocolVersion >= ProtocolV2 {
			b.AddField(FidValidPatron, string(sipbool(st.Patron != nil)))
			if st.Patron != nil && m.HasField(FidPatronPwd) {
				valid := st.Patron.CheckPassword(m.Field(FidPatronPwd))
				b.AddField(FidValidPatronPwd, string(sipbool(valid)))
			}
		}
	}
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleCheckin(s *Session, m *Message) string {
	noBlock := m.Fixed[0] == "Y"
	transDate, returnDate := m.Fixed[1], m.Fixed[2]
	inst := m.Field(FidInstID)
	itemID := m.Field(FidItemID)
	props := m.Field(FidItemProps)

	s.ILS.CheckInstID(inst, "handle_checkin")

	var st *ils.CheckinResult
	if noBlock {
		slog.Info("no-block checkin", "item", itemID)
		st = s.ILS.CheckinNoBlock(itemID, transDate, returnDate, props)
	} else {
		cancel := m.Field(FidCancel) == "Y"
		st = s.ILS.Checkin(itemID, transDate, returnDate, props, cancel)
	}

	b := newResp(MsgCheckinResp, s.Delimiter)
	b.Bool(st.OK).Bool(st.Resensitize)
	b.Byte(magneticOrU(s, st.Item)).Bool(st.Alert)
	b.Raw(s.timestamp())
	b.AddField(FidInstID, inst)
	b.AddField(FidItemID, itemID)
	perm, title := "", ""
	if st.Item != nil {
		perm = st.Item.PermanentLocation()
		title = st.Item.TitleID()
	}
	b.AddField(FidPermanentLocation, perm)
	b.MaybeAdd(FidTitleID, title)
	if s.ProtocolVersion >= ProtocolV2 {
		b.MaybeAdd(FidSortBin, st.SortBin)
		if st.Patron != nil {
			b.AddField(FidPatronID, st.Patron.ID())
		}
		if st.Item != nil {
			b.MaybeAdd(FidMediaType, st.Item.MediaType())
			b.MaybeAdd(FidItemProps, st.Item.Properties())
		}
	}
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleSCStatus(s *Session, m *Message) string {
	status := m.Fixed[0]
	printWidth := m.Fixed[1]
	scProto := m.Fixed[2]

	switch status {
	case "1":
		slog.Warn("terminal reports it is out of paper")
	case "2":
		slog.Warn("terminal reports it is shutting down")
	}
	_ = printWidth // informational; print truncation follows the account

	switch {
	case strings.HasPrefix(scProto, "2"):
		s.ProtocolVersion = ProtocolV2
	case strings.HasPrefix(scProto, "1"):
		s.ProtocolVersion = ProtocolV1
	default:
		slog.Warn("terminal advertises unrecognized protocol version", "version", scProto)
	}

	return acsStatus(s)
}

// acsStatus composes the "98" ACS status body from the backend
// capabilities and the server policy.
func acsStatus(s *Session) string {
	timeout, retries, renewal := 0, 0, false
	screenMsg, printLine := "", ""
	if s.Policy != nil {
		timeout = s.Policy.Timeout
		retries = s.Policy.Retries
		renewal = s.Policy.Renewal
		screenMsg = s.Policy.ScreenMsg
		printLine = s.Policy.PrintLine
	}

	b := newResp(MsgACSStatus, s.Delimiter)
	b.Bool(true) // online
	b.Bool(s.ILS.CheckinOK())
	b.Bool(s.ILS.CheckoutOK())
	b.Bool(renewal)
	b.Bool(s.ILS.StatusUpdateOK())
	b.Bool(s.ILS.OfflineOK())
	b.Raw(fmt.Sprintf("%03d", timeout))
	b.Raw(fmt.Sprintf("%03d", retries))
	b.Raw(s.timestamp())
	b.Raw(VersionString(s.ProtocolVersion))
	b.AddField(FidInstID, s.ILS.Institution())
	if s.ProtocolVersion >= ProtocolV2 {
		b.AddField(FidSupportedMsgs, strings.Repeat("Y", 16))
	}
	b.MaybeAdd(FidScreenMsg, screenMsg)
	if s.Account != nil && s.Account.PrintWidth > 0 && len(printLine) > s.Account.PrintWidth {
		printLine = printLine[:s.Account.PrintWidth]
	}
	b.MaybeAdd(FidPrintLine, printLine)
	return b.String()
}

// handleRequestACSResend is in the table for schema lookup only; the
// envelope intercepts "97" before dispatch so a resent frame never goes
// through finalize again.
func handleRequestACSResend(s *Session, m *Message) string {
	return ""
}

func handleLogin(s *Session, m *Message) string {
	uidAlgo, pwdAlgo := m.Fixed[0], m.Fixed[1]
	uid := m.Field(FidLoginUID)
	pwd := m.Field(FidLoginPwd)

	ok := false
	switch {
	case uidAlgo != "0" || pwdAlgo != "0":
		slog.Warn("login with encrypted credentials not supported",
			"uid_algorithm", uidAlgo, "pwd_algorithm", pwdAlgo)
	case s.Policy == nil || len(s.Policy.Accounts) == 0:
		// No accounts configured: the server runs open and any login is
		// acknowledged.
		ok = true
	default:
		acct := s.Policy.Account(uid)
		if acct == nil {
			slog.Warn("login for unknown account", "uid", uid)
		} else if subtle.ConstantTimeCompare([]byte(acct.Password), []byte(pwd)) == 1 {
			s.Account = acct
			ok = true
		} else {
			slog.Warn("login with invalid password", "uid", uid)
		}
	}
	if loc := m.Field(FidLocationCode); ok && loc != "" {
		slog.Info("terminal login", "uid", uid, "location", loc)
	}

	b := newResp(MsgLoginResp, s.Delimiter)
	if ok {
		b.Byte('1')
	} else {
		b.Byte('0')
	}
	return b.String()
}

// summaryMap binds each summary position of a Patron Information request
// to the field ID its detail lines are emitted under.
var summaryMap = [6]struct {
	fid  string
	list ils.SummaryList
}{
	{FidHoldItems, ils.HoldItems},
	{FidOverdueItems, ils.OverdueItems},
	{FidChargedItems, ils.ChargedItems},
	{FidFineItems, ils.FineItems},
	{FidRecallItems, ils.RecallItems},
	{FidUnavailableHolds, ils.UnavailableHolds},
}

func handlePatronInfo(s *Session, m *Message) string {
	lang := m.Fixed[0]
	summary := m.Fixed[2]
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_patron_info")
	patron := s.ILS.FindPatron(m.Field(FidPatronID))

	b := newResp(MsgPatronInfoResp, s.Delimiter)
	if patron != nil {
		b.Raw(patronStatusString(patron.Status()))
		b.Raw(lang).Raw(s.timestamp())
		for _, sm := range summaryMap {
			b.AddCount("patron_info/"+sm.fid, patron.Count(sm.list))
		}
		b.AddField(FidPatronID, patron.ID())
		b.AddField(FidPersonalName, patron.Name())
		b.MaybeAdd(FidHomeAddr, patron.Address())
		b.MaybeAdd(FidEmail, patron.EmailAddr())
		b.MaybeAdd(FidHomePhone, patron.HomePhone())

		if idx := strings.IndexByte(summary, 'Y'); idx >= 0 && idx < len(summaryMap) {
			start, end := 1, 10
			if v, err := strconv.Atoi(m.Field(FidStartItem)); err == nil && v > 0 {
				start = v
			}
			if v, err := strconv.Atoi(m.Field(FidEndItem)); err == nil && v > 0 {
				end = v
			}
			for _, it := range patron.Items(summaryMap[idx].list, start, end) {
				b.AddField(summaryMap[idx].fid, it)
			}
		}

		b.AddField(FidValidPatron, "Y")
		if m.HasField(FidPatronPwd) {
			valid := patron.CheckPassword(m.Field(FidPatronPwd))
			b.AddField(FidValidPatronPwd, string(sipbool(valid)))
		}
		b.MaybeAdd(FidPatronBirthdate, patron.Birthdate())
		b.MaybeAdd(FidPatronClass, patron.PatronClass())
		b.MaybeAdd(FidScreenMsg, patron.ScreenMsg())
		b.MaybeAdd(FidPrintLine, patron.PrintLine())
	} else {
		b.Raw("YYYY" + strings.Repeat(" ", 10))
		b.Raw(lang).Raw(s.timestamp())
		b.Raw(strings.Repeat("0000", 6))
		b.AddField(FidPersonalName, "")
		b.AddField(FidPatronID, m.Field(FidPatronID))
		b.AddField(FidValidPatron, "N")
	}
	b.AddField(FidInstID, m.Field(FidInstID))
	return b.String()
}

func handleEndPatronSession(s *Session, m *Message) string {
	patronID := m.Field(FidPatronID)
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_end_patron_session")
	st := s.ILS.EndPatronSession(patronID)

	b := newResp(MsgEndSessionResp, s.Delimiter)
	b.Bool(st.OK).Raw(s.timestamp())
	b.AddField(FidInstID, m.Field(FidInstID))
	b.AddField(FidPatronID, patronID)
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleFeePaid(s *Session, m *Message) string {
	// All four fixed fields matter here: transaction date, fee type,
	// payment type, currency.
	feeType, payType, currency := m.Fixed[1], m.Fixed[2], m.Fixed[3]
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_fee_paid")

	st := s.ILS.PayFee(ils.FeePayment{
		PatronID:      m.Field(FidPatronID),
		PatronPwd:     m.Field(FidPatronPwd),
		FeeAmount:     m.Field(FidFeeAmount),
		FeeType:       feeType,
		PayType:       payType,
		Currency:      currency,
		FeeID:         m.Field(FidFeeID),
		TransactionID: m.Field(FidTransactionID),
	})

	b := newResp(MsgFeePaidResp, s.Delimiter)
	b.Bool(st.OK).Raw(s.timestamp())
	b.AddField(FidInstID, m.Field(FidInstID))
	b.AddField(FidPatronID, m.Field(FidPatronID))
	b.MaybeAdd(FidTransactionID, st.TransactionID)
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleItemInformation(s *Session, m *Message) string {
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_item_information")
	itemID := m.Field(FidItemID)
	item := s.ILS.FindItem(itemID)

	b := newResp(MsgItemInformationResp, s.Delimiter)
	if item == nil {
		// circulation status 01 (other), security marker 01 (none),
		// fee type 01 (other)
		b.Raw("010101").Raw(s.timestamp())
		b.AddField(FidItemID, itemID)
		b.AddField(FidTitleID, "")
		return b.String()
	}

	b.Raw(item.CirculationStatus())
	b.Raw(item.SecurityMarker())
	b.Raw(item.FeeType())
	b.Raw(s.timestamp())
	b.AddField(FidItemID, item.ID())
	b.AddField(FidTitleID, item.TitleID())
	b.MaybeAdd(FidMediaType, item.MediaType())
	b.MaybeAdd(FidPermanentLocation, item.PermanentLocation())
	b.MaybeAdd(FidCurrentLocation, item.CurrentLocation())
	b.MaybeAdd(FidItemProps, item.Properties())
	if fee := item.Fee(); fee != "" && fee != "0" && fee != "0.00" {
		b.AddField(FidCurrency, item.FeeCurrency())
		b.AddField(FidFeeAmount, fee)
	}
	b.MaybeAdd(FidOwner, item.Owner())
	if n := item.HoldQueueLength(); n > 0 {
		b.AddField(FidHoldQueueLen, strconv.Itoa(n))
	}
	if due := item.DueDate(); due != "" {
		b.AddField(FidDueDate, due)
	}
	if rd := item.RecallDate(); rd != "" {
		b.AddField(FidRecallDate, rd)
	}
	if hp := item.HoldPickupDate(); hp != "" {
		b.AddField(FidHoldPickupDate, hp)
	}
	b.MaybeAdd(FidScreenMsg, item.ScreenMsg())
	b.MaybeAdd(FidPrintLine, item.PrintLine())
	return b.String()
}

func handleItemStatusUpdate(s *Session, m *Message) string {
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_item_status_update")
	itemID := m.Field(FidItemID)
	if itemID == "" {
		slog.Warn("item status update without item identifier")
	}
	item := s.ILS.FindItem(itemID)

	b := newResp(MsgItemStatusUpdateResp, s.Delimiter)
	if item != nil {
		st := item.StatusUpdate(m.Field(FidItemProps))
		b.Bool(st.OK).Raw(s.timestamp())
		b.AddField(FidItemID, item.ID())
		b.AddField(FidTitleID, item.TitleID())
		b.MaybeAdd(FidItemProps, item.Properties())
		b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
		b.MaybeAdd(FidPrintLine, st.PrintLine)
	} else {
		b.Byte('0').Raw(s.timestamp())
		b.AddField(FidItemID, itemID)
	}
	return b.String()
}

func handlePatronEnable(s *Session, m *Message) string {
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_patron_enable")
	patron := s.ILS.FindPatron(m.Field(FidPatronID))

	b := newResp(MsgPatronEnableResp, s.Delimiter)
	if patron == nil || (m.HasField(FidPatronPwd) && !patron.CheckPassword(m.Field(FidPatronPwd))) {
		b.Raw("YYYY" + strings.Repeat(" ", 10))
		b.Raw("000").Raw(s.timestamp())
		b.AddField(FidPatronID, m.Field(FidPatronID))
		b.AddField(FidPersonalName, "")
		b.AddField(FidValidPatron, "N")
		b.AddField(FidValidPatronPwd, "N")
		return b.String()
	}

	patron.Enable()
	b.Raw(patronStatusString(patron.Status()))
	b.Raw(patron.Language()).Raw(s.timestamp())
	b.AddField(FidPatronID, patron.ID())
	b.AddField(FidPersonalName, patron.Name())
	if m.HasField(FidPatronPwd) {
		b.AddField(FidValidPatronPwd, "Y")
	}
	b.AddField(FidValidPatron, "Y")
	b.MaybeAdd(FidScreenMsg, patron.ScreenMsg())
	b.MaybeAdd(FidPrintLine, patron.PrintLine())
	return b.String()
}

func handleHold(s *Session, m *Message) string {
	mode := m.Fixed[0]
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_hold")

	hr := ils.HoldRequest{
		PatronID:       m.Field(FidPatronID),
		PatronPwd:      m.Field(FidPatronPwd),
		ItemID:         m.Field(FidItemID),
		TitleID:        m.Field(FidTitleID),
		Expiration:     m.Field(FidExpiration),
		PickupLocation: m.Field(FidPickupLocation),
		HoldType:       m.Field(FidHoldType),
		FeeAck:         m.Field(FidFeeAck) == "Y",
	}

	var st *ils.HoldResult
	switch mode {
	case string(HoldModeAdd):
		st = s.ILS.AddHold(hr)
	case string(HoldModeCancel):
		st = s.ILS.CancelHold(hr)
	case string(HoldModeAlter):
		st = s.ILS.AlterHold(hr)
	default:
		slog.Warn("unrecognized hold mode", "mode", mode)
		st = &ils.HoldResult{Result: ils.Result{ScreenMsg: "Unsupported hold mode"}}
	}

	b := newResp(MsgHoldResp, s.Delimiter)
	b.Bool(st.OK).Bool(st.Available).Raw(s.timestamp())
	if st.OK {
		patronID := m.Field(FidPatronID)
		if st.Patron != nil {
			patronID = st.Patron.ID()
		}
		b.AddField(FidPatronID, patronID)
		b.MaybeAdd(FidExpiration, st.ExpirationDate)
		b.MaybeAdd(FidQueuePosition, st.QueuePosition)
		b.MaybeAdd(FidPickupLocation, st.PickupLocation)
		if st.Item != nil {
			b.MaybeAdd(FidItemID, st.Item.ID())
			b.MaybeAdd(FidTitleID, st.Item.TitleID())
		}
	} else {
		b.AddField(FidPatronID, m.Field(FidPatronID))
	}
	b.AddField(FidInstID, m.Field(FidInstID))
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleRenew(s *Session, m *Message) string {
	thirdParty := m.Fixed[0] == "Y"
	noBlock := m.Fixed[1] == "Y"
	if noBlock {
		slog.Info("no-block renew", "patron", m.Field(FidPatronID), "item", m.Field(FidItemID))
	}
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_renew")

	st := s.ILS.Renew(ils.RenewRequest{
		PatronID:   m.Field(FidPatronID),
		PatronPwd:  m.Field(FidPatronPwd),
		ItemID:     m.Field(FidItemID),
		TitleID:    m.Field(FidTitleID),
		ItemProps:  m.Field(FidItemProps),
		FeeAck:     m.Field(FidFeeAck) == "Y",
		NoBlock:    noBlock,
		ThirdParty: thirdParty,
		NBDueDate:  m.Fixed[3],
	})

	b := newResp(MsgRenewResp, s.Delimiter)
	if st.OK {
		b.Byte('1').Bool(st.RenewalOK)
		b.Byte(magneticOrU(s, st.Item)).Bool(st.Desensitize)
		b.Raw(s.timestamp())
		patronID := m.Field(FidPatronID)
		if st.Patron != nil {
			patronID = st.Patron.ID()
		}
		b.AddField(FidPatronID, patronID)
		b.AddField(FidItemID, st.Item.ID())
		b.AddField(FidTitleID, st.Item.TitleID())
		b.AddField(FidDueDate, st.Item.DueDate())
		if s.ILS.Supports(ils.CapSecurityInhibit) {
			b.AddField(FidSecurityInhibit, st.SecurityInhibit)
		}
		b.AddField(FidMediaType, st.Item.MediaType())
		b.MaybeAdd(FidItemProps, st.Item.Properties())
	} else {
		b.Raw("0NUN").Raw(s.timestamp())
		b.AddField(FidPatronID, m.Field(FidPatronID))
		b.AddField(FidItemID, m.Field(FidItemID))
		b.AddField(FidTitleID, m.Field(FidTitleID))
		due := ""
		if st.Item != nil {
			due = st.Item.DueDate()
		}
		b.AddField(FidDueDate, due)
	}
	addFeeQuartet(b, st)
	b.AddField(FidInstID, m.Field(FidInstID))
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}

func handleRenewAll(s *Session, m *Message) string {
	s.ILS.CheckInstID(m.Field(FidInstID), "handle_renew_all")
	st := s.ILS.RenewAll(m.Field(FidPatronID), m.Field(FidPatronPwd), m.Field(FidFeeAck) == "Y")

	b := newResp(MsgRenewAllResp, s.Delimiter)
	b.Bool(st.OK)
	b.AddCount("renew_all/renewed", len(st.Renewed))
	b.AddCount("renew_all/unrenewed", len(st.Unrenewed))
	b.Raw(s.timestamp())
	b.AddField(FidInstID, m.Field(FidInstID))
	for _, id := range st.Renewed {
		b.AddField(FidRenewedItems, id)
	}
	for _, id := range st.Unrenewed {
		b.AddField(FidUnrenewedItems, id)
	}
	b.MaybeAdd(FidScreenMsg, st.ScreenMsg)
	b.MaybeAdd(FidPrintLine, st.PrintLine)
	return b.String()
}
