package sip2

// SIP2 message codes. Request codes arrive from the SC (self-check
// terminal); response codes are emitted by the ACS, which is us.
const (
	MsgBlockPatron          = "01"
	MsgCheckin              = "09"
	MsgCheckinResp          = "10"
	MsgCheckout             = "11"
	MsgCheckoutResp         = "12"
	MsgHold                 = "15"
	MsgHoldResp             = "16"
	MsgItemInformation      = "17"
	MsgItemInformationResp  = "18"
	MsgItemStatusUpdate     = "19"
	MsgItemStatusUpdateResp = "20"
	MsgPatronStatus         = "23"
	MsgPatronStatusResp     = "24"
	MsgPatronEnable         = "25"
	MsgPatronEnableResp     = "26"
	MsgRenew                = "29"
	MsgRenewResp            = "30"
	MsgEndPatronSession     = "35"
	MsgEndSessionResp       = "36"
	MsgFeePaid              = "37"
	MsgFeePaidResp          = "38"
	MsgPatronInfo           = "63"
	MsgPatronInfoResp       = "64"
	MsgRenewAll             = "65"
	MsgRenewAllResp         = "66"
	MsgLogin                = "93"
	MsgLoginResp            = "94"
	MsgRequestSCResend      = "96"
	MsgRequestACSResend     = "97"
	MsgACSStatus            = "98"
	MsgSCStatus             = "99"
)

// Variable-length field identifiers. Every variable field on the wire is
// the two-character ID, the value, and the session delimiter.
const (
	FidPatronID          = "AA"
	FidItemID            = "AB"
	FidTerminalPwd       = "AC"
	FidPatronPwd         = "AD"
	FidPersonalName      = "AE"
	FidScreenMsg         = "AF"
	FidPrintLine         = "AG"
	FidDueDate           = "AH"
	FidTitleID           = "AJ"
	FidBlockedCardMsg    = "AL"
	FidLibraryName       = "AM"
	FidTerminalLocation  = "AN"
	FidInstID            = "AO"
	FidCurrentLocation   = "AP"
	FidPermanentLocation = "AQ"
	FidHoldItems         = "AS"
	FidOverdueItems      = "AT"
	FidChargedItems      = "AU"
	FidFineItems         = "AV"
	FidSeqNo             = "AY"
	FidChecksum          = "AZ"
	FidHomeAddr          = "BD"
	FidEmail             = "BE"
	FidHomePhone         = "BF"
	FidOwner             = "BG"
	FidCurrency          = "BH"
	FidCancel            = "BI"
	FidTransactionID     = "BK"
	FidValidPatron       = "BL"
	FidRenewedItems      = "BM"
	FidUnrenewedItems    = "BN"
	FidFeeAck            = "BO"
	FidStartItem         = "BP"
	FidEndItem           = "BQ"
	FidQueuePosition     = "BR"
	FidPickupLocation    = "BS"
	FidFeeType           = "BT"
	FidRecallItems       = "BU"
	FidFeeAmount         = "BV"
	FidExpiration        = "BW"
	FidSupportedMsgs     = "BX"
	FidHoldType          = "BY"
	FidHoldItemsLimit    = "BZ"
	FidOverdueItemsLimit = "CA"
	FidChargedItemsLimit = "CB"
	FidFeeLimit          = "CC"
	FidUnavailableHolds  = "CD"
	FidHoldQueueLen      = "CF"
	FidFeeID             = "CG"
	FidItemProps         = "CH"
	FidSecurityInhibit   = "CI"
	FidRecallDate        = "CJ"
	FidMediaType         = "CK"
	FidSortBin           = "CL"
	FidHoldPickupDate    = "CM"
	FidLoginUID          = "CN"
	FidLoginPwd          = "CO"
	FidLocationCode      = "CP"
	FidValidPatronPwd    = "CQ"
	FidPatronBirthdate   = "PB"
	FidPatronClass       = "PC"
)

// Protocol versions a session can negotiate. Every session starts at 1 and
// upgrades to 2 on the first Login or an SC Status advertising 2.xx.
const (
	ProtocolV1 = 1
	ProtocolV2 = 2
)

// VersionString is the four-character protocol version emitted in the ACS
// status response.
func VersionString(v int) string {
	if v >= ProtocolV2 {
		return "2.00"
	}
	return "1.00"
}

// Hold message modes (first fixed field of a "15" request).
const (
	HoldModeAdd    = '+'
	HoldModeCancel = '-'
	HoldModeAlter  = '*'
)

// Default field delimiter. Configurable per server, never per account,
// because login happens before an account is selected.
const DefaultDelimiter = '|'
