package sip2

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client is the terminal side of the protocol, used by the probe command
// and the integration tests. It speaks to any SIP ACS, not just this one.
type Client struct {
	addr    string
	timeout time.Duration

	// ErrorDetection, when set before sending, appends the AY/AZ trailer
	// to every request and verifies it on every response.
	ErrorDetection bool
	// Delimiter must match the server's field delimiter.
	Delimiter byte

	conn   net.Conn
	reader *bufio.Reader
	seq    byte
}

// Dial connects to a SIP server.
func Dial(addr string) (*Client, error) {
	c := &Client{
		addr:      addr,
		timeout:   10 * time.Second,
		Delimiter: DefaultDelimiter,
		seq:       '0',
	}
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return c, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Send writes one request and reads one response. The request is the
// message code plus the fixed-field section plus ordered variable
// fields; Send appends the delimiter per field and, with error detection
// on, the sequence trailer.
func (c *Client) Send(code, fixed string, fields [][2]string) (string, error) {
	var sb strings.Builder
	sb.WriteString(code)
	sb.WriteString(fixed)
	for _, f := range fields {
		sb.WriteString(f[0])
		sb.WriteString(f[1])
		sb.WriteByte(c.Delimiter)
	}
	msg := sb.String()
	if c.ErrorDetection {
		msg += FidSeqNo + string(c.seq) + FidChecksum
		msg += ComputeChecksum(msg)
		c.seq++
		if c.seq > '9' {
			c.seq = '0'
		}
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(msg + "\r")); err != nil {
		return "", err
	}
	resp, err := c.reader.ReadString('\r')
	if err != nil {
		return "", err
	}
	resp = strings.TrimRight(resp, "\r")
	if c.ErrorDetection && hasTrailer(resp) && !VerifyChecksum(resp) {
		return resp, fmt.Errorf("sip2: response checksum mismatch")
	}
	return resp, nil
}

// ParseFields scans the variable-field section of a response, given the
// width of its fixed section. Unknown field IDs are kept; the client has
// no reason to police the server's vocabulary.
func ParseFields(resp string, fixedLen int, delim byte) map[string]string {
	fields := make(map[string]string)
	if len(resp) < 2+fixedLen {
		return fields
	}
	rest := resp[2+fixedLen:]
	for len(rest) >= 2 {
		fid := rest[0:2]
		if fid == FidSeqNo {
			break
		}
		rest = rest[2:]
		end := strings.IndexByte(rest, delim)
		if end < 0 {
			fields[fid] = rest
			break
		}
		if _, dup := fields[fid]; !dup {
			fields[fid] = rest[:end]
		}
		rest = rest[end+1:]
	}
	return fields
}

func (c *Client) expect(resp, code string, fixedLen int) error {
	if len(resp) < 2+fixedLen || resp[0:2] != code {
		return fmt.Errorf("sip2: unexpected response %q", resp)
	}
	return nil
}

// Login sends a "93" and reports whether the server accepted the
// credentials.
func (c *Client) Login(uid, pwd, location string) (bool, error) {
	fields := [][2]string{{FidLoginUID, uid}, {FidLoginPwd, pwd}}
	if location != "" {
		fields = append(fields, [2]string{FidLocationCode, location})
	}
	resp, err := c.Send(MsgLogin, "00", fields)
	if err != nil {
		return false, err
	}
	if err := c.expect(resp, MsgLoginResp, 1); err != nil {
		return false, err
	}
	return resp[2] == '1', nil
}

// ACSStatus is the decoded "98" response.
type ACSStatus struct {
	OnLine         bool
	CheckinOK      bool
	CheckoutOK     bool
	RenewalPolicy  bool
	StatusUpdateOK bool
	OfflineOK      bool
	Version        string
	Institution    string
	Fields         map[string]string
}

// SCStatus sends a "99" announcing the given protocol version and
// decodes the ACS status reply.
func (c *Client) SCStatus(version string) (*ACSStatus, error) {
	resp, err := c.Send(MsgSCStatus, "0"+"080"+version, nil)
	if err != nil {
		return nil, err
	}
	// 98 fixed section: six flags, timeout, retries, timestamp, version.
	const fixedLen = 6 + 3 + 3 + 18 + 4
	if err := c.expect(resp, MsgACSStatus, fixedLen); err != nil {
		return nil, err
	}
	f := resp[2:]
	st := &ACSStatus{
		OnLine:         f[0] == 'Y',
		CheckinOK:      f[1] == 'Y',
		CheckoutOK:     f[2] == 'Y',
		RenewalPolicy:  f[3] == 'Y',
		StatusUpdateOK: f[4] == 'Y',
		OfflineOK:      f[5] == 'Y',
		Version:        f[30:34],
		Fields:         ParseFields(resp, fixedLen, c.Delimiter),
	}
	st.Institution = st.Fields[FidInstID]
	return st, nil
}

// PatronStatus sends a "23" and returns the 14-character status block
// plus the variable fields.
func (c *Client) PatronStatus(inst, patronID, patronPwd string) (string, map[string]string, error) {
	fields := [][2]string{
		{FidInstID, inst},
		{FidPatronID, patronID},
		{FidTerminalPwd, ""},
	}
	if patronPwd != "" {
		fields = append(fields, [2]string{FidPatronPwd, patronPwd})
	}
	resp, err := c.Send(MsgPatronStatus, "000"+Timestamp(time.Now()), fields)
	if err != nil {
		return "", nil, err
	}
	const fixedLen = 14 + 3 + 18
	if err := c.expect(resp, MsgPatronStatusResp, fixedLen); err != nil {
		return "", nil, err
	}
	return resp[2:16], ParseFields(resp, fixedLen, c.Delimiter), nil
}

// PatronInformation sends a "63" asking for the charged-items summary.
func (c *Client) PatronInformation(inst, patronID, patronPwd string) (map[string]string, error) {
	fields := [][2]string{
		{FidInstID, inst},
		{FidPatronID, patronID},
	}
	if patronPwd != "" {
		fields = append(fields, [2]string{FidPatronPwd, patronPwd})
	}
	summary := "  Y       "
	resp, err := c.Send(MsgPatronInfo, "000"+Timestamp(time.Now())+summary, fields)
	if err != nil {
		return nil, err
	}
	const fixedLen = 14 + 3 + 18 + 24
	if err := c.expect(resp, MsgPatronInfoResp, fixedLen); err != nil {
		return nil, err
	}
	return ParseFields(resp, fixedLen, c.Delimiter), nil
}

// Checkout sends an "11" and reports success plus the response fields.
func (c *Client) Checkout(inst, patronID, itemID string) (bool, map[string]string, error) {
	now := Timestamp(time.Now())
	fixed := "YN" + now + strings.Repeat(" ", 18)
	fields := [][2]string{
		{FidInstID, inst},
		{FidPatronID, patronID},
		{FidItemID, itemID},
		{FidTerminalPwd, ""},
	}
	resp, err := c.Send(MsgCheckout, fixed, fields)
	if err != nil {
		return false, nil, err
	}
	const fixedLen = 4 + 18
	if err := c.expect(resp, MsgCheckoutResp, fixedLen); err != nil {
		return false, nil, err
	}
	return resp[2] == '1', ParseFields(resp, fixedLen, c.Delimiter), nil
}

// Checkin sends an "09" and reports success plus the response fields.
func (c *Client) Checkin(inst, itemID, location string) (bool, map[string]string, error) {
	now := Timestamp(time.Now())
	fixed := "N" + now + now
	fields := [][2]string{
		{FidCurrentLocation, location},
		{FidInstID, inst},
		{FidItemID, itemID},
		{FidTerminalPwd, ""},
	}
	resp, err := c.Send(MsgCheckin, fixed, fields)
	if err != nil {
		return false, nil, err
	}
	const fixedLen = 4 + 18
	if err := c.expect(resp, MsgCheckinResp, fixedLen); err != nil {
		return false, nil, err
	}
	return resp[2] == '1', ParseFields(resp, fixedLen, c.Delimiter), nil
}

// ItemInformation sends a "17".
func (c *Client) ItemInformation(inst, itemID string) (map[string]string, error) {
	resp, err := c.Send(MsgItemInformation, Timestamp(time.Now()), [][2]string{
		{FidInstID, inst},
		{FidItemID, itemID},
	})
	if err != nil {
		return nil, err
	}
	const fixedLen = 6 + 18
	if err := c.expect(resp, MsgItemInformationResp, fixedLen); err != nil {
		return nil, err
	}
	return ParseFields(resp, fixedLen, c.Delimiter), nil
}
