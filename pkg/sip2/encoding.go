package sip2

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// normalizeFrame repairs the text of an inner frame to UTF-8. Terminals
// predate Unicode and commonly ship patron names in Latin-1 or a CJK
// codepage; message codes, field IDs and delimiters are plain ASCII in
// every such encoding, so re-decoding the whole frame is safe.
func normalizeFrame(frame string) string {
	if utf8.ValidString(frame) {
		return frame
	}
	data := []byte(frame)

	// The detector misreads GBK as windows-1252 often enough that the
	// CJK codepages get the first shot, Latin-1 the last.
	encoders := []encoding.Encoding{
		simplifiedchinese.GBK,
		japanese.ShiftJIS,
		korean.EUCKR,
	}
	for _, enc := range encoders {
		if decoded, err := decodeWith(data, enc); err == nil && !strings.Contains(decoded, "�") {
			return decoded
		}
	}

	if e, _, _ := charset.DetermineEncoding(data, ""); e != nil {
		if decoded, err := decodeWith(data, e); err == nil && !strings.Contains(decoded, "�") {
			return decoded
		}
	}

	decoded, err := decodeWith(data, charmap.ISO8859_1)
	if err != nil {
		return frame
	}
	return decoded
}

func decodeWith(data []byte, enc encoding.Encoding) (string, error) {
	reader := transform.NewReader(bytes.NewReader(data), enc.NewDecoder())
	d, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(d), nil
}
