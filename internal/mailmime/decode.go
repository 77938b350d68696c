// Package mailmime decodes raw mail bytes into structured messages: transfer
// encodings, header encoded-words, charsets and multipart bodies. Decoding
// never fails outright; every stage degrades to a best-effort representation
// of the original bytes.
package mailmime

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	mcharset "github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeTransferEncoding reverses a Content-Transfer-Encoding. Unknown or
// identity encodings (7bit, 8bit, binary) return the input unchanged, and a
// payload that fails to decode is returned as-is rather than dropped.
func DecodeTransferEncoding(data []byte, transferEncoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		cleaned := removeWhitespace(data)
		if out, err := base64.StdEncoding.DecodeString(string(cleaned)); err == nil {
			return out
		}
		if out, err := base64.RawStdEncoding.DecodeString(string(cleaned)); err == nil {
			return out
		}
		return data
	case "quoted-printable":
		return decodeQuotedPrintable(data)
	default:
		return data
	}
}

// decodeQuotedPrintable decodes RFC 2045 quoted-printable bytes. "=" followed
// by CR, LF or CRLF is a soft line break and disappears; "=XX" is a
// hex-encoded byte; a malformed escape is kept literally.
func decodeQuotedPrintable(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		switch {
		case i+1 < len(data) && data[i+1] == '\r':
			i++
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
		case i+1 < len(data) && data[i+1] == '\n':
			i++
		case i+2 < len(data):
			hi, okHi := hexVal(data[i+1])
			lo, okLo := hexVal(data[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
			} else {
				out = append(out, c)
			}
		case i+1 == len(data):
			// Trailing "=" at end of input is a soft break with no line
			// to continue; drop it.
		default:
			out = append(out, c)
		}
	}
	return out
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

func removeWhitespace(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			out = append(out, c)
		}
	}
	return out
}

// DecodeCharset reinterprets decoded bytes using the declared charset and
// returns UTF-8 text. Resolution order: the known charset table, the
// go-message charset registry for anything exotic, lossy UTF-8, and finally
// the raw bytes with invalid sequences replaced.
func DecodeCharset(data []byte, charsetName string) string {
	name := strings.ToLower(strings.TrimSpace(charsetName))

	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		if utf8.Valid(data) {
			return string(data)
		}
	default:
		if enc := lookupEncoding(name); enc != nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(out) {
				return string(out)
			}
		} else if r, err := mcharset.Reader(name, bytes.NewReader(data)); err == nil {
			if out, err := io.ReadAll(r); err == nil && utf8.Valid(out) {
				return string(out)
			}
		}
		if utf8.Valid(data) {
			return string(data)
		}
	}

	return string(bytes.ToValidUTF8(data, []byte("�")))
}

func lookupEncoding(name string) encoding.Encoding {
	switch name {
	case "iso-8859-1", "latin-1", "latin1", "iso8859-1":
		return charmap.ISO8859_1
	case "windows-1252", "cp1252", "cp-1252":
		return charmap.Windows1252
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	}
	return nil
}

// DecodeHeaderText decodes RFC 2047 encoded-words ("=?charset?Q|B?text?=")
// embedded in a header value, including the Q-encoding convention that an
// underscore stands for a space. A value that fails to decode is returned
// unchanged.
func DecodeHeaderText(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	dec := &mime.WordDecoder{
		CharsetReader: func(charsetName string, input io.Reader) (io.Reader, error) {
			data, err := io.ReadAll(input)
			if err != nil {
				return nil, err
			}
			return strings.NewReader(DecodeCharset(data, charsetName)), nil
		},
	}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
