package mailmime

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/mail-ingest/internal/core"
)

// Parsing is bounded so a hostile message cannot recurse forever.
const maxPartDepth = 10

var fallbackDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// Parse decodes one raw message into an immutable core.Message. Structural
// problems degrade to best-effort text; only a payload with no parsable
// header block at all returns an error.
func Parse(raw []byte) (*core.Message, error) {
	payload := stripLengthFraming(raw)

	msg, err := mail.ReadMessage(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}

	headers := make(map[string][]string, len(msg.Header))
	for k, v := range msg.Header {
		headers[k] = append([]string(nil), v...)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		body = nil
	}

	out := &core.Message{
		MessageID:   trimAngles(msg.Header.Get("Message-Id")),
		Subject:     DecodeHeaderText(msg.Header.Get("Subject")),
		From:        parseAddressList(msg.Header.Get("From")),
		To:          parseAddressList(msg.Header.Get("To")),
		Cc:          parseAddressList(msg.Header.Get("Cc")),
		Bcc:         parseAddressList(msg.Header.Get("Bcc")),
		Date:        parseDate(msg.Header.Get("Date")),
		InReplyTo:   trimAngles(msg.Header.Get("In-Reply-To")),
		References:  parseReferences(msg.Header.Get("References")),
		Unsubscribe: msg.Header.Get("List-Unsubscribe"),
		Headers:     headers,
		Raw:         raw,
	}

	parts := &bodyParts{}
	parts.walk(textproto.MIMEHeader{
		"Content-Type":              headers["Content-Type"],
		"Content-Transfer-Encoding": headers["Content-Transfer-Encoding"],
		"Content-Disposition":       headers["Content-Disposition"],
	}, body, 0)

	out.TextBody = parts.plain
	if out.TextBody == "" {
		out.TextBody = parts.otherText
	}
	out.HTMLBody = parts.html
	out.Attachments = parts.attachments

	return out, nil
}

// stripLengthFraming removes the emlx-style envelope around a message: a
// first line holding a bare byte count, with metadata trailing beyond it.
func stripLengthFraming(raw []byte) []byte {
	nl := bytes.IndexByte(raw, '\n')
	if nl <= 0 || nl > 20 {
		return raw
	}
	first := strings.TrimSpace(string(raw[:nl]))
	n, err := strconv.Atoi(first)
	if err != nil || n <= 0 {
		return raw
	}
	rest := raw[nl+1:]
	if n > len(rest) {
		return rest
	}
	return rest[:n]
}

type bodyParts struct {
	plain     string
	html      string
	otherText string

	attachments []core.Attachment
	partIndex   int
}

func (p *bodyParts) walk(header textproto.MIMEHeader, body []byte, depth int) {
	if depth > maxPartDepth {
		return
	}

	contentType := header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return
		}
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			part, err := mr.NextPart()
			if err != nil {
				return
			}
			partBody, err := io.ReadAll(part)
			if err != nil {
				continue
			}
			p.walk(part.Header, partBody, depth+1)
		}
	}

	p.partIndex++

	disposition, dispParams, _ := mime.ParseMediaType(header.Get("Content-Disposition"))
	isText := strings.HasPrefix(mediaType, "text/")
	isAttachment := disposition == "attachment" || !isText

	decoded := DecodeTransferEncoding(body, header.Get("Content-Transfer-Encoding"))

	if isAttachment {
		filename := dispParams["filename"]
		if filename == "" {
			filename = params["name"]
		}
		p.attachments = append(p.attachments, core.Attachment{
			Filename:  DecodeHeaderText(filename),
			MIMEType:  mediaType,
			ContentID: trimAngles(header.Get("Content-Id")),
			Size:      int64(len(decoded)),
			Index:     p.partIndex - 1,
			Data:      decoded,
		})
		return
	}

	text := DecodeCharset(decoded, params["charset"])
	switch mediaType {
	case "text/plain":
		p.plain = joinBody(p.plain, text)
	case "text/html":
		p.html = joinBody(p.html, text)
	default:
		p.otherText = joinBody(p.otherText, text)
	}
}

func joinBody(existing, addition string) string {
	if strings.TrimSpace(addition) == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

func parseAddressList(value string) []core.Address {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	decoded := DecodeHeaderText(value)
	list, err := mail.ParseAddressList(decoded)
	if err != nil {
		// Degrade to a naive comma split rather than dropping participants.
		var out []core.Address
		for _, piece := range strings.Split(decoded, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			out = append(out, core.Address{Email: trimAngles(piece)})
		}
		return out
	}
	out := make([]core.Address, 0, len(list))
	for _, a := range list {
		out = append(out, core.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t
	}
	value = strings.TrimSpace(value)
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseReferences(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Fields(value) {
		if id := trimAngles(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}
