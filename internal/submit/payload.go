// Package submit builds canonical document payloads and delivers them to the
// downstream catalog with idempotent, retrying HTTP submission.
package submit

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/utils"
)

// PayloadBuilder assembles DocumentPayloads from decoded messages. Body text
// is redacted before it is ever placed on a payload.
type PayloadBuilder struct {
	text         *utils.TextProcessor
	logger       *zap.Logger
	maxBodyBytes int
}

// NewPayloadBuilder creates a PayloadBuilder. maxBodyBytes bounds the body
// carried on a payload; zero means unbounded.
func NewPayloadBuilder(text *utils.TextProcessor, logger *zap.Logger, maxBodyBytes int) *PayloadBuilder {
	return &PayloadBuilder{text: text, logger: logger, maxBodyBytes: maxBodyBytes}
}

// Build assembles the canonical payload for one cleaned message. sourceID
// must be stable for the message within the source (row id, UID, or message
// id). intent may be empty, in which case it is classified from the text.
func (b *PayloadBuilder) Build(msg *core.Message, sourceType, sourceID, cleanedBody string, captions []string, intent string, relevance float64) *core.DocumentPayload {
	body := b.text.ProcessText(cleanedBody, b.maxBodyBytes)
	body = Redact(body)

	if intent == "" {
		intent = ClassifyIntent(msg.Subject, body)
	}

	return &core.DocumentPayload{
		SourceType:  sourceType,
		SourceID:    sourceID,
		Title:       strings.TrimSpace(msg.Subject),
		Body:        body,
		People:      people(msg),
		Intent:      intent,
		Relevance:   relevance,
		ContentHash: ContentHash(cleanedBody),
		Captions:    captions,
		Timestamp:   msg.Date,
	}
}

func people(msg *core.Message) []core.Person {
	var out []core.Person
	seen := make(map[string]bool)
	add := func(addrs []core.Address, role string) {
		for _, a := range addrs {
			email := strings.ToLower(strings.TrimSpace(a.Email))
			if email == "" || seen[email+role] {
				continue
			}
			seen[email+role] = true
			out = append(out, core.Person{Name: a.Name, Email: email, Role: role})
		}
	}
	add(msg.From, "sender")
	add(msg.To, "recipient")
	add(msg.Cc, "cc")
	add(msg.Bcc, "bcc")
	return out
}

// ContentHash returns the hash of the normalized body used for idempotency.
func ContentHash(body string) string {
	normalized := strings.Join(strings.Fields(body), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey derives the deterministic submission key. It is always
// recomputed from the payload, never stored.
func IdempotencyKey(payload *core.DocumentPayload) string {
	sum := sha256.Sum256([]byte(payload.SourceType + "|" + payload.SourceID + "|" + payload.ContentHash))
	return hex.EncodeToString(sum[:])
}

var redactionPatterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// Phone numbers in common formats: 555-123-4567, (555) 123-4567,
	// +1 555 123 4567, 555.123.4567.
	regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	// SSN-shaped numbers.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Account-like numbers of 8 or more digits.
	regexp.MustCompile(`\b\d{8,}\b`),
}

// Redact masks personally identifying substrings in text: email addresses,
// phone numbers, SSN-shaped and long account-like numbers.
func Redact(text string) string {
	for _, re := range redactionPatterns {
		text = re.ReplaceAllString(text, "[redacted]")
	}
	return text
}

var intentRules = []struct {
	intent string
	words  []string
}{
	{"scheduling", []string{"meeting", "schedule", "calendar", "invite", "reschedule", "appointment"}},
	{"request", []string{"could you", "can you", "please", "would you mind", "action required"}},
	{"transactional", []string{"receipt", "invoice", "order", "payment", "shipped", "confirmation"}},
	{"newsletter", []string{"unsubscribe", "newsletter", "view in browser", "weekly digest"}},
}

// ClassifyIntent assigns a coarse intent label from subject and body text.
func ClassifyIntent(subject, body string) string {
	haystack := strings.ToLower(subject + "\n" + body)
	for _, rule := range intentRules {
		for _, w := range rule.words {
			if strings.Contains(haystack, w) {
				return rule.intent
			}
		}
	}
	return "fyi"
}
