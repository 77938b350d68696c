package bodyclean

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
)

func newTestCleaner() *Cleaner {
	return New(zap.NewNop(), nil)
}

func TestCleanPrefersPlainBody(t *testing.T) {
	msg := &core.Message{
		TextBody: "plain body",
		HTMLBody: "<p>html body</p>",
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)
	if text != "plain body\n" {
		t.Errorf("Clean = %q", text)
	}
}

func TestCleanHTMLConversion(t *testing.T) {
	msg := &core.Message{
		HTMLBody: `<html><head><style>p{color:red}</style></head><body>
			<script>alert(1)</script>
			<p>Hello <b>there</b></p>
			<ul><li>first</li><li>second</li></ul>
			<p>Read <a href="https://example.com/doc">the doc</a></p>
			<blockquote>quoted stuff</blockquote>
		</body></html>`,
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)

	if !strings.Contains(text, "Hello there") {
		t.Errorf("missing paragraph text: %q", text)
	}
	if !strings.Contains(text, "- first") || !strings.Contains(text, "- second") {
		t.Errorf("list items not converted: %q", text)
	}
	if !strings.Contains(text, "the doc (https://example.com/doc)") {
		t.Errorf("link not converted: %q", text)
	}
	if strings.Contains(text, "alert(1)") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked: %q", text)
	}
	if strings.Contains(text, "quoted stuff") {
		t.Errorf("blockquote leaked: %q", text)
	}
	if !strings.HasSuffix(text, "\n") || strings.HasSuffix(text, "\n\n") {
		t.Errorf("trailing newline not normalized: %q", text)
	}
}

func TestCleanImageCaptions(t *testing.T) {
	msg := &core.Message{
		HTMLBody: `<p>intro</p>
			<img src="a.png" alt="chart of revenue">
			<img src="b.png" title="team photo">
			<figure><img src="c.png"><figcaption>the office</figcaption></figure>
			<img src="d.png">`,
	}
	text, captions := newTestCleaner().Clean(context.Background(), msg)

	if !strings.Contains(text, "chart of revenue") {
		t.Errorf("alt caption missing from text: %q", text)
	}
	joined := strings.Join(captions, "|")
	for _, want := range []string{"chart of revenue", "team photo", "the office"} {
		if !strings.Contains(joined, want) {
			t.Errorf("captions = %v, missing %q", captions, want)
		}
	}
}

func TestCleanQuotedReplyStripping(t *testing.T) {
	msg := &core.Message{
		TextBody: "New content here.\n" +
			"> older quoted line\n" +
			">> even older\n" +
			"More new content.\n" +
			"On Mon, Jan 6, 2025 at 9:00 AM Alice <alice@example.com> wrote:\n" +
			"everything after the reply header\n",
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)

	if strings.Contains(text, "older quoted") || strings.Contains(text, "after the reply header") {
		t.Errorf("quoted content leaked: %q", text)
	}
	if !strings.Contains(text, "New content here.") || !strings.Contains(text, "More new content.") {
		t.Errorf("original content lost: %q", text)
	}
}

func TestCleanOriginalMessageMarker(t *testing.T) {
	msg := &core.Message{
		TextBody: "reply text\n-----Original Message-----\nquoted original\n",
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)
	if strings.Contains(text, "quoted original") {
		t.Errorf("original-message block leaked: %q", text)
	}
}

func TestCleanSignatureStripping(t *testing.T) {
	msg := &core.Message{
		TextBody: "the actual message\n-- \nAutogenerated by MailerPro v3\nUnsubscribe: https://example.com\nSent from my phone again and again\nlong boilerplate line\nanother one\n",
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)
	if strings.Contains(text, "MailerPro") {
		t.Errorf("signature boilerplate kept: %q", text)
	}
	if !strings.Contains(text, "the actual message") {
		t.Errorf("message content lost: %q", text)
	}
}

func TestCleanKeepsShortSignoff(t *testing.T) {
	msg := &core.Message{
		TextBody: "see attached\n-- \nAlice Nguyen\nStaff Engineer, Initech Inc.\n",
	}
	text, _ := newTestCleaner().Clean(context.Background(), msg)
	if !strings.Contains(text, "Alice Nguyen") || !strings.Contains(text, "Staff Engineer") {
		t.Errorf("sign-off lost: %q", text)
	}
	if strings.Contains(text, "-- ") {
		t.Errorf("delimiter kept: %q", text)
	}
}

type fakeCaptioner struct {
	caption string
	err     error
	calls   int
}

func (f *fakeCaptioner) Caption(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.caption, f.err
}

func TestCaptionerFallback(t *testing.T) {
	fc := &fakeCaptioner{caption: "a whiteboard with notes"}
	c := New(zap.NewNop(), fc)

	msg := &core.Message{
		HTMLBody: `<img src="data:image/png;base64,aGVsbG8=">`,
	}
	_, captions := c.Clean(context.Background(), msg)

	if fc.calls != 1 {
		t.Fatalf("captioner calls = %d, want 1", fc.calls)
	}
	if len(captions) != 1 || captions[0] != "a whiteboard with notes" {
		t.Errorf("captions = %v", captions)
	}
}

func TestCaptionerNotUsedWhenMarkupHasCaptions(t *testing.T) {
	fc := &fakeCaptioner{caption: "should not appear"}
	c := New(zap.NewNop(), fc)

	msg := &core.Message{
		HTMLBody: `<img src="data:image/png;base64,aGVsbG8=" alt="from markup">`,
	}
	_, captions := c.Clean(context.Background(), msg)

	if fc.calls != 0 {
		t.Errorf("captioner invoked despite markup captions")
	}
	if len(captions) != 1 || captions[0] != "from markup" {
		t.Errorf("captions = %v", captions)
	}
}

func TestCaptionerErrorIsNonFatal(t *testing.T) {
	fc := &fakeCaptioner{err: errors.New("model offline")}
	c := New(zap.NewNop(), fc)

	msg := &core.Message{HTMLBody: `<p>hi</p><img src="data:image/png;base64,aGVsbG8=">`}
	text, captions := c.Clean(context.Background(), msg)

	if len(captions) != 0 {
		t.Errorf("captions = %v, want none", captions)
	}
	if !strings.Contains(text, "hi") {
		t.Errorf("text = %q", text)
	}
}

func TestCleanFallsBackToTagStripping(t *testing.T) {
	// collapseSpace plus tag stripping still produces text when the
	// structured walk yields nothing visible.
	msg := &core.Message{HTMLBody: `<foo<bar>hello &amp; goodbye</unclosed`}
	text, _ := newTestCleaner().Clean(context.Background(), msg)
	if text == "" {
		t.Error("fallback path produced no text")
	}
}
