// Package bodyclean turns decoded message bodies into clean display text:
// HTML flattening, quoted-reply stripping and signature trimming.
package bodyclean

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mikey/mail-ingest/internal/core"
	"github.com/mikey/mail-ingest/internal/ports"
)

// Cleaner converts message bodies to display text. The captioner is
// optional; without one, image captions come from markup only.
type Cleaner struct {
	logger    *zap.Logger
	captioner ports.Captioner
}

// New creates a Cleaner.
func New(logger *zap.Logger, captioner ports.Captioner) *Cleaner {
	return &Cleaner{logger: logger, captioner: captioner}
}

// Clean returns display text for the message plus any image captions found
// along the way. The best available body is used: plain text when non-empty,
// else HTML, else the raw bytes. This path never fails; a body that resists
// structured parsing degrades to tag stripping.
func (c *Cleaner) Clean(ctx context.Context, msg *core.Message) (string, []string) {
	var text string
	var captions []string

	switch {
	case strings.TrimSpace(msg.TextBody) != "":
		text = msg.TextBody
		if msg.HTMLBody != "" {
			captions = c.extractCaptions(ctx, msg)
		}
	case strings.TrimSpace(msg.HTMLBody) != "":
		text = c.htmlToText(msg.HTMLBody)
		captions = c.extractCaptions(ctx, msg)
	default:
		text = string(msg.Raw)
	}

	text = stripQuotedReplies(text)
	text = stripSignature(text)
	return normalizeNewlines(text), captions
}

// htmlToText flattens HTML into text. Script, style and quote blocks are
// dropped; images become their caption text; breaks and block elements
// become newlines; list items become dashed lines; links keep their target.
func (c *Cleaner) htmlToText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		c.logger.Debug("Structured HTML parse failed, stripping tags", zap.Error(err))
		return stripTags(body)
	}

	var b strings.Builder
	renderNode(&b, doc)
	out := b.String()
	if strings.TrimSpace(out) == "" && strings.TrimSpace(body) != "" {
		// The walk produced nothing usable; fall back rather than lose text.
		return stripTags(body)
	}
	return out
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true,
	"footer": true, "table": true, "tr": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"figure": true, "pre": true,
}

var skipElements = map[string]bool{
	"script": true, "style": true, "head": true, "blockquote": true,
	"noscript": true, "template": true,
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		writeText(b, n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skipElements[tag] {
			return
		}
		switch tag {
		case "br":
			b.WriteString("\n")
			return
		case "img":
			if caption := imageCaption(n); caption != "" {
				b.WriteString(caption)
			}
			return
		case "li":
			b.WriteString("\n- ")
			renderChildren(b, n)
			return
		case "a":
			renderLink(b, n)
			return
		}
		if blockElements[tag] {
			b.WriteString("\n")
			renderChildren(b, n)
			b.WriteString("\n")
			return
		}
	}
	renderChildren(b, n)
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderNode(b, child)
	}
}

func renderLink(b *strings.Builder, n *html.Node) {
	var inner strings.Builder
	renderChildren(&inner, n)
	text := strings.TrimSpace(inner.String())
	href := attr(n, "href")

	switch {
	case text == "" && href == "":
	case text == "":
		b.WriteString(href)
	case href == "" || href == text || strings.HasPrefix(href, "mailto:"):
		b.WriteString(text)
	default:
		b.WriteString(text + " (" + href + ")")
	}
}

// imageCaption picks the inline replacement text for an image: alt, then
// title, then a figcaption within the enclosing figure. No caption means the
// image simply disappears from the text.
func imageCaption(n *html.Node) string {
	if alt := strings.TrimSpace(attr(n, "alt")); alt != "" {
		return alt
	}
	if title := strings.TrimSpace(attr(n, "title")); title != "" {
		return title
	}
	for parent := n.Parent; parent != nil; parent = parent.Parent {
		if parent.Type == html.ElementNode && strings.ToLower(parent.Data) == "figure" {
			if caption := findFigcaption(parent); caption != "" {
				return caption
			}
			break
		}
	}
	return ""
}

func findFigcaption(figure *html.Node) string {
	for child := figure.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && strings.ToLower(child.Data) == "figcaption" {
			var b strings.Builder
			renderChildren(&b, child)
			return strings.TrimSpace(b.String())
		}
	}
	return ""
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
)

// stripTags is the last-resort HTML flattener.
func stripTags(body string) string {
	out := scriptBlockRe.ReplaceAllString(body, "")
	out = tagRe.ReplaceAllString(out, " ")
	return html.UnescapeString(out)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// writeText appends a text node's content with whitespace runs collapsed to
// single spaces, suppressing separators at line starts so block boundaries
// stay clean.
func writeText(b *strings.Builder, s string) {
	collapsed := whitespaceRunRe.ReplaceAllString(s, " ")
	if collapsed == "" {
		return
	}
	out := b.String()
	atBoundary := len(out) == 0 || out[len(out)-1] == '\n' || out[len(out)-1] == ' '
	if collapsed == " " {
		if !atBoundary {
			b.WriteByte(' ')
		}
		return
	}
	if atBoundary {
		collapsed = strings.TrimPrefix(collapsed, " ")
	}
	b.WriteString(collapsed)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	text = strings.Trim(text, "\n")
	text = strings.TrimLeft(text, " \t")
	if text == "" {
		return ""
	}
	return text + "\n"
}
