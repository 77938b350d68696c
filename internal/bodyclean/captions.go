package bodyclean

import (
	"context"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mikey/mail-ingest/internal/core"
)

// extractCaptions collects image captions from the message's HTML: alt and
// title attributes, figcaption pairs, and text adjacent to an image. Only
// when markup yields nothing and a captioner is configured does it run the
// capability over inlined (data-URI) or attached image bytes. Results are
// deduplicated and empty strings dropped.
func (c *Cleaner) extractCaptions(ctx context.Context, msg *core.Message) []string {
	var captions []string
	var dataURIs []string

	doc, err := html.Parse(strings.NewReader(msg.HTMLBody))
	if err == nil {
		walkImages(doc, func(n *html.Node) {
			if caption := markupCaption(n); caption != "" {
				captions = append(captions, caption)
			}
			if src := attr(n, "src"); strings.HasPrefix(src, "data:image/") {
				dataURIs = append(dataURIs, src)
			}
		})
	}

	captions = dedupe(captions)
	if len(captions) > 0 || c.captioner == nil {
		return captions
	}

	for _, uri := range dataURIs {
		data, mimeType, ok := decodeDataURI(uri)
		if !ok {
			continue
		}
		captions = append(captions, c.runCaptioner(ctx, data, mimeType))
	}
	for _, att := range msg.Attachments {
		if !strings.HasPrefix(att.MIMEType, "image/") || len(att.Data) == 0 {
			continue
		}
		captions = append(captions, c.runCaptioner(ctx, att.Data, att.MIMEType))
	}

	return dedupe(captions)
}

func (c *Cleaner) runCaptioner(ctx context.Context, data []byte, mimeType string) string {
	caption, err := c.captioner.Caption(ctx, data, mimeType)
	if err != nil {
		c.logger.Debug("Captioner failed", zap.String("mime_type", mimeType), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(caption)
}

func walkImages(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && strings.ToLower(n.Data) == "img" {
		fn(n)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkImages(child, fn)
	}
}

// markupCaption resolves a caption for one image element: alt, title,
// figcaption, then short text adjacent to the image.
func markupCaption(n *html.Node) string {
	if caption := imageCaption(n); caption != "" {
		return caption
	}
	return adjacentText(n)
}

func adjacentText(n *html.Node) string {
	for sibling := n.NextSibling; sibling != nil; sibling = sibling.NextSibling {
		if sibling.Type == html.TextNode {
			if text := collapseSpace(sibling.Data); text != "" && len(text) <= 120 {
				return text
			}
		}
		if sibling.Type == html.ElementNode {
			break
		}
	}
	return ""
}

func decodeDataURI(uri string) (data []byte, mimeType string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return nil, "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return nil, "", false
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", false
	}
	return decoded, mimeType, true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
