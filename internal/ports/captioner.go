package ports

import (
	"context"
)

// Captioner turns image bytes into descriptive text. It is an optional
// capability: components receiving a nil Captioner simply skip OCR-derived
// captions.
type Captioner interface {
	// Caption describes the image, returning an empty string when nothing
	// useful can be said about it.
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
}
