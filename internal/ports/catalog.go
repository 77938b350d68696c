package ports

import (
	"context"
	"io"

	"github.com/mikey/mail-ingest/internal/core"
)

// CatalogClient delivers finished documents to the downstream catalog.
// Submissions carry an idempotency key derived from the payload, so retrying
// a delivery is always safe.
type CatalogClient interface {
	// SubmitDocument posts one document payload.
	SubmitDocument(ctx context.Context, payload *core.DocumentPayload) error

	// SubmitAttachment posts one attachment as multipart form data, linked to
	// the owning document.
	SubmitAttachment(ctx context.Context, content io.Reader, att core.Attachment, documentID string) error
}

// CredentialResolver maps a credential reference from a run request to a
// usable authentication token.
type CredentialResolver interface {
	Resolve(ctx context.Context, creds core.Credentials) (string, error)
}
