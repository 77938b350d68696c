package submit

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mikey/mail-ingest/internal/core"
)

// EnvCredentialResolver maps credential references to tokens. Kind "token"
// uses the inline secret; kind "env" reads the environment variable named by
// secret_ref. An empty kind resolves to no token.
type EnvCredentialResolver struct{}

// NewEnvCredentialResolver creates the default resolver.
func NewEnvCredentialResolver() *EnvCredentialResolver {
	return &EnvCredentialResolver{}
}

func (r *EnvCredentialResolver) Resolve(_ context.Context, creds core.Credentials) (string, error) {
	switch strings.ToLower(creds.Kind) {
	case "":
		return "", nil
	case "token":
		if creds.Secret == "" {
			return "", fmt.Errorf("credential kind %q requires a secret", creds.Kind)
		}
		return creds.Secret, nil
	case "env":
		if creds.SecretRef == "" {
			return "", fmt.Errorf("credential kind %q requires a secret_ref", creds.Kind)
		}
		token := os.Getenv(creds.SecretRef)
		if token == "" {
			return "", fmt.Errorf("environment variable %q is empty", creds.SecretRef)
		}
		return token, nil
	default:
		return "", fmt.Errorf("unsupported credential kind %q", creds.Kind)
	}
}
