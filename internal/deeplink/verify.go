package deeplink

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"projdocs-desktop/internal/model"
)

// OIDCVerifier checks access token signatures against the backend's JWKS.
// One key set is kept per backend so keys are fetched once.
type OIDCVerifier struct {
	Client *http.Client

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCVerifier(timeout time.Duration) *OIDCVerifier {
	return &OIDCVerifier{
		Client:    &http.Client{Timeout: timeout},
		verifiers: map[string]*oidc.IDTokenVerifier{},
	}
}

func (v *OIDCVerifier) verifier(ctx context.Context, backendURL string) *oidc.IDTokenVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.verifiers[backendURL]; ok {
		return existing
	}
	issuer := strings.TrimRight(backendURL, "/") + "/auth/v1"
	keys := oidc.NewRemoteKeySet(oidc.ClientContext(context.WithoutCancel(ctx), v.Client), issuer+"/.well-known/jwks.json")
	verifier := oidc.NewVerifier(issuer, keys, &oidc.Config{
		SkipClientIDCheck:    true,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	})
	v.verifiers[backendURL] = verifier
	return verifier
}

func (v *OIDCVerifier) Verify(ctx context.Context, session *model.Session) error {
	_, err := v.verifier(ctx, session.Supabase.URL).Verify(ctx, session.Token.AccessToken)
	return err
}
