// Package deeplink turns custom-scheme callback links into stored sessions.
package deeplink

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"projdocs-desktop/internal/model"
)

const CallbackRoute = "/v1/auth/callback"

var (
	// ErrIgnored marks links for another scheme or an unknown route.
	ErrIgnored = errors.New("deep link ignored")
	// ErrInvalid marks callback links with missing or malformed parameters.
	ErrInvalid = errors.New("invalid deep link")
)

// route accepts both scheme:///v1/auth/callback and scheme://v1/auth/callback.
func route(u *url.URL) string {
	p := u.Path
	if u.Host != "" {
		p = "/" + u.Host + p
	}
	if u.Opaque != "" {
		p = "/" + strings.TrimLeft(u.Opaque, "/")
	}
	return strings.TrimRight(p, "/")
}

// Parse validates a callback link and builds the session it carries.
func Parse(link, scheme string) (*model.Session, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrIgnored, u.Scheme)
	}
	if r := route(u); r != CallbackRoute {
		return nil, fmt.Errorf("%w: route %q unhandled", ErrIgnored, r)
	}

	q := u.Query()
	missing := []string{}
	for _, key := range []string{"session", "url", "public-key", "supabase-url"} {
		if strings.TrimSpace(q.Get(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	var token model.AccessToken
	if err := json.Unmarshal([]byte(q.Get("session")), &token); err != nil {
		return nil, fmt.Errorf("%w: session: %v", ErrInvalid, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: session has no access token", ErrInvalid)
	}

	backendURL, err := url.Parse(q.Get("supabase-url"))
	if err != nil || (backendURL.Scheme != "https" && backendURL.Scheme != "http") || backendURL.Host == "" {
		return nil, fmt.Errorf("%w: supabase-url %q", ErrInvalid, q.Get("supabase-url"))
	}

	return &model.Session{
		Token: token,
		URL:   q.Get("url"),
		Supabase: model.Backend{
			URL: strings.TrimRight(backendURL.String(), "/"),
			Key: q.Get("public-key"),
		},
	}, nil
}

// FindLink returns the first argument that uses scheme.
func FindLink(args []string, scheme string) (string, bool) {
	prefix := strings.ToLower(scheme) + ":"
	for _, arg := range args {
		if strings.HasPrefix(strings.ToLower(arg), prefix) {
			return arg, true
		}
	}
	return "", false
}
