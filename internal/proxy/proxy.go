package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/hub"
	"projdocs-desktop/internal/model"
)

type Options struct {
	// Prefix is stripped from incoming paths, e.g. "/supabase".
	Prefix string
	// RealtimePath is the only upstream path that may be upgraded.
	RealtimePath       string
	InsecureSkipVerify bool
	Log                *zap.Logger
}

// Proxy forwards requests under Prefix to the signed-in user's backend with
// credentials attached.
type Proxy struct {
	sessions *auth.Sessions
	hub      *hub.Hub
	opts     Options
	log      *zap.Logger
	rp       *httputil.ReverseProxy
}

type sessionKey struct{}

func New(sessions *auth.Sessions, h *hub.Hub, opts Options) *Proxy {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	p := &Proxy{sessions: sessions, hub: h, opts: opts, log: log.Named("proxy")}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		ModifyResponse: stripCORS,
		ErrorHandler:   p.errorHandler,
	}
	return p
}

func (p *Proxy) upstreamPath(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, p.opts.Prefix)
	if path == "" {
		path = "/"
	}
	return path
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := p.sessions.Current()
	if session == nil {
		if IsUpgrade(r) {
			Drop(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "unable to access authentication"})
		return
	}

	if IsUpgrade(r) {
		if !IsWebSocket(r) || !p.isRealtime(r) {
			Drop(w)
			return
		}
		p.bridge(w, r, session)
		return
	}

	ctx := context.WithValue(r.Context(), sessionKey{}, session)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	session := pr.In.Context().Value(sessionKey{}).(*model.Session)
	target, err := url.Parse(session.Supabase.URL)
	if err != nil {
		// Leaves Out.URL without a host so the transport fails and the
		// error handler answers 502.
		p.log.Warn("invalid backend url", zap.Error(err))
		pr.Out.URL.Host = ""
		return
	}

	pr.Out.URL.Path = p.upstreamPath(pr.In)
	pr.Out.URL.RawPath = ""
	pr.SetURL(target)
	setCredentials(pr.Out.Header, session)
}

func setCredentials(h http.Header, session *model.Session) {
	h.Set("Authorization", "Bearer "+session.Token.AccessToken)
	h.Set("apikey", session.Supabase.Key)
}

// stripCORS drops the backend's CORS headers; the gateway sets its own.
func stripCORS(resp *http.Response) error {
	for key := range resp.Header {
		if strings.HasPrefix(key, "Access-Control-") {
			resp.Header.Del(key)
		}
	}
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.log.Warn("proxy request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusBadGateway, map[string]any{"error": "proxy error", "detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
