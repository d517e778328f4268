package proxy

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/hub"
	"projdocs-desktop/internal/model"
)

const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// realtimeURL maps the incoming upgrade onto the backend's realtime
// endpoint. The API key also goes in the query because browser socket
// clients cannot set headers.
func (p *Proxy) realtimeURL(r *http.Request, session *model.Session) (string, error) {
	target, err := url.Parse(session.Supabase.URL)
	if err != nil {
		return "", err
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	case "http":
		target.Scheme = "ws"
	}
	target = target.JoinPath(p.upstreamPath(r))

	q := r.URL.Query()
	q.Set("apikey", session.Supabase.Key)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

type pair struct {
	client   *websocket.Conn
	upstream *websocket.Conn
	once     sync.Once
}

func (p *pair) Close() error {
	p.once.Do(func() {
		_ = p.client.Close()
		_ = p.upstream.Close()
	})
	return nil
}

func (p *Proxy) bridge(w http.ResponseWriter, r *http.Request, session *model.Session) {
	target, err := p.realtimeURL(r, session)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "proxy error", "detail": err.Error()})
		return
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     websocket.Subprotocols(r),
	}
	if p.opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	header := http.Header{}
	setCredentials(header, session)

	upstream, resp, err := dialer.DialContext(r.Context(), target, header)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		p.log.Warn("realtime dial failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]any{"error": "proxy error", "detail": err.Error()})
		return
	}

	var respHeader http.Header
	if proto := upstream.Subprotocol(); proto != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": {proto}}
	}
	client, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		_ = upstream.Close()
		return
	}

	conns := &pair{client: client, upstream: upstream}
	conn := &hub.Connection{ID: uuid.NewString(), Key: auth.CredentialKey(session), Closer: conns}
	p.hub.Register(conn)
	defer func() {
		p.hub.Unregister(conn)
		_ = conns.Close()
	}()

	log := p.log.With(zap.String("conn", conn.ID))
	log.Debug("realtime bridged")

	errs := make(chan error, 2)
	go func() { errs <- pump(upstream, client) }()
	go func() { errs <- pump(client, upstream) }()

	err = <-errs
	_ = conns.Close()
	<-errs
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug("realtime closed", zap.Error(err))
	}
}

// pump copies messages from src to dst until either side fails. A close
// frame from src is relayed to dst.
func pump(dst, src *websocket.Conn) error {
	for {
		kind, data, err := src.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				msg := websocket.FormatCloseMessage(ce.Code, ce.Text)
				if ce.Code == websocket.CloseNoStatusReceived || ce.Code == websocket.CloseAbnormalClosure {
					msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				}
				_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			return err
		}
		if err := dst.WriteMessage(kind, data); err != nil {
			return err
		}
	}
}

func (p *Proxy) isRealtime(r *http.Request) bool {
	return strings.TrimSuffix(p.upstreamPath(r), "/") == p.opts.RealtimePath
}
