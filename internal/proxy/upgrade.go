package proxy

import (
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// IsUpgrade reports whether r asks to switch protocols.
func IsUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade")
}

func IsWebSocket(r *http.Request) bool {
	return IsUpgrade(r) && httpguts.HeaderValuesContainsToken(r.Header["Upgrade"], "websocket")
}

// Drop takes over the connection and closes it without writing a response.
// Writers that cannot be hijacked get a bare 400.
func Drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
