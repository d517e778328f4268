package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"projdocs-desktop/internal/model"
)

// Sessions holds the live session shared by the gateway handlers.
// Writers swap the pointer; readers never see a partially updated value.
type Sessions struct {
	current atomic.Pointer[model.Session]
}

func NewSessions(initial *model.Session) *Sessions {
	s := &Sessions{}
	s.Set(initial)
	return s
}

func (s *Sessions) Current() *model.Session {
	return s.current.Load()
}

// Set stores session, treating invalid values as signed out. It reports
// whether the stored credential changed.
func (s *Sessions) Set(session *model.Session) bool {
	if !session.Valid() {
		session = nil
	}
	prev := s.current.Swap(session)
	return !sameCredential(prev, session)
}

func sameCredential(a, b *model.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Token.AccessToken == b.Token.AccessToken &&
		a.Supabase.URL == b.Supabase.URL &&
		a.Supabase.Key == b.Supabase.Key
}

// CredentialKey identifies the credential a session carries without
// exposing the token. Nil sessions have an empty key.
func CredentialKey(s *model.Session) string {
	if s == nil {
		return ""
	}
	sum := sha256.Sum256([]byte(s.Supabase.URL + "\x00" + s.Supabase.Key + "\x00" + s.Token.AccessToken))
	return hex.EncodeToString(sum[:8])
}
