package model

import (
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is the backend session blob carried in the deep link.
type AccessToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (t AccessToken) Expiry() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt, 0)
}

func (t AccessToken) IssuedAt() time.Time {
	if t.ExpiresAt == 0 || t.ExpiresIn == 0 {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt-t.ExpiresIn, 0)
}

func (t AccessToken) OAuth2() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
}

type Backend struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// Session is what the Secret Store persists for the single desktop account.
type Session struct {
	Token    AccessToken `json:"token"`
	URL      string      `json:"url"`
	Supabase Backend     `json:"supabase"`
}

// Valid reports whether every field the gateway depends on is populated.
func (s *Session) Valid() bool {
	return s != nil &&
		s.Token.AccessToken != "" &&
		s.URL != "" &&
		s.Supabase.URL != "" &&
		s.Supabase.Key != ""
}

type File struct {
	ID               string       `json:"id"`
	Number           int64        `json:"number"`
	ProjectID        string       `json:"project_id"`
	CurrentVersionID *string      `json:"current_version_id"`
	LockedByUserID   *string      `json:"locked_by_user_id"`
	Version          *FileVersion `json:"version,omitempty"`
}

type FileVersion struct {
	ID       string  `json:"id"`
	FileID   string  `json:"file_id"`
	Name     *string `json:"name"`
	ObjectID *string `json:"object_id"`
	Version  int64   `json:"version"`
}

type StorageObject struct {
	ID         string   `json:"id"`
	BucketID   string   `json:"bucket_id"`
	Name       string   `json:"name"`
	PathTokens []string `json:"path_tokens"`
}
