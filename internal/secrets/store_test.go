package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"projdocs-desktop/internal/model"
)

const (
	testService = "com.projdocs.test"
	testAccount = "00000000-0000-0000-0000-000000000000"
)

func validSession() *model.Session {
	return &model.Session{
		Token:    model.AccessToken{AccessToken: "tok", TokenType: "bearer"},
		URL:      "https://app.example.com",
		Supabase: model.Backend{URL: "https://db.example.com", Key: "anon"},
	}
}

func newKeyringStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()
	return NewStore(KeyringVault{Accounts: []string{testAccount}}, testService, testAccount, nil)
}

func TestStore_SetGetRemove(t *testing.T) {
	st := newKeyringStore(t)

	if got := st.Get(); got != nil {
		t.Fatalf("expected empty store, got %+v", got)
	}
	if err := st.SetSession(validSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	got := st.Get()
	if got == nil || got.Token.AccessToken != "tok" || got.Supabase.Key != "anon" {
		t.Fatalf("unexpected session %+v", got)
	}

	creds, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(creds) != 1 || creds[0].Account != testAccount {
		t.Fatalf("expected one credential, got %+v", creds)
	}

	if err := st.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := st.Get(); got != nil {
		t.Fatalf("expected nil after remove, got %+v", got)
	}
	if err := st.Remove(); err != nil {
		t.Fatalf("expected second remove to succeed, got %v", err)
	}
}

func TestStore_CorruptAndPartialReadAsAbsent(t *testing.T) {
	st := newKeyringStore(t)

	if err := st.Set("{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := st.Get(); got != nil {
		t.Fatalf("expected nil for corrupt entry, got %+v", got)
	}

	if err := st.Set(`{"token":{"access_token":"tok"},"url":"https://app"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := st.Get(); got != nil {
		t.Fatalf("expected nil for partial entry, got %+v", got)
	}
	raw, err := st.Raw()
	if err != nil || !strings.Contains(raw, "tok") {
		t.Fatalf("expected raw text to be kept, got %q %v", raw, err)
	}
}

func TestStore_NotifiesSubscribers(t *testing.T) {
	st := newKeyringStore(t)

	var events []Event
	cancel := st.Subscribe(func(ev Event) { events = append(events, ev) })
	st.Subscribe(func(Event) { panic("boom") })

	if err := st.SetSession(validSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := st.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventSet || events[0].Session == nil {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Kind != EventRemove || events[1].Session != nil {
		t.Fatalf("unexpected second event %+v", events[1])
	}

	cancel()
	_ = st.Remove()
	if len(events) != 2 {
		t.Fatalf("expected no events after cancel, got %d", len(events))
	}
}

func TestFileVault_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	v := NewFileVault(dir)

	if _, err := v.Get(testService, testAccount); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := v.Set(testService, testAccount, "secret-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ciphertext, err := os.ReadFile(filepath.Join(dir, testService+".age"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(ciphertext), "secret-value") {
		t.Fatalf("expected encrypted file")
	}
	info, err := os.Stat(filepath.Join(dir, "identity.txt"))
	if err != nil {
		t.Fatalf("stat identity: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected identity mode 0600, got %v", info.Mode().Perm())
	}

	reopened := NewFileVault(dir)
	got, err := reopened.Get(testService, testAccount)
	if err != nil || got != "secret-value" {
		t.Fatalf("expected secret-value, got %q %v", got, err)
	}

	if err := reopened.Delete(testService, testAccount); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := reopened.Delete(testService, testAccount); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	creds, err := reopened.List(testService)
	if err != nil || len(creds) != 0 {
		t.Fatalf("expected empty list, got %+v %v", creds, err)
	}
}
