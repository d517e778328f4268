package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"projdocs-desktop/internal/auth"
	"projdocs-desktop/internal/backend"
	"projdocs-desktop/internal/backend/backendtest"
	"projdocs-desktop/internal/cache"
	"projdocs-desktop/internal/config"
	"projdocs-desktop/internal/handler"
	"projdocs-desktop/internal/hub"
	"projdocs-desktop/internal/model"
	"projdocs-desktop/internal/secrets"
)

const (
	testFileID  = "6f1c8a52-8a2e-4c1b-9d7e-2f4b7e9a0c11"
	testProject = "proj-1"
)

type fakeOpener struct {
	uris []string
	err  error
}

func (o *fakeOpener) Open(uri string) error {
	o.uris = append(o.uris, uri)
	return o.err
}

type fakeSecrets struct {
	raw string
}

func (s fakeSecrets) Raw() (string, error) {
	if s.raw == "" {
		return "", secrets.ErrNotFound
	}
	return s.raw, nil
}

type testEnv struct {
	router   *gin.Engine
	opener   *fakeOpener
	cache    *cache.Cache
	backend  *backendtest.Backend
	sessions *auth.Sessions
}

func testSession(backendURL string) *model.Session {
	return &model.Session{
		Token:    model.AccessToken{AccessToken: "tok", TokenType: "bearer"},
		URL:      "https://app.example.com",
		Supabase: model.Backend{URL: backendURL, Key: "anon"},
	}
}

func newTestEnv(t *testing.T, signedIn bool, tweaks ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := backendtest.New()
	t.Cleanup(fake.Close)
	fake.UserID = "user-1"
	fake.AddFile(testFileID, 42, testProject, "Contract.docx", "first draft", "final draft")

	var initial *model.Session
	raw := ""
	if signedIn {
		initial = testSession(fake.URL)
		data, _ := json.Marshal(initial)
		raw = string(data)
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	env := &testEnv{
		opener:   &fakeOpener{},
		cache:    cache.New(cfg.CacheDir()),
		backend:  fake,
		sessions: auth.NewSessions(initial),
	}
	env.router = NewRouter(Deps{
		Config:   cfg,
		Sessions: env.sessions,
		Secrets:  fakeSecrets{raw: raw},
		Hub:      hub.New(),
		Backends: func(s *model.Session) (handler.Backend, error) {
			c, err := backend.New(s, backend.Options{})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Cache:   env.cache,
		Opener:  env.opener,
		Version: handler.VersionHandler{Name: "ProjDocs", Version: "1.2.3", Commit: "abc"},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthzAndVersion(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
		t.Fatalf("expected ok, got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/version")
	body := decode(t, w)
	if body["name"] != "ProjDocs" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected version body %v", body)
	}
}

func TestUser(t *testing.T) {
	env := newTestEnv(t, false)
	if w := env.do(t, http.MethodGet, "/user"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when signed out, got %d", w.Code)
	}

	env = newTestEnv(t, true)
	w := env.do(t, http.MethodGet, "/user")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var session model.Session
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil || session.Token.AccessToken != "tok" {
		t.Fatalf("expected stored payload, got %s", w.Body.String())
	}
}

func TestEcho(t *testing.T) {
	env := newTestEnv(t, false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != `{"a":1}` {
		t.Fatalf("expected body echoed, got %d %q", w.Code, w.Body.String())
	}
}

func TestEcho_TooLarge(t *testing.T) {
	env := newTestEnv(t, false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("a", 8<<20+1)))
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	body := strings.Repeat("b", 8<<20)
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body)))
	if w.Code != http.StatusOK || w.Body.Len() != len(body) {
		t.Fatalf("expected full body echoed, got %d with %d bytes", w.Code, w.Body.Len())
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/nope")
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "not found" {
		t.Fatalf("expected 404 json, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckout_RequiresSession(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID)
	if w.Code != http.StatusInternalServerError || decode(t, w)["error"] != "unable to access authentication" {
		t.Fatalf("expected 500 auth error, got %d %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodGet, "/checkin?file-number=42&doc-path=/x"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for checkin, got %d", w.Code)
	}
}

func TestCheckout_Validation(t *testing.T) {
	env := newTestEnv(t, true)
	for _, target := range []string{
		"/checkout",
		"/checkout?file-id=not-a-uuid",
		"/checkout?file-id=" + testFileID + "&version-id=nope",
	} {
		if w := env.do(t, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestCheckout_CurrentVersionOpensForEdit(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	path, _ := body["path"].(string)
	if body["success"] != true || path == "" {
		t.Fatalf("unexpected body %v", body)
	}

	want := filepath.Join(env.cache.Root, testProject, backendtest.VersionID(testFileID, 2), "Contract-42.2.docx")
	if path != want {
		t.Fatalf("expected %q, got %q", want, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "final draft" {
		t.Fatalf("expected final draft on disk, got %q %v", data, err)
	}

	if len(env.opener.uris) != 1 || env.opener.uris[0] != "ms-word:ofe|u|file://"+filepath.ToSlash(path) {
		t.Fatalf("expected open-for-edit launch, got %v", env.opener.uris)
	}
}

func TestCheckout_HistoricalVersionOpensForView(t *testing.T) {
	env := newTestEnv(t, true)
	v1 := backendtest.VersionID(testFileID, 1)

	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID+"&version-id="+v1)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	path := decode(t, w)["path"].(string)
	if filepath.Base(filepath.Dir(path)) != v1 || filepath.Base(path) != "Contract-42.1.docx" {
		t.Fatalf("expected historical version cached under its own id, got %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "first draft" {
		t.Fatalf("expected first draft, got %q", data)
	}

	if len(env.opener.uris) != 1 || !strings.HasPrefix(env.opener.uris[0], "ms-word:ofv|u|https://127.0.0.1:9305/word/open/Contract-42.1.docx?") {
		t.Fatalf("expected open-for-view launch, got %v", env.opener.uris)
	}
	redirect, err := url.Parse(strings.TrimPrefix(env.opener.uris[0], "ms-word:ofv|u|"))
	if err != nil || redirect.Query().Get("file-path") != path {
		t.Fatalf("expected redirect to carry file-path, got %v %v", redirect, err)
	}

	// The redirect target serves the cached document.
	w = env.do(t, http.MethodGet, redirect.RequestURI())
	if w.Code != http.StatusOK || w.Body.String() != "first draft" {
		t.Fatalf("expected document stream, got %d %q", w.Code, w.Body.String())
	}
}

func TestCheckout_ForeignVersion(t *testing.T) {
	env := newTestEnv(t, true)
	other := "0a7c3f7e-5a55-4e0e-8d1b-3b8c3a8a9f00"
	env.backend.AddFile(other, 7, testProject, "", "x")

	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID+"&version-id="+backendtest.VersionID(other, 1))
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "unable to retrieve version" {
		t.Fatalf("expected 400 version error, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckout_UnknownFile(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodGet, "/checkout?file-id=0a7c3f7e-5a55-4e0e-8d1b-3b8c3a8a9f01")
	if w.Code != http.StatusInternalServerError || decode(t, w)["error"] != "unable to checkout file" {
		t.Fatalf("expected 500 checkout error, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckout_ShellFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.opener.err = errors.New("no handler for ms-word")
	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(decode(t, w)["error"].(string), "downloaded successfully") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCheckout_TwiceBothLock(t *testing.T) {
	env := newTestEnv(t, true)
	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID); w.Code != http.StatusCreated {
			t.Fatalf("checkout %d: expected 201, got %d", i, w.Code)
		}
	}
	locks := env.backend.LockHistory()
	if len(locks) != 2 {
		t.Fatalf("expected 2 lock writes, got %d", len(locks))
	}
	for _, owner := range locks {
		if owner == nil || *owner != "user-1" {
			t.Fatalf("expected each write to set user-1, got %v", owner)
		}
	}
}

func TestCheckout_Throttled(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) { cfg.DocumentCallsPerMinute = 2 })
	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID); w.Code != http.StatusCreated {
			t.Fatalf("checkout %d: expected 201, got %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID)
	if w.Code != http.StatusTooManyRequests || decode(t, w)["error"] != "too many requests" {
		t.Fatalf("expected 429, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckout_ThrottleDisabled(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) { cfg.DocumentCallsPerMinute = 0 })
	for i := 0; i < 12; i++ {
		if w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID); w.Code != http.StatusCreated {
			t.Fatalf("checkout %d: expected 201, got %d", i, w.Code)
		}
	}
}

func TestCheckout_RemovesStaleFile(t *testing.T) {
	env := newTestEnv(t, true)
	stale, err := env.cache.Write(testProject, "old", "old.docx", strings.NewReader("old"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "keep.docx")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	q := url.Values{}
	q.Set("file-id", testFileID)
	q.Set("remove", stale)
	if w := env.do(t, http.MethodGet, "/checkout?"+q.Encode()); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, got %v", err)
	}

	q.Set("remove", outside)
	if w := env.do(t, http.MethodGet, "/checkout?"+q.Encode()); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("expected file outside the cache to survive, got %v", err)
	}
}

func TestCheckin(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/checkout?file-id="+testFileID)
	path := decode(t, w)["path"].(string)

	q := url.Values{}
	q.Set("file-number", "42")
	q.Set("doc-path", path)
	w = env.do(t, http.MethodGet, "/checkin?"+q.Encode())
	if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected document removed, got %v", err)
	}
	locks := env.backend.LockHistory()
	if last := locks[len(locks)-1]; last != nil {
		t.Fatalf("expected lock cleared, got %v", *last)
	}

	w = env.do(t, http.MethodGet, "/checkin?"+q.Encode())
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "file does not exist" {
		t.Fatalf("expected 400 for missing file, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckin_Validation(t *testing.T) {
	env := newTestEnv(t, true)
	cases := map[string]int{
		"/checkin":                                    http.StatusBadRequest,
		"/checkin?file-number=abc&doc-path=/x":        http.StatusBadRequest,
		"/checkin?file-number=42":                     http.StatusBadRequest,
		"/checkin?file-number=42&doc-path=/etc/hosts": http.StatusUnauthorized,
	}
	for target, want := range cases {
		if w := env.do(t, http.MethodGet, target); w.Code != want {
			t.Fatalf("%s: expected %d, got %d", target, want, w.Code)
		}
	}
	if locks := env.backend.LockHistory(); len(locks) != 0 {
		t.Fatalf("expected no unlock for rejected requests, got %d", len(locks))
	}
}

func TestWordOpen(t *testing.T) {
	env := newTestEnv(t, false)
	path, err := env.cache.Write(testProject, "v", "Doc-1.1.docx", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	q := url.Values{}
	q.Set("file-path", path)
	w := env.do(t, http.MethodGet, "/word/open/Doc-1.1.docx?"+q.Encode())
	if w.Code != http.StatusOK || w.Body.String() != "bytes" {
		t.Fatalf("expected 200 stream, got %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `inline; filename="Doc-1.1.docx"` {
		t.Fatalf("unexpected disposition %q", cd)
	}

	q.Set("file-path", filepath.Join(env.cache.Root, testProject, "v", "missing.docx"))
	if w := env.do(t, http.MethodGet, "/word/open/x?"+q.Encode()); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	q.Set("file-path", filepath.Join(env.cache.Root, "..", "secrets.txt"))
	if w := env.do(t, http.MethodGet, "/word/open/x?"+q.Encode()); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	if w := env.do(t, http.MethodGet, "/word/open/x"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWordOpen_SymlinkOutsideCache(t *testing.T) {
	env := newTestEnv(t, true)
	secret := filepath.Join(t.TempDir(), "secret.docx")
	if err := os.WriteFile(secret, []byte("private"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dir := filepath.Join(env.cache.Root, testProject, "v")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(dir, "Doc-1.1.docx")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	q := url.Values{}
	q.Set("file-path", link)
	if w := env.do(t, http.MethodGet, "/word/open/Doc-1.1.docx?"+q.Encode()); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %q", w.Code, w.Body.String())
	}

	q = url.Values{}
	q.Set("file-number", "42")
	q.Set("doc-path", link)
	if w := env.do(t, http.MethodGet, "/checkin?"+q.Encode()); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for checkin, got %d", w.Code)
	}
	if _, err := os.Stat(secret); err != nil {
		t.Fatalf("expected outside file untouched, got %v", err)
	}
}

func TestProxy_ThroughRouter(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/supabase/rest/v1/files_versions?id=eq."+backendtest.VersionID(testFileID, 1)+"&file_id=eq."+testFileID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	reqs := env.backend.RequestsFor("/rest/v1/files_versions")
	if len(reqs) != 1 || reqs[0].Authorization != "Bearer tok" || reqs[0].APIKey != "anon" {
		t.Fatalf("expected proxied request with credentials, got %+v", reqs)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected gateway CORS header")
	}

	env.sessions.Set(nil)
	w = env.do(t, http.MethodGet, "/supabase/rest/v1/files")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after sign out, got %d", w.Code)
	}
}
