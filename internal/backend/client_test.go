package backend

import (
	"context"
	"errors"
	"io"
	"testing"

	"projdocs-desktop/internal/backend/backendtest"
	"projdocs-desktop/internal/model"
)

func newClient(t *testing.T, fake *backendtest.Backend) *Client {
	t.Helper()
	c, err := New(&model.Session{
		Token:    model.AccessToken{AccessToken: "tok", TokenType: "bearer"},
		URL:      "https://app.example.com",
		Supabase: model.Backend{URL: fake.URL, Key: "anon"},
	}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_CheckoutCalls(t *testing.T) {
	fake := backendtest.New()
	defer fake.Close()
	fake.UserID = "user-1"
	fake.AddFile("file-1", 7, "proj-1", "Report.docx", "v1 bytes", "v2 bytes")

	c := newClient(t, fake)
	ctx := context.Background()

	uid, err := c.CurrentUserID(ctx)
	if err != nil || uid != "user-1" {
		t.Fatalf("expected user-1, got %q %v", uid, err)
	}

	file, err := c.LockFile(ctx, "file-1", uid)
	if err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if file.LockedByUserID == nil || *file.LockedByUserID != "user-1" {
		t.Fatalf("expected lock owner user-1, got %v", file.LockedByUserID)
	}
	if file.Version == nil || file.Version.Version != 2 {
		t.Fatalf("expected embedded current version 2, got %+v", file.Version)
	}

	v1, err := c.FileVersion(ctx, backendtest.VersionID("file-1", 1), "file-1")
	if err != nil || v1.Version != 1 {
		t.Fatalf("expected version 1, got %+v %v", v1, err)
	}

	obj, err := c.StorageObject(ctx, *v1.ObjectID)
	if err != nil {
		t.Fatalf("StorageObject: %v", err)
	}
	rc, err := c.Download(ctx, file.ProjectID, obj.PathTokens)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "v1 bytes" {
		t.Fatalf("expected v1 bytes, got %q", data)
	}

	for _, r := range fake.RequestsFor("/rest/v1/files") {
		if r.Authorization != "Bearer tok" || r.APIKey != "anon" {
			t.Fatalf("expected auth headers, got %+v", r)
		}
	}
}

func TestClient_NotFound(t *testing.T) {
	fake := backendtest.New()
	defer fake.Close()
	fake.AddFile("file-1", 7, "proj-1", "", "only")
	fake.AddFile("file-2", 8, "proj-1", "", "other")

	c := newClient(t, fake)
	ctx := context.Background()

	if _, err := c.LockFile(ctx, "missing", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if _, err := c.FileVersion(ctx, backendtest.VersionID("file-2", 1), "file-1"); !errors.As(err, &apiErr) || apiErr.Code != "PGRST116" {
		t.Fatalf("expected PGRST116 for a foreign version, got %v", err)
	}
	if _, err := c.StorageObject(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.CurrentUserID(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for null user, got %v", err)
	}
	if _, err := c.Download(ctx, "proj-1", []string{"nope"}); err == nil {
		t.Fatalf("expected download error")
	}
}

func TestClient_UnlockByNumber(t *testing.T) {
	fake := backendtest.New()
	defer fake.Close()
	fake.AddFile("file-1", 7, "proj-1", "", "only")

	c := newClient(t, fake)
	if _, err := c.LockFile(context.Background(), "file-1", "u"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	file, err := c.UnlockFile(context.Background(), 7)
	if err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}
	if file.LockedByUserID != nil {
		t.Fatalf("expected lock cleared, got %v", *file.LockedByUserID)
	}
}

func TestNew_RejectsIncompleteSession(t *testing.T) {
	if _, err := New(&model.Session{URL: "x"}, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
