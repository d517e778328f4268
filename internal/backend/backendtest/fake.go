// Package backendtest serves an in-memory imitation of the REST and storage
// endpoints the desktop client uses.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"projdocs-desktop/internal/model"
)

type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	APIKey        string
}

type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	UserID   string
	Files    map[string]*model.File
	Versions map[string]*model.FileVersion
	Objects  map[string]*model.StorageObject
	Blobs    map[string][]byte
	Requests []Request
	// Locks records every lock owner written, in order.
	Locks []*string
}

func New() *Backend {
	b := &Backend{
		Files:    map[string]*model.File{},
		Versions: map[string]*model.FileVersion{},
		Objects:  map[string]*model.StorageObject{},
		Blobs:    map[string][]byte{},
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func strPtr(s string) *string { return &s }

// VersionID is the id AddFile gives version n (1-based) of fileID.
func VersionID(fileID string, n int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fileID+"/"+strconv.FormatInt(n, 10))).String()
}

// AddFile registers a file in project with one object-backed version per
// entry in contents. The last version is current.
func (b *Backend) AddFile(id string, number int64, project string, name string, contents ...string) *model.File {
	b.mu.Lock()
	defer b.mu.Unlock()

	file := &model.File{ID: id, Number: number, ProjectID: project}
	for i, content := range contents {
		n := int64(i + 1)
		versionID := VersionID(id, n)
		objectID := versionID + "-obj"
		b.Versions[versionID] = &model.FileVersion{
			ID: versionID, FileID: id, Name: strPtr(name), ObjectID: strPtr(objectID), Version: n,
		}
		tokens := []string{"docs", versionID + ".docx"}
		b.Objects[objectID] = &model.StorageObject{ID: objectID, BucketID: project, Name: strings.Join(tokens, "/"), PathTokens: tokens}
		b.Blobs[project+"/"+strings.Join(tokens, "/")] = []byte(content)
		file.CurrentVersionID = strPtr(versionID)
	}
	b.Files[id] = file
	return file
}

func (b *Backend) RequestsFor(path string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Request
	for _, r := range b.Requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) LockHistory() []*string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*string(nil), b.Locks...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func noRows(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotAcceptable, map[string]any{
		"code":    "PGRST116",
		"message": "JSON object requested, multiple (or no) rows returned",
		"details": "The result contains 0 rows",
		"hint":    nil,
	})
}

func eq(r *http.Request, key string) string {
	return strings.TrimPrefix(r.URL.Query().Get(key), "eq.")
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Requests = append(b.Requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("apikey"),
	})

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/rpc/get_user_id":
		if b.UserID == "" {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, b.UserID)

	case r.Method == http.MethodPatch && r.URL.Path == "/rest/v1/files":
		var body struct {
			LockedByUserID *string `json:"locked_by_user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": "PGRST102", "message": err.Error()})
			return
		}
		file := b.findFile(r)
		if file == nil {
			noRows(w)
			return
		}
		file.LockedByUserID = body.LockedByUserID
		b.Locks = append(b.Locks, body.LockedByUserID)

		out := *file
		if strings.Contains(r.URL.Query().Get("select"), "version:current_version_id") && file.CurrentVersionID != nil {
			out.Version = b.Versions[*file.CurrentVersionID]
		}
		writeJSON(w, http.StatusOK, out)

	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/files_versions":
		v := b.Versions[eq(r, "id")]
		if v == nil || v.FileID != eq(r, "file_id") {
			noRows(w)
			return
		}
		writeJSON(w, http.StatusOK, v)

	case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/rpc/get_storage_object_by_id":
		var body struct {
			ObjectID string `json:"object_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		obj := b.Objects[body.ObjectID]
		if obj == nil {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, obj)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		blob, ok := b.Blobs[strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"statusCode": "404", "error": "not_found", "message": "Object not found"})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(blob)

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "no route"})
	}
}

func (b *Backend) findFile(r *http.Request) *model.File {
	if id := eq(r, "id"); id != "" {
		return b.Files[id]
	}
	if raw := eq(r, "number"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		for _, f := range b.Files {
			if f.Number == n {
				return f
			}
		}
	}
	return nil
}
