package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"projdocs-desktop/internal/model"
)

const singleObject = "application/vnd.pgrst.object+json"

type Options struct {
	// InsecureSkipVerify disables upstream TLS verification.
	InsecureSkipVerify bool
	Timeout            time.Duration
	// Base overrides the underlying transport.
	Base http.RoundTripper
}

// Client talks to the remote backend as the signed-in desktop user.
type Client struct {
	base *url.URL
	http *http.Client
}

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

// Transport returns a RoundTripper that authenticates every request with
// the session's bearer token and API key.
func Transport(session *model.Session, opts Options) http.RoundTripper {
	base := opts.Base
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		base = tr
	}
	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(session.Token.OAuth2()),
		Base:   apiKeyTransport{key: session.Supabase.Key, base: base},
	}
}

func New(session *model.Session, opts Options) (*Client, error) {
	if !session.Valid() {
		return nil, errors.New("incomplete session")
	}
	base, err := url.Parse(strings.TrimRight(session.Supabase.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{Transport: Transport(session, opts), Timeout: opts.Timeout},
	}, nil
}

// CurrentUserID asks the backend which user the token belongs to.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	var uid *string
	if err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/get_user_id", nil, struct{}{}, nil, &uid); err != nil {
		return "", err
	}
	if uid == nil || *uid == "" {
		return "", ErrNotFound
	}
	return *uid, nil
}

// LockFile sets the file's lock owner and returns the row with its current
// version embedded. The write is unconditional.
func (c *Client) LockFile(ctx context.Context, fileID, userID string) (*model.File, error) {
	q := url.Values{}
	q.Set("id", "eq."+fileID)
	q.Set("select", "*,version:current_version_id(*)")

	var file model.File
	body := map[string]any{"locked_by_user_id": userID}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/files", q, body, returnObject, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// UnlockFile clears the lock owner of the file with the given number.
func (c *Client) UnlockFile(ctx context.Context, number int64) (*model.File, error) {
	q := url.Values{}
	q.Set("number", "eq."+strconv.FormatInt(number, 10))
	q.Set("select", "*")

	var file model.File
	body := map[string]any{"locked_by_user_id": nil}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/files", q, body, returnObject, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// FileVersion loads a version, requiring it to belong to fileID.
func (c *Client) FileVersion(ctx context.Context, versionID, fileID string) (*model.FileVersion, error) {
	q := url.Values{}
	q.Set("id", "eq."+versionID)
	q.Set("file_id", "eq."+fileID)
	q.Set("select", "*")

	var version model.FileVersion
	if err := c.do(ctx, http.MethodGet, "/rest/v1/files_versions", q, nil, acceptObject, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

func (c *Client) StorageObject(ctx context.Context, objectID string) (*model.StorageObject, error) {
	var raw json.RawMessage
	body := map[string]any{"object_id": objectID}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/get_storage_object_by_id", nil, body, nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var rows []model.StorageObject
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode storage object: %w", err)
		}
		if len(rows) == 0 {
			return nil, ErrNotFound
		}
		return &rows[0], nil
	}

	var obj *model.StorageObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode storage object: %w", err)
	}
	if obj == nil {
		return nil, ErrNotFound
	}
	return obj, nil
}

// Download streams an object from storage. The caller closes the reader.
func (c *Client) Download(ctx context.Context, bucket string, pathTokens []string) (io.ReadCloser, error) {
	elems := append([]string{"storage", "v1", "object", bucket}, pathTokens...)
	u := c.base.JoinPath(elems...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

func returnObject(h http.Header) {
	h.Set("Prefer", "return=representation")
	h.Set("Accept", singleObject)
}

func acceptObject(h http.Header) {
	h.Set("Accept", singleObject)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, headers func(http.Header), out any) error {
	u := c.base.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if headers != nil {
		headers(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
