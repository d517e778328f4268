package handler

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"projdocs-desktop/internal/backend"
	"projdocs-desktop/internal/cache"
	"projdocs-desktop/internal/middleware"
	"projdocs-desktop/internal/model"
	"projdocs-desktop/internal/shell"
)

const wordDocument = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Backend is the slice of the remote backend that checkout and checkin use.
type Backend interface {
	CurrentUserID(ctx context.Context) (string, error)
	LockFile(ctx context.Context, fileID, userID string) (*model.File, error)
	UnlockFile(ctx context.Context, number int64) (*model.File, error)
	FileVersion(ctx context.Context, versionID, fileID string) (*model.FileVersion, error)
	StorageObject(ctx context.Context, objectID string) (*model.StorageObject, error)
	Download(ctx context.Context, bucket string, pathTokens []string) (io.ReadCloser, error)
}

type BackendFactory func(session *model.Session) (Backend, error)

type DocumentHandler struct {
	Backends BackendFactory
	Cache    *cache.Cache
	Opener   shell.Opener
	// OfficeScheme prefixes launch URIs, e.g. "ms-word".
	OfficeScheme string
	// BaseURL is the gateway's own origin, used for open-for-view links.
	BaseURL         string
	StripQuarantine func(path string) error
	Log             *zap.Logger
}

func errorDetail(err error) any {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err.Error()
}

func (h *DocumentHandler) backendFor(c *gin.Context) (Backend, bool) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to access authentication"})
		return nil, false
	}
	client, err := h.Backends(session)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to access authentication", "detail": err.Error()})
		return nil, false
	}
	return client, true
}

func (h *DocumentHandler) Checkout(c *gin.Context) {
	fileID := c.Query("file-id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`file-id` query parameter is required"})
		return
	}
	if _, err := uuid.Parse(fileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`file-id` must be a uuid"})
		return
	}
	versionID := c.Query("version-id")
	if versionID != "" {
		if _, err := uuid.Parse(versionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "`version-id` must be a uuid"})
			return
		}
	}

	client, ok := h.backendFor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := h.Log.With(zap.String("file_id", fileID))

	uid, err := client.CurrentUserID(ctx)
	if err != nil {
		log.Warn("resolve user id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to retrieve user-id"})
		return
	}

	file, err := client.LockFile(ctx, fileID, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to checkout file", "detail": errorDetail(err)})
		return
	}
	if file.Version == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file does not have a current version"})
		return
	}

	version := file.Version
	if versionID != "" {
		version, err = client.FileVersion(ctx, versionID, file.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to retrieve version", "detail": errorDetail(err)})
			return
		}
	}

	if version.ObjectID == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to checkout file", "detail": "no object found"})
		return
	}
	object, err := client.StorageObject(ctx, *version.ObjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to checkout file", "detail": errorDetail(err)})
		return
	}
	if len(object.PathTokens) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to checkout file", "detail": "no path tokens on object"})
		return
	}

	body, err := client.Download(ctx, file.ProjectID, object.PathTokens)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to download file", "detail": errorDetail(err)})
		return
	}
	defer body.Close()

	fileName := cache.FileName(file, version)
	path, err := h.Cache.Write(file.ProjectID, version.ID, fileName, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to download file", "detail": err.Error()})
		return
	}

	if h.StripQuarantine != nil {
		if err := h.StripQuarantine(path); err != nil {
			log.Warn("strip quarantine attributes", zap.String("path", path), zap.Error(err))
		}
	}

	if stale := c.Query("remove"); stale != "" {
		h.removeStale(log, stale, path)
	}

	isCurrent := file.CurrentVersionID != nil && *file.CurrentVersionID == version.ID
	var uri string
	if isCurrent {
		uri = shell.OpenForEdit(h.OfficeScheme, path)
	} else {
		q := url.Values{}
		q.Set("file-path", path)
		redirect := h.BaseURL + "/word/open/" + url.PathEscape(fileName) + "?" + q.Encode()
		uri = shell.OpenForView(h.OfficeScheme, redirect)
	}
	if err := h.Opener.Open(uri); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "file downloaded successfully, but an error occurred while trying to open it",
			"detail": err.Error(),
		})
		return
	}

	log.Info("checked out", zap.String("version_id", version.ID), zap.Bool("current", isCurrent), zap.String("path", path))
	c.JSON(http.StatusCreated, gin.H{"success": true, "path": path})
}

func (h *DocumentHandler) removeStale(log *zap.Logger, stale, keep string) {
	resolved, err := h.Cache.Resolve(stale)
	if err != nil {
		log.Warn("ignoring stale path outside cache", zap.String("path", stale))
		return
	}
	if resolved == keep {
		return
	}
	if err := os.Remove(resolved); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("remove stale document", zap.String("path", resolved), zap.Error(err))
	}
}

func (h *DocumentHandler) Checkin(c *gin.Context) {
	rawNumber := c.Query("file-number")
	if rawNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`file-number` query parameter is required"})
		return
	}
	number, err := strconv.ParseInt(rawNumber, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`file-number` must be an integer"})
		return
	}
	docPath := c.Query("doc-path")
	if docPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`doc-path` query parameter is required"})
		return
	}
	resolved, err := h.Cache.Resolve(docPath)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "`doc-path` is outside the document cache"})
		return
	}

	client, ok := h.backendFor(c)
	if !ok {
		return
	}
	if _, err := client.UnlockFile(c.Request.Context(), number); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to checkin file", "detail": errorDetail(err)})
		return
	}

	if err := os.Remove(resolved); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file does not exist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to delete file", "detail": err.Error()})
		return
	}

	h.Log.Info("checked in", zap.Int64("file_number", number), zap.String("path", resolved))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Open streams a cached document. It is the target of open-for-view links.
func (h *DocumentHandler) Open(c *gin.Context) {
	filePath := c.Query("file-path")
	if filePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "`file-path` query parameter is required"})
		return
	}
	resolved, err := h.Cache.Resolve(filePath)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unable to access authentication"})
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	c.DataFromReader(http.StatusOK, info.Size(), wordDocument, f, map[string]string{
		"Content-Disposition": `inline; filename="` + filepath.Base(resolved) + `"`,
	})
}
