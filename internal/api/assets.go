package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrAssetNotFound is returned when an asset path does not exist.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is a static file ready to serve.
type Asset struct {
	Body        []byte
	ContentType string
}

// AssetStore looks up static front-end files by URL path.
type AssetStore interface {
	Get(ctx context.Context, name string) (Asset, error)
	Index() string
}

// DirAssets serves assets from a local directory.
type DirAssets struct {
	dir   string
	index string
}

// NewDirAssets builds a DirAssets rooted at dir. index names the fallback page.
func NewDirAssets(dir, index string) (*DirAssets, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat assets dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("assets path %q is not a directory", dir)
	}
	if index == "" {
		index = "index.html"
	}
	return &DirAssets{dir: dir, index: index}, nil
}

// Index returns the fallback asset name.
func (d *DirAssets) Index() string {
	return d.index
}

// Get reads name relative to the asset root. Paths escaping the root are not found.
func (d *DirAssets) Get(_ context.Context, name string) (Asset, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" {
		clean = d.index
	}
	full := filepath.Join(d.dir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return Asset{}, ErrAssetNotFound
		}
		return Asset{}, fmt.Errorf("stat asset %s: %w", clean, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %s: %w", clean, err)
	}
	contentType := mime.TypeByExtension(path.Ext(clean))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Asset{Body: data, ContentType: contentType}, nil
}

// serveAsset serves the requested asset or, when absent, the index page so
// client-side routes resolve.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assets.Get(r.Context(), r.URL.Path)
	if errors.Is(err, ErrAssetNotFound) {
		asset, err = s.assets.Get(r.Context(), s.assets.Index())
	}
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, "not found", s.logger)
			return
		}
		s.logger.Error("serve asset failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", s.logger)
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(asset.Body); err != nil {
		s.logger.Warn("write asset failed", zap.Error(err))
	}
}
