package fileutil

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"

	apperrors "github.com/lepinkainen/librarian/internal/errors"
)

// HTTPDoer is the part of *http.Client DownloadCover needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// DownloadCover fetches a remote cover image into dir so the catalog keeps
// serving it when the source goes away. A nil client uses a default with a
// 30 second timeout.
func DownloadCover(ctx context.Context, client HTTPDoer, url, dir string, maxBytes int64) (*Upload, error) {
	if url == "" {
		return nil, nil
	}
	if client == nil {
		client = defaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cover request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.WrapExternalServiceError("cover download", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalServiceError("cover download", resp.StatusCode,
			fmt.Sprintf("unexpected status downloading cover from %s", url))
	}

	contentType := resp.Header.Get("Content-Type")
	upload, err := SaveUpload(dir, coverFilename(url, contentType), contentType, resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	slog.Info("Downloaded cover", "url", url, "path", upload.Path)
	return upload, nil
}

// coverFilename guesses a file name with a usable extension. Cover URLs
// often have none, e.g. Google Books content links.
func coverFilename(rawURL, contentType string) string {
	name := path.Base(rawURL)
	if _, err := ValidateImageType(name, ""); err == nil {
		return name
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		for ext, mimes := range imageTypes {
			for _, m := range mimes {
				if m == mediaType && ext != ".jpeg" {
					return "cover" + ext
				}
			}
		}
	}
	return "cover.jpg"
}
