package fileutil

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxUploadBytes caps a cover upload.
	DefaultMaxUploadBytes = 10 << 20

	optimizedPrefix  = "opt-"
	optimizedWidth   = 800
	optimizedQuality = 85
)

var (
	ErrUnsupportedImage = errors.New("only jpeg, jpg, png, gif and webp images are allowed")
	ErrTooLarge         = errors.New("image exceeds the upload size limit")
)

// allowed extensions and the MIME types accepted for them
var imageTypes = map[string][]string{
	".jpg":  {"image/jpeg", "image/jpg", "image/pjpeg"},
	".jpeg": {"image/jpeg", "image/jpg", "image/pjpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
}

// Upload is a cover image stored in the uploads directory.
type Upload struct {
	// Path is the original file on disk
	Path string
	// Name is the base name, e.g. cover-01J8Z3Q2WQ7X9E6VYB2M4T5K0H.jpg
	Name string
	// OptimizedPath is the resized JPEG copy, empty when optimization failed
	OptimizedPath string
	Size          int64
}

// PublicPath returns the URL path the server exposes the original under.
func (u *Upload) PublicPath() string {
	return "/uploads/" + u.Name
}

// OptimizedPublicPath returns the URL path of the optimized copy, falling
// back to the original.
func (u *Upload) OptimizedPublicPath() string {
	if u.OptimizedPath == "" {
		return u.PublicPath()
	}
	return "/uploads/" + filepath.Base(u.OptimizedPath)
}

// ValidateImageType checks the file extension and, when given, the declared
// MIME type. It returns the lowercased extension.
func ValidateImageType(filename, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mimes, ok := imageTypes[ext]
	if !ok {
		return "", ErrUnsupportedImage
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if contentType == "" || contentType == "application/octet-stream" {
		return ext, nil
	}
	for _, m := range mimes {
		if m == contentType {
			return ext, nil
		}
	}
	return "", ErrUnsupportedImage
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewUploadName returns a sortable unique file name with the given extension.
func NewUploadName(ext string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy)
	entropyMu.Unlock()
	return "cover-" + id.String() + ext
}

// SaveUpload copies r into dir under a fresh name after validating the file
// type, then writes the optimized copy. Files larger than maxBytes are
// rejected and nothing is left on disk.
func SaveUpload(dir, filename, contentType string, r io.Reader, maxBytes int64) (*Upload, error) {
	ext, err := ValidateImageType(filename, contentType)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := NewUploadName(ext)
	path := filepath.Join(dir, name)
	size, err := writeLimited(path, r, maxBytes)
	if err != nil {
		return nil, err
	}

	u := &Upload{Path: path, Name: name, Size: size}
	if opt, err := Optimize(path); err != nil {
		slog.Warn("Failed to optimize upload", "path", path, "error", err)
	} else {
		u.OptimizedPath = opt
	}
	slog.Debug("Upload saved", "path", path, "bytes", size)
	return u, nil
}

func writeLimited(path string, r io.Reader, maxBytes int64) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	n, copyErr := io.Copy(file, io.LimitReader(r, maxBytes+1))
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write upload: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to write upload: %w", closeErr)
	case n > maxBytes:
		err = ErrTooLarge
	case n == 0:
		err = fmt.Errorf("empty upload: %w", ErrUnsupportedImage)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Optimize writes an "opt-" JPEG copy next to path, scaled down to at most
// 800 pixels wide.
func Optimize(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Dx() > optimizedWidth {
		img = imaging.Resize(img, optimizedWidth, 0, imaging.Lanczos)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(filepath.Dir(path), optimizedPrefix+base+".jpg")
	if err := imaging.Save(img, out, imaging.JPEGQuality(optimizedQuality)); err != nil {
		return "", fmt.Errorf("failed to write optimized image: %w", err)
	}
	return out, nil
}

// RemoveUpload deletes an upload and its optimized copy. name may be a bare
// file name or a /uploads/ URL path; anything that would leave dir is
// ignored. Missing files are not an error.
func RemoveUpload(dir, name string) error {
	name = strings.TrimPrefix(name, "/uploads/")
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "://") {
		return nil
	}

	base := strings.TrimPrefix(name, optimizedPrefix)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var errs []error
	for _, candidate := range []string{base, optimizedPrefix + stem + ".jpg"} {
		err := os.Remove(filepath.Join(dir, candidate))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
