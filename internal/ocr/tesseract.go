// Package ocr extracts text from cover photos with the tesseract CLI.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// DefaultLanguages matches the covers the library mostly holds.
const DefaultLanguages = "eng+spa"

// ErrTesseractMissing is returned when the tesseract binary cannot be found.
var ErrTesseractMissing = errors.New("tesseract not found")

// runFunc executes the OCR command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Tesseract runs the tesseract binary on a preprocessed copy of the image.
type Tesseract struct {
	binary    string
	languages string
	maxWidth  int
	run       runFunc
	lookPath  func(string) (string, error)
}

// Option configures a Tesseract.
type Option func(*Tesseract)

// WithBinary sets the tesseract executable.
func WithBinary(path string) Option {
	return func(t *Tesseract) {
		if path != "" {
			t.binary = path
		}
	}
}

// WithLanguages sets the language string passed to -l.
func WithLanguages(langs string) Option {
	return func(t *Tesseract) {
		if langs != "" {
			t.languages = langs
		}
	}
}

// New creates a Tesseract extractor.
func New(opts ...Option) *Tesseract {
	t := &Tesseract{
		binary:    "tesseract",
		languages: DefaultLanguages,
		maxWidth:  2000,
		run:       runCommand,
		lookPath:  exec.LookPath,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Available reports whether the tesseract binary can be found.
func (t *Tesseract) Available() bool {
	_, err := t.lookPath(t.binary)
	return err == nil
}

// ExtractText returns the text tesseract recognizes on imagePath. The image
// is converted to greyscale, contrast-stretched and sharpened first. An empty
// string with a nil error means nothing legible was found.
func (t *Tesseract) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if _, err := t.lookPath(t.binary); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTesseractMissing, err)
	}

	processed, err := t.preprocess(imagePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(processed); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove OCR temp file", "path", processed, "error", err)
		}
	}()

	start := time.Now()
	out, err := t.run(ctx, t.binary, processed, "stdout", "-l", t.languages)
	if err != nil {
		return "", fmt.Errorf("tesseract failed: %w", err)
	}

	text := strings.TrimSpace(string(out))
	slog.Debug("OCR finished", "image", imagePath, "chars", len(text), "elapsed", time.Since(start))
	return text, nil
}

func (t *Tesseract) preprocess(imagePath string) (string, error) {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open image for OCR: %w", err)
	}

	if img.Bounds().Dx() > t.maxWidth {
		img = imaging.Resize(img, t.maxWidth, 0, imaging.Lanczos)
	}
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 20)
	gray = imaging.Sharpen(gray, 1.0)

	f, err := os.CreateTemp(filepath.Dir(imagePath), filepath.Base(imagePath)+"_ocr_*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create OCR temp file: %w", err)
	}
	path := f.Name()
	if err := imaging.Encode(f, gray, imaging.PNG); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write OCR temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close OCR temp file: %w", err)
	}
	return path, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
