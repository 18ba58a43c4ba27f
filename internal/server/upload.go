package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/recognition"
)

// multipart overhead allowed on top of the image itself
const uploadSlack = 1 << 20

type uploadResponse struct {
	Success    bool               `json:"success"`
	Recognized bool               `json:"recognized"`
	Method     recognition.Method `json:"recognition_method"`
	Data       any                `json:"data"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
	Code       code               `json:"code,omitempty"`
}

type coverImages struct {
	CoverImage     string `json:"cover_image"`
	ThumbnailImage string `json:"thumbnail_image"`
}

// uploadCover stores the "cover" form file, runs it through identification
// and returns the guess. A recognized ISBN that is already catalogued is a
// conflict and the uploaded files are removed again.
func (s *Server) uploadCover(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+uploadSlack)

	fh, err := c.FormFile("cover")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, fileutil.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "no image file provided"))
		return
	}
	if fh.Size > s.opts.MaxUploadBytes {
		respondError(c, fileutil.ErrTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	up, err := fileutil.SaveUpload(s.opts.UploadDir, fh.Filename, fh.Header.Get("Content-Type"), f, s.opts.MaxUploadBytes)
	if err != nil {
		respondError(c, err)
		return
	}
	images := coverImages{CoverImage: up.PublicPath(), ThumbnailImage: up.OptimizedPublicPath()}

	outcome := recognition.Outcome{Method: recognition.MethodNone}
	if s.deps.Identifier != nil {
		outcome = s.deps.Identifier.Identify(c.Request.Context(), up.Path)
	}

	if !outcome.Recognized {
		c.JSON(http.StatusOK, uploadResponse{
			Success:    true,
			Recognized: false,
			Method:     recognition.MethodNone,
			Data:       images,
			Message:    "Could not recognize book. Please enter details manually.",
		})
		return
	}

	data := outcome.Data
	data.CoverImage = images.CoverImage
	data.ThumbnailImage = images.ThumbnailImage

	if data.ISBN != "" {
		dup, err := s.deps.Store.IsDuplicate(c.Request.Context(), data.ISBN)
		if err != nil {
			s.discardUpload(up)
			respondError(c, err)
			return
		}
		if dup {
			s.discardUpload(up)
			data.CoverImage, data.ThumbnailImage = "", ""
			c.JSON(http.StatusConflict, uploadResponse{
				Success:    false,
				Recognized: true,
				Method:     outcome.Method,
				Data:       data,
				Error:      "This book already exists in the catalog",
				Code:       codeDuplicate,
			})
			return
		}
	}

	c.JSON(http.StatusOK, uploadResponse{
		Success:    true,
		Recognized: true,
		Method:     outcome.Method,
		Data:       data,
		Message:    "Book recognized successfully",
	})
}

func (s *Server) discardUpload(up *fileutil.Upload) {
	if err := fileutil.RemoveUpload(s.opts.UploadDir, up.Name); err != nil {
		slog.Warn("Failed to remove upload", "name", up.Name, "error", err)
	}
}
