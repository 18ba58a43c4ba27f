package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/isbn"
	"github.com/lepinkainen/librarian/internal/metadata"
)

const defaultListLimit = 100

func (s *Server) registerBookRoutes(r gin.IRoutes) {
	r.GET("/books", s.listBooks)
	r.GET("/books/search", s.searchBooks)
	r.GET("/books/category/:category", s.booksByCategory)
	r.GET("/books/isbn/:isbn", s.lookupISBN)
	r.GET("/books/:id", s.getBook)
	r.POST("/books", s.createBook)
	r.POST("/books/upload", s.uploadCover)
	r.POST("/books/complete", s.completeBook)
	r.PUT("/books/:id", s.updateBook)
	r.DELETE("/books/:id", s.deleteBook)
	r.GET("/stats", s.stats)
}

func (s *Server) listBooks(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), defaultListLimit)
	offset := parseIntDefault(c.Query("offset"), 0)
	books, err := s.deps.Store.ListBooks(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(books, ""))
}

func (s *Server) searchBooks(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "search query is required"))
		return
	}
	books, err := s.deps.Store.SearchBooks(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(books, ""))
}

func (s *Server) booksByCategory(c *gin.Context) {
	books, err := s.deps.Store.BooksByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(books, ""))
}

func (s *Server) getBook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	book, err := s.deps.Store.GetBook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(book, ""))
}

func (s *Server) createBook(c *gin.Context) {
	var in catalog.Book
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid JSON body"))
		return
	}
	in.ID = 0
	in.Status = catalog.StatusAvailable
	in.OwnerID = nil
	if u := currentUser(c); u != nil {
		in.OwnerID = &u.ID
	}

	book, err := s.deps.Store.AddBook(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/api/books/"+strconv.FormatInt(book.ID, 10))
	c.JSON(http.StatusCreated, success(book, "Book added successfully"))
}

func (s *Server) updateBook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in catalog.BookUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid JSON body"))
		return
	}
	book, err := s.deps.Store.UpdateBook(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(book, "Book updated successfully"))
}

func (s *Server) deleteBook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	book, err := s.deps.Store.DeleteBook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	for _, img := range []string{book.CoverImage, book.ThumbnailImage} {
		if !strings.HasPrefix(img, "/uploads/") {
			continue
		}
		if err := fileutil.RemoveUpload(s.opts.UploadDir, img); err != nil {
			slog.Warn("Failed to remove cover image", "image", img, "error", err)
		}
	}
	c.JSON(http.StatusOK, success(nil, "Book deleted successfully"))
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.deps.Store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(st, ""))
}

// lookupISBN fetches a record from the metadata sources without storing it.
func (s *Server) lookupISBN(c *gin.Context) {
	if s.deps.Source == nil {
		c.JSON(http.StatusServiceUnavailable, failure(codeUnavailable, "metadata lookup is not configured"))
		return
	}
	code := isbn.Normalize(c.Param("isbn"))
	if !isbn.Valid(code) {
		respondError(c, metadata.ErrInvalidISBN)
		return
	}
	book, err := s.deps.Source.LookupByISBN(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	if book == nil {
		c.JSON(http.StatusNotFound, failure(codeNotFound, "no record for ISBN "+code))
		return
	}
	c.JSON(http.StatusOK, success(book, ""))
}

// completeBook fills a partial record from the best search match. When
// nothing matches the partial record is echoed back with success false.
func (s *Server) completeBook(c *gin.Context) {
	if s.deps.Searcher == nil {
		c.JSON(http.StatusServiceUnavailable, failure(codeUnavailable, "metadata search is not configured"))
		return
	}
	var partial metadata.Book
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid JSON body"))
		return
	}
	completed, err := metadata.Complete(c.Request.Context(), s.deps.Searcher, partial)
	if err != nil {
		if errors.Is(err, metadata.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "title, author or isbn is required"))
			return
		}
		respondError(c, err)
		return
	}
	if completed == nil {
		c.JSON(http.StatusOK, envelope{Success: false, Data: partial, Message: "Could not find matching book information"})
		return
	}
	c.JSON(http.StatusOK, success(completed, ""))
}
