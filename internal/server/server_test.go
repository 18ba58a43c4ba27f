package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/lepinkainen/librarian/internal/catalog"
	apperrors "github.com/lepinkainen/librarian/internal/errors"
	"github.com/lepinkainen/librarian/internal/lending"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/recognition"
	"github.com/lepinkainen/librarian/internal/server"
	"github.com/lepinkainen/librarian/internal/testutil"
	"github.com/stretchr/testify/require"
)

type stubIdentifier struct {
	outcome recognition.Outcome
	seen    string
}

func (s *stubIdentifier) Identify(_ context.Context, path string) recognition.Outcome {
	s.seen = path
	return s.outcome
}

type stubSource struct {
	books map[string]*metadata.Book
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) LookupByISBN(_ context.Context, code string) (*metadata.Book, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.books[code], nil
}

func (s *stubSource) LookupByTitleAuthor(context.Context, string, string) (*metadata.Book, error) {
	return nil, nil
}

type stubSearcher struct {
	results []metadata.Book
}

func (s *stubSearcher) Search(context.Context, metadata.Query, int) ([]metadata.Book, error) {
	return s.results, nil
}

type harness struct {
	t          *testing.T
	env        *testutil.TestEnv
	store      *catalog.Store
	identifier *stubIdentifier
	source     *stubSource
	searcher   *stubSearcher
	handler    http.Handler
	uploads    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := testutil.NewTestEnv(t)
	store := testutil.NewCatalog(t, env)
	h := &harness{
		t:          t,
		env:        env,
		store:      store,
		identifier: &stubIdentifier{outcome: recognition.Outcome{Method: recognition.MethodNone}},
		source:     &stubSource{books: map[string]*metadata.Book{}},
		searcher:   &stubSearcher{},
		uploads:    env.Path("uploads"),
	}
	srv := server.New(server.Deps{
		Store:      store,
		Ledger:     lending.New(store.DB()),
		Identifier: h.identifier,
		Source:     h.source,
		Searcher:   h.searcher,
	}, server.Options{UploadDir: h.uploads, MaxUploadBytes: 1 << 20})
	h.handler = srv.Handler()
	return h
}

type response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Retryable  bool            `json:"retryable"`
	Recognized bool            `json:"recognized"`
	Method     string          `json:"recognition_method"`
}

func (h *harness) do(method, path string, body any, userID int64) (int, response) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.serve(req, userID)
}

func (h *harness) serve(req *http.Request, userID int64) (int, response) {
	h.t.Helper()
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func (h *harness) upload(filename string, content []byte) (int, response) {
	h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("cover", filename)
	require.NoError(h.t, err)
	_, err = part.Write(content)
	require.NoError(h.t, err)
	require.NoError(h.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/books/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return h.serve(req, 0)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBookCRUD(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(http.MethodPost, "/api/books", map[string]any{"author": "nobody"}, 0)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_ARGUMENT", resp.Code)

	status, resp = h.do(http.MethodPost, "/api/books", map[string]any{
		"title": "Dune", "author": "Frank Herbert", "isbn": "978-0-441-01359-3", "status": "borrowed",
	}, 0)
	require.Equal(t, http.StatusCreated, status)
	created := decode[catalog.Book](t, resp.Data)
	require.Equal(t, "9780441013593", *created.ISBN)
	require.Equal(t, catalog.StatusAvailable, created.Status, "status is not client controlled")

	status, resp = h.do(http.MethodPost, "/api/books", map[string]any{"title": "Dune again", "isbn": "9780441013593"}, 0)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "DUPLICATE", resp.Code)

	path := "/api/books/" + strconv.FormatInt(created.ID, 10)
	status, resp = h.do(http.MethodGet, path, nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Dune", decode[catalog.Book](t, resp.Data).Title)

	status, resp = h.do(http.MethodPut, path, map[string]any{"page_count": 412}, 0)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 412, decode[catalog.Book](t, resp.Data).PageCount)

	status, _ = h.do(http.MethodPut, "/api/books/9999", map[string]any{"title": "x"}, 0)
	require.Equal(t, http.StatusNotFound, status)

	status, resp = h.do(http.MethodGet, "/api/books/search?q=herbert", nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decode[[]catalog.Book](t, resp.Data), 1)

	status, _ = h.do(http.MethodGet, "/api/books/search", nil, 0)
	require.Equal(t, http.StatusBadRequest, status)

	status, resp = h.do(http.MethodGet, "/api/stats", nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, catalog.Stats{Total: 1, Available: 1}, decode[catalog.Stats](t, resp.Data))

	status, _ = h.do(http.MethodDelete, path, nil, 0)
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodGet, path, nil, 0)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(http.MethodGet, "/api/books/abc", nil, 0)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestCreateBookRecordsOwner(t *testing.T) {
	h := newHarness(t)
	owner := testutil.AddUser(t, h.store, "ada", false)

	status, resp := h.do(http.MethodPost, "/api/books", map[string]any{"title": "Emma"}, owner.ID)
	require.Equal(t, http.StatusCreated, status)
	book := decode[catalog.Book](t, resp.Data)
	require.NotNil(t, book.OwnerID)
	require.Equal(t, owner.ID, *book.OwnerID)

	status, _ = h.do(http.MethodPost, "/api/books", map[string]any{"title": "Emma"}, 9999)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestListBooksPaging(t *testing.T) {
	h := newHarness(t)
	for _, title := range []string{"A", "B", "C"} {
		testutil.AddBook(t, h.store, title, "")
	}

	status, resp := h.do(http.MethodGet, "/api/books?limit=2", nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decode[[]catalog.Book](t, resp.Data), 2)

	_, resp = h.do(http.MethodGet, "/api/books?limit=2&offset=2", nil, 0)
	require.Len(t, decode[[]catalog.Book](t, resp.Data), 1)
}

func TestUploadRecognized(t *testing.T) {
	h := newHarness(t)
	h.identifier.outcome = recognition.Outcome{
		Recognized: true,
		Method:     recognition.MethodISBNOCR,
		Data:       recognition.Result{Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593"},
	}
	img := h.env.ReadFile(h.env.WriteImage("src/cover.jpg", 120, 180))

	status, resp := h.upload("cover.jpg", img)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.True(t, resp.Recognized)
	require.Equal(t, string(recognition.MethodISBNOCR), resp.Method)

	data := decode[recognition.Result](t, resp.Data)
	require.Equal(t, "Dune", data.Title)
	require.Regexp(t, `^/uploads/cover-[0-9A-Z]{26}\.jpg$`, data.CoverImage)
	require.Regexp(t, `^/uploads/opt-cover-[0-9A-Z]{26}\.jpg$`, data.ThumbnailImage)
	require.Equal(t, filepath.Join(h.uploads, filepath.Base(data.CoverImage)), h.identifier.seen)
	require.FileExists(t, h.identifier.seen)
}

func TestUploadDuplicateRemovesFiles(t *testing.T) {
	h := newHarness(t)
	testutil.AddBook(t, h.store, "Dune", "9780441013593")
	h.identifier.outcome = recognition.Outcome{
		Recognized: true,
		Method:     recognition.MethodVision,
		Data:       recognition.Result{Title: "Dune", ISBN: "9780441013593"},
	}
	img := h.env.ReadFile(h.env.WriteImage("src/cover.png", 60, 90))

	status, resp := h.upload("cover.png", img)
	require.Equal(t, http.StatusConflict, status)
	require.False(t, resp.Success)
	require.True(t, resp.Recognized)
	require.Equal(t, "DUPLICATE", resp.Code)
	require.Equal(t, "Dune", decode[recognition.Result](t, resp.Data).Title)

	entries, err := os.ReadDir(h.uploads)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUploadUnrecognized(t *testing.T) {
	h := newHarness(t)
	img := h.env.ReadFile(h.env.WriteImage("src/cover.jpg", 40, 60))

	status, resp := h.upload("cover.jpg", img)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.False(t, resp.Recognized)
	require.Equal(t, string(recognition.MethodNone), resp.Method)

	data := decode[map[string]string](t, resp.Data)
	require.Len(t, data, 2)
	require.NotEmpty(t, data["cover_image"])
	require.NotEmpty(t, data["thumbnail_image"])
}

func TestUploadRejections(t *testing.T) {
	h := newHarness(t)

	status, _ := h.upload("notes.txt", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.upload("huge.jpg", bytes.Repeat([]byte{0xff}, 3<<19))
	require.Equal(t, http.StatusRequestEntityTooLarge, status)

	req := httptest.NewRequest(http.MethodPost, "/api/books/upload", nil)
	status, _ = h.serve(req, 0)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestLookupISBN(t *testing.T) {
	h := newHarness(t)
	h.source.books["9780441013593"] = &metadata.Book{Title: "Dune", ISBN: "9780441013593"}

	status, resp := h.do(http.MethodGet, "/api/books/isbn/978-0-441-01359-3", nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Dune", decode[metadata.Book](t, resp.Data).Title)

	status, _ = h.do(http.MethodGet, "/api/books/isbn/9780306406157", nil, 0)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(http.MethodGet, "/api/books/isbn/123", nil, 0)
	require.Equal(t, http.StatusBadRequest, status)

	h.source.err = apperrors.NewExternalServiceError("Google Books", http.StatusServiceUnavailable, "down")
	status, resp = h.do(http.MethodGet, "/api/books/isbn/9780441013593", nil, 0)
	require.Equal(t, http.StatusBadGateway, status)
	require.True(t, resp.Retryable)
}

func TestCompleteBook(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(http.MethodPost, "/api/books/complete", map[string]any{}, 0)
	require.Equal(t, http.StatusBadRequest, status)

	status, resp := h.do(http.MethodPost, "/api/books/complete", map[string]any{"title": "Dune"}, 0)
	require.Equal(t, http.StatusOK, status)
	require.False(t, resp.Success)
	require.Equal(t, "Dune", decode[metadata.Book](t, resp.Data).Title)

	h.searcher.results = []metadata.Book{{Title: "Dune (40th anniv.)", Author: "Frank Herbert", PageCount: 604}}
	status, resp = h.do(http.MethodPost, "/api/books/complete", map[string]any{"title": "Dune"}, 0)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	got := decode[metadata.Book](t, resp.Data)
	require.Equal(t, "Dune", got.Title, "caller fields win")
	require.Equal(t, "Frank Herbert", got.Author)
	require.Equal(t, 604, got.PageCount)
}

func TestBorrowAndReturn(t *testing.T) {
	h := newHarness(t)
	book := testutil.AddBook(t, h.store, "Dune", "")
	ada := testutil.AddUser(t, h.store, "ada", false)
	bob := testutil.AddUser(t, h.store, "bob", false)
	path := "/api/books/" + strconv.FormatInt(book.ID, 10)

	status, _ := h.do(http.MethodPost, path+"/borrow", nil, 0)
	require.Equal(t, http.StatusUnauthorized, status)

	status, resp := h.do(http.MethodPost, path+"/borrow", map[string]any{"due_days": 7}, ada.ID)
	require.Equal(t, http.StatusCreated, status)
	loan := decode[lending.Record](t, resp.Data)
	require.Equal(t, 7*24, int(loan.DueAt.Sub(loan.BorrowedAt).Hours()))

	status, resp = h.do(http.MethodPost, path+"/borrow", nil, bob.ID)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "CONFLICT", resp.Code)

	status, _ = h.do(http.MethodPost, path+"/return", nil, bob.ID)
	require.Equal(t, http.StatusNotFound, status)

	status, resp = h.do(http.MethodPost, path+"/return", nil, ada.ID)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, lending.StatusReturned, decode[lending.Record](t, resp.Data).Status)

	status, _ = h.do(http.MethodPost, "/api/books/9999/borrow", nil, ada.ID)
	require.Equal(t, http.StatusNotFound, status)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	book := testutil.AddBook(t, h.store, "Dune", "")
	admin := testutil.AddUser(t, h.store, "root", true)
	ada := testutil.AddUser(t, h.store, "ada", false)
	path := "/api/admin/books/" + strconv.FormatInt(book.ID, 10)

	status, _ := h.do(http.MethodPost, path+"/force-borrow", map[string]any{"user_id": ada.ID}, ada.ID)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodPost, path+"/force-borrow", map[string]any{}, admin.ID)
	require.Equal(t, http.StatusBadRequest, status)

	status, resp := h.do(http.MethodPost, path+"/force-borrow", map[string]any{"user_id": ada.ID, "due_days": -2}, admin.ID)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_ARGUMENT", resp.Code)

	status, _ = h.do(http.MethodPost, path+"/force-borrow", map[string]any{"user_id": ada.ID}, admin.ID)
	require.Equal(t, http.StatusCreated, status)

	status, resp = h.do(http.MethodGet, "/api/users/"+strconv.FormatInt(ada.ID, 10)+"/loans", nil, ada.ID)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decode[[]lending.Record](t, resp.Data), 1)

	status, _ = h.do(http.MethodGet, "/api/users/"+strconv.FormatInt(admin.ID, 10)+"/loans", nil, ada.ID)
	require.Equal(t, http.StatusForbidden, status)

	status, resp = h.do(http.MethodGet, "/api/loans/overdue", nil, admin.ID)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, decode[[]lending.Record](t, resp.Data))

	status, resp = h.do(http.MethodPost, path+"/force-return", nil, admin.ID)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ada.ID, decode[lending.Record](t, resp.Data).UserID)

	status, _ = h.do(http.MethodPost, path+"/force-return", nil, admin.ID)
	require.Equal(t, http.StatusNotFound, status)
}

func TestUsers(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(http.MethodPost, "/api/users", map[string]any{"name": "Ada", "email": "ADA@example.com"}, 0)
	require.Equal(t, http.StatusCreated, status)
	u := decode[catalog.User](t, resp.Data)
	require.Equal(t, "ada@example.com", u.Email)
	require.False(t, u.IsAdmin)

	status, _ = h.do(http.MethodPost, "/api/users", map[string]any{"name": "Other", "email": "ada@example.com"}, 0)
	require.Equal(t, http.StatusConflict, status)

	status, _ = h.do(http.MethodPost, "/api/users", map[string]any{"name": "No email"}, 0)
	require.Equal(t, http.StatusBadRequest, status)

	status, resp = h.do(http.MethodGet, "/api/users/"+strconv.FormatInt(u.ID, 10), nil, 0)
	require.Equal(t, http.StatusOK, status)
	require.NotContains(t, string(resp.Data), "password")

	status, _ = h.do(http.MethodGet, "/api/users", nil, u.ID)
	require.Equal(t, http.StatusForbidden, status)

	require.NoError(t, h.store.SetUserEnabled(context.Background(), u.ID, false))
	status, _ = h.do(http.MethodGet, "/api/books", nil, u.ID)
	require.Equal(t, http.StatusForbidden, status)
}
