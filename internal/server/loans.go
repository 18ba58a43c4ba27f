package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
)

type borrowRequest struct {
	DueDays int `json:"due_days"`
}

type forceBorrowRequest struct {
	UserID  int64 `json:"user_id" binding:"required"`
	DueDays int   `json:"due_days"`
}

func (s *Server) registerLoanRoutes(r gin.IRoutes) {
	r.POST("/books/:id/borrow", requireUser(), s.borrow)
	r.POST("/books/:id/return", requireUser(), s.returnBook)
	r.GET("/users/:id/loans", requireUser(), s.userLoans)
	r.GET("/loans/overdue", requireAdmin(), s.overdueLoans)
}

func (s *Server) borrow(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in borrowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid JSON body"))
			return
		}
	}
	if in.DueDays < 0 {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "due_days must be positive"))
		return
	}
	rec, err := s.deps.Ledger.Borrow(c.Request.Context(), id, currentUser(c).ID, in.DueDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, success(rec, "Book borrowed"))
}

func (s *Server) returnBook(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rec, err := s.deps.Ledger.Return(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(rec, "Book returned"))
}

func (s *Server) forceReturn(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rec, err := s.deps.Ledger.ForceReturn(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(rec, "Loan closed"))
}

func (s *Server) forceBorrow(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in forceBorrowRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "user_id is required"))
		return
	}
	rec, err := s.deps.Ledger.ForceBorrow(c.Request.Context(), id, in.UserID, in.DueDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, success(rec, "Book lent"))
}

// userLoans lists a user's loan history. Users see their own, admins anyone's.
func (s *Server) userLoans(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if u := currentUser(c); u.ID != id && !u.IsAdmin {
		c.JSON(http.StatusForbidden, failure(codeForbidden, "cannot view another user's loans"))
		return
	}
	recs, err := s.deps.Ledger.ListByUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(recs, ""))
}

func (s *Server) overdueLoans(c *gin.Context) {
	recs, err := s.deps.Ledger.ListOverdue(c.Request.Context(), catalog.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(recs, ""))
}
