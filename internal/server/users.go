package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
)

type createUserRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
}

func (s *Server) registerUserRoutes(r gin.IRoutes) {
	r.POST("/users", s.createUser)
	r.GET("/users", requireAdmin(), s.listUsers)
	r.GET("/users/:id", s.getUser)
}

// createUser registers a regular user. Admins are created from the CLI.
func (s *Server) createUser(c *gin.Context) {
	var in createUserRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid JSON body"))
		return
	}
	u, err := s.deps.Store.CreateUser(c.Request.Context(), catalog.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Phone:        in.Phone,
		Address:      in.Address,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/api/users/"+strconv.FormatInt(u.ID, 10))
	c.JSON(http.StatusCreated, success(u, "User created"))
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, err := s.deps.Store.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(u, ""))
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.deps.Store.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, success(users, ""))
}
