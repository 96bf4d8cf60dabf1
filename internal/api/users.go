package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setAdminRequest struct {
	Users  []string `json:"users"`
	Status bool     `json:"status"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid body"))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		h.fail(c, badRequest("username, email and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	user := &model.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithToken(c, user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid body"))
		return
	}

	user, err := h.store.FindUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		// an unknown email answers like a wrong password
		h.fail(c, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithToken(c, user)
}

func (h *Handler) respondWithToken(c *gin.Context, user *model.User) {
	token, err := h.issuer.Issue(user.ID, user.IsAdmin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(auth.HeaderToken, token)
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.store.FindUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) listUsers(c *gin.Context) {
	page := positiveQuery(c, "pageNumber", 1)
	size := positiveQuery(c, "pageSize", defaultPageSize)
	if size > maxPageSize {
		size = maxPageSize
	}

	users, err := h.store.ListUsers(c.Request.Context(), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func positiveQuery(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func (h *Handler) setAdmin(c *gin.Context) {
	var req setAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Users) == 0 {
		h.fail(c, badRequest("users are required"))
		return
	}

	users, err := h.store.SetAdmin(c.Request.Context(), req.Users, req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) deleteUsers(c *gin.Context) {
	var ids []string
	if err := c.ShouldBindJSON(&ids); err != nil || len(ids) == 0 {
		h.fail(c, badRequest("user ids are required"))
		return
	}

	n, err := h.store.DeleteUsers(c.Request.Context(), ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
