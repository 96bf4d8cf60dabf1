package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/model"
	"github.com/Tyrowin/hivechat/internal/store"
)

const ctxUserKey = "hivechat.user"

// RequireAuth resolves the X-Auth-Token of the request to a stored user.
// A missing token is 401, a bad one 400 and a token for a deleted user 403.
func (h *Handler) RequireAuth(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access denied, no token provided"})
		return
	}

	claims, err := h.issuer.Verify(token)
	if err != nil {
		h.fail(c, err)
		return
	}

	user, err := h.store.FindUserByID(c.Request.Context(), claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(c, forbidden("access denied, user is not authorized"))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Set(ctxUserKey, user)
	c.Next()
}

// currentUser returns the user set by RequireAuth.
func currentUser(c *gin.Context) *model.User {
	v, _ := c.Get(ctxUserKey)
	u, _ := v.(*model.User)
	return u
}
