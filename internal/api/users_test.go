package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/model"
)

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)
	id, token := a.register(t, "ann")

	claims, err := a.issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)

	rec := a.do(t, http.MethodPost, "/user/login", "", gin.H{"email": "ANN@example.com", "password": "pw-ann"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(auth.HeaderToken))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRegisterRejects(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "ann")

	tests := []struct {
		name string
		body any
	}{
		{name: "duplicate email", body: gin.H{"username": "x", "email": "ann@example.com", "password": "p"}},
		{name: "missing password", body: gin.H{"username": "x", "email": "x@example.com"}},
		{name: "not json", body: "oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/user", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "ann")

	for _, body := range []gin.H{
		{"email": "ann@example.com", "password": "wrong"},
		{"email": "nobody@example.com", "password": "pw-ann"},
	} {
		rec := a.do(t, http.MethodPost, "/user/login", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), auth.ErrInvalidCredentials.Error())
	}
}

func TestGetAndListUsers(t *testing.T) {
	a := newTestAPI(t)
	id, _ := a.register(t, "bob")
	a.register(t, "ann")
	a.register(t, "cid")

	rec := a.do(t, http.MethodGet, "/user/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user model.User
	decode(t, rec, &user)
	assert.Equal(t, "bob", user.Username)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/user/missing", "", nil).Code)

	rec = a.do(t, http.MethodGet, "/user?pageNumber=2&pageSize=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page []model.User
	decode(t, rec, &page)
	require.Len(t, page, 1)
	assert.Equal(t, "cid", page[0].Username)

	rec = a.do(t, http.MethodGet, "/user?pageNumber=zero", "", nil)
	decode(t, rec, &page)
	assert.Len(t, page, 3)
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestAPI(t)
	id, token := a.register(t, "ann")

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/chat", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/chat", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/chat", token, nil).Code)

	rec := a.do(t, http.MethodDelete, "/user", token, []string{id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/chat", token, nil).Code)
}

func TestSetAdmin(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.register(t, "ann")
	bob, _ := a.register(t, "bob")

	rec := a.do(t, http.MethodPut, "/user", token, gin.H{"users": []string{bob, "missing"}, "status": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var users []model.User
	decode(t, rec, &users)
	require.Len(t, users, 1)
	assert.True(t, users[0].IsAdmin)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/user", token, gin.H{"status": true}).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPut, "/user", "", gin.H{"users": []string{bob}}).Code)
}
