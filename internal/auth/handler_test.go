package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/internal/middleware"
	"github.com/pz26/confpass/internal/models"
)

type authFixture struct {
	router *gin.Engine
	users  *auth.MemoryUsers
	jwt    *auth.JWTService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	users := auth.NewMemoryUsers()
	jwtSvc := auth.NewJWTService("test-secret", 1)
	revocations := auth.NewMemoryRevocations()
	h := auth.NewHandler(users, jwtSvc, revocations, nil)

	r := gin.New()
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/login", h.Login)
	protected := r.Group("")
	protected.Use(middleware.JWT(jwtSvc, revocations, nil))
	protected.POST("/auth/logout", h.Logout)
	protected.GET("/whoami", func(c *gin.Context) {
		uid, email, role, _ := middleware.Identity(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "email": email, "role": role})
	})
	return &authFixture{router: r, users: users, jwt: jwtSvc}
}

func (f *authFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func tokenFrom(t *testing.T, rec *httptest.ResponseRecorder) auth.TokenResponse {
	t.Helper()
	var env struct {
		Data auth.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func TestSignupLoginLogout(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": " Asha@Example.com ", "password": "secret1", "full_name": "Asha",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	signup := tokenFrom(t, rec)
	assert.Equal(t, "asha@example.com", signup.User.Email)
	assert.Equal(t, models.RoleAttendee, signup.User.Role)

	rec = f.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "asha@example.com", "password": "secret1", "full_name": "Asha",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "asha@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ASHA@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := tokenFrom(t, rec)

	rec = f.do(t, http.MethodGet, "/whoami", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), signup.User.ID.String())

	rec = f.do(t, http.MethodPost, "/auth/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/whoami", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked token is rejected")

	rec = f.do(t, http.MethodGet, "/whoami", signup.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "other sessions stay valid")
}

func TestEnsureAdmin(t *testing.T) {
	users := auth.NewMemoryUsers()
	ctx := context.Background()

	created, err := auth.EnsureAdmin(ctx, users, "Admin@Example.com", "pw")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = auth.EnsureAdmin(ctx, users, "admin@example.com", "other")
	require.NoError(t, err)
	assert.False(t, created)

	u, err := users.GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.True(t, auth.CheckPassword("pw", u.Password))

	_, err = auth.EnsureAdmin(ctx, users, "", "pw")
	assert.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := auth.NewJWTService("k", 1)
	tok, err := svc.Generate(uuid.New(), "a@b.co", "admin")
	require.NoError(t, err)
	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", claims.Email)
	assert.NotEmpty(t, claims.ID)

	_, err = auth.NewJWTService("other", 1).Validate(tok)
	assert.Error(t, err)
}
