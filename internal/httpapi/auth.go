package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"instaq/internal/apperr"
	"instaq/internal/auth"
	"instaq/internal/users"
)

const userNotFound = "User"

type sessionResponse struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	User         users.User `json:"user"`
}

func newSessionResponse(s users.Session) sessionResponse {
	return sessionResponse{
		Token:        s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
		ExpiresAt:    s.Tokens.AccessExp,
		User:         s.User,
	}
}

func (h *handlers) register(c *gin.Context) {
	var in users.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, apperr.Invalid("body", "Invalid JSON body"), userNotFound)
		return
	}
	session, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err, userNotFound)
		return
	}
	ok(c, http.StatusCreated, "User registered successfully", newSessionResponse(session))
}

func (h *handlers) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Invalid("body", "Invalid JSON body"), userNotFound)
		return
	}
	session, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, apperr.ErrUnauthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if err != nil {
		h.fail(c, err, userNotFound)
		return
	}
	ok(c, http.StatusOK, "Login successful", newSessionResponse(session))
}

func (h *handlers) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		h.fail(c, apperr.Invalid("refreshToken", "Refresh token is required"), userNotFound)
		return
	}
	session, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, apperr.ErrUnauthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Refresh token is not valid"})
		return
	}
	if err != nil {
		h.fail(c, err, userNotFound)
		return
	}
	ok(c, http.StatusOK, "", newSessionResponse(session))
}

func (h *handlers) me(c *gin.Context) {
	p := auth.PrincipalFrom(c)
	if p == nil {
		h.fail(c, apperr.ErrUnauthenticated, userNotFound)
		return
	}
	u, err := h.users.Get(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err, userNotFound)
		return
	}
	ok(c, http.StatusOK, "", u)
}

func (h *handlers) logout(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	if err := h.users.Logout(c.Request.Context(), claims, req.RefreshToken); err != nil {
		h.fail(c, err, userNotFound)
		return
	}
	ok(c, http.StatusOK, "Logged out successfully", nil)
}
