package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patrik-fredon/ZipChat-sub000/internal/ports"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	service *services.AuthService
	users   ports.UserDirectory
	logger  *slog.Logger
}

func NewAuthHandler(service *services.AuthService, users ports.UserDirectory, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, users: users, logger: logger}
}

// IssueToken exchanges a user id for a signed session token. Identity
// proof is delegated to the upstream identity provider; this subsystem
// only vouches that the user exists.
func (a *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		a.logger.Warn("invalid input format", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input format"})
		return
	}

	exists, err := a.users.Exists(c.Request.Context(), req.UserID)
	if err != nil {
		a.logger.Error("user lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	token, err := a.service.IssueToken(req.UserID, tokenTTL)
	if err != nil {
		a.logger.Error("token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (a *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	if err := a.service.RevokeToken(c.Request.Context(), token, tokenTTL); err != nil {
		a.logger.Error("token revocation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (a *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.GetHeader("Authorization")
		if tokenStr == "" {
			a.logger.Warn("missing authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")

		userID, err := a.service.ValidateToken(c.Request.Context(), tokenStr)
		if err != nil {
			a.logger.Warn("token validation failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Set("token", tokenStr)

		a.logger.Debug("request authorized", "userID", userID)
		c.Next()
	}
}
