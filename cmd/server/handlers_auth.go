package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// Auth Handlers
// ============================================================================

func (s *AppState) Login(c *gin.Context) {
	clientIP := c.ClientIP()
	if loginLimiter != nil && !loginLimiter.Allow(c.Request.Context(), clientIP) {
		c.Header("Retry-After", strconv.Itoa(int(loginRateWindow.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.RLock()
	passwordHash := s.Config.AdminPasswordHash
	s.ConfigMu.RUnlock()

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		// The password may have been reset on disk while we run; reload and
		// try once more before rejecting
		if newConfig, _ := LoadConfig(); newConfig != nil {
			s.ConfigMu.Lock()
			oldHash := s.Config.AdminPasswordHash
			s.Config.AdminPasswordHash = newConfig.AdminPasswordHash
			s.ConfigMu.Unlock()

			if err := bcrypt.CompareHashAndPassword([]byte(newConfig.AdminPasswordHash), []byte(req.Password)); err != nil {
				s.ConfigMu.Lock()
				s.Config.AdminPasswordHash = oldHash
				s.ConfigMu.Unlock()
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
				return
			}
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
			return
		}
	}

	expiresAt := time.Now().Add(7 * 24 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": expiresAt.Unix(),
	})

	tokenString, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	if loginLimiter != nil {
		loginLimiter.Reset(c.Request.Context(), clientIP)
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     tokenString,
		ExpiresAt: expiresAt,
	})
}

func (s *AppState) VerifyToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "valid"})
}

func (s *AppState) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.Lock()
	defer s.ConfigMu.Unlock()

	if err := bcrypt.CompareHashAndPassword([]byte(s.Config.AdminPasswordHash), []byte(req.CurrentPassword)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid current password"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	s.Config.AdminPasswordHash = string(hash)
	if err := SaveConfigImmediate(s.Config); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist password"})
		return
	}
	c.Status(http.StatusOK)
}

// ============================================================================
// Auth Middleware
// ============================================================================

// AuthMiddleware validates the admin JWT on protected routes
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(GetJWTSecret()), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
