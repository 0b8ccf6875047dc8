package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const anonIDKey = "anon_id"

// generateJWT mints a token carrying the anonymous id. Token issuance proper
// is an external concern; this is just the boundary adapter clients bootstrap
// through.
func (h *Handler) generateJWT(anonID string) (string, error) {
	claims := jwt.MapClaims{
		"anon_id": anonID,
		"exp":     time.Now().Add(72 * time.Hour).Unix(),
		"iss":     "anonpair-service",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.JWTSecret)
}

func (h *Handler) validateAndGetAnonID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return h.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	anonID, ok := claims["anon_id"].(string)
	if !ok || anonID == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return anonID, nil
}

// GetAnonID mints a fresh anonymous identity and its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	anonID := uuid.New().String()
	token, err := h.generateJWT(anonID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// AuthRequired extracts and validates the bearer token, stashing the anon id
// for the handlers downstream.
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}

		anonID, err := h.validateAndGetAnonID(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(anonIDKey, anonID)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(anonIDKey)
}
