package middleware

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte(getJWTSecret())

func getJWTSecret() string {
	if val := os.Getenv("JWT_SECRET"); val != "" {
		return val
	}
	return "supersecret" // fallback
}

// Roles carried in tokens.
const (
	RoleProducer   = "producer"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
	RoleOperator   = "operator"
	RoleAdmin      = "admin"
)

// Claims binds a token to a tenant and, for producers, to a vehicle and
// driver.
type Claims struct {
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	VehicleID string `json:"vehicle_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(claims Claims, ttl time.Duration) (string, error) {
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	claims.IssuedAt = jwt.NewNumericDate(time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequireAuth ensures a valid JWT is present and stores the claims.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}

		claims, err := ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("claims", claims)
		c.Set("tenant_id", claims.TenantID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole ensures the JWT is valid and carries one of the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := RequireAuth()
		req(c)
		if c.IsAborted() {
			return
		}

		role := c.GetString("role")
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// ClaimsFrom pulls the validated claims out of the gin context.
func ClaimsFrom(c *gin.Context) *Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
