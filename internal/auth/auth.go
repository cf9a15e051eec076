package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/syncpad/backend/internal/models"
	"github.com/syncpad/backend/internal/store"
)

// ContextKey is a custom type for context keys
type ContextKey string

// UserContextKey is the key for storing the authenticated user in context
const UserContextKey ContextKey = "user"

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

const defaultSecret = "local-dev-secret-change-in-production"

var jwtSecret = []byte(defaultSecret)

// Configure sets the token signing secret. Called once at startup with the
// configured value; an empty string keeps the development default.
func Configure(secret string) {
	if secret != "" {
		jwtSecret = []byte(secret)
	}
}

// GenerateToken generates a JWT token for a user
func GenerateToken(user *models.User) (string, error) {
	claims := Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "syncpad",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken validates a JWT token and returns its claims
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Authenticate resolves a bearer token to a user record. This is the gate
// used by the websocket handshake; identity is fixed for the connection
// lifetime afterwards.
func Authenticate(r *http.Request, db store.Store) (*models.User, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return nil, models.ErrAuth("missing bearer token")
	}

	claims, err := ValidateToken(token)
	if err != nil {
		return nil, models.ErrAuth("invalid token")
	}

	user, err := db.GetUser(r.Context(), claims.UserID)
	if err != nil {
		return nil, models.ErrPersistence("look up user", err)
	}
	if user == nil {
		return nil, models.ErrAuth("user not found")
	}
	return user, nil
}

// Middleware validates bearer tokens and sets the user in the gin context
func Middleware(db store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		user, err := db.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			c.Abort()
			return
		}
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			c.Abort()
			return
		}

		c.Set(string(UserContextKey), user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user from the gin context
func UserFromContext(c *gin.Context) *models.User {
	user, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil
	}
	return user.(*models.User)
}
