package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenDuration is how long an issued token stays valid.
const DefaultTokenDuration = 24 * time.Hour

// Config holds the credentials the server accepts. JWTSecret enables
// bearer tokens; APIKeyHash (bcrypt) enables static API keys. Either may
// be empty, disabling that scheme.
type Config struct {
	JWTSecret     string
	APIKeyHash    string
	TokenDuration time.Duration
}

// Claims are the JWT claims carried by an issued token.
type Claims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates the credential schemes the API accepts.
type Auth struct {
	config Config
}

// New creates an Auth. A zero TokenDuration uses the default.
func New(config Config) *Auth {
	if config.TokenDuration == 0 {
		config.TokenDuration = DefaultTokenDuration
	}
	return &Auth{config: config}
}

// Enabled reports whether any credential scheme is configured.
func (a *Auth) Enabled() bool {
	return a.config.JWTSecret != "" || a.config.APIKeyHash != ""
}

// IssueToken signs a JWT for the subject.
func (a *Auth) IssueToken(subject, role string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	if a.config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// ValidateAPIKey compares a presented key against the configured bcrypt
// hash.
func (a *Auth) ValidateAPIKey(key string) bool {
	if a.config.APIKeyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.config.APIKeyHash), []byte(key)) == nil
}

// HashAPIKey produces the bcrypt hash to store for a key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %v", err)
	}
	return string(hash), nil
}

// Authenticate checks an Authorization header value ("Bearer <jwt>" or
// "ApiKey <key>") or a bare API key from X-API-Key. It returns the
// authenticated subject.
func (a *Auth) Authenticate(authorization, apiKeyHeader string) (subject string, err error) {
	switch {
	case strings.HasPrefix(authorization, "Bearer "):
		claims, err := a.ValidateToken(strings.TrimPrefix(authorization, "Bearer "))
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	case strings.HasPrefix(authorization, "ApiKey "):
		if a.ValidateAPIKey(strings.TrimPrefix(authorization, "ApiKey ")) {
			return "api-key", nil
		}
		return "", fmt.Errorf("invalid api key")
	case apiKeyHeader != "":
		if a.ValidateAPIKey(apiKeyHeader) {
			return "api-key", nil
		}
		return "", fmt.Errorf("invalid api key")
	default:
		return "", fmt.Errorf("missing credentials")
	}
}

// GenerateRandomKey returns a hex-encoded random key.
func GenerateRandomKey(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %v", err)
	}
	return hex.EncodeToString(buf), nil
}
