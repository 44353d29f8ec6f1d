package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/david/grant-importer/internal/config"
)

const adminSubject = "admin"

var (
	ErrInvalidCreds  = errors.New("invalid credentials")
	ErrLoginDisabled = errors.New("password login is not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

type LoginRequest struct {
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service authenticates the single administrator, either by the shared
// admin secret or by a password login that issues a short-lived JWT.
type Service struct {
	adminSecret  string
	passwordHash []byte
	jwtSecret    []byte
	tokenTTL     time.Duration
	now          func() time.Time
}

// NewService builds the service from the security section. Missing admin
// and JWT secrets are replaced by ephemeral random values.
func NewService(cfg config.Security, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		adminSecret: cfg.AdminSecret,
		tokenTTL:    cfg.TokenTTL,
		now:         time.Now,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 12 * time.Hour
	}
	if cfg.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash is not a bcrypt hash: %w", err)
		}
		s.passwordHash = []byte(cfg.AdminPasswordHash)
	}

	if s.adminSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin secret fallback: %w", err)
		}
		s.adminSecret = secret
		logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	if cfg.JWTSecret != "" {
		s.jwtSecret = []byte(cfg.JWTSecret)
	} else {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
		}
		s.jwtSecret = []byte(secret)
		logger.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	return s, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CheckSecret compares in constant time.
func (s *Service) CheckSecret(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.adminSecret)) == 1
}

func (s *Service) Login(req LoginRequest) (*AuthResponse, error) {
	if len(s.passwordHash) == 0 {
		return nil, ErrLoginDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}
	return s.IssueToken()
}

func (s *Service) IssueToken() (*AuthResponse, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AuthResponse{Token: signed, ExpiresAt: exp}, nil
}

func (s *Service) ValidateToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != adminSubject {
		return ErrInvalidToken
	}
	return nil
}
