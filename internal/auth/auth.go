// Package auth handles account signup/signin and API tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"msgblast/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
)

const bcryptCost = 10

type Config struct {
	JWTSecret string
	TokenTTL  time.Duration // default 24h
}

type Service struct {
	store  storage.Store
	secret []byte
	ttl    time.Duration
}

func New(cfg Config, store storage.Store) (*Service, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, secret: []byte(cfg.JWTSecret), ttl: ttl}, nil
}

// SignUp hashes the password and creates the account, returning the new
// user's ID.
func (s *Service) SignUp(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	if s.store == nil {
		return "", storage.ErrDisabled
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return u.ID, nil
}

// SignIn checks the password and issues a bearer token for the user.
func (s *Service) SignIn(ctx context.Context, email, password string) (token, userID string, err error) {
	if s.store == nil {
		return "", "", storage.ErrDisabled
	}
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}
	tok, err := s.issueToken(u.ID)
	if err != nil {
		return "", "", err
	}
	return tok, u.ID, nil
}

func (s *Service) issueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// VerifyToken validates a bearer token and returns the user ID it carries.
func (s *Service) VerifyToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
