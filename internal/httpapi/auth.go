package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("e-mail ou senha inválidos")
	ErrInactiveSeller     = errors.New("vendedor inativo")
	ErrInvalidToken       = errors.New("token inválido ou expirado")
)

const tokenIssuer = "caixafacil"

type SellerStore interface {
	FindSellerByEmail(ctx context.Context, email string) (*domain.Seller, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	sellers  SellerStore
	now      func() time.Time
}

type sellerClaims struct {
	jwtlib.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, sellers SellerStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		sellers:  sellers,
		now:      time.Now,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	seller, err := a.sellers.FindSellerByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(seller.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !seller.Active {
		return domain.LoginResponse{}, ErrInactiveSeller
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	actor := domain.Actor{TenantID: seller.TenantID, SellerID: seller.ID, Role: seller.Role}
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		TenantID:    actor.TenantID,
		SellerID:    actor.SellerID,
		Role:        actor.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sellerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{TenantID: claims.TenantID, SellerID: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := sellerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.SellerID,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		TenantID: actor.TenantID,
		Role:     actor.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
