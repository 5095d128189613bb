package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// Credentials: то, что клиент прислал для идентификации.
type Credentials struct {
	// UserID из заголовка x-user-id.
	UserID string
	// BearerToken из заголовка authorization без префикса "Bearer ".
	BearerToken string
}

// Empty сообщает, что клиент не прислал ничего.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.UserID) == "" && strings.TrimSpace(c.BearerToken) == ""
}

// Resolver превращает credentials в идентификатор пользователя или ErrUnauthorized.
type Resolver interface {
	Resolve(ctx context.Context, creds Credentials) (string, error)
}

// HeaderResolver доверяет x-user-id, если такой пользователь зарегистрирован.
type HeaderResolver struct {
	users domain.UserRepository
}

// NewHeaderResolver создаёт резолвер по реестру пользователей.
func NewHeaderResolver(users domain.UserRepository) *HeaderResolver {
	return &HeaderResolver{users: users}
}

func (r *HeaderResolver) Resolve(_ context.Context, creds Credentials) (string, error) {
	userID := strings.TrimSpace(creds.UserID)
	if userID == "" || r.users == nil {
		return "", domain.ErrUnauthorized
	}
	user, err := r.users.Get(userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", fmt.Errorf("%w: unknown user", domain.ErrUnauthorized)
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	return user.ID, nil
}

// JWTResolver проверяет HS256-токен и берёт пользователя из subject.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTResolver создаёт резолвер токенов. Пустой issuer отключает проверку iss.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (r *JWTResolver) Resolve(_ context.Context, creds Credentials) (string, error) {
	raw := strings.TrimSpace(creds.BearerToken)
	if raw == "" || len(r.secret) == 0 {
		return "", domain.ErrUnauthorized
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		options = append(options, jwt.WithIssuer(r.issuer))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, options...); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: token subject is empty", domain.ErrUnauthorized)
	}
	return subject, nil
}

// IssueToken подписывает HS256-токен для пользователя (нагрузочные тесты, dev-окружение).
func IssueToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Chain пробует bearer-токен, затем заголовок пользователя.
// Присланный, но невалидный токен не откатывается на заголовок.
type Chain struct {
	token  Resolver
	header Resolver
}

// NewChain собирает резолвер; любой из аргументов может быть nil.
func NewChain(token, header Resolver) *Chain {
	return &Chain{token: token, header: header}
}

func (c *Chain) Resolve(ctx context.Context, creds Credentials) (string, error) {
	if creds.Empty() {
		return "", domain.ErrUnauthorized
	}
	if strings.TrimSpace(creds.BearerToken) != "" {
		if c.token == nil {
			return "", fmt.Errorf("%w: bearer tokens are not accepted", domain.ErrUnauthorized)
		}
		return c.token.Resolve(ctx, creds)
	}
	if c.header == nil {
		return "", domain.ErrUnauthorized
	}
	return c.header.Resolve(ctx, creds)
}

var (
	_ Resolver = (*HeaderResolver)(nil)
	_ Resolver = (*JWTResolver)(nil)
	_ Resolver = (*Chain)(nil)
)
