package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/keys"
	"github.com/serroba/admission-go/internal/store"
)

const (
	tokenPrefix     = "token"
	tokenSeparator  = "."
	tokenIDLength   = 21
	defaultTokenTTL = 5 * time.Minute
)

var (
	ErrInvalidToken     = errors.New("malformed idempotency token")
	ErrEmptyBusinessKey = errors.New("business key must not be empty")
	ErrTokenNotIssued   = errors.New("token could not be issued")
)

// TokenGenerator generates the random part of a token.
type TokenGenerator func() string

func defaultTokenGenerator() TokenGenerator {
	gen, _ := nanoid.Standard(tokenIDLength)

	return gen
}

// WithTokenTTL sets how long an issued token stays leased.
func WithTokenTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.tokenTTL = ttl }
}

// WithTokenGenerator overrides the random part of issued tokens.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(g *Guard) { g.generateToken = gen }
}

// WithClock overrides the time source used to stamp and age tokens.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// Token is a parsed idempotency token: <businessKey>.<unixMillis>.<id>.
type Token struct {
	BusinessKey string
	IssuedAt    time.Time
	ID          string
}

func (t Token) String() string {
	return t.BusinessKey + tokenSeparator + strconv.FormatInt(t.IssuedAt.UnixMilli(), 10) + tokenSeparator + t.ID
}

// ParseToken splits a token into its parts. The business key may itself
// contain dots; the timestamp and id never do.
func ParseToken(s string) (Token, error) {
	idSep := strings.LastIndex(s, tokenSeparator)
	if idSep <= 0 || idSep == len(s)-1 {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}

	tsSep := strings.LastIndex(s[:idSep], tokenSeparator)
	if tsSep <= 0 {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}

	millis, err := strconv.ParseInt(s[tsSep+1:idSep], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, s)
	}

	return Token{
		BusinessKey: s[:tsSep],
		IssuedAt:    time.UnixMilli(millis),
		ID:          s[idSep+1:],
	}, nil
}

func tokenKey(token string) string {
	key, _ := keys.Build(tokenPrefix, token)

	return key
}

// IssueToken creates a token for businessKey and leases it for the token
// ttl. The client submits the token with the real request, which checks and
// then consumes it. A token cannot be issued without the store, whatever the
// failure policy.
func (g *Guard) IssueToken(ctx context.Context, businessKey string) (string, error) {
	if businessKey == "" {
		return "", ErrEmptyBusinessKey
	}

	token := Token{
		BusinessKey: businessKey,
		IssuedAt:    g.now(),
		ID:          g.generateToken(),
	}.String()

	acquired, err := g.leases.TryAcquire(ctx, tokenKey(token), g.tokenTTL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctxErr)
		}

		g.observer.OnBackendFailure(ctx, store.OpTryAcquire, err)

		return "", fmt.Errorf("%w: %w", ErrTokenNotIssued, err)
	}

	if !acquired {
		return "", fmt.Errorf("%w: id collision", ErrTokenNotIssued)
	}

	return token, nil
}

// CheckToken reports whether token is still leased without consuming it. A
// token older than ttl is rejected as expired without consulting the store;
// a non-positive ttl uses the guard's token ttl.
func (g *Guard) CheckToken(ctx context.Context, token string, ttl time.Duration) (decision.Decision, error) {
	parsed, err := ParseToken(token)
	if err != nil {
		return decision.Decision{}, err
	}

	if ttl <= 0 {
		ttl = g.tokenTTL
	}

	if g.now().Sub(parsed.IssuedAt) > ttl {
		return decision.Reject(decision.ReasonTokenExpired), nil
	}

	exists, err := g.leases.Exists(ctx, tokenKey(token))
	if err != nil {
		return g.storeFailure(ctx, store.OpExists, tokenKey(token), err)
	}

	if !exists {
		return decision.Reject(decision.ReasonTokenExpired), nil
	}

	return decision.Allow(), nil
}

// ConsumeToken burns token. Exactly one of several concurrent consumers is
// allowed; the others see a duplicate.
func (g *Guard) ConsumeToken(ctx context.Context, token string) (decision.Decision, error) {
	if _, err := ParseToken(token); err != nil {
		return decision.Decision{}, err
	}

	removed, err := g.leases.Release(ctx, tokenKey(token))
	if err != nil {
		return g.storeFailure(ctx, store.OpRelease, tokenKey(token), err)
	}

	if !removed {
		return decision.Reject(decision.ReasonDuplicate), nil
	}

	return decision.Allow(), nil
}
