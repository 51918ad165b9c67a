// Package auth validates register access tokens. Tokens are minted by an
// external identity service and carry the register id and its subscription.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// Claim names beyond the registered ones.
const (
	ClaimPlan     = "plan"
	ClaimStatus   = "status"
	ClaimEnd      = "end"
	ClaimGraceEnd = "grace_end"
)

const defaultTTL = 12 * time.Hour

// Claims is what a register token asserts.
type Claims struct {
	RegisterID   string
	Subscription *subscription.Subscription
}

// Config configures Tokens.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	TTL       time.Duration
	Now       func() time.Time
}

// Tokens signs and parses HS256 register tokens.
type Tokens struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       time.Duration
	now       func() time.Time
	validator TokenValidator
}

// NewTokens constructs Tokens with defaults for empty fields.
func NewTokens(cfg Config) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-kasir"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "kasir-app"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      now,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: max(cfg.ClockSkew, 0),
			Algorithm: jwa.HS256,
		},
	}, nil
}

// Issue signs a token for c and returns it with its expiry.
func (t *Tokens) Issue(c Claims) (string, time.Time, error) {
	if strings.TrimSpace(c.RegisterID) == "" {
		return "", time.Time{}, errors.New("auth: register id is required")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	builder := jwt.NewBuilder().
		Subject(c.RegisterID).
		Issuer(t.issuer).
		Audience([]string{t.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-t.validator.ClockSkew)).
		Expiration(expiresAt)
	if s := c.Subscription; s != nil {
		builder = builder.
			Claim(ClaimPlan, string(s.Plan)).
			Claim(ClaimStatus, string(s.Status)).
			Claim(ClaimEnd, s.EndDate.Unix())
		if s.GracePeriodEnd != nil {
			builder = builder.Claim(ClaimGraceEnd, s.GracePeriodEnd.Unix())
		}
	}
	tok, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse validates token and returns its claims. Failures are 401 AppErrors.
func (t *Tokens) Parse(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if algorithm != t.validator.Algorithm {
		return Claims{}, unauthorized("invalid token", fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, t.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if err := t.validator.Validate(parsed, algorithm, t.now()); err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	sub, err := subscriptionFrom(parsed)
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	return Claims{RegisterID: parsed.Subject(), Subscription: sub}, nil
}

// subscriptionFrom reads the plan claims. A token without a plan carries no
// subscription.
func subscriptionFrom(tok jwt.Token) (*subscription.Subscription, error) {
	plan, ok := stringClaim(tok, ClaimPlan)
	if !ok {
		return nil, nil
	}
	status, _ := stringClaim(tok, ClaimStatus)
	if status == "" {
		status = string(subscription.StatusActive)
	}
	end, ok := unixClaim(tok, ClaimEnd)
	if !ok {
		return nil, errors.New("auth: plan claim without end")
	}
	sub := &subscription.Subscription{
		Plan:    subscription.Plan(plan),
		Status:  subscription.Status(status),
		EndDate: end,
	}
	if grace, ok := unixClaim(tok, ClaimGraceEnd); ok {
		sub.GracePeriodEnd = &grace
	}
	return sub, nil
}

func stringClaim(tok jwt.Token, name string) (string, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok && strings.TrimSpace(s) != ""
}

// unixClaim accepts the float64 that JSON numbers decode to.
func unixClaim(tok jwt.Token, name string) (time.Time, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC(), true
	case int64:
		return time.Unix(n, 0).UTC(), true
	case int:
		return time.Unix(int64(n), 0).UTC(), true
	}
	return time.Time{}, false
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func unauthorized(msg string, err error) error {
	return common.NewAppError("UNAUTHORIZED", msg, http.StatusUnauthorized, err)
}
