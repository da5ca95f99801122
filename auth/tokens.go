package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/abrino/abrinostore/models"
)

// SecondFactor verifies an additional login factor for accounts that enabled
// one. Deployments without a verifier leave it nil; such accounts cannot
// complete a password login until one is wired.
type SecondFactor interface {
	Verify(ctx context.Context, user *models.User, code string) (bool, error)
}

// Issuer hands out session tokens and magic links.
//
// Sessions are JWTs whose token ID is also written to the store; logout
// deletes the store entry, so a structurally valid token stops working the
// moment it is revoked. Magic links are opaque single-use tokens that are
// consumed atomically on verification.
type Issuer struct {
	store      Store
	secret     string
	sessionTTL time.Duration
	magicTTL   time.Duration
	second     SecondFactor
}

// NewIssuer builds an issuer over a credential store.
func NewIssuer(store Store, secret string, sessionTTL, magicTTL time.Duration) *Issuer {
	return &Issuer{store: store, secret: secret, sessionTTL: sessionTTL, magicTTL: magicTTL}
}

// WithSecondFactor attaches a second-factor verifier.
func (i *Issuer) WithSecondFactor(sf SecondFactor) *Issuer {
	i.second = sf
	return i
}

func sessionKey(tokenID string) string {
	return "session:" + tokenID
}

func magicKey(token string) string {
	return "magiclink:" + token
}

// IssueSession creates a signed session token for a user and records it in
// the allow-list.
func (i *Issuer) IssueSession(ctx context.Context, userID uint) (string, error) {
	tokenID := uuid.NewString()
	token, err := generateToken(i.secret, userID, tokenID, i.sessionTTL)
	if err != nil {
		return "", err
	}
	if err := i.store.Put(ctx, sessionKey(tokenID), strconv.FormatUint(uint64(userID), 10), i.sessionTTL); err != nil {
		return "", err
	}
	return token, nil
}

// VerifySession validates a session token against both the signature and the
// allow-list, returning the user it belongs to.
func (i *Issuer) VerifySession(ctx context.Context, token string) (uint, error) {
	claims, err := parseToken(i.secret, token)
	if err != nil {
		return 0, err
	}
	_, ok, err := i.store.Get(ctx, sessionKey(claims.ID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

// RevokeSession invalidates a session token immediately.
func (i *Issuer) RevokeSession(ctx context.Context, token string) error {
	claims, err := parseToken(i.secret, token)
	if err != nil {
		return ErrInvalidToken
	}
	return i.store.Del(ctx, sessionKey(claims.ID))
}

// IssueMagicLink creates a single-use login token for a user.
func (i *Issuer) IssueMagicLink(ctx context.Context, userID uint) (string, error) {
	token := uuid.NewString()
	err := i.store.Put(ctx, magicKey(token), strconv.FormatUint(uint64(userID), 10), i.magicTTL)
	if err != nil {
		return "", err
	}
	return token, nil
}

// VerifyMagicLink consumes a magic link and returns the user it was issued
// for. A second verification of the same token fails no matter how close the
// calls are.
func (i *Issuer) VerifyMagicLink(ctx context.Context, token string) (uint, error) {
	val, ok, err := i.store.Consume(ctx, magicKey(token))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt magic link payload: %w", err)
	}
	return uint(id), nil
}

// VerifySecondFactor runs the configured verifier for an account with a
// second factor enabled.
func (i *Issuer) VerifySecondFactor(ctx context.Context, user *models.User, code string) (bool, error) {
	if i.second == nil {
		return false, fmt.Errorf("second factor required but no verifier configured")
	}
	return i.second.Verify(ctx, user, code)
}

// SecondFactorConfigured reports whether a verifier is wired.
func (i *Issuer) SecondFactorConfigured() bool {
	return i.second != nil
}
