// Package token issues and verifies the signed credentials used by the
// API: short-lived access tokens and longer-lived refresh tokens. Signing
// is HS256 with a process-wide secret loaded once at startup; rotating the
// secret invalidates every outstanding token, which degrades to re-login.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity carries the claims embedded into an access token.
// ImpersonatorID is non-zero only when an admin is acting as the subject.
type Identity struct {
	UserID         uint64
	Username       string
	Admin          bool
	Verified       bool
	ImpersonatorID uint64
}

// AccessToken is a signed JWT access token along with its expiry. Access
// tokens are short-lived and presented via cookie or Authorization header.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken is a signed long-lived token used to mint new access tokens.
// The Raw field goes back to the client; the database only ever sees its
// SHA-256 hash.
type RefreshToken struct {
	Raw         string    // raw token string returned to the client
	Exp         time.Time // UTC expiration time
	SessionOnly bool      // true when the paired cookie must omit max-age
}

// Verification reasons returned on invalid tokens.
const (
	ReasonMalformed = "malformed"
	ReasonSignature = "bad_signature"
	ReasonExpired   = "expired"
	ReasonWrongType = "wrong_type"
)

// Result is the tagged outcome of verifying a token. Verify never panics
// or returns a Go error for bad input; callers branch on Valid and Reason.
type Result struct {
	Valid    bool
	Reason   string
	Identity Identity
	// SessionOnly is populated for refresh tokens.
	SessionOnly bool
}

type accessClaims struct {
	Type         string `json:"typ"`
	Username     string `json:"username"`
	Admin        bool   `json:"admin"`
	Verified     bool   `json:"verified"`
	Impersonator string `json:"imp,omitempty"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type        string `json:"typ"`
	SessionOnly bool   `json:"session_only"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens. It holds no mutable state and does no
// I/O; it is safe for concurrent use.
type Service struct {
	secret             []byte
	accessTTL          time.Duration
	refreshTTL         time.Duration
	refreshFallbackTTL time.Duration
}

// New builds a Service. refreshTTL applies when the user asked to stay
// logged in; refreshFallbackTTL is the hard ceiling for session-only
// tokens so a non-persistent cookie still expires server-side.
func New(secret string, accessTTL, refreshTTL, refreshFallbackTTL time.Duration) *Service {
	return &Service{
		secret:             []byte(secret),
		accessTTL:          accessTTL,
		refreshTTL:         refreshTTL,
		refreshFallbackTTL: refreshFallbackTTL,
	}
}

// IssueAccess builds and signs an access token for the identity. The only
// failure mode is the signer itself, which does not happen with a valid
// HMAC secret.
func (s *Service) IssueAccess(id Identity) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(s.accessTTL)
	claims := accessClaims{
		Type:     "access",
		Username: id.Username,
		Admin:    id.Admin,
		Verified: id.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if id.ImpersonatorID != 0 {
		claims.Impersonator = strconv.FormatUint(id.ImpersonatorID, 10)
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// IssueRefresh builds and signs a refresh token. stayLoggedIn selects the
// long TTL; otherwise the fallback ceiling applies and the token is marked
// session-only.
func (s *Service) IssueRefresh(userID uint64, stayLoggedIn bool) (RefreshToken, error) {
	now := time.Now().UTC()
	ttl := s.refreshTTL
	if !stayLoggedIn {
		ttl = s.refreshFallbackTTL
	}
	exp := now.Add(ttl)
	claims := refreshClaims{
		Type:        "refresh",
		SessionOnly: !stayLoggedIn,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp, SessionOnly: !stayLoggedIn}, nil
}

// VerifyAccess checks structure, signature, expiry and type of an access
// token and returns a tagged result. The typ claim keeps the two token
// kinds apart: a refresh token signed under the same secret must never
// authenticate a protected route. The jwt library compares HMAC signatures
// with a constant-time equality.
func (s *Service) VerifyAccess(raw string) Result {
	var claims accessClaims
	if res, ok := s.parse(raw, &claims); !ok {
		return res
	}
	if claims.Type != "access" {
		return Result{Reason: ReasonWrongType}
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	id := Identity{
		UserID:   uid,
		Username: claims.Username,
		Admin:    claims.Admin,
		Verified: claims.Verified,
	}
	if claims.Impersonator != "" {
		if imp, err := strconv.ParseUint(claims.Impersonator, 10, 64); err == nil {
			id.ImpersonatorID = imp
		}
	}
	return Result{Valid: true, Identity: id}
}

// VerifyRefresh is VerifyAccess for refresh tokens; it additionally rejects
// tokens whose typ claim is not "refresh" so an access token can never be
// replayed against the refresh endpoint.
func (s *Service) VerifyRefresh(raw string) Result {
	var claims refreshClaims
	if res, ok := s.parse(raw, &claims); !ok {
		return res
	}
	if claims.Type != "refresh" {
		return Result{Reason: ReasonWrongType}
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	return Result{
		Valid:       true,
		Identity:    Identity{UserID: uid},
		SessionOnly: claims.SessionOnly,
	}
}

func (s *Service) parse(raw string, claims jwt.Claims) (Result, bool) {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	switch {
	case err == nil && tok.Valid:
		return Result{}, true
	case errors.Is(err, jwt.ErrTokenExpired):
		return Result{Reason: ReasonExpired}, false
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Result{Reason: ReasonSignature}, false
	default:
		return Result{Reason: ReasonMalformed}, false
	}
}

// HashRaw returns the SHA-256 hash of a raw refresh token as a hex string.
// Storing only the hash keeps a leaked database from refreshing sessions.
func HashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
