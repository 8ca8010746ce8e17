package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any access credential that fails
// extraction, parsing, signature, expiry, issuer, or audience checks.
// Callers must treat it as Unauthorized without further distinction.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are the signed claims of an access credential. They are the
// sole channel through which collaborators behind the gate learn who is
// calling; once issued they cannot be revoked before expiry.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	Role         string `json:"role"`
	DepartmentID string `json:"dept,omitempty"`
}

// TokenProvider signs and verifies access credentials with an RS256 or ES256
// key pair. The issuing service holds both halves; the edge gateway is
// constructed with the public key only and can verify but never mint.
type TokenProvider struct {
	signer    crypto.Signer
	publicKey crypto.PublicKey
	issuer    string
	audience  string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider that can both issue and verify.
func NewTokenProvider(signer crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		signer:    signer,
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}
}

// NewTokenVerifier returns a verify-only TokenProvider for components that
// must never hold the signing key (the edge gateway). IssueAccess fails.
func NewTokenVerifier(publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return &TokenProvider{publicKey: publicKey, issuer: issuer, audience: audience}
}

// IssueAccess mints a short-lived access credential for the identity.
// departmentID may be empty; it is omitted from the claims when it is.
func (p *TokenProvider) IssueAccess(identityID, email, role, departmentID string) (token string, expiresAt time.Time, err error) {
	if p.signer == nil {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:        email,
		Role:         role,
		DepartmentID: departmentID,
	}
	var method jwt.SigningMethod
	switch p.signer.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", time.Time{}, ErrInvalidToken
	}
	token, err = jwt.NewWithClaims(method, claims).SignedString(p.signer)
	return token, expiresAt, err
}

// ValidateAccess parses and verifies an access credential (signature, exp,
// iss, aud) and returns its claims. Expiry is enforced strictly with no grace
// period. Any failure is ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		default:
			return nil, ErrInvalidToken
		}
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	if !containsAudience(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
