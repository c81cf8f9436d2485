// Package auth validates bearer tokens and gates persistent connections on a
// successful CONNECT handshake.
package auth

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/real-rm/meetupchat/internal/chat"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when the member identity claim is missing
	ErrMissingClaims = errors.New("missing required claims")
)

// ClaimMemberID is the private claim carrying the numeric member id. Tokens that
// omit it must carry the id as a decimal "sub" claim.
const ClaimMemberID = "member_id"

// TokenValidator decodes a bearer token into the member it was issued to.
// Token issuance lives outside this service.
type TokenValidator interface {
	Decode(token string) (chat.MemberID, error)
}

// JWTValidator validates HMAC-signed JWTs
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a new JWT validator with the given secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
	}
}

// Decode validates the token and extracts the member id. It verifies:
// - Token signature (HMAC only)
// - Token expiration
// - A positive member id in member_id or sub
func (v *JWTValidator) Decode(tokenString string) (chat.MemberID, error) {
	if tokenString == "" {
		return 0, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// No else needed: early return pattern (guard clause)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})

	// No else needed: early return pattern (guard clause)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrSignatureInvalid) || errors.Is(err, ErrInvalidSignature) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return 0, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return 0, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	memberID, err := extractMemberID(mapClaims)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMissingClaims, err)
	}

	return memberID, nil
}

// extractMemberID reads member_id, falling back to a numeric subject
func extractMemberID(claims jwt.MapClaims) (chat.MemberID, error) {
	if raw, ok := claims[ClaimMemberID]; ok {
		return parseMemberID(raw)
	}

	sub, err := claims.GetSubject()
	// No else needed: early return pattern (guard clause)
	if err != nil || sub == "" {
		return 0, errors.New("member_id or sub claim required")
	}
	return parseMemberID(sub)
}

func parseMemberID(raw interface{}) (chat.MemberID, error) {
	var id int64

	switch v := raw.(type) {
	case float64:
		// No else needed: early return pattern (guard clause)
		if v != math.Trunc(v) || v >= math.MaxInt64 {
			return 0, fmt.Errorf("member id %v is not an integer", v)
		}
		id = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("member id %q is not numeric", v)
		}
		id = parsed
	default:
		return 0, fmt.Errorf("member id has unsupported type %T", raw)
	}

	// No else needed: early return pattern (guard clause)
	if id <= 0 {
		return 0, fmt.Errorf("member id must be positive, got %d", id)
	}
	return chat.MemberID(id), nil
}
