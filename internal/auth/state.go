package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long an authorization link stays valid.
const DefaultStateTTL = 10 * time.Minute

// StateSigner issues and verifies the OAuth state parameter. The state
// is an HS256 JWT whose subject is the identity ID.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{key: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a state value bound to identityID.
func (s *StateSigner) Sign(identityID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(identityID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of state and returns the
// identity it was issued for.
func (s *StateSigner) Verify(state string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, invalidState(err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, invalidState(fmt.Errorf("parsing subject: %w", err))
	}
	return id, nil
}

func invalidState(source error) *goerrors.Error {
	return goerrors.Wrap(source, goerrors.CategoryBadInput, "invalid authorization state").
		WithTextCode(TextCodeInvalidState)
}
