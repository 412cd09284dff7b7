// Package auth issues and verifies the session tokens that carry the Actor.
package auth

import (
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenManager issues HS256 JWTs whose subject is the user id and whose
// role claim is the user's role at sign-in.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (t *TokenManager) Generate(actor models.Actor) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.MapClaims{
		"iss":  t.issuer,
		"sub":  actor.ID,
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp.UTC(), nil
}

// Parse verifies signature, expiry and issuer and returns the session actor.
func (t *TokenManager) Parse(tokenString string) (models.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parser := jwt.NewParser(opts...)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return models.Actor{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid {
		return models.Actor{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return models.Actor{}, errors.Wrap(ErrInvalidToken, "missing subject")
	}
	rawRole, _ := claims["role"].(string)
	role, ok := models.ParseRole(rawRole)
	if !ok {
		return models.Actor{}, errors.Wrapf(ErrInvalidToken, "unknown role %q", rawRole)
	}
	return models.Actor{ID: sub, Role: role}, nil
}
