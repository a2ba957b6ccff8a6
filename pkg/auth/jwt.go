package auth

import (
	"errors"
	"time"

	"chatmatch-service/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

const (
	ScopeAnon = "anon"
	issuer    = "chatmatch-service"
)

type Claims struct {
	SubjectID string `json:"subjectId"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateAnonToken issues a token for an anonymous user id.
func GenerateAnonToken(userID string) (string, time.Time, error) {
	duration := time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour
	expireAt := time.Now().Add(duration)
	claims := Claims{
		SubjectID: userID,
		Scope:     ScopeAnon,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(config.GlobalConfig.JWT.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expireAt, nil
}

func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(config.GlobalConfig.JWT.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAnonToken parses a token and requires the anonymous scope.
func ParseAnonToken(tokenString string) (*Claims, error) {
	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAnon || claims.SubjectID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
