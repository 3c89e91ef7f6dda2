package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type merchantClaims struct {
	MerchantId string `json:"merchant_id"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for the provided merchant id. Used by
// seed tooling and tests; production tokens come from the identity provider
// sharing the same secret.
func GenerateToken(secret, merchantId string, ttl time.Duration) (string, error) {
	claims := &merchantClaims{
		MerchantId: merchantId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   merchantId,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates the token and returns the embedded merchant id.
func ParseToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &merchantClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*merchantClaims); ok && token.Valid {
		return claims.MerchantId, nil
	}

	return "", jwt.ErrTokenInvalidClaims
}
