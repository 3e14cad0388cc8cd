package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/creditmart/internal/token/config"
)

var ErrTokenInvalid = errors.New("token is not valid")

// Claims утверждения токена, содержит код пользователя
type Claims struct {
	jwt.RegisteredClaims
	UserCode string
}

type Token struct {
	cfg config.Config
}

func NewToken(cfg config.Config) *Token {
	return &Token{cfg: cfg}
}

// BuildJWTString создает токен и возвращает его в виде строки
func (t *Token) BuildJWTString(userCode string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.cfg.TTL)),
		},
		UserCode: userCode,
	})

	tokenString, err := token.SignedString([]byte(t.cfg.SecretKey))
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserCode проверяет токен и возвращает код пользователя
func (t *Token) GetUserCode(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(t.cfg.SecretKey), nil
		})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserCode == "" {
		return "", ErrTokenInvalid
	}
	return claims.UserCode, nil
}
