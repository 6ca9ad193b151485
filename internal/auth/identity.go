package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/duowatch/internal/apperr"
)

// Identity 调用者身份，显式传入每个核心操作
type Identity struct {
	UID   string
	Token string
}

// Claims 认证令牌声明，sub 为 uid
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier 校验 HS256 令牌
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify 返回身份与声明；任何失败均归为 ErrAuthRequired
func (v *Verifier) Verify(token string) (Identity, *Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, nil, fmt.Errorf("%w: %v", apperr.ErrAuthRequired, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, nil, apperr.ErrAuthRequired
	}
	return Identity{UID: claims.Subject, Token: token}, claims, nil
}

// Sign 签发令牌，仅用于开发与测试
func (v *Verifier) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var errNoBearer = errors.New("missing bearer token")

// BearerToken 从 Authorization 头取出令牌
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: %v", apperr.ErrAuthRequired, errNoBearer)
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
