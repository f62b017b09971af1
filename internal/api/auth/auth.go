// Package auth 签发访问 API 使用的 JWT。
//
// 正式环境的令牌由外部认证服务签发；这里只用于演示账号与测试，声明格式与中间件校验的一致。
package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL 令牌默认有效期。
const DefaultTTL = 24 * time.Hour

// Claims 是 API 接受的 JWT 声明，Subject 为用户 ID。
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer 使用 HS256 签发令牌。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer 创建令牌签发器。ttl <= 0 时使用 DefaultTTL。
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为用户签发令牌。
func (i *Issuer) Issue(userID uint) (string, error) {
	if userID == 0 {
		return "", errors.New("user id is required")
	}
	if len(i.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse 校验令牌并返回用户 ID。
func Parse(secret, tokenStr string) (uint, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return 0, errors.New("invalid token subject")
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, errors.New("invalid user id")
	}
	return uint(uid), nil
}
