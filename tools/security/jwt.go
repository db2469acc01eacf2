package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 签名参数；hub 只校验，签发属于认证服务
type Options struct {
	Secret []byte
	Alg    string        // HS256/HS384/HS512，空为 HS256
	TTL    time.Duration // 仅 Generate 使用，默认 2h
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a token for subject. Used by tooling and tests.
func Generate(opts Options, subject string) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(ttl)
	signed, err := jwtlib.NewWithClaims(method, jwtlib.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks the HMAC signature and the time claims of token and returns the
// raw "sub" claim. The claim may be a JSON string or a number.
func Verify(opts Options, token string) (any, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	claims := jwtlib.MapClaims{}
	_, err = jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	sub, ok := claims["sub"]
	if !ok || sub == nil {
		return nil, errors.New("missing sub claim")
	}
	return sub, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	}
	return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
}
