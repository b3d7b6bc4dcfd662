package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/tabletop/internal/errors"
)

const claimsKey = "tabletop.claims"

// Claims identify the caller. The subject is the user id.
type Claims struct {
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for userID valid for ttl.
func SignToken(secret []byte, userID, nickname string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (a *API) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	c, ok := t.Claims.(*Claims)
	if !ok || c.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}

// authenticate reads the bearer token, or the access_token query parameter for
// browsers opening a WebSocket.
func (a *API) authenticate(c *gin.Context) {
	tok := c.Query("access_token")
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}

	if tok == "" {
		abort(c, unauthenticated(nil))
		return
	}

	claims, err := a.parseToken(tok)
	if err != nil {
		abort(c, unauthenticated(err))
		return
	}

	c.Set(claimsKey, claims)
	c.Next()
}

func unauthenticated(cause error) error {
	return errors.New(errors.CodeUnauthenticated,
		errors.WithReason(errors.ReasonUnauthenticated),
		errors.WithMessagef("a valid bearer token is required"),
		errors.WithCause(cause),
	)
}

func caller(c *gin.Context) *Claims {
	return c.MustGet(claimsKey).(*Claims)
}
