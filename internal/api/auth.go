package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xrdesk/xrbridge/internal/httputil"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

// Issuer is the iss claim of tokens minted by Authenticator.Issue.
const Issuer = "xrbridge"

// DefaultTokenTTL is the lifetime of tokens minted for the command line.
const DefaultTokenTTL = 5 * time.Minute

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Authenticator verifies HS256 bearer tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	clock  timeutil.Clock
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret string, clock timeutil.Clock) *Authenticator {
	if secret == "" {
		return nil
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Authenticator{secret: []byte(secret), clock: clock}
}

// Issue mints a token for subject that expires after ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature, algorithm, issuer and expiry of token and
// returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// Require wraps next so that it only runs for requests carrying a valid
// token. A nil Authenticator lets every request through.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			_, err = a.Verify(token)
		}
		if err != nil {
			httputil.Unauthorized(w, err.Error())
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// LocalOrigin wraps next so that browser requests from pages not served by
// this host are refused. Requests without an Origin header (the command
// line, the compositor plugin) pass.
func LocalOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !loopbackOrigin(origin) {
			httputil.WriteJSONError(w, http.StatusForbidden, "cross-origin request refused")
			return
		}
		next(w, r)
	}
}

func loopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
