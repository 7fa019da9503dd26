package middleware

// Bearer authentication. Tokens are HS256 JWTs whose subject is the user
// ID. The ID is stored under the "userID" Gin context key, which the
// loggers, the rate limiter and the handlers read.
//
// When authentication is not required (local development, tests), requests
// without a token fall back to the X-User-ID header and then to "demo-user".
// That identity is unverified and must never be enabled in production. A
// token that is present is always verified, and only verified tokens carry
// a role.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "auth.role"
	// DemoUser is the identity used when auth is optional and none is given.
	DemoUser = "demo-user"
)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Required rejects requests without a valid token.
	Required bool
	// Secret is the HS256 signing key. Tokens are rejected when it is empty.
	Secret string
}

// Auth verifies the bearer token (Authorization header, or the "token" query
// parameter for EventSource clients that cannot set headers) and stores the
// caller's user ID.
func Auth(opts AuthOptions) gin.HandlerFunc {
	secret := []byte(opts.Secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			if opts.Required {
				unauthorized(c, "missing bearer token")
				return
			}
			uid := strings.TrimSpace(c.GetHeader("X-User-ID"))
			if uid == "" {
				uid = DemoUser
			}
			setUser(c, uid)
			c.Next()
			return
		}

		claims, err := verifyToken(parser, secret, raw)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		setUser(c, claims.Subject)
		if claims.Role != "" {
			c.Set(ctxKeyRole, claims.Role)
		}
		c.Next()
	}
}

// setUser stores uid and adds it to the request-scoped logger.
func setUser(c *gin.Context, uid string) {
	c.Set(ctxKeyUserID, uid)
	withLoggerField(c, "user_id", uid)
}

// UserID returns the authenticated caller, or "" when Auth did not run.
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// Role returns the role claim of a verified token, or "".
func Role(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// tokenClaims are the registered claims plus an optional role.
type tokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for sub.
func SignToken(secret, sub string, claims jwt.RegisteredClaims) (string, error) {
	return SignRoleToken(secret, sub, "", claims)
}

// SignRoleToken issues an HS256 token for sub carrying role.
func SignRoleToken(secret, sub, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = sub
	tc := tokenClaims{Role: role, RegisteredClaims: claims}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(secret))
}

func verifyToken(parser *jwt.Parser, secret []byte, raw string) (*tokenClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}
	var claims tokenClaims
	tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "unauthorized",
		"message":    msg,
	})
}
