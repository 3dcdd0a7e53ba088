package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// claims is the JWT payload this server issues and verifies. It carries
// no subject-identity fields beyond the registered ones: the downstream
// API has one tenant (the operator's own frontend), so auth here is a
// bearer-secret gate rather than a user-identity system.
type claims struct {
	jwt.RegisteredClaims
}

type authMiddleware struct {
	secret string
}

func newAuthMiddleware(secret string) *authMiddleware {
	return &authMiddleware{secret: secret}
}

// token extracts the bearer token from the Authorization header, falling
// back to a "token" query parameter so the WebSocket upgrade route (whose
// client can't set headers on the handshake from a browser) can still
// authenticate.
func (m *authMiddleware) token(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}

// Authenticate rejects any request whose bearer token does not verify
// against the configured secret.
func (m *authMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := m.token(c)
		if tokenString == "" {
			return errUnauthorized("missing bearer token")
		}

		_, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.secret), nil
		})
		if err != nil {
			return errUnauthorized("invalid or expired token")
		}
		return c.Next()
	}
}

// IssueToken mints a bearer token for the configured secret, expiring in
// ttlHours (or never, when ttlHours is zero). Neither cmd/orchestrator nor
// the tests call it (the tests sign their own tokens); this server has no
// login flow of its own.
func (m *authMiddleware) IssueToken(ttlHours int) (string, error) {
	c := claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "forge-orchestrator"}}
	if ttlHours > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Duration(ttlHours) * time.Hour))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(m.secret))
}
