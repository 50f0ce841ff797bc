// auth.go provides the management-plane authentication middleware. The
// proxy pipeline authenticates inline (it needs the principal mid-stage);
// the /_api routes use this middleware instead so handlers can assume a
// principal is present.
package middleware

import (
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/httperr"
)

// PrincipalKey is the gin.Context key holding the *auth.Principal.
const PrincipalKey = "principal"

// Auth validates the Authorization header and stores the principal.
func Auth(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := validator.Validate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, auth.ErrAuthenticationFailed) {
				httperr.Write(c, httperr.New(httperr.KindAuthenticationError, "invalid or missing credentials"))
				return
			}
			httperr.Write(c, httperr.New(httperr.KindDatabaseError, "authentication lookup failed"))
			return
		}
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// Principal retrieves the principal stored by Auth. It panics if Auth did
// not run — that is a routing bug, not a runtime condition.
func Principal(c *gin.Context) *auth.Principal {
	return c.MustGet(PrincipalKey).(*auth.Principal)
}

// RequireScope rejects principals whose scopes do not satisfy required.
func RequireScope(required auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := Principal(c)
		if !auth.HasScope(principal.Scopes(), required) {
			httperr.Write(c, httperr.New(httperr.KindForbidden,
				"token lacks the "+string(required)+" scope"))
			return
		}
		c.Next()
	}
}

// AdminOnly guards /_api/admin routes: a caller authenticated with an
// admin-scoped PAT passes, as does any caller presenting the X-Admin-Key
// process secret. External identity callers without a PAT are refused. The header
// compare is constant-time; the secret grants operator break-glass access
// when no admin PAT exists yet.
func AdminOnly(validator *auth.Validator, adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Admin-Key"); key != "" && adminSecret != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminSecret)) == 1 {
				c.Next()
				return
			}
		}

		principal, err := validator.Validate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			httperr.Write(c, httperr.New(httperr.KindAuthenticationError, "invalid or missing credentials"))
			return
		}
		if principal.Token == nil || !auth.HasScope(principal.Scopes(), auth.ScopeAdmin) {
			httperr.Write(c, httperr.New(httperr.KindForbidden, "admin access required"))
			return
		}
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}
