package middleware

import (
	"net/http"
	"strings"
	"time"

	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	principalKey = "principal"
	clinicKey    = "clinic"

	// ClinicHeader selects the acting clinic when the route has no :clinicID.
	ClinicHeader = "X-Clinic-ID"
)

// CookieOptions controls how session cookies are written.
type CookieOptions struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func SetTokenCookies(c *gin.Context, opts CookieOptions, accessToken, refreshToken string) {
	// Cross-origin production deployments need SameSite=None, which browsers only accept with Secure.
	sameSite := http.SameSiteLaxMode
	if opts.Secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, int(opts.AccessTTL.Seconds()), "/", "", opts.Secure, true)
	c.SetCookie("refresh_token", refreshToken, int(opts.RefreshTTL.Seconds()), "/", "", opts.Secure, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func ClearTokenCookies(c *gin.Context, opts CookieOptions) {
	sameSite := http.SameSiteLaxMode
	if opts.Secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", opts.Secure, true)
	c.SetCookie("refresh_token", "", -1, "/", "", opts.Secure, true)
}

// bearerToken reads the access token from the cookie, falling back to the Authorization header.
func bearerToken(c *gin.Context) (string, string) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, ""
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

// Authenticate validates the JWT and stores the caller's principal on the context.
func Authenticate(tokens *service.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(problem))
			return
		}
		p, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("Invalid token"))
			return
		}
		c.Set(principalKey, p)
		c.Set("userID", p.UserID.String())
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated caller, or nil on public routes.
func CurrentPrincipal(c *gin.Context) *service.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*service.Principal); ok {
			return p
		}
	}
	return nil
}

// ActorID is the principal's user id for audit records.
func ActorID(c *gin.Context) *uuid.UUID {
	if p := CurrentPrincipal(c); p != nil {
		id := p.UserID
		return &id
	}
	return nil
}

// CurrentClinic returns the clinic resolved by RequireClinicPermission or ResolveClinic.
func CurrentClinic(c *gin.Context) *service.ClinicGrant {
	if v, ok := c.Get(clinicKey); ok {
		if g, ok := v.(*service.ClinicGrant); ok {
			return g
		}
	}
	return nil
}

// requestedClinic reads :clinicID, then the X-Clinic-ID header. uuid.Nil means none given.
func requestedClinic(c *gin.Context) (uuid.UUID, error) {
	raw := c.Param("clinicID")
	if raw == "" {
		raw = c.GetHeader(ClinicHeader)
	}
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &service.ValidationError{Field: "clinic_id", Message: "must be a valid UUID"}
	}
	return id, nil
}

// ResolveClinic picks the acting clinic and stores its grant on the context.
func ResolveClinic(authz service.AuthorizationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		requested, err := requestedClinic(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		grant, err := authz.ResolveClinic(c.Request.Context(), CurrentPrincipal(c), requested)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if grant != nil {
			c.Set(clinicKey, grant)
		}
		c.Next()
	}
}

// RequirePermission checks permission in any of the caller's clinics.
func RequirePermission(authz service.AuthorizationService, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.RequirePermission(c.Request.Context(), CurrentPrincipal(c), permission); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequireRole checks the caller holds role in any of their clinics.
func RequireRole(authz service.AuthorizationService, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.RequireRole(c.Request.Context(), CurrentPrincipal(c), role); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequireClinicPermission resolves the acting clinic and checks permission inside it only.
func RequireClinicPermission(authz service.AuthorizationService, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requested, err := requestedClinic(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		p := CurrentPrincipal(c)
		grant, err := authz.ResolveClinic(c.Request.Context(), p, requested)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if grant == nil {
			AbortWithError(c, &service.AuthorizationError{Permission: permission})
			return
		}
		if err := authz.RequirePermissionInClinic(c.Request.Context(), p, permission, grant.ClinicID); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(clinicKey, grant)
		c.Next()
	}
}
