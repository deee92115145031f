package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"emrcore/internal/alert"
	"emrcore/internal/service"
	"emrcore/pkg/licensekey"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Binding errors report fields by their json names.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	}
}

// StatusFor maps a service error onto its HTTP status.
func StatusFor(err error) int {
	var (
		authErr  *service.AuthorizationError
		valErr   *service.ValidationError
		limitErr *service.UsageLimitError
	)
	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.As(err, &valErr), errors.Is(err, licensekey.ErrInvalidOptions),
		errors.Is(err, service.ErrClinicSelectionRequired), errors.Is(err, service.ErrInvalidActivationCode):
		return http.StatusUnprocessableEntity
	case errors.As(err, &limitErr), errors.Is(err, service.ErrUsageLimitExceeded),
		errors.Is(err, service.ErrRoleInUse), errors.Is(err, service.ErrRoleNameTaken),
		errors.Is(err, service.ErrAlreadyMember), errors.Is(err, service.ErrLicenseExists),
		errors.Is(err, service.ErrUsageUnderflow):
		return http.StatusConflict
	case errors.Is(err, service.ErrSystemRoleImmutable), errors.Is(err, service.ErrLicenseExpired),
		errors.Is(err, service.ErrLicenseSuspended):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// AbortWithError writes the error envelope for err and stops the handler chain.
// Internal faults are logged and reported; their text never reaches the client.
func AbortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		// Key exhaustion is reported where it happens.
		if !errors.Is(err, licensekey.ErrCollisionExhausted) {
			alert.Capture(err, map[string]string{"path": c.FullPath()})
		}
		c.AbortWithStatusJSON(status, response.Error("internal server error"))
		return
	}

	var (
		valErr   *service.ValidationError
		limitErr *service.UsageLimitError
	)
	switch {
	case errors.As(err, &valErr):
		c.AbortWithStatusJSON(status, response.Error("validation failed",
			response.FieldError{Field: valErr.Field, Message: valErr.Message}))
	case errors.As(err, &limitErr):
		c.AbortWithStatusJSON(status, response.Failure(err.Error(), gin.H{
			"resource_type": limitErr.ResourceType,
			"current":       limitErr.Current,
			"limit":         limitErr.Limit,
			"requested":     limitErr.Requested,
		}))
	default:
		c.AbortWithStatusJSON(status, response.Error(err.Error()))
	}
}

// AbortWithBindError reports a request body that failed gin binding.
func AbortWithBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]response.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, response.FieldError{Field: fe.Field(), Message: "failed on '" + fe.Tag() + "'"})
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.Error("validation failed", fields...))
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, response.Error("Invalid request payload: "+err.Error()))
}
