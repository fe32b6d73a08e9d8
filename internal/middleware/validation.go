package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var errNoCredentials = errors.New("no session credentials")

// NewOpenAPIValidator creates a Gin middleware that validates incoming requests
// against the provided OpenAPI 3 spec. Operations with a security requirement
// need a session v accepts, carried the way the security scheme names
// (cookie or bearer header); failures get 401 before the body is looked at.
// Invalid requests are rejected with 400.
func NewOpenAPIValidator(spec *openapi3.T, v Verifier) (gin.HandlerFunc, error) {
	// Reason: clear servers so the router matches paths without a server URL prefix
	spec.Servers = nil

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		return nil, fmt.Errorf("creating openapi router: %w", err)
	}

	return validatorHandler(router, authenticate(v)), nil
}

func validatorHandler(router routers.Router, authFunc openapi3filter.AuthenticationFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"message": "route not found in API specification",
			})
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    &openapi3filter.Options{AuthenticationFunc: authFunc},
		}

		err = openapi3filter.ValidateRequest(c.Request.Context(), input)
		var secErr *openapi3filter.SecurityRequirementsError
		switch {
		case err == nil:
			c.Next()
		case errors.As(err, &secErr):
			log.WithError(err).WithField("path", c.Request.URL.Path).Info("request without valid session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "login required",
			})
		default:
			log.WithError(err).WithField("path", c.Request.URL.Path).Warn("request validation failed")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"message": sanitizeValidationError(err),
			})
		}
	}
}

// authenticate checks one security scheme of a requirement. Role checks
// stay with RequireSession: the document only says a session is needed.
func authenticate(v Verifier) openapi3filter.AuthenticationFunc {
	return func(_ context.Context, in *openapi3filter.AuthenticationInput) error {
		req := in.RequestValidationInput.Request
		scheme := in.SecurityScheme

		var token string
		switch {
		case scheme.Type == "apiKey" && scheme.In == "cookie":
			if cookie, err := req.Cookie(scheme.Name); err == nil {
				token = cookie.Value
			}
		case scheme.Type == "http" && strings.EqualFold(scheme.Scheme, "bearer"):
			if t, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer "); ok {
				token = strings.TrimSpace(t)
			}
		default:
			return in.NewError(fmt.Errorf("unsupported security scheme %q", in.SecuritySchemeName))
		}

		if token == "" {
			return in.NewError(errNoCredentials)
		}
		if _, err := v.Verify(token); err != nil {
			return in.NewError(err)
		}
		return nil
	}
}

func sanitizeValidationError(err error) string {
	msg := err.Error()
	// Reason: kin-openapi wraps errors verbosely; trim to the useful part
	if idx := strings.Index(msg, "Schema:"); idx >= 0 {
		msg = strings.TrimSpace(msg[idx:])
	}
	return msg
}
