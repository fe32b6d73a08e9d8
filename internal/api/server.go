package api

import (
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"

	"github.com/tomochart/guestlist/internal/guest"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger parses the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("loading embedded openapi document: %w", err)
	}
	return doc, nil
}

type HealthResponse struct {
	Status string `json:"status"`
}

type Error struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Role string `json:"role"`
	Pin  string `json:"pin"`
}

type LoginResponse struct {
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateGuestRequest = guest.NewGuest

type CreateGuestResponse struct {
	Ok bool   `json:"ok"`
	Id string `json:"id"`
}

type CheckInRequest struct {
	RecordId string `json:"recordId"`
	Guest    bool   `json:"guest"`
	PlusOne  bool   `json:"plusOne"`
}

type GiftRequest struct {
	RecordId string `json:"recordId"`
	Value    bool   `json:"value"`
}

type GetGuestsParams struct {
	Q           *string `form:"q" json:"q,omitempty"`
	Department  *string `form:"department" json:"department,omitempty"`
	Responsible *string `form:"responsible" json:"responsible,omitempty"`
	Limit       *int    `form:"limit" json:"limit,omitempty"`
	Offset      *string `form:"offset" json:"offset,omitempty"`
}

// Filter returns the listing filter named by the query parameters.
func (p GetGuestsParams) Filter() guest.Filter {
	return guest.Filter{
		Query:       deref(p.Q),
		Department:  deref(p.Department),
		Responsible: deref(p.Responsible),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ServerInterface is the public API.
type ServerInterface interface {
	GetHealth(c *gin.Context)
	PostAuthLogin(c *gin.Context)
	GetGuests(c *gin.Context, params GetGuestsParams)
	PostGuests(c *gin.Context)
	PostCheckin(c *gin.Context)
	PostGift(c *gin.Context)
}

// Options adds middleware in front of route groups.
type Options struct {
	// Session guards every route except /health and /auth/login.
	Session gin.HandlerFunc
	// Login runs in front of /auth/login, typically a stricter rate limit.
	Login []gin.HandlerFunc
}

// RegisterHandlers wires si onto router.
func RegisterHandlers(router gin.IRouter, si ServerInterface, opts Options) {
	w := wrapper{handler: si}

	router.GET("/health", w.GetHealth)
	router.POST("/auth/login", append(opts.Login, w.PostAuthLogin)...)

	guarded := router.Group("")
	if opts.Session != nil {
		guarded.Use(opts.Session)
	}
	guarded.GET("/guests", w.GetGuests)
	guarded.POST("/guests", w.PostGuests)
	guarded.POST("/checkin", w.PostCheckin)
	guarded.POST("/gift", w.PostGift)
}

type wrapper struct {
	handler ServerInterface
}

func (w wrapper) GetHealth(c *gin.Context)     { w.handler.GetHealth(c) }
func (w wrapper) PostAuthLogin(c *gin.Context) { w.handler.PostAuthLogin(c) }
func (w wrapper) PostGuests(c *gin.Context)    { w.handler.PostGuests(c) }
func (w wrapper) PostCheckin(c *gin.Context)   { w.handler.PostCheckin(c) }
func (w wrapper) PostGift(c *gin.Context)      { w.handler.PostGift(c) }

func (w wrapper) GetGuests(c *gin.Context) {
	var params GetGuestsParams
	query := c.Request.URL.Query()

	for name, dest := range map[string]any{
		"q":           &params.Q,
		"department":  &params.Department,
		"responsible": &params.Responsible,
		"limit":       &params.Limit,
		"offset":      &params.Offset,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			c.JSON(http.StatusBadRequest, Error{Message: fmt.Sprintf("invalid format for parameter %s: %s", name, err)})
			return
		}
	}

	w.handler.GetGuests(c, params)
}
