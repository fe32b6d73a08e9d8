package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Handler implements ServerInterface.
type Handler struct {
	store        store.GuestStore
	auth         *auth.Authenticator
	pageSize     int
	secureCookie bool
}

type HandlerOptions struct {
	PageSize     int
	SecureCookie bool
}

func NewHandler(s store.GuestStore, a *auth.Authenticator, opts HandlerOptions) *Handler {
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = DefaultPageSize
	}
	return &Handler{store: s, auth: a, pageSize: opts.PageSize, secureCookie: opts.SecureCookie}
}

var _ ServerInterface = (*Handler)(nil)

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) PostAuthLogin(c *gin.Context) {
	var body LoginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Error{Message: "invalid request body"})
		return
	}

	role := auth.Role(body.Role)
	logger := log.WithFields(log.Fields{"role": role, "ip": c.ClientIP()})

	token, expires, err := h.auth.Login(role, body.Pin)
	if err != nil {
		logger.Warn("login rejected")
		c.JSON(http.StatusUnauthorized, Error{Message: "invalid role or pin"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, int(h.auth.TTL().Seconds()), "/", "", h.secureCookie, true)

	logger.Info("operator logged in")
	c.JSON(http.StatusOK, LoginResponse{Role: string(role), ExpiresAt: expires.UTC()})
}

func (h *Handler) GetGuests(c *gin.Context, params GetGuestsParams) {
	q := store.ListQuery{
		Filter: params.Filter(),
		Limit:  h.pageSize,
		Offset: deref(params.Offset),
	}
	if params.Limit != nil {
		q.Limit = *params.Limit
	}

	page, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, log.WithField("offset", q.Offset), "failed to list guests", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) PostGuests(c *gin.Context) {
	var body CreateGuestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Error{Message: "invalid request body"})
		return
	}
	if err := body.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, Error{Message: err.Error()})
		return
	}

	id, err := h.store.Create(c.Request.Context(), body)
	if err != nil {
		h.fail(c, log.WithField("guest", body.Guest), "failed to create guest", err)
		return
	}

	c.JSON(http.StatusOK, CreateGuestResponse{Ok: true, Id: id})
}

func (h *Handler) PostCheckin(c *gin.Context) {
	var body CheckInRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Error{Message: "invalid request body"})
		return
	}
	logger := log.WithField("record_id", body.RecordId)

	rec, err := h.store.SetCheckIn(c.Request.Context(), body.RecordId, body.Guest, body.PlusOne)
	if err != nil {
		h.fail(c, logger, "failed to update check-in", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, Error{Message: "guest not found"})
		return
	}

	logger.WithFields(log.Fields{"guest": rec.GuestCheckIn, "plus_one": rec.PlusOneCheckIn}).Info("check-in updated")
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) PostGift(c *gin.Context) {
	var body GiftRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Error{Message: "invalid request body"})
		return
	}
	logger := log.WithField("record_id", body.RecordId)

	rec, err := h.store.SetGift(c.Request.Context(), body.RecordId, body.Value)
	if err != nil {
		h.fail(c, logger, "failed to update gift", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, Error{Message: "guest not found"})
		return
	}

	logger.WithField("gift", rec.GiftReceived).Info("gift updated")
	c.JSON(http.StatusOK, rec)
}

// fail maps store errors to responses. Exhausted aliases are a deployment
// problem operators cannot fix, everything else is an upstream failure.
func (h *Handler) fail(c *gin.Context, logger *log.Entry, msg string, err error) {
	switch {
	case errors.Is(err, alias.ErrSchemaMismatch):
		logger.WithError(err).Error("remote table does not match configured field aliases")
		c.JSON(http.StatusInternalServerError, Error{Message: "server misconfigured: guest table columns do not match field aliases"})
	case errors.Is(err, guest.ErrGuestNameRequired):
		c.JSON(http.StatusBadRequest, Error{Message: err.Error()})
	case errors.Is(err, context.Canceled):
		logger.WithError(err).Info("client went away")
		c.Status(499)
	default:
		logger.WithError(err).Error(msg)
		c.JSON(http.StatusBadGateway, Error{Message: "guest table unavailable"})
	}
}
