package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/guest"
)

// AdminStore defines the store operations needed by the admin handler.
type AdminStore interface {
	Summarize(ctx context.Context, f guest.Filter) (guest.Metrics, error)
	Aliases() alias.Set
}

type Handler struct {
	store AdminStore
}

func NewHandler(s AdminStore) *Handler {
	return &Handler{store: s}
}

var _ ServerInterface = (*Handler)(nil)

// GetAdminStats recounts every matching guest. Kiosks keep their totals by
// deltas, this is the authoritative number.
func (h *Handler) GetAdminStats(c *gin.Context, params GetAdminStatsParams) {
	f := params.Filter()
	m, err := h.store.Summarize(c.Request.Context(), f)
	if err != nil {
		logger := log.WithError(err).WithField("filter", f)
		if errors.Is(err, alias.ErrSchemaMismatch) {
			logger.Error("remote table does not match configured field aliases")
			c.JSON(http.StatusInternalServerError, Error{Message: "server misconfigured: guest table columns do not match field aliases"})
			return
		}
		logger.Error("failed to summarize guests")
		c.JSON(http.StatusBadGateway, Error{Message: "guest table unavailable"})
		return
	}

	c.JSON(http.StatusOK, m)
}

func (h *Handler) GetAdminAliases(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Aliases())
}
