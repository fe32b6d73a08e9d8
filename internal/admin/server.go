package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/tomochart/guestlist/internal/guest"
)

type Error struct {
	Message string `json:"message"`
}

type GetAdminStatsParams struct {
	Q           string `form:"q"`
	Department  string `form:"department"`
	Responsible string `form:"responsible"`
}

func (p GetAdminStatsParams) Filter() guest.Filter {
	return guest.Filter{Query: p.Q, Department: p.Department, Responsible: p.Responsible}
}

// ServerInterface is the admin-only API.
type ServerInterface interface {
	GetAdminStats(c *gin.Context, params GetAdminStatsParams)
	GetAdminAliases(c *gin.Context)
}

// RegisterHandlers wires si under /admin. guard runs first on every route.
func RegisterHandlers(router gin.IRouter, si ServerInterface, guard ...gin.HandlerFunc) {
	g := router.Group("/admin", guard...)

	g.GET("/stats", func(c *gin.Context) {
		var params GetAdminStatsParams
		if err := c.ShouldBindQuery(&params); err != nil {
			c.JSON(400, Error{Message: "invalid query parameters"})
			return
		}
		si.GetAdminStats(c, params)
	})
	g.GET("/aliases", si.GetAdminAliases)
}
