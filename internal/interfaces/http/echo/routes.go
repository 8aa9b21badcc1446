package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, h *MigrationHandler) {
	v1 := server.Group("/api/v1")
	v1.POST("/orgs/:org_id/migrations", h.Start)
	v1.GET("/migrations/estimate", h.Estimate)
	v1.GET("/migrations/:id", h.GetStatus)
	v1.GET("/migrations/:id/items", h.ListItems)
	v1.POST("/migrations/:id/pause", h.Pause)
	v1.POST("/migrations/:id/resume", h.Resume)
	v1.POST("/migrations/:id/cancel", h.Cancel)
	v1.POST("/migrations/:id/rollback", h.Rollback)
}
