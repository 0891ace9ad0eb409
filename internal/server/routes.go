package server

import "github.com/gin-gonic/gin"

func RegisterRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		api.POST("/speedtest", h.RunSpeedtest)
		api.POST("/speedtest/schedule/run-now", h.RunNow)

		api.GET("/history", h.GetHistory)
		api.GET("/history/download", h.DownloadHistory)
		api.DELETE("/history", h.ClearHistory)

		api.GET("/config", h.GetConfig)
		api.POST("/config", h.UpdateConfig)

		api.GET("/scheduler/status", h.SchedulerStatus)
	}
	r.GET("/healthz", h.Healthz)
}
