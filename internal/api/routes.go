package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes. metrics may be nil.
func SetupRoutes(router *gin.Engine, handler *Handler, metrics http.Handler) {
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/compare", handler.Compare)

		sources := v1.Group("/sources")
		{
			sources.GET("/availability", handler.Availability)
			sources.GET("/categories", handler.Categories)
		}

		v1.POST("/products/refresh", handler.Refresh)
		v1.GET("/cycles/last", handler.LastCycle)
		v1.GET("/circuits", handler.Circuits)
		v1.POST("/circuits/:host/reset", handler.ResetCircuit)
	}
}
