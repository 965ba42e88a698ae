package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/middleware"
	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// Handlers groups the scheduling endpoints mounted under the API prefix.
type Handlers struct {
	Scheduling      *SchedulingHandler
	Recommendations *RecommendationHandler
	Classes         *ClassHandler
	Bulk            *BulkHandler
	Metrics         *MetricsHandler
}

// RegisterRoutes mounts the scheduling API on group. Every route requires a valid token;
// writes are limited to administrators.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, verifier middleware.TokenVerifier, logger *zap.Logger) {
	readers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleCoordinator, models.RoleTeacher)
	writers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	scheduling := group.Group("/scheduling", middleware.JWT(verifier))

	runs := scheduling.Group("/runs")
	runs.POST("", writers, middleware.Audit(logger, "run.submit", "scheduling_run"), h.Scheduling.CreateRun)
	runs.GET("/:id", readers, h.Scheduling.GetRun)
	runs.GET("/:id/progress", readers, h.Scheduling.Progress)
	runs.POST("/:id/cancel", writers, middleware.Audit(logger, "run.cancel", "scheduling_run"), h.Scheduling.CancelRun)
	runs.GET("/:id/metrics", readers, h.Scheduling.RunMetrics)

	scheduling.GET("/conflicts", readers, h.Scheduling.Conflicts)

	recs := scheduling.Group("/recommendations")
	recs.GET("", readers, h.Recommendations.List)
	recs.GET("/:id", readers, h.Recommendations.Get)
	recs.POST("/:id/resolve", writers, middleware.Audit(logger, "recommendation.resolve", "recommendation"), h.Recommendations.Resolve)

	classes := scheduling.Group("/classes")
	classes.GET("/:id", readers, h.Classes.Get)
	classes.GET("/:id/overrides", readers, h.Classes.Overrides)
	classes.POST("/:id/overrides", writers, middleware.Audit(logger, "class.override", "scheduled_class"), h.Classes.ApplyOverride)
	classes.POST("/:id/confirm", writers, middleware.Audit(logger, "class.confirm", "scheduled_class"), h.Classes.Confirm)
	classes.POST("/:id/cancel", writers, middleware.Audit(logger, "class.cancel", "scheduled_class"), h.Classes.Cancel)

	scheduling.POST("/bulk", writers, middleware.Audit(logger, "bulk.execute", "bulk_operation"), h.Bulk.Execute)

	if h.Metrics != nil {
		group.GET("/metrics/summary", middleware.JWT(verifier), writers, h.Metrics.Summary)
	}
}
