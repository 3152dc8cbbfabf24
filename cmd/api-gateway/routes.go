package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/sma-school-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-school-api/internal/middleware"
	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/config"
)

const schoolParam = "schoolId"

func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices, metricsHandler *handler.MetricsHandler) {
	authHandler := handler.NewAuthHandler(svc.auth)
	userHandler := handler.NewUserHandler(svc.users)
	schoolHandler := handler.NewSchoolHandler(svc.schools, svc.workspaces)
	auditHandler := handler.NewAuditHandler(svc.audit)
	dashboardHandler := handler.NewDashboardHandler(svc.dashboard)
	classHandler := handler.NewClassHandler(svc.classes)
	studentHandler := handler.NewStudentHandler(svc.students)
	subjectHandler := handler.NewSubjectHandler(svc.subjects)
	scoreHandler := handler.NewScoreHandler(svc.scores)
	attendanceHandler := handler.NewAttendanceHandler(svc.attendance)
	feeHandler := handler.NewFeeHandler(svc.fees)
	paymentHandler := handler.NewPaymentHandler(svc.payments)
	exportHandler := handler.NewExportHandler(svc.exports)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(apiPrefix(cfg))
	api.GET("/exports/:token", exportHandler.Download)

	authRequired := internalmiddleware.JWT(svc.auth)
	canRead := internalmiddleware.RequirePermission(models.PermViewAll)
	canCreate := internalmiddleware.RequirePermission(models.PermCreate)
	canUpdate := internalmiddleware.RequirePermission(models.PermUpdate)
	canDelete := internalmiddleware.RequirePermission(models.PermDelete)
	canLock := internalmiddleware.RequireAllPermissions(models.PermUpdate, models.PermDelete)
	auditFailure := func(action string) gin.HandlerFunc {
		return internalmiddleware.AuditFailures(svc.audit, action, "user")
	}

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authRequired, authHandler.Logout)
		auth.GET("/me", authRequired, authHandler.Me)
		auth.PUT("/change-password", authRequired, authHandler.ChangePassword)
	}

	api.GET("/app/overview", authRequired, userHandler.Overview)

	admin := api.Group("/admin", authRequired)
	{
		admin.GET("/dashboard", internalmiddleware.RequireAnyPermission(models.PermViewAll, models.PermManageUsers), dashboardHandler.Stats)
		admin.GET("/school-settings", schoolHandler.Settings)
		admin.PUT("/school-settings", internalmiddleware.RequirePermission(models.PermManageSchool), schoolHandler.UpdateSettings)
		admin.GET("/workspaces", internalmiddleware.RequirePermission(models.PermManageSchool), schoolHandler.Workspaces)
		admin.GET("/system-metrics", internalmiddleware.RequireAdmin(), metricsHandler.System)

		users := admin.Group("", internalmiddleware.RequirePermission(models.PermManageUsers))
		users.GET("/role-presets", userHandler.RolePresets)
		users.GET("/users", userHandler.List)
		users.GET("/users/pending", userHandler.Pending)
		users.POST("/users/bulk-permissions", auditFailure(models.AuditActionPermissionBulkUpdate), userHandler.BulkPermissions)
		users.GET("/users/:id", userHandler.Get)
		users.PUT("/users/:id/permissions", auditFailure(models.AuditActionPermissionUpdate), userHandler.UpdatePermissions)
		users.DELETE("/users/:id", auditFailure(models.AuditActionUserDelete), userHandler.Delete)
		users.POST("/users/:id/approve", auditFailure(models.AuditActionUserApprove), userHandler.Approve)
		users.POST("/users/:id/reject", auditFailure(models.AuditActionUserReject), userHandler.Reject)
		users.POST("/users/:id/apply-role", auditFailure(models.AuditActionRoleApply), userHandler.ApplyRole)
		users.GET("/users/:id/audit-logs", auditHandler.ForUser)
		users.GET("/audit-logs", auditHandler.List)
		users.GET("/audit-logs/permissions", auditHandler.PermissionChanges)
	}

	tenant := api.Group("", authRequired, internalmiddleware.RequireSameSchool(schoolParam))

	classes := tenant.Group("/classes")
	{
		classes.GET("", canRead, classHandler.List)
		classes.GET("/statistics", canRead, classHandler.Statistics)
		classes.GET("/:id", canRead, classHandler.Get)
		classes.GET("/:id/students", canRead, classHandler.Students)
		classes.POST("", canCreate, classHandler.Create)
		classes.PUT("/:id", canUpdate, classHandler.Update)
		classes.DELETE("/:id", canDelete, classHandler.Delete)
	}

	students := tenant.Group("/students")
	{
		students.GET("", canRead, studentHandler.List)
		students.GET("/statistics", canRead, studentHandler.Statistics)
		students.POST("/transfer", canUpdate, studentHandler.Transfer)
		students.POST("/bulk-import", canCreate, studentHandler.Import)
		students.GET("/:id", canRead, studentHandler.Get)
		students.POST("", canCreate, studentHandler.Create)
		students.PUT("/:id", canUpdate, studentHandler.Update)
		students.DELETE("/:id", canDelete, studentHandler.Delete)
	}

	subjects := tenant.Group("/subjects")
	{
		subjects.GET("", canRead, subjectHandler.List)
		subjects.GET("/:id", canRead, subjectHandler.Get)
		subjects.POST("", canCreate, subjectHandler.Create)
		subjects.PUT("/:id", canUpdate, subjectHandler.Update)
		subjects.DELETE("/:id", canDelete, subjectHandler.Delete)
	}

	scores := tenant.Group("/scores")
	{
		scores.GET("", canRead, scoreHandler.List)
		scores.GET("/statistics", canRead, scoreHandler.Statistics)
		scores.GET("/class", canRead, scoreHandler.ClassScores)
		scores.GET("/ranking", canRead, scoreHandler.Ranking)
		scores.GET("/student/:id/transcript", canRead, scoreHandler.Transcript)
		scores.GET("/export", canRead, exportHandler.ScoreSheet)
		scores.POST("/enter", canCreate, scoreHandler.Enter)
		scores.POST("/lock", canLock, scoreHandler.Lock)
		scores.POST("/unlock", canLock, scoreHandler.Unlock)
		scores.PUT("/:id", canUpdate, scoreHandler.Update)
		scores.DELETE("/:id", canDelete, scoreHandler.Delete)
	}

	attendance := tenant.Group("/attendance")
	{
		attendance.GET("", canRead, attendanceHandler.List)
		attendance.GET("/statistics", canRead, attendanceHandler.Statistics)
		attendance.POST("/mark", canCreate, attendanceHandler.Mark)
		attendance.DELETE("/:id", canDelete, attendanceHandler.Delete)
	}

	fees := tenant.Group("/fees")
	{
		fees.GET("", canRead, feeHandler.List)
		fees.GET("/:id", canRead, feeHandler.Get)
		fees.POST("", canCreate, feeHandler.Create)
		fees.PUT("/:id", canUpdate, feeHandler.Update)
		fees.DELETE("/:id", canDelete, feeHandler.Delete)
	}

	payments := tenant.Group("/payments")
	{
		payments.GET("", canRead, paymentHandler.List)
		payments.GET("/overdue", canRead, paymentHandler.Overdue)
		payments.GET("/statistics", canRead, paymentHandler.Statistics)
		payments.GET("/student/:id", canRead, paymentHandler.StudentStatus)
		payments.GET("/export", canRead, exportHandler.Payments)
		payments.POST("/create", canCreate, paymentHandler.Create)
		payments.POST("/bulk-create", canCreate, paymentHandler.BulkCreate)
		payments.POST("/record", canUpdate, paymentHandler.Record)
		payments.POST("/apply-discount", canLock, paymentHandler.ApplyDiscount)
		payments.DELETE("/:id", canDelete, paymentHandler.Delete)
	}
}
