package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/config"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
	"github.com/edutrack/grade-service/internal/validator"
)

type HandlerManager struct {
	gradeHandler     *GradeHandler
	flagHandler      *FlagHandler
	progressHandler  *ProgressHandler
	dashboardHandler *DashboardHandler
	importHandler    *ImportHandler
	userHandler      *UserHandler
	authMiddleware   *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		gradeHandler:     NewGradeHandler(serviceManager.Grade(), validator, logger),
		flagHandler:      NewFlagHandler(serviceManager.Flag(), logger),
		progressHandler:  NewProgressHandler(serviceManager.Progress(), logger),
		dashboardHandler: NewDashboardHandler(serviceManager.Dashboard(), logger),
		importHandler:    NewImportHandler(serviceManager.Import(), logger),
		userHandler:      NewUserHandler(userRepo, logger),
		authMiddleware:   authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware()) // Apply authentication to all API routes
	{
		// Grade routes
		grades := v1.Group("/grades")
		{
			// Recording and correcting grades - Teachers and Admins only
			grades.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.SubmitGrade)
			grades.POST("/batch", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.BatchEntry)
			grades.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.UpdateGrade)
			grades.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.DeleteGrade)
			grades.POST("/:id/reassign", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.ReassignGrade)

			// Viewing grades - listing is staff only, single lookups check
			// ownership in the service layer
			grades.GET("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.ListGrades)
			grades.GET("/:id", hm.gradeHandler.GetGrade)
			grades.GET("/:id/details", hm.gradeHandler.GetGradeWithDetails)
			grades.GET("/:id/retake-chain", hm.gradeHandler.GetRetakeChain)
			grades.GET("/:id/can-edit", hm.gradeHandler.CanEditGrade)
			grades.GET("/student/:student_id/class/:class_id/term/:term_id", hm.gradeHandler.GetStudentTermGrades)
			grades.GET("/class/:class_id/term/:term_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.gradeHandler.GetClassTermGrades)
		}

		// Flag routes - Teachers and Admins only
		flags := v1.Group("/flags")
		flags.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			flags.GET("/class/:class_id/term/:term_id", hm.flagHandler.GetClassFlags)
			flags.GET("/student/:student_id/class/:class_id/term/:term_id", hm.flagHandler.GetStudentFlag)

			// Parent contact tracking
			flags.POST("/contacts", hm.flagHandler.RecordContact)
			flags.PUT("/contacts/:id/status", hm.flagHandler.UpdateContactStatus)
			flags.GET("/contacts/student/:student_id/term/:term_id", hm.flagHandler.GetContacts)
		}

		// Progress routes - single student views check ownership in the
		// service layer, class views are staff only
		progress := v1.Group("/progress")
		{
			progress.GET("/student/:student_id/class/:class_id/term/:term_id", hm.progressHandler.GetStudentSummary)
			progress.GET("/class/:class_id/term/:term_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.progressHandler.GetClassSummary)
		}

		// Spreadsheet import routes - Teachers and Admins only
		importGroup := v1.Group("/import")
		importGroup.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			importGroup.POST("/class/:class_id/term/:term_id", hm.importHandler.ImportGradeSheet)
			importGroup.GET("/class/:class_id/term/:term_id/template", hm.importHandler.DownloadTemplate)
		}

		// Dashboard routes - Teachers and Admins only
		dashboard := v1.Group("/dashboard")
		dashboard.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			dashboard.GET("/stats", hm.dashboardHandler.GetDashboardStats)
			dashboard.GET("/class-performance", hm.dashboardHandler.GetClassPerformance)
			dashboard.GET("/teacher-activity", hm.dashboardHandler.GetTeacherActivity)
			dashboard.GET("/subject-flags", hm.dashboardHandler.GetSubjectFlags)
			dashboard.GET("/score-distribution", hm.dashboardHandler.GetScoreDistribution)
			dashboard.GET("/grading-trends", hm.dashboardHandler.GetGradingTrends)
			dashboard.GET("/recent-grades", hm.dashboardHandler.GetRecentGrades)
		}

		// User routes (lookups for grade attribution)
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/search", hm.userHandler.SearchUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "grade-service",
		})
	})
}
