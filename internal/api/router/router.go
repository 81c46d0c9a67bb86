package router

import (
	"net/http"

	"github.com/cuongbtq/pricecards/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	service := deps.ServiceName
	if service == "" {
		service = "pricecards-api"
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	mediaHandler := handler.NewMediaHandler(deps)
	cardHandler := handler.NewCardHandler(deps)
	spreadsheetHandler := handler.NewSpreadsheetHandler(deps)

	api := r.Group("/api")

	// Loaded by <audio> and <img> tags, which cannot send headers
	public := api.Group("/media")
	{
		public.GET("/proxy", mediaHandler.Proxy)
		public.GET("/download", mediaHandler.Download)
		public.GET("/blob/:id", mediaHandler.GetBlob)
	}

	protected := api.Group("")
	if deps.AuthSecret != "" {
		protected.Use(AuthMiddleware(deps.AuthSecret))
	}
	{
		protected.POST("/upload", jobHandler.Upload)

		processing := protected.Group("/processing")
		{
			processing.POST("/analyze-text", jobHandler.AnalyzeText)
			processing.POST("/analyze-file", jobHandler.AnalyzeFile)
			processing.GET("/status/:job_id", jobHandler.GetStatus)
			processing.GET("/jobs", jobHandler.ListJobs)
			processing.DELETE("/jobs/:job_id", jobHandler.DeleteJob)
			processing.POST("/cleanup", jobHandler.Cleanup)
		}

		mediaRoutes := protected.Group("/media")
		{
			mediaRoutes.GET("/resolve", mediaHandler.Resolve)
			mediaRoutes.DELETE("/blob/:id", mediaHandler.ReleaseBlob)
			mediaRoutes.DELETE("/cache", mediaHandler.ClearCache)
		}

		cards := protected.Group("/cards")
		{
			cards.POST("", cardHandler.CreateCard)
			cards.GET("", cardHandler.ListCards)
			cards.GET("/:id", cardHandler.GetCard)
			cards.PUT("/:id", cardHandler.UpdateCard)
			cards.DELETE("/:id", cardHandler.DeleteCard)
		}

		sheets := protected.Group("/spreadsheet")
		{
			sheets.POST("/generate", spreadsheetHandler.Generate)
			sheets.GET("/templates", spreadsheetHandler.Templates)
		}
	}

	return r
}
