package http

import (
	"github.com/gin-gonic/gin"

	"claridoc/internal/bootstrap"
	"claridoc/internal/transport/http/handler"
	"claridoc/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.Auth)
	documentHandler := handler.NewDocumentHandler(app.Documents)
	qaHandler := handler.NewQAHandler(app.QA)

	jwtSecret := app.Config.Auth.JWTSecret

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), authHandler.Me)

	docGroup := v1.Group("/documents")
	docGroup.Use(middleware.AuthJWT(jwtSecret))
	docGroup.POST("", documentHandler.Upload)
	docGroup.GET("", documentHandler.List)
	docGroup.GET("/:id", documentHandler.Get)
	docGroup.DELETE("/:id", documentHandler.Delete)

	qaGroup := v1.Group("/qa")
	qaGroup.Use(middleware.AuthJWT(jwtSecret))
	qaGroup.POST("/ask", qaHandler.Ask)
	qaGroup.POST("/search", qaHandler.Search)
	qaGroup.GET("/sessions", qaHandler.ListSessions)
	qaGroup.GET("/sessions/:id/history", qaHandler.History)

	return router
}
