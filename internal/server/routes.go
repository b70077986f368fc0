package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loomline/voicecore/internal/app"
	"github.com/loomline/voicecore/internal/domains/user"
)

// RegisterRoutes wires the WebSocket gateway (§4.4) and the REST control
// surface (auth, health, admin session lookup) the way the teacher's
// InitializeRoutes wired handlers onto a shared gin.Engine.
func RegisterRoutes(router *gin.Engine, a *app.App) {
	a.Gateway.RegisterRoutes(router)

	api := router.Group("/api/v1")

	auth := api.Group("/auth")
	auth.POST("/register", registerHandler(a.UserService))
	auth.POST("/login", loginHandler(a.UserService))
	auth.POST("/refresh", refreshHandler(a.UserService))

	sys := api.Group("/system")
	sys.GET("/health", healthHandler())
	sys.GET("/stats", statsHandler(a))

	admin := api.Group("/admin")
	admin.GET("/sessions/:id", sessionLookupHandler(a))
}

func registerHandler(svc user.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := svc.Register(c.Request.Context(), req)
		if err != nil {
			if err == user.ErrEmailAlreadyExists {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(svc user.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, tokens, err := svc.Login(c.Request.Context(), req)
		if err != nil {
			if err == user.ErrInvalidCredentials {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": resp, "tokens": tokens})
	}
}

func refreshHandler(svc user.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := svc.RefreshToken(c.Request.Context(), body.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tokens)
	}
}

func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func statsHandler(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"env": a.Config.Env,
		})
	}
}

func sessionLookupHandler(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rec, err := a.Store.GetAll(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
