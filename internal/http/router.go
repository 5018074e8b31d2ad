package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/http/handler"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, authMiddleware *middleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/.well-known/oauth-authorization-server", oauthHandler.Metadata)

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", oauthHandler.AuthorizeGet)
		oauth.POST("/authorize", oauthHandler.AuthorizePost)
		oauth.POST("/token", oauthHandler.Token)
		oauth.POST("/introspect", oauthHandler.Introspect)
		oauth.POST("/revoke", oauthHandler.Revoke)
	}

	api := r.Group("/api")
	{
		api.GET("/me", authMiddleware.RequireBearer, oauthHandler.Me)
	}

	return r
}
