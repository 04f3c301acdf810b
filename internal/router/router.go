package router

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"carinsure/docs"
	"carinsure/internal/auth"
	"carinsure/internal/config"
	"carinsure/internal/handler"
	"carinsure/internal/validation"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	cfg *config.Config,
	jwtService *auth.JWTService,
	policyHandler *handler.PolicyHandler,
) {
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if cfg.SwaggerHost != "" {
		// Swag uses this for server URL in docs when set.
		configureSwagger(cfg.SwaggerHost)
	}
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	api.POST("/policies", policyHandler.Create)
	api.GET("/policies", policyHandler.List)
	api.GET("/policies/:id", policyHandler.Get)
	api.PATCH("/policies/:id", policyHandler.Update)
	api.GET("/policies/:id/owner", policyHandler.Owner)

	// Secured routes (require JWT authentication)
	secured := api.Group("", jwtService.Middleware())

	secured.GET("/me", func(c echo.Context) error {
		claims := auth.ClaimsFrom(c)
		if claims == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return c.JSON(http.StatusOK, echo.Map{"user_id": claims.UserID, "role": claims.Role})
	})

	// Review routes
	review := secured.Group("/policies/:id", auth.RequireRole(auth.RoleAdmin))
	review.POST("/approve", policyHandler.Approve)
	review.POST("/reject", policyHandler.Reject)
}

// CustomValidator adapts the shared validator to echo.
type CustomValidator struct{}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return validation.Struct(i)
}

// configureSwagger points the generated docs at host, which may carry a scheme.
func configureSwagger(host string) {
	switch {
	case strings.HasPrefix(host, "https://"):
		docs.SwaggerInfo.Schemes = []string{"https"}
	case strings.HasPrefix(host, "http://"):
		docs.SwaggerInfo.Schemes = []string{"http"}
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	docs.SwaggerInfo.Host = strings.TrimSuffix(host, "/")
}
