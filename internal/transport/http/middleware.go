package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/service"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
)

const (
	contextClaimsKey = "operator.claims"
	contextTokenKey  = "operator.token"
)

// RequireOperator guards the operator-only routes. It expects a bearer
// token minted by the auth service and stores its claims on the context.
func RequireOperator(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if strings.TrimSpace(authHeader) == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("missing authorization header"))
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid authorization header"))
			}
			token := strings.TrimSpace(parts[1])
			claims, err := auth.Verify(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid or expired token"))
			}
			if claims.Role != util.RoleOperator {
				return c.JSON(http.StatusForbidden, util.Error("operator privileges required"))
			}
			c.Set(contextClaimsKey, claims)
			c.Set(contextTokenKey, token)
			return next(c)
		}
	}
}

// CurrentOperator returns the verified claims set by RequireOperator.
func CurrentOperator(c echo.Context) (*util.Claims, bool) {
	claims, ok := c.Get(contextClaimsKey).(*util.Claims)
	return claims, ok && claims != nil
}
