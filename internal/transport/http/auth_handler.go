package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/service"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
	"github.com/zulfikar2701/sakae-riken-screws-detection/pkg/validator"
)

type TokenRequest struct {
	OperatorKey string `json:"operator_key" validate:"required"`
	Principal   string `json:"principal" validate:"omitempty,max=64"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterAuth mounts the operator token exchange.
func RegisterAuth(e *echo.Echo, auth *service.AuthService) {
	e.POST("/api/v1/auth/token", func(c echo.Context) error {
		var req TokenRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("invalid request payload"))
		}
		if err := c.Validate(&req); err != nil {
			var verr *validator.Error
			if errors.As(err, &verr) {
				return c.JSON(http.StatusBadRequest, util.FieldErrors(verr.Fields))
			}
			return c.JSON(http.StatusBadRequest, util.Error("invalid request payload"))
		}

		token, expiresAt, err := auth.IssueToken(c.Request().Context(), req.OperatorKey, req.Principal)
		if err != nil {
			if errors.Is(err, service.ErrInvalidOperatorKey) {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid operator key"))
			}
			return c.JSON(http.StatusInternalServerError, util.Error("unable to issue token"))
		}
		return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
	})
}
