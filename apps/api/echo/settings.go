package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type settingsApi struct {
	svc *core.SettingsService
}

func registerSettingsAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *core.SettingsService) {
	api := settingsApi{svc: svc}

	sg := g.Group("/settings", jwt)
	sg.GET("", api.retrieve)
	sg.PUT("", api.update, adminMiddleware())
}

// Handlers

// retrieve returns the live settings snapshot (branding, attendance
// threshold); any authenticated user may read it.
func (api *settingsApi) retrieve(ctx echo.Context) error {
	settings, err := api.svc.Snapshot(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (api *settingsApi) update(ctx echo.Context) error {
	var data UpdateSettingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSettingRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	if err := api.svc.Save(reqCtx, data.Key, data.Value); err != nil {
		return errors.Wrap(err, "saving setting")
	}

	settings, err := api.svc.Snapshot(reqCtx)
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

type UpdateSettingRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

func (ur *UpdateSettingRequest) Validate() error {
	return core.Validate.Struct(ur)
}
