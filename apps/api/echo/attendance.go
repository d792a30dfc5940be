package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/user"
)

const qrSize = 256 // px

type attendanceApi struct {
	svc     attendance.Service
	userSvc user.Service
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc attendance.Service, userSvc user.Service) {
	api := attendanceApi{svc: svc, userSvc: userSvc}

	ag := g.Group("/attendance", jwt)

	// check-in is the only student-facing endpoint; both phases share it
	// (?fk=CODE for phase one, ?s=SESSION&k=CODE for phase two) so a single
	// QR-encoded URL works for either.
	ag.GET("/check-in", api.checkIn, studentMiddleware())

	sg := ag.Group("/sessions", teacherMiddleware())
	sg.POST("", api.createSession)
	sg.GET("", api.querySessions)
	sg.GET("/:id", api.retrieveSession)
	sg.POST("/:id/close", api.closeSession)
	sg.GET("/:id/records", api.sessionRecords)

	sg.GET("/:id/keys", api.sessionKeys)
	sg.POST("/:id/keys", api.generateKeys)
	sg.GET("/:id/second-key", api.currentSecondKey)
	sg.POST("/:id/second-key", api.rotateSecondKey)
	sg.GET("/:id/second-key/qr", api.secondKeyQR)

	ag.GET("/keys/:code/qr", api.firstKeyQR, teacherMiddleware())
}

// Handlers

func (api *attendanceApi) createSession(ctx echo.Context) error {
	var data attendance.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sess, err := api.svc.CreateSession(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *attendanceApi) querySessions(ctx echo.Context) error {
	filter := new(attendance.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []attendance.Session{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	sessions, err := api.svc.QuerySessions(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding session by ID")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) closeSession(ctx echo.Context) error {
	sess, err := api.svc.CloseSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "closing session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) sessionRecords(ctx echo.Context) error {
	recs, err := api.svc.SessionRecords(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying records")
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *attendanceApi) sessionKeys(ctx echo.Context) error {
	keys, err := api.svc.SessionKeys(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying keys")
	}
	if keys == nil {
		keys = []attendance.FirstPhaseKey{}
	}
	return ctx.JSON(http.StatusOK, keys)
}

func (api *attendanceApi) generateKeys(ctx echo.Context) error {
	var data GenerateKeysRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateKeysRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	keys, err := api.svc.GenerateFirstPhaseKeys(ctx.Request().Context(), ctx.Param("id"), data.Count)
	if err != nil {
		return errors.Wrap(err, "generating keys")
	}
	return ctx.JSON(http.StatusCreated, keys)
}

func (api *attendanceApi) currentSecondKey(ctx echo.Context) error {
	key, err := api.svc.CurrentSecondPhaseKey(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attendance.ErrKeyNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding current second-phase key")
	}
	return ctx.JSON(http.StatusOK, key)
}

func (api *attendanceApi) rotateSecondKey(ctx echo.Context) error {
	var data RotateKeyRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RotateKeyRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	key, err := api.svc.RotateSecondPhaseKey(
		ctx.Request().Context(), ctx.Param("id"), time.Duration(data.TTLSeconds)*time.Second,
	)
	if err != nil {
		return errors.Wrap(err, "rotating second-phase key")
	}
	return ctx.JSON(http.StatusCreated, key)
}

// checkIn records presence for the logged-in student. ?fk=CODE consumes a
// first-phase key; ?s=SESSION&k=CODE confirms the second phase.
func (api *attendanceApi) checkIn(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	if fk := ctx.QueryParam("fk"); fk != "" {
		res, err := api.svc.CheckInFirstPhase(reqCtx, ctxUsr.ID, fk)
		if err != nil {
			return errors.Wrap(err, "first-phase check-in")
		}
		return ctx.JSON(http.StatusOK, res)
	}

	sessionID, key := ctx.QueryParam("s"), ctx.QueryParam("k")
	if sessionID == "" || key == "" {
		return core.NewValidationError(errors.New("missing attendance key"))
	}
	res, err := api.svc.CheckInSecondPhase(reqCtx, ctxUsr.ID, sessionID, key)
	if err != nil {
		return errors.Wrap(err, "second-phase check-in")
	}
	return ctx.JSON(http.StatusOK, res)
}

// firstKeyQR renders the first-phase check-in URL of a key as a PNG for
// handing out / projecting.
func (api *attendanceApi) firstKeyQR(ctx echo.Context) error {
	url := fmt.Sprintf("%s/attendance/check-in?fk=%s", core.Conf.FrontendBaseURL, ctx.Param("code"))
	return writeQR(ctx, url)
}

// secondKeyQR renders the current second-phase check-in URL as a PNG for
// classroom projection.
func (api *attendanceApi) secondKeyQR(ctx echo.Context) error {
	sessionID := ctx.Param("id")
	key, err := api.svc.CurrentSecondPhaseKey(ctx.Request().Context(), sessionID)
	if err != nil {
		if errors.Cause(err) == attendance.ErrKeyNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding current second-phase key")
	}
	url := fmt.Sprintf("%s/attendance/check-in?s=%s&k=%s", core.Conf.FrontendBaseURL, sessionID, key.Code)
	return writeQR(ctx, url)
}

func writeQR(ctx echo.Context, url string) error {
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		return errors.Wrap(err, "encoding QR code")
	}
	return ctx.Blob(http.StatusOK, "image/png", png)
}

type (
	GenerateKeysRequest struct {
		Count int `json:"count" validate:"required,min=1,max=500"`
	}

	RotateKeyRequest struct {
		// seconds; 0 = service default
		TTLSeconds int `json:"ttl_seconds" validate:"omitempty,min=30,max=86400"`
	}
)

func (gr *GenerateKeysRequest) Validate() error {
	return core.Validate.Struct(gr)
}

func (rr *RotateKeyRequest) Validate() error {
	return core.Validate.Struct(rr)
}
