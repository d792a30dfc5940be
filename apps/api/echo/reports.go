package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/user"
)

type reportApi struct {
	svc         attendance.Service
	courseSvc   course.Service
	userSvc     user.Service
	settingsSvc *core.SettingsService
}

func registerReportAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc attendance.Service,
	courseSvc course.Service,
	userSvc user.Service,
	settingsSvc *core.SettingsService,
) {
	api := reportApi{svc: svc, courseSvc: courseSvc, userSvc: userSvc, settingsSvc: settingsSvc}

	rg := g.Group("/reports/attendance", jwt)
	rg.GET("/courses/:id", api.courseReport, teacherMiddleware())
	rg.GET("/courses/:id/export", api.exportCourseReport, teacherMiddleware())
	rg.GET("/courses/:id/students/:studentID", api.studentReport)
}

// Handlers

// studentReport is available to staff, and to students for their own record.
func (api *reportApi) studentReport(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	studentID := ctx.Param("studentID")
	if ctxUsr.IsStudent() && ctxUsr.ID != studentID {
		return errHttpForbidden
	}

	from, to, err := bindDateRange(ctx)
	if err != nil {
		return err
	}
	settings, err := api.settingsSvc.Snapshot(reqCtx)
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}

	report, err := api.svc.StudentReport(reqCtx, ctx.Param("id"), studentID, from, to, settings)
	if err != nil {
		return errors.Wrap(err, "building student report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *reportApi) courseReport(ctx echo.Context) error {
	report, err := api.loadCourseReport(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}

// exportCourseReport streams the course report as an XLSX workbook.
func (api *reportApi) exportCourseReport(ctx echo.Context) error {
	report, err := api.loadCourseReport(ctx)
	if err != nil {
		return err
	}

	f, err := reportWorkbook(ctx.Request().Context(), report, api.userSvc)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("attendance-%s-%s.xlsx", report.CourseID, time.Now().UTC().Format("2006-01-02"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	ctx.Response().Header().Set(echo.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ctx.Response().WriteHeader(http.StatusOK)

	if err = f.Write(ctx.Response()); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

func (api *reportApi) loadCourseReport(ctx echo.Context) (attendance.CourseReport, error) {
	reqCtx := ctx.Request().Context()

	from, to, err := bindDateRange(ctx)
	if err != nil {
		return attendance.CourseReport{}, err
	}
	settings, err := api.settingsSvc.Snapshot(reqCtx)
	if err != nil {
		return attendance.CourseReport{}, errors.Wrap(err, "loading settings")
	}

	report, err := api.svc.CourseReport(reqCtx, ctx.Param("id"), from, to, settings)
	if err != nil {
		return attendance.CourseReport{}, errors.Wrap(err, "building course report")
	}
	return report, nil
}

func reportWorkbook(ctx context.Context, report attendance.CourseReport, userSvc user.Service) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []interface{}{"Student", "Attended", "Total sessions", "Rate (%)", "Meets requirement"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, errors.Wrap(err, "writing header row")
	}

	for i, sr := range report.Students {
		name := sr.StudentID
		if usr, err := userSvc.GetByID(ctx, sr.StudentID); err == nil {
			name = usr.Name
		}
		row := []interface{}{name, sr.AttendedSessions, sr.TotalSessions, sr.AttendanceRate, sr.MeetsRequirement}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, errors.Wrap(err, "computing cell name")
		}
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, errors.Wrap(err, "writing report row")
		}
	}
	return f, nil
}

// bindDateRange parses optional ?from= and ?to= (RFC 3339 or YYYY-MM-DD);
// zero values mean unbounded.
func bindDateRange(ctx echo.Context) (from, to time.Time, err error) {
	if from, err = parseDateParam(ctx.QueryParam("from")); err != nil {
		return from, to, core.NewValidationError(nil, core.FieldError{Field: "from", Error: "invalid date"})
	}
	if to, err = parseDateParam(ctx.QueryParam("to")); err != nil {
		return from, to, core.NewValidationError(nil, core.FieldError{Field: "to", Error: "invalid date"})
	}
	return from, to, nil
}

func parseDateParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
