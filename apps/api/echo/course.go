package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/user"
)

type courseApi struct {
	svc     course.Service
	userSvc user.Service
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc course.Service, userSvc user.Service) {
	api := courseApi{svc: svc, userSvc: userSvc}

	cg := g.Group("/courses", jwt)

	cg.POST("", api.create, adminMiddleware())
	cg.GET("", api.query)

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.GET("/roster", api.roster, teacherMiddleware())
	dg.POST("/enroll", api.enroll, adminMiddleware())
	dg.DELETE("/enroll/:studentID", api.unenroll, adminMiddleware())

	dg.GET("/materials", api.materials)
	dg.POST("/materials", api.addMaterial, teacherMiddleware())

	mg := g.Group("/materials", jwt)
	mg.DELETE("/:id", api.removeMaterial, teacherMiddleware())
	mg.POST("/:id/complete", api.completeMaterial, studentMiddleware())
}

// Handlers

func (api *courseApi) create(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(reqCtx, api.svc); err != nil {
		return err
	}

	c, err := api.svc.Create(reqCtx, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

// query lists courses by role: students get their enrolled courses, teachers
// their own courses, admins everything (with filters).
func (api *courseApi) query(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if ctxUsr.IsStudent() {
		courses, err := api.svc.StudentCourses(reqCtx, ctxUsr.ID)
		if err != nil {
			return errors.Wrap(err, "querying student courses")
		}
		if courses == nil {
			courses = []course.Course{}
		}
		return ctx.JSON(http.StatusOK, courses)
	}

	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()
	if !ctxUsr.IsAdmin() {
		filter.TeacherID = ctxUsr.ID
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(reqCtx, *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding course by ID")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	c, err := api.svc.GetByID(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding course by ID")
	}

	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err := data.Validate(reqCtx, c, api.svc); err != nil {
		return err
	}

	c, err = api.svc.Update(reqCtx, c.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		if errors.Cause(err) == course.ErrHasEnrollments {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) roster(ctx echo.Context) error {
	roster, err := api.svc.CourseRoster(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	if roster == nil {
		roster = []course.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	enr, err := api.svc.Enroll(ctx.Request().Context(), ctx.Param("id"), data.StudentID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *courseApi) unenroll(ctx echo.Context) error {
	if err := api.svc.Unenroll(ctx.Request().Context(), ctx.Param("id"), ctx.Param("studentID")); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// materials lists a course's materials; students get their own completion
// flags and must be enrolled.
func (api *courseApi) materials(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	courseID := ctx.Param("id")

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var mats []course.Material
	if ctxUsr.IsStudent() {
		enrolled, err := api.svc.IsStudentEnrolled(reqCtx, courseID, ctxUsr.ID)
		if err != nil {
			return errors.Wrap(err, "checking enrollment")
		}
		if !enrolled {
			return errHttpForbidden
		}
		mats, err = api.svc.CourseMaterials(reqCtx, courseID, ctxUsr.ID)
		if err != nil {
			return errors.Wrap(err, "querying materials")
		}
	} else {
		mats, err = api.svc.CourseMaterials(reqCtx, courseID)
		if err != nil {
			return errors.Wrap(err, "querying materials")
		}
	}
	if mats == nil {
		mats = []course.Material{}
	}
	return ctx.JSON(http.StatusOK, mats)
}

func (api *courseApi) addMaterial(ctx echo.Context) error {
	var data course.NewMaterial
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMaterial")
	}
	data.CourseID = ctx.Param("id")
	if err := data.Validate(); err != nil {
		return err
	}

	mat, err := api.svc.AddMaterial(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "adding material")
	}
	return ctx.JSON(http.StatusCreated, mat)
}

func (api *courseApi) removeMaterial(ctx echo.Context) error {
	if err := api.svc.RemoveMaterial(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "removing material")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) completeMaterial(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.CompleteMaterial(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID); err != nil {
		return errors.Wrap(err, "completing material")
	}
	return ctx.JSON(http.StatusOK, StatusResponse{Status: "success", Message: "Material marked as completed."})
}

type (
	EnrollRequest struct {
		StudentID string `json:"student_id" validate:"required,uuid4"`
	}

	// StatusResponse is the {status, message} payload of fire-and-forget
	// frontend actions.
	StatusResponse struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
)

func (er *EnrollRequest) Validate() error {
	return core.Validate.Struct(er)
}
