package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
)

type quizApi struct {
	svc     quiz.Service
	userSvc user.Service
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc quiz.Service, userSvc user.Service) {
	api := quizApi{svc: svc, userSvc: userSvc}

	qg := g.Group("/quizzes", jwt)

	qg.POST("", api.create, teacherMiddleware())
	qg.GET("", api.query, teacherMiddleware())
	qg.GET("/:id", api.retrieve, teacherMiddleware())
	qg.PUT("/:id/active", api.setActive, teacherMiddleware())
	qg.POST("/:id/questions", api.addQuestion, teacherMiddleware())
	qg.GET("/:id/questions", api.questions, teacherMiddleware())
	qg.GET("/:id/submissions", api.submissions, teacherMiddleware())

	// student flow
	qg.GET("/:id/take", api.take, studentMiddleware())
	qg.POST("/:id/submit", api.submit, studentMiddleware())
	qg.GET("/:id/result", api.result, studentMiddleware())
}

// Handlers

func (api *quizApi) create(ctx echo.Context) error {
	var data quiz.NewQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	q, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *quizApi) query(ctx echo.Context) error {
	filter := new(quiz.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Quiz{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	quizzes, err := api.svc.Query(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	q, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding quiz by ID")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizApi) setActive(ctx echo.Context) error {
	var data SetActiveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetActiveRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	q, err := api.svc.SetActive(ctx.Request().Context(), ctx.Param("id"), *data.IsActive)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizApi) addQuestion(ctx echo.Context) error {
	var data quiz.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	question, err := api.svc.AddQuestion(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, question)
}

func (api *quizApi) questions(ctx echo.Context) error {
	questions, err := api.svc.Questions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if questions == nil {
		questions = []quiz.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *quizApi) submissions(ctx echo.Context) error {
	subs, err := api.svc.QuizSubmissions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []quiz.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

// take serves the quiz for the logged-in student; the first call starts the
// timer. A completed attempt answers 303 with the result location.
func (api *quizApi) take(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	served, err := api.svc.Serve(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		if isAlreadyCompleted(err) {
			ctx.Response().Header().Set(echo.HeaderLocation, resultLocation(ctx))
			return ctx.JSON(http.StatusSeeOther, echo.Map{"result": resultLocation(ctx)})
		}
		return errors.Wrap(err, "serving quiz")
	}
	return ctx.JSON(http.StatusOK, served)
}

func (api *quizApi) submit(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data quiz.SubmissionInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmissionInput")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	res, err := api.svc.Submit(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID, data)
	if err != nil {
		if isAlreadyCompleted(err) {
			ctx.Response().Header().Set(echo.HeaderLocation, resultLocation(ctx))
			return ctx.JSON(http.StatusSeeOther, echo.Map{"result": resultLocation(ctx)})
		}
		return errors.Wrap(err, "submitting quiz")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *quizApi) result(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	res, err := api.svc.Result(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		if errors.Cause(err) == quiz.ErrNoSubmission {
			return errHttpNotFound
		}
		return errors.Wrap(err, "loading result")
	}
	return ctx.JSON(http.StatusOK, res)
}

func isAlreadyCompleted(err error) bool {
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		return errors.Cause(vErr.Err) == quiz.ErrAlreadyCompleted
	}
	return false
}

func resultLocation(ctx echo.Context) string {
	return "/v1/quizzes/" + ctx.Param("id") + "/result"
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (sr *SetActiveRequest) Validate() error {
	return core.Validate.Struct(sr)
}
