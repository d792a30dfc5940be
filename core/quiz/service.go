package quiz

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound         = errors.New("quiz not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrNotAvailable     = errors.New("quiz is not available")
	ErrNotEnrolled      = errors.New("student is not enrolled in this course")
	ErrTimeExpired      = errors.New("time expired for this quiz")
	ErrAlreadyCompleted = errors.New("quiz has already been completed")
	ErrNoSubmission     = errors.New("no submission found")
)

type (
	Repository interface {
		CreateQuiz(ctx context.Context, q Quiz) (Quiz, error)
		GetQuizByID(ctx context.Context, id string) (Quiz, error)
		FilterQuizzes(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, q Quiz, isActive *bool) (Quiz, error)

		CreateQuestion(ctx context.Context, q Question) (Question, error)
		QueryQuestions(ctx context.Context, quizID string) ([]Question, error)

		GetSubmission(ctx context.Context, quizID, studentID string) (Submission, error)
		CreateSubmission(ctx context.Context, s Submission) (Submission, error)
		// SaveSubmissionResult persists the graded submission and its answers
		// as one atomic unit, replacing any previous answer set.
		SaveSubmissionResult(ctx context.Context, s Submission, answers []Answer) (Submission, []Answer, error)
		QueryAnswers(ctx context.Context, submissionID string) ([]Answer, error)
		QuerySubmissionsByQuiz(ctx context.Context, quizID string) ([]Submission, error)
	}

	// ServedQuiz is what a student sees when taking a quiz: questions are
	// stripped of their correct answers and a timer is running.
	ServedQuiz struct {
		Quiz             Quiz       `json:"quiz"`
		Questions        []Question `json:"questions"`
		Submission       Submission `json:"submission"`
		RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	}

	// SubmissionResult is a graded submission with its per-question answers.
	SubmissionResult struct {
		Submission Submission `json:"submission"`
		Answers    []Answer   `json:"answers"`
	}

	Service interface {
		Create(ctx context.Context, nq NewQuiz) (Quiz, error)
		GetByID(ctx context.Context, id string) (Quiz, error)
		Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Quiz, error)
		SetActive(ctx context.Context, id string, active bool) (Quiz, error)
		AddQuestion(ctx context.Context, quizID string, nq NewQuestion) (Question, error)
		Questions(ctx context.Context, quizID string) ([]Question, error)

		// Serve returns the quiz for taking; the first call fixes the
		// submission's start timestamp. ErrAlreadyCompleted is returned when
		// a completed/graded submission exists (callers redirect to result).
		Serve(ctx context.Context, quizID, studentID string) (ServedQuiz, error)
		Submit(ctx context.Context, quizID, studentID string, input SubmissionInput) (SubmissionResult, error)
		Result(ctx context.Context, quizID, studentID string) (SubmissionResult, error)
		QuizSubmissions(ctx context.Context, quizID string) ([]Submission, error)
	}

	service struct {
		repo        Repository
		enrollments EnrollmentService
		grader      Grader
		nowFunc     func() time.Time // mockable
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, enrollments EnrollmentService, grader Grader) Service {
	return &service{
		repo:        repo,
		enrollments: enrollments,
		grader:      grader,
		nowFunc:     time.Now,
	}
}

func (svc *service) now() time.Time { return svc.nowFunc().UTC() }

func (svc *service) Create(ctx context.Context, nq NewQuiz) (Quiz, error) {
	now := svc.now()
	return svc.repo.CreateQuiz(ctx, Quiz{
		CourseID:       nq.CourseID,
		Title:          nq.Title,
		Description:    nq.Description,
		TimeLimit:      nq.TimeLimit,
		AvailableFrom:  nq.AvailableFrom,
		AvailableUntil: nq.AvailableUntil,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (svc *service) GetByID(ctx context.Context, id string) (Quiz, error) {
	return svc.repo.GetQuizByID(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Quiz, error) {
	return svc.repo.FilterQuizzes(ctx, filter, ordering...)
}

func (svc *service) SetActive(ctx context.Context, id string, active bool) (Quiz, error) {
	return svc.repo.UpdateQuiz(ctx, Quiz{ID: id, UpdatedAt: svc.now()}, &active)
}

func (svc *service) AddQuestion(ctx context.Context, quizID string, nq NewQuestion) (Question, error) {
	if _, err := svc.repo.GetQuizByID(ctx, quizID); err != nil {
		return Question{}, err
	}
	existing, err := svc.repo.QueryQuestions(ctx, quizID)
	if err != nil {
		return Question{}, errors.Wrap(err, "querying questions")
	}
	return svc.repo.CreateQuestion(ctx, Question{
		QuizID:        quizID,
		Type:          nq.Type,
		Prompt:        nq.Prompt,
		Options:       nq.Options,
		CorrectAnswer: nq.CorrectAnswer,
		Points:        nq.Points,
		Position:      len(existing) + 1,
	})
}

func (svc *service) Questions(ctx context.Context, quizID string) ([]Question, error) {
	return svc.repo.QueryQuestions(ctx, quizID)
}

// studentQuiz loads the quiz and enforces availability + enrollment.
func (svc *service) studentQuiz(ctx context.Context, quizID, studentID string, now time.Time) (Quiz, error) {
	q, err := svc.repo.GetQuizByID(ctx, quizID)
	if err != nil {
		return Quiz{}, err
	}
	if !q.Available(now) {
		return Quiz{}, core.NewValidationError(ErrNotAvailable)
	}
	enrolled, err := svc.enrollments.IsStudentEnrolled(ctx, q.CourseID, studentID)
	if err != nil {
		return Quiz{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Quiz{}, core.NewValidationError(ErrNotEnrolled)
	}
	return q, nil
}

func (svc *service) Serve(ctx context.Context, quizID, studentID string) (ServedQuiz, error) {
	now := svc.now()
	q, err := svc.studentQuiz(ctx, quizID, studentID, now)
	if err != nil {
		return ServedQuiz{}, err
	}

	sub, err := svc.repo.GetSubmission(ctx, quizID, studentID)
	switch errors.Cause(err) {
	case nil:
		if sub.Status != StatusInProgress {
			return ServedQuiz{}, core.NewValidationError(ErrAlreadyCompleted)
		}
	case ErrNoSubmission:
		// first load fixes the start timestamp
		sub, err = svc.repo.CreateSubmission(ctx, Submission{
			QuizID:    quizID,
			StudentID: studentID,
			Status:    StatusInProgress,
			StartedAt: now,
		})
		if err != nil {
			return ServedQuiz{}, errors.Wrap(err, "creating submission")
		}
	default:
		return ServedQuiz{}, errors.Wrap(err, "finding submission")
	}

	questions, err := svc.repo.QueryQuestions(ctx, quizID)
	if err != nil {
		return ServedQuiz{}, errors.Wrap(err, "querying questions")
	}
	// never leak answers to students
	for i := range questions {
		questions[i].CorrectAnswer = ""
	}

	served := ServedQuiz{Quiz: q, Questions: questions, Submission: sub}
	if q.TimeLimit > 0 {
		remaining := int(q.TimeLimit)*60 - int(now.Sub(sub.StartedAt)/time.Second)
		if remaining < 0 {
			remaining = 0
		}
		served.RemainingSeconds = remaining
	}
	return served, nil
}

// Submit grades the payload and persists the result atomically.
// Re-submission of an in_progress attempt overwrites the previous answer
// set; completed/graded submissions are final.
func (svc *service) Submit(ctx context.Context, quizID, studentID string, input SubmissionInput) (SubmissionResult, error) {
	now := svc.now()
	q, err := svc.studentQuiz(ctx, quizID, studentID, now)
	if err != nil {
		return SubmissionResult{}, err
	}

	sub, err := svc.repo.GetSubmission(ctx, quizID, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNoSubmission {
			return SubmissionResult{}, core.NewValidationError(ErrNoSubmission)
		}
		return SubmissionResult{}, errors.Wrap(err, "finding submission")
	}
	if sub.Status != StatusInProgress {
		return SubmissionResult{}, core.NewValidationError(ErrAlreadyCompleted)
	}
	if sub.TimeLimitExceeded(q, now) {
		return SubmissionResult{}, core.NewValidationError(ErrTimeExpired)
	}

	questions, err := svc.repo.QueryQuestions(ctx, quizID)
	if err != nil {
		return SubmissionResult{}, errors.Wrap(err, "querying questions")
	}

	byQuestion := make(map[string]SubmittedAnswer, len(input.Answers))
	for _, sa := range input.Answers {
		byQuestion[sa.QuestionID] = sa
	}

	answers := make([]Answer, 0, len(questions))
	var score, total float64
	for _, question := range questions {
		total += question.Points
		ans := svc.grade(ctx, question, byQuestion[question.ID])
		score += ans.EarnedPoints
		answers = append(answers, ans)
	}

	sub.Score = score
	sub.TotalPoints = total // frozen now; question edits do not rewrite history
	sub.Status = StatusGraded
	sub.CompletedAt.SetValid(now)

	sub, answers, err = svc.repo.SaveSubmissionResult(ctx, sub, answers)
	if err != nil {
		return SubmissionResult{}, errors.Wrap(err, "saving submission")
	}
	return SubmissionResult{Submission: sub, Answers: answers}, nil
}

func (svc *service) Result(ctx context.Context, quizID, studentID string) (SubmissionResult, error) {
	sub, err := svc.repo.GetSubmission(ctx, quizID, studentID)
	if err != nil {
		return SubmissionResult{}, err
	}
	answers, err := svc.repo.QueryAnswers(ctx, sub.ID)
	if err != nil {
		return SubmissionResult{}, errors.Wrap(err, "querying answers")
	}
	return SubmissionResult{Submission: sub, Answers: answers}, nil
}

func (svc *service) QuizSubmissions(ctx context.Context, quizID string) ([]Submission, error) {
	return svc.repo.QuerySubmissionsByQuiz(ctx, quizID)
}
