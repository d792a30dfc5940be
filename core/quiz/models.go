package quiz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	MultipleSelect QuestionType = "multiple_select"
	Text           QuestionType = "text"
	TextArea       QuestionType = "textarea"
)

func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, MultipleSelect, Text, TextArea:
		return true
	}
	return false
}

// FreeText reports whether answers are graded by the external feedback
// collaborator instead of exact matching.
func (t QuestionType) FreeText() bool {
	return t == Text || t == TextArea
}

type SubmissionStatus string

const (
	StatusInProgress SubmissionStatus = "in_progress"
	StatusCompleted  SubmissionStatus = "completed"
	StatusGraded     SubmissionStatus = "graded"
)

type Quiz struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// minutes; 0 = unlimited
	TimeLimit      int       `json:"time_limit"`
	AvailableFrom  null.Time `json:"available_from"`
	AvailableUntil null.Time `json:"available_until"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// Available reports whether the quiz is servable at `now`; both bounds are
// inclusive and an unset bound is unbounded.
func (q Quiz) Available(now time.Time) bool {
	if !q.IsActive {
		return false
	}
	if q.AvailableFrom.Valid && now.Before(q.AvailableFrom.Time) {
		return false
	}
	if q.AvailableUntil.Valid && now.After(q.AvailableUntil.Time) {
		return false
	}
	return true
}

type Question struct {
	ID     string       `json:"id"`
	QuizID string       `json:"quiz_id"`
	Type   QuestionType `json:"type"`
	Prompt string       `json:"prompt"`
	// ordered; only for choice types
	Options []string `json:"options,omitempty"`
	// the matching option for multiple_choice, a JSON-encoded list for
	// multiple_select; hidden from students
	CorrectAnswer string  `json:"correct_answer,omitempty"`
	Points        float64 `json:"points"`
	Position      int     `json:"position"`
}

// CorrectSet decodes the correct answer of a multiple_select question.
func (q Question) CorrectSet() []string {
	var set []string
	if err := json.Unmarshal([]byte(q.CorrectAnswer), &set); err != nil {
		return nil
	}
	return set
}

type Submission struct {
	ID          string           `json:"id"`
	QuizID      string           `json:"quiz_id"`
	StudentID   string           `json:"student_id"`
	Score       float64          `json:"score"`
	TotalPoints float64          `json:"total_points"`
	Status      SubmissionStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"` // UTC
	CompletedAt null.Time        `json:"completed_at"`
	Feedback    string           `json:"feedback,omitempty"`
}

/// TimeLimitExceeded applies the server-side timer: a submission is late when
// received more than time_limit minutes plus the grace period after the
// recorded start, regardless of any client-side countdown.
func (s Submission) TimeLimitExceeded(q Quiz, now time.Time) bool {
	if q.TimeLimit <= 0 {
		return false
	}
	deadline := s.StartedAt.Add(time.Duration(q.TimeLimit)*time.Minute + submissionGrace)
	return now.After(deadline)
}

type Answer struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	QuestionID   string  `json:"question_id"`
	AnswerText   string  `json:"answer_text"`
	EarnedPoints float64 `json:"earned_points"`
	IsCorrect    bool    `json:"is_correct"`
	Feedback     string  `json:"feedback,omitempty"`
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	CourseID       string    `json:"course_id" validate:"required,uuid4"`
	Title          string    `json:"title" validate:"required"`
	Description    string    `json:"description"`
	TimeLimit      int       `json:"time_limit" validate:"omitempty,min=0,max=480"`
	AvailableFrom  null.Time `json:"available_from"`
	AvailableUntil null.Time `json:"available_until"`
}

func (nq *NewQuiz) Validate() error {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	if err := core.Validate.Struct(nq); err != nil {
		return err
	}
	if nq.AvailableFrom.Valid && nq.AvailableUntil.Valid && nq.AvailableUntil.Time.Before(nq.AvailableFrom.Time) {
		return core.NewValidationError(nil, core.FieldError{
			Field: "available_until", Error: "must not precede available_from",
		})
	}
	return nil
}

// NewQuestion contains information needed to add a Question to a Quiz.
type NewQuestion struct {
	Type          QuestionType `json:"type" validate:"required"`
	Prompt        string       `json:"prompt" validate:"required"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Points        float64      `json:"points" validate:"required,gt=0"`
}

func (nq *NewQuestion) Validate() error {
	nq.Prompt = core.CleanString(nq.Prompt)
	if err := core.Validate.Struct(nq); err != nil {
		return err
	}
	if !nq.Type.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "type", Error: "unknown question type"})
	}
	switch nq.Type {
	case MultipleChoice:
		if len(nq.Options) < 2 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: "at least 2 options are required"})
		}
		if !contains(nq.Options, nq.CorrectAnswer) {
			return core.NewValidationError(nil, core.FieldError{Field: "correct_answer", Error: "must be one of the options"})
		}
	case MultipleSelect:
		if len(nq.Options) < 2 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: "at least 2 options are required"})
		}
		var set []string
		if err := json.Unmarshal([]byte(nq.CorrectAnswer), &set); err != nil || len(set) == 0 {
			return core.NewValidationError(nil, core.FieldError{Field: "correct_answer", Error: "must be a non-empty JSON list of options"})
		}
		for _, s := range set {
			if !contains(nq.Options, s) {
				return core.NewValidationError(nil, core.FieldError{Field: "correct_answer", Error: "must only contain options"})
			}
		}
	}
	return nil
}

func contains(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}

// SubmittedAnswer is one student answer in a submission payload.
// Multiple-select questions use Selections; everything else uses Answer.
type SubmittedAnswer struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Answer     string   `json:"answer"`
	Selections []string `json:"selections"`
}

type SubmissionInput struct {
	Answers []SubmittedAnswer `json:"answers" validate:"dive"`
}

func (si *SubmissionInput) Validate() error {
	return core.Validate.Struct(si)
}

type QueryFilter struct {
	CourseID string `query:"course_id"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.CourseID == "" && qf.IsActive == nil
}

// EnrollmentService is the slice of the course service the quiz engine
// needs. course.Service satisfies it.
type EnrollmentService interface {
	IsStudentEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

var _ EnrollmentService = (course.Service)(nil)
