package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/quiz"
)

var (
	quizColumns = []string{
		"id", "course_id", "title", "description", "time_limit",
		"available_from", "available_until", "is_active", "created_at", "updated_at",
	}
	questionColumns   = []string{"id", "quiz_id", "type", "prompt", "options", "correct_answer", "points", `"position"`}
	submissionColumns = []string{
		"id", "quiz_id", "student_id", "score", "total_points",
		"status", "started_at", "completed_at", "feedback",
	}
	answerColumns = []string{"id", "submission_id", "question_id", "answer_text", "earned_points", "is_correct", "feedback"}
)

type (
	quizRow struct {
		ID             string    `db:"id"`
		CourseID       string    `db:"course_id"`
		Title          string    `db:"title"`
		Description    string    `db:"description"`
		TimeLimit      int       `db:"time_limit"`
		AvailableFrom  null.Time `db:"available_from"`
		AvailableUntil null.Time `db:"available_until"`
		IsActive       bool      `db:"is_active"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	questionRow struct {
		ID            string            `db:"id"`
		QuizID        string            `db:"quiz_id"`
		Type          quiz.QuestionType `db:"type"`
		Prompt        string            `db:"prompt"`
		Options       pq.StringArray    `db:"options"`
		CorrectAnswer string            `db:"correct_answer"`
		Points        float64           `db:"points"`
		Position      int               `db:"position"`
	}

	submissionRow struct {
		ID          string                `db:"id"`
		QuizID      string                `db:"quiz_id"`
		StudentID   string                `db:"student_id"`
		Score       float64               `db:"score"`
		TotalPoints float64               `db:"total_points"`
		Status      quiz.SubmissionStatus `db:"status"`
		StartedAt   time.Time             `db:"started_at"`
		CompletedAt null.Time             `db:"completed_at"`
		Feedback    string                `db:"feedback"`
	}

	answerRow struct {
		ID           string  `db:"id"`
		SubmissionID string  `db:"submission_id"`
		QuestionID   string  `db:"question_id"`
		AnswerText   string  `db:"answer_text"`
		EarnedPoints float64 `db:"earned_points"`
		IsCorrect    bool    `db:"is_correct"`
		Feedback     string  `db:"feedback"`
	}
)

func (r quizRow) toDomain() quiz.Quiz {
	return quiz.Quiz(r)
}

func (r questionRow) toDomain() quiz.Question {
	return quiz.Question{
		ID:            r.ID,
		QuizID:        r.QuizID,
		Type:          r.Type,
		Prompt:        r.Prompt,
		Options:       r.Options,
		CorrectAnswer: r.CorrectAnswer,
		Points:        r.Points,
		Position:      r.Position,
	}
}

func (r submissionRow) toDomain() quiz.Submission {
	return quiz.Submission(r)
}

func (r answerRow) toDomain() quiz.Answer {
	return quiz.Answer(r)
}

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	q.ID = uuid.NewString()
	query, args, err := psql.Insert("quiz").
		Columns(quizColumns...).
		Values(
			q.ID, q.CourseID, q.Title, q.Description, q.TimeLimit,
			q.AvailableFrom, q.AvailableUntil, q.IsActive, q.CreatedAt, q.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "inserting quiz")
	}
	return q, nil
}

func (repo *quizRepository) GetQuizByID(ctx context.Context, id string) (quiz.Quiz, error) {
	query, args, err := psql.Select(quizColumns...).From("quiz").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "building query")
	}
	var row quizRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return quiz.Quiz{}, quiz.ErrNotFound
		}
		return quiz.Quiz{}, errors.Wrap(err, "querying quiz")
	}
	return row.toDomain(), nil
}

func (repo *quizRepository) FilterQuizzes(ctx context.Context, filter quiz.QueryFilter, ordering ...core.DBOrdering) ([]quiz.Quiz, error) {
	builder := psql.Select(quizColumns...).From("quiz")

	if filter.CourseID != "" {
		builder = builder.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if filter.IsActive != nil {
		builder = builder.Where(sq.Eq{"is_active": *filter.IsActive})
	}
	builder = orderBy(builder, "created_at ASC", ordering)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []quizRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, row := range rows {
		quizzes = append(quizzes, row.toDomain())
	}
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz, isActive *bool) (quiz.Quiz, error) {
	builder := psql.Update("quiz").Where(sq.Eq{"id": q.ID})

	// only save set fields
	if q.Title != "" {
		builder = builder.Set("title", q.Title)
	}
	if q.Description != "" {
		builder = builder.Set("description", q.Description)
	}
	if q.TimeLimit > 0 {
		builder = builder.Set("time_limit", q.TimeLimit)
	}
	if q.AvailableFrom.Valid {
		builder = builder.Set("available_from", q.AvailableFrom)
	}
	if q.AvailableUntil.Valid {
		builder = builder.Set("available_until", q.AvailableUntil)
	}
	if isActive != nil {
		builder = builder.Set("is_active", *isActive)
	}
	if !q.UpdatedAt.IsZero() {
		builder = builder.Set("updated_at", q.UpdatedAt)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return repo.GetQuizByID(ctx, q.ID)
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, q quiz.Question) (quiz.Question, error) {
	q.ID = uuid.NewString()
	query, args, err := psql.Insert("question").
		Columns(questionColumns...).
		Values(q.ID, q.QuizID, q.Type, q.Prompt, pq.StringArray(q.Options), q.CorrectAnswer, q.Points, q.Position).
		ToSql()
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	return q, nil
}

func (repo *quizRepository) QueryQuestions(ctx context.Context, quizID string) ([]quiz.Question, error) {
	query, args, err := psql.Select(questionColumns...).From("question").
		Where(sq.Eq{"quiz_id": quizID}).
		OrderBy(`"position" ASC`).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []questionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	questions := make([]quiz.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.toDomain())
	}
	return questions, nil
}

func (repo *quizRepository) GetSubmission(ctx context.Context, quizID, studentID string) (quiz.Submission, error) {
	query, args, err := psql.Select(submissionColumns...).From("submission").
		Where(sq.Eq{"quiz_id": quizID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return quiz.Submission{}, errors.Wrap(err, "building query")
	}
	var row submissionRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return quiz.Submission{}, quiz.ErrNoSubmission
		}
		return quiz.Submission{}, errors.Wrap(err, "querying submission")
	}
	return row.toDomain(), nil
}

func (repo *quizRepository) CreateSubmission(ctx context.Context, s quiz.Submission) (quiz.Submission, error) {
	s.ID = uuid.NewString()
	query, args, err := psql.Insert("submission").
		Columns(submissionColumns...).
		Values(
			s.ID, s.QuizID, s.StudentID, s.Score, s.TotalPoints,
			s.Status, s.StartedAt, s.CompletedAt, s.Feedback,
		).
		ToSql()
	if err != nil {
		return quiz.Submission{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		// a concurrent first load won the race; reuse its row
		if isUniqueViolation(err) {
			return repo.GetSubmission(ctx, s.QuizID, s.StudentID)
		}
		return quiz.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return s, nil
}

// SaveSubmissionResult replaces the answer set and updates the submission in
// one transaction.
func (repo *quizRepository) SaveSubmissionResult(ctx context.Context, s quiz.Submission, answers []quiz.Answer) (quiz.Submission, []quiz.Answer, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := psql.Update("submission").
		Set("score", s.Score).
		Set("total_points", s.TotalPoints).
		Set("status", s.Status).
		Set("completed_at", s.CompletedAt).
		Set("feedback", s.Feedback).
		Where(sq.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "building query")
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "updating submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return quiz.Submission{}, nil, quiz.ErrNoSubmission
	}

	query, args, err = psql.Delete("answer").Where(sq.Eq{"submission_id": s.ID}).ToSql()
	if err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "building query")
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "deleting answers")
	}

	if len(answers) > 0 {
		builder := psql.Insert("answer").Columns(answerColumns...)
		for i := range answers {
			answers[i].ID = uuid.NewString()
			answers[i].SubmissionID = s.ID
			ans := answers[i]
			builder = builder.Values(ans.ID, ans.SubmissionID, ans.QuestionID, ans.AnswerText, ans.EarnedPoints, ans.IsCorrect, ans.Feedback)
		}
		query, args, err = builder.ToSql()
		if err != nil {
			return quiz.Submission{}, nil, errors.Wrap(err, "building query")
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return quiz.Submission{}, nil, errors.Wrap(err, "inserting answers")
		}
	}

	if err = tx.Commit(); err != nil {
		return quiz.Submission{}, nil, errors.Wrap(err, "committing tx")
	}
	return s, answers, nil
}

func (repo *quizRepository) QueryAnswers(ctx context.Context, submissionID string) ([]quiz.Answer, error) {
	query, args, err := psql.Select(
		"a.id", "a.submission_id", "a.question_id", "a.answer_text", "a.earned_points", "a.is_correct", "a.feedback",
	).
		From("answer a").
		Join("question q ON q.id = a.question_id").
		Where(sq.Eq{"a.submission_id": submissionID}).
		OrderBy(`q."position" ASC`).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []answerRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	answers := make([]quiz.Answer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.toDomain())
	}
	return answers, nil
}

func (repo *quizRepository) QuerySubmissionsByQuiz(ctx context.Context, quizID string) ([]quiz.Submission, error) {
	query, args, err := psql.Select(submissionColumns...).From("submission").
		Where(sq.Eq{"quiz_id": quizID}).
		OrderBy("started_at ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []submissionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]quiz.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toDomain())
	}
	return subs, nil
}
