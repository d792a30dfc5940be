package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/quiz"
)

type quizRepository struct {
	db *quizTable
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{db: db.quiz}
}

func (repo *quizRepository) CreateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	q.ID = uuid.NewString()
	repo.db.quizzes[q.ID] = &q
	return q, nil
}

func (repo *quizRepository) GetQuizByID(_ context.Context, id string) (quiz.Quiz, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.quizzes[id]; ok {
		return *q, nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) FilterQuizzes(_ context.Context, filter quiz.QueryFilter, _ ...core.DBOrdering) ([]quiz.Quiz, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var quizzes []quiz.Quiz
	for _, q := range repo.db.quizzes {
		if filter.CourseID != "" && q.CourseID != filter.CourseID {
			continue
		}
		if filter.IsActive != nil && q.IsActive != *filter.IsActive {
			continue
		}
		quizzes = append(quizzes, *q)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].CreatedAt.Before(quizzes[j].CreatedAt) })
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(_ context.Context, q quiz.Quiz, isActive *bool) (quiz.Quiz, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// only save set fields
	orig, ok := repo.db.quizzes[q.ID]
	if !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	if q.Title != "" {
		orig.Title = q.Title
	}
	if q.Description != "" {
		orig.Description = q.Description
	}
	if isActive != nil {
		orig.IsActive = *isActive
	}
	if !q.UpdatedAt.IsZero() {
		orig.UpdatedAt = q.UpdatedAt
	}

	repo.db.quizzes[q.ID] = orig
	return *orig, nil
}

func (repo *quizRepository) CreateQuestion(_ context.Context, q quiz.Question) (quiz.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	q.ID = uuid.NewString()
	repo.db.questions[q.ID] = &q
	return q, nil
}

func (repo *quizRepository) QueryQuestions(_ context.Context, quizID string) ([]quiz.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var questions []quiz.Question
	for _, q := range repo.db.questions {
		if q.QuizID == quizID {
			questions = append(questions, *q)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })
	return questions, nil
}

func (repo *quizRepository) GetSubmission(_ context.Context, quizID, studentID string) (quiz.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, s := range repo.db.submissions {
		if s.QuizID == quizID && s.StudentID == studentID {
			return *s, nil
		}
	}
	return quiz.Submission{}, quiz.ErrNoSubmission
}

func (repo *quizRepository) CreateSubmission(_ context.Context, s quiz.Submission) (quiz.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// unique (quiz, student)
	for _, sub := range repo.db.submissions {
		if sub.QuizID == s.QuizID && sub.StudentID == s.StudentID {
			return *sub, nil
		}
	}
	s.ID = uuid.NewString()
	repo.db.submissions[s.ID] = &s
	return s, nil
}

func (repo *quizRepository) SaveSubmissionResult(_ context.Context, s quiz.Submission, answers []quiz.Answer) (quiz.Submission, []quiz.Answer, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.submissions[s.ID]; !ok {
		return quiz.Submission{}, nil, quiz.ErrNoSubmission
	}
	repo.db.submissions[s.ID] = &s

	// replace the previous answer set wholesale
	for id, ans := range repo.db.answers {
		if ans.SubmissionID == s.ID {
			delete(repo.db.answers, id)
		}
	}
	saved := make([]quiz.Answer, 0, len(answers))
	for _, ans := range answers {
		ans := ans
		ans.ID = uuid.NewString()
		ans.SubmissionID = s.ID
		repo.db.answers[ans.ID] = &ans
		saved = append(saved, ans)
	}
	return s, saved, nil
}

func (repo *quizRepository) QueryAnswers(_ context.Context, submissionID string) ([]quiz.Answer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var answers []quiz.Answer
	for _, ans := range repo.db.answers {
		if ans.SubmissionID == submissionID {
			answers = append(answers, *ans)
		}
	}
	// keep question order stable for callers
	positions := make(map[string]int, len(repo.db.questions))
	for _, q := range repo.db.questions {
		positions[q.ID] = q.Position
	}
	sort.Slice(answers, func(i, j int) bool { return positions[answers[i].QuestionID] < positions[answers[j].QuestionID] })
	return answers, nil
}

func (repo *quizRepository) QuerySubmissionsByQuiz(_ context.Context, quizID string) ([]quiz.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var subs []quiz.Submission
	for _, s := range repo.db.submissions {
		if s.QuizID == quizID {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].StartedAt.Before(subs[j].StartedAt) })
	return subs, nil
}
