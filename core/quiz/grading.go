package quiz

import (
	"context"
	"encoding/json"
	"time"
)

// grace absorbs network latency on timed submissions.
const submissionGrace = 15 * time.Second

// fallback feedback when the external collaborator cannot grade.
const neutralFeedback = "Your answer was recorded but could not be auto-graded; your teacher will review it."

// Grader is the external AI feedback collaborator for free-text answers.
// It is best-effort: callers must treat any error as "no feedback available"
// and never block a submission on it.
type Grader interface {
	GradeFreeText(ctx context.Context, prompt, answer string, maxPoints float64) (points float64, feedback string, err error)
}

// gradeChoice grades a multiple_choice answer: exact match earns full
// points, anything else zero. No partial credit.
func gradeChoice(q Question, answer string) (float64, bool) {
	if answer != "" && answer == q.CorrectAnswer {
		return q.Points, true
	}
	return 0, false
}

// gradeMultiSelect grades a multiple_select answer with symmetric-difference
// partial credit:
//
//	credit = points * max(0, |correct selections| - |wrong selections|) / |correct set|
//
// A full match earns full points, over-selection is penalized one-for-one,
// and an empty submission earns zero. IsCorrect is only true on a full
// order-independent match with no extras.
func gradeMultiSelect(q Question, selections []string) (float64, bool) {
	correct := q.CorrectSet()
	if len(correct) == 0 {
		return 0, false
	}

	correctSet := make(map[string]bool, len(correct))
	for _, c := range correct {
		correctSet[c] = true
	}

	var hits, misses int
	seen := make(map[string]bool, len(selections))
	for _, s := range selections {
		if seen[s] {
			continue // duplicates count once
		}
		seen[s] = true
		if correctSet[s] {
			hits++
		} else {
			misses++
		}
	}

	exact := hits == len(correct) && misses == 0
	credit := hits - misses
	if credit <= 0 {
		return 0, false
	}
	return q.Points * float64(credit) / float64(len(correct)), exact
}

// grade computes the Answer for one question. Free-text questions are
// delegated to the grader; on failure they degrade to zero credit with
// neutral feedback so the submission still completes.
func (svc *service) grade(ctx context.Context, q Question, sa SubmittedAnswer) Answer {
	ans := Answer{QuestionID: q.ID}

	switch q.Type {
	case MultipleChoice:
		ans.AnswerText = sa.Answer
		ans.EarnedPoints, ans.IsCorrect = gradeChoice(q, sa.Answer)
	case MultipleSelect:
		raw, _ := json.Marshal(sa.Selections)
		ans.AnswerText = string(raw)
		ans.EarnedPoints, ans.IsCorrect = gradeMultiSelect(q, sa.Selections)
	case Text, TextArea:
		ans.AnswerText = sa.Answer
		points, feedback, err := svc.grader.GradeFreeText(ctx, q.Prompt, sa.Answer, q.Points)
		if err != nil {
			ans.Feedback = neutralFeedback
			break
		}
		// clamp to [0, max]
		if points < 0 {
			points = 0
		} else if points > q.Points {
			points = q.Points
		}
		ans.EarnedPoints = points
		ans.IsCorrect = points == q.Points
		ans.Feedback = feedback
	}
	return ans
}
