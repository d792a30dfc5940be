package quiz

import (
	"testing"
	"time"

	"github.com/volatiletech/null/v8"
)

func TestGradeChoice(t *testing.T) {
	q := Question{Type: MultipleChoice, Options: []string{"red", "green", "blue"}, CorrectAnswer: "green", Points: 2}

	tests := []struct {
		name        string
		answer      string
		wantPoints  float64
		wantCorrect bool
	}{
		{"exact match", "green", 2, true},
		{"wrong option", "red", 0, false},
		{"empty answer", "", 0, false},
		{"no partial match", "gree", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, correct := gradeChoice(q, tt.answer)
			if points != tt.wantPoints || correct != tt.wantCorrect {
				t.Errorf("gradeChoice(%q) = (%v, %v); want (%v, %v)", tt.answer, points, correct, tt.wantPoints, tt.wantCorrect)
			}
		})
	}
}

func TestGradeMultiSelect(t *testing.T) {
	q := Question{
		Type:          MultipleSelect,
		Options:       []string{"a", "b", "c", "d"},
		CorrectAnswer: `["a","b","c"]`,
		Points:        6,
	}

	tests := []struct {
		name        string
		selections  []string
		wantPoints  float64
		wantCorrect bool
	}{
		{"full match", []string{"a", "b", "c"}, 6, true},
		{"order independent", []string{"c", "a", "b"}, 6, true},
		{"partial", []string{"a", "b"}, 4, false},
		{"single hit", []string{"c"}, 2, false},
		{"over-selection penalized", []string{"a", "b", "c", "d"}, 4, false},
		{"hit cancelled by miss", []string{"a", "d"}, 0, false},
		{"all wrong", []string{"d"}, 0, false},
		{"empty", nil, 0, false},
		{"duplicates count once", []string{"a", "a", "b", "b", "c"}, 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, correct := gradeMultiSelect(q, tt.selections)
			if points != tt.wantPoints || correct != tt.wantCorrect {
				t.Errorf("gradeMultiSelect(%v) = (%v, %v); want (%v, %v)", tt.selections, points, correct, tt.wantPoints, tt.wantCorrect)
			}
		})
	}
}

func TestQuizAvailable(t *testing.T) {
	from := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	until := from.Add(24 * time.Hour)

	tests := []struct {
		name string
		quiz Quiz
		now  time.Time
		want bool
	}{
		{"unbounded", Quiz{IsActive: true}, from, true},
		{"inactive", Quiz{IsActive: false}, from, false},
		{"before window", Quiz{IsActive: true, AvailableFrom: null.TimeFrom(from)}, from.Add(-time.Second), false},
		{"at lower bound", Quiz{IsActive: true, AvailableFrom: null.TimeFrom(from)}, from, true},
		{"at upper bound", Quiz{IsActive: true, AvailableUntil: null.TimeFrom(until)}, until, true},
		{"past window", Quiz{IsActive: true, AvailableUntil: null.TimeFrom(until)}, until.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.quiz.Available(tt.now); got != tt.want {
				t.Errorf("Available() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestSubmissionTimeLimitExceeded(t *testing.T) {
	started := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sub := Submission{StartedAt: started}

	tests := []struct {
		name      string
		timeLimit int
		now       time.Time
		want      bool
	}{
		{"unlimited", 0, started.Add(48 * time.Hour), false},
		{"within limit", 30, started.Add(29 * time.Minute), false},
		{"within grace", 30, started.Add(30*time.Minute + 10*time.Second), false},
		{"past grace", 30, started.Add(30*time.Minute + 16*time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sub.TimeLimitExceeded(Quiz{TimeLimit: tt.timeLimit}, tt.now); got != tt.want {
				t.Errorf("TimeLimitExceeded() = %v; want %v", got, tt.want)
			}
		})
	}
}
