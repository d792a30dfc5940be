package course

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

type Course struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	TeacherID string    `json:"teacher_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type Enrollment struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"course_id"`
	StudentID  string    `json:"student_id"`
	IsActive   bool      `json:"is_active"`
	EnrolledAt time.Time `json:"enrolled_at"` // UTC
}

// Material is a weekly course material entry.
type Material struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Week        int       `json:"week"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"` // UTC

	// per-student completion; only populated on student-facing listings.
	Completed bool `json:"completed,omitempty"`
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Name      string `json:"name" validate:"required"`
	Code      string `json:"code" validate:"required,min=3,alphanum_"`
	TeacherID string `json:"teacher_id" validate:"required,uuid4"`
}

func (nc *NewCourse) Validate(ctx context.Context, svc Service) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Code = core.CleanString(nc.Code, true /* lower */)

	if err := core.Validate.Struct(nc); err != nil {
		return err
	}
	return svc.CheckCodeUniqueness(ctx, nc.Code)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Name     string `json:"name"`
	Code     string `json:"code" validate:"omitempty,min=3,alphanum_"`
	IsActive *bool  `json:"is_active"`
}

func (uc *UpdateCourse) Validate(ctx context.Context, orig Course, svc Service) error {
	name := core.CleanString(uc.Name)
	if name != "" {
		uc.Name = name
	} else {
		uc.Name = orig.Name
	}

	code := core.CleanString(uc.Code, true /* lower */)
	if code != "" {
		uc.Code = code
	} else {
		uc.Code = orig.Code
	}

	if err := core.Validate.Struct(uc); err != nil {
		return err
	}
	if uc.Code != orig.Code {
		return svc.CheckCodeUniqueness(ctx, uc.Code)
	}
	return nil
}

// NewMaterial contains information needed to publish a weekly Material.
type NewMaterial struct {
	CourseID    string `json:"course_id" validate:"required,uuid4"`
	Week        int    `json:"week" validate:"required,min=1,max=52"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	URL         string `json:"url" validate:"omitempty,url"`
}

func (nm *NewMaterial) Validate() error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return core.Validate.Struct(nm)
}

type QueryFilter struct {
	Search    string `query:"search"`
	TeacherID string `query:"teacher_id"`
	IsActive  *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.TeacherID == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
