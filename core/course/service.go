package course

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound         = errors.New("course not found")
	ErrCodeExists       = errors.New("a course with this code already exists")
	ErrAlreadyEnrolled  = errors.New("student is already enrolled in this course")
	ErrNotEnrolled      = errors.New("student is not enrolled in this course")
	ErrHasEnrollments   = errors.New("a course with enrollments cannot be deleted; deactivate it instead")
	ErrMaterialNotFound = errors.New("material not found")
)

type (
	Repository interface {
		CheckCodeUniqueness(ctx context.Context, code string) error
		CreateCourse(ctx context.Context, c Course) (Course, error)
		GetCourseByID(ctx context.Context, id string) (Course, error)
		FilterCourses(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, isActive *bool) (Course, error)
		// DeleteCourse hard-deletes; it must fail with ErrHasEnrollments if
		// any enrollment rows reference the course.
		DeleteCourse(ctx context.Context, id string) error

		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, courseID, studentID string) (Enrollment, error)
		QueryEnrollmentsByCourse(ctx context.Context, courseID string) ([]Enrollment, error)
		QueryEnrollmentsByStudent(ctx context.Context, studentID string) ([]Enrollment, error)
		SetEnrollmentActive(ctx context.Context, id string, active bool) error

		CreateMaterial(ctx context.Context, m Material) (Material, error)
		GetMaterialByID(ctx context.Context, id string) (Material, error)
		QueryMaterialsByCourse(ctx context.Context, courseID string, studentID ...string) ([]Material, error)
		DeleteMaterial(ctx context.Context, id string) error
		MarkMaterialComplete(ctx context.Context, materialID, studentID string) error
	}

	Service interface {
		CheckCodeUniqueness(ctx context.Context, code string) error
		Create(ctx context.Context, nc NewCourse) (Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Course, error)
		Update(ctx context.Context, id string, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, id string) error

		Enroll(ctx context.Context, courseID, studentID string) (Enrollment, error)
		Unenroll(ctx context.Context, courseID, studentID string) error
		IsStudentEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
		CourseRoster(ctx context.Context, courseID string) ([]Enrollment, error)
		StudentCourses(ctx context.Context, studentID string) ([]Course, error)

		AddMaterial(ctx context.Context, nm NewMaterial) (Material, error)
		RemoveMaterial(ctx context.Context, id string) error
		CourseMaterials(ctx context.Context, courseID string, studentID ...string) ([]Material, error)
		CompleteMaterial(ctx context.Context, materialID, studentID string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckCodeUniqueness(ctx context.Context, code string) error {
	if err := svc.repo.CheckCodeUniqueness(ctx, code); err != nil {
		if errors.Cause(err) == ErrCodeExists {
			return core.NewValidationError(err, core.FieldError{Field: "code", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	c := Course{
		Name:      nc.Name,
		Code:      nc.Code,
		TeacherID: nc.TeacherID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateCourse(ctx, c)
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourseByID(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Course, error) {
	return svc.repo.FilterCourses(ctx, filter, ordering...)
}

func (svc *service) Update(ctx context.Context, id string, uc UpdateCourse) (Course, error) {
	c := Course{
		ID:        id,
		Name:      uc.Name,
		Code:      uc.Code,
		UpdatedAt: time.Now().UTC(),
	}
	return svc.repo.UpdateCourse(ctx, c, uc.IsActive)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteCourse(ctx, id)
}

func (svc *service) Enroll(ctx context.Context, courseID, studentID string) (Enrollment, error) {
	c, err := svc.repo.GetCourseByID(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !c.IsActive {
		return Enrollment{}, core.NewValidationError(errors.New("course is not active"))
	}

	if enr, err := svc.repo.GetEnrollment(ctx, courseID, studentID); err == nil {
		if enr.IsActive {
			return Enrollment{}, core.NewValidationError(ErrAlreadyEnrolled)
		}
		// reactivate a previously deactivated enrollment
		if err = svc.repo.SetEnrollmentActive(ctx, enr.ID, true); err != nil {
			return Enrollment{}, errors.Wrap(err, "reactivating enrollment")
		}
		enr.IsActive = true
		return enr, nil
	} else if errors.Cause(err) != ErrNotEnrolled {
		return Enrollment{}, errors.Wrap(err, "checking enrollment")
	}

	return svc.repo.CreateEnrollment(ctx, Enrollment{
		CourseID:   courseID,
		StudentID:  studentID,
		IsActive:   true,
		EnrolledAt: time.Now().UTC(),
	})
}

func (svc *service) Unenroll(ctx context.Context, courseID, studentID string) error {
	enr, err := svc.repo.GetEnrollment(ctx, courseID, studentID)
	if err != nil {
		return err
	}
	return svc.repo.SetEnrollmentActive(ctx, enr.ID, false)
}

func (svc *service) IsStudentEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	enr, err := svc.repo.GetEnrollment(ctx, courseID, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNotEnrolled {
			return false, nil
		}
		return false, err
	}
	return enr.IsActive, nil
}

func (svc *service) CourseRoster(ctx context.Context, courseID string) ([]Enrollment, error) {
	return svc.repo.QueryEnrollmentsByCourse(ctx, courseID)
}

func (svc *service) StudentCourses(ctx context.Context, studentID string) ([]Course, error) {
	enrs, err := svc.repo.QueryEnrollmentsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	courses := make([]Course, 0, len(enrs))
	for _, enr := range enrs {
		if !enr.IsActive {
			continue
		}
		c, err := svc.repo.GetCourseByID(ctx, enr.CourseID)
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				continue
			}
			return nil, err
		}
		if c.IsActive {
			courses = append(courses, c)
		}
	}
	return courses, nil
}

func (svc *service) AddMaterial(ctx context.Context, nm NewMaterial) (Material, error) {
	if _, err := svc.repo.GetCourseByID(ctx, nm.CourseID); err != nil {
		return Material{}, err
	}
	return svc.repo.CreateMaterial(ctx, Material{
		CourseID:    nm.CourseID,
		Week:        nm.Week,
		Title:       nm.Title,
		Description: nm.Description,
		URL:         nm.URL,
		CreatedAt:   time.Now().UTC(),
	})
}

func (svc *service) RemoveMaterial(ctx context.Context, id string) error {
	return svc.repo.DeleteMaterial(ctx, id)
}

func (svc *service) CourseMaterials(ctx context.Context, courseID string, studentID ...string) ([]Material, error) {
	return svc.repo.QueryMaterialsByCourse(ctx, courseID, studentID...)
}

func (svc *service) CompleteMaterial(ctx context.Context, materialID, studentID string) error {
	if _, err := svc.repo.GetMaterialByID(ctx, materialID); err != nil {
		return err
	}
	return svc.repo.MarkMaterialComplete(ctx, materialID, studentID)
}
