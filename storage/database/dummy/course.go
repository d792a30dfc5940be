package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
)

type courseRepository struct {
	db *courseTable
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db.course}
}

func (repo *courseRepository) query() []course.Course {
	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		courses = append(courses, *c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].CreatedAt.Before(courses[j].CreatedAt) })
	return courses
}

func (repo *courseRepository) CheckCodeUniqueness(_ context.Context, code string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, c := range repo.db.courses {
		if c.Code == code {
			return course.ErrCodeExists
		}
	}
	return nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c.ID = uuid.NewString()
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) GetCourseByID(_ context.Context, id string) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.courses[id]; ok {
		return *c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) FilterCourses(_ context.Context, filter course.QueryFilter, _ ...core.DBOrdering) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := repo.query()

	if filter.Search != "" {
		var filtered []course.Course
		for _, c := range courses {
			if strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Search)) ||
				strings.Contains(strings.ToLower(c.Code), strings.ToLower(filter.Search)) {
				filtered = append(filtered, c)
			}
		}
		courses = filtered
	}
	if courses != nil && filter.TeacherID != "" {
		var filtered []course.Course
		for _, c := range courses {
			if c.TeacherID == filter.TeacherID {
				filtered = append(filtered, c)
			}
		}
		courses = filtered
	}
	if courses != nil && filter.IsActive != nil {
		var filtered []course.Course
		for _, c := range courses {
			if c.IsActive == *filter.IsActive {
				filtered = append(filtered, c)
			}
		}
		courses = filtered
	}

	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, isActive *bool) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// only save set fields
	orig, ok := repo.db.courses[c.ID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	if c.Name != "" {
		orig.Name = c.Name
	}
	if c.Code != "" {
		orig.Code = c.Code
	}
	if c.TeacherID != "" {
		orig.TeacherID = c.TeacherID
	}
	if isActive != nil {
		orig.IsActive = *isActive
	}
	if !c.UpdatedAt.IsZero() {
		orig.UpdatedAt = c.UpdatedAt
	}

	repo.db.courses[c.ID] = orig
	return *orig, nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	for _, enr := range repo.db.enrollments {
		if enr.CourseID == id {
			return course.ErrHasEnrollments
		}
	}
	delete(repo.db.courses, id)
	return nil
}

func (repo *courseRepository) CreateEnrollment(_ context.Context, e course.Enrollment) (course.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// unique (course, student)
	for _, enr := range repo.db.enrollments {
		if enr.CourseID == e.CourseID && enr.StudentID == e.StudentID {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
	}
	e.ID = uuid.NewString()
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *courseRepository) GetEnrollment(_ context.Context, courseID, studentID string) (course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, enr := range repo.db.enrollments {
		if enr.CourseID == courseID && enr.StudentID == studentID {
			return *enr, nil
		}
	}
	return course.Enrollment{}, course.ErrNotEnrolled
}

func (repo *courseRepository) QueryEnrollmentsByCourse(_ context.Context, courseID string) ([]course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrs []course.Enrollment
	for _, enr := range repo.db.enrollments {
		if enr.CourseID == courseID {
			enrs = append(enrs, *enr)
		}
	}
	sort.Slice(enrs, func(i, j int) bool { return enrs[i].EnrolledAt.Before(enrs[j].EnrolledAt) })
	return enrs, nil
}

func (repo *courseRepository) QueryEnrollmentsByStudent(_ context.Context, studentID string) ([]course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrs []course.Enrollment
	for _, enr := range repo.db.enrollments {
		if enr.StudentID == studentID {
			enrs = append(enrs, *enr)
		}
	}
	sort.Slice(enrs, func(i, j int) bool { return enrs[i].EnrolledAt.Before(enrs[j].EnrolledAt) })
	return enrs, nil
}

func (repo *courseRepository) SetEnrollmentActive(_ context.Context, id string, active bool) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	enr, ok := repo.db.enrollments[id]
	if !ok {
		return course.ErrNotEnrolled
	}
	enr.IsActive = active
	return nil
}

func (repo *courseRepository) CreateMaterial(_ context.Context, m course.Material) (course.Material, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	m.ID = uuid.NewString()
	repo.db.materials[m.ID] = &m
	return m, nil
}

func (repo *courseRepository) GetMaterialByID(_ context.Context, id string) (course.Material, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if m, ok := repo.db.materials[id]; ok {
		return *m, nil
	}
	return course.Material{}, course.ErrMaterialNotFound
}

func (repo *courseRepository) QueryMaterialsByCourse(_ context.Context, courseID string, studentID ...string) ([]course.Material, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var mats []course.Material
	for _, m := range repo.db.materials {
		if m.CourseID != courseID {
			continue
		}
		mat := *m
		if len(studentID) > 0 {
			mat.Completed = repo.db.progress[m.ID][studentID[0]]
		}
		mats = append(mats, mat)
	}
	sort.Slice(mats, func(i, j int) bool {
		if mats[i].Week != mats[j].Week {
			return mats[i].Week < mats[j].Week
		}
		return mats[i].CreatedAt.Before(mats[j].CreatedAt)
	})
	return mats, nil
}

func (repo *courseRepository) DeleteMaterial(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.materials[id]; !ok {
		return course.ErrMaterialNotFound
	}
	delete(repo.db.materials, id)
	delete(repo.db.progress, id)
	return nil
}

func (repo *courseRepository) MarkMaterialComplete(_ context.Context, materialID, studentID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.materials[materialID]; !ok {
		return course.ErrMaterialNotFound
	}
	if repo.db.progress[materialID] == nil {
		repo.db.progress[materialID] = make(map[string]bool)
	}
	repo.db.progress[materialID][studentID] = true
	return nil
}
