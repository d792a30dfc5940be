package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
)

var (
	courseColumns     = []string{"id", "name", "code", "teacher_id", "is_active", "created_at", "updated_at"}
	enrollmentColumns = []string{"id", "course_id", "student_id", "is_active", "enrolled_at"}
	materialColumns   = []string{"id", "course_id", "week", "title", "description", "url", "created_at"}
)

type (
	courseRow struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		Code      string    `db:"code"`
		TeacherID string    `db:"teacher_id"`
		IsActive  bool      `db:"is_active"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	enrollmentRow struct {
		ID         string    `db:"id"`
		CourseID   string    `db:"course_id"`
		StudentID  string    `db:"student_id"`
		IsActive   bool      `db:"is_active"`
		EnrolledAt time.Time `db:"enrolled_at"`
	}

	materialRow struct {
		ID          string    `db:"id"`
		CourseID    string    `db:"course_id"`
		Week        int       `db:"week"`
		Title       string    `db:"title"`
		Description string    `db:"description"`
		URL         string    `db:"url"`
		CreatedAt   time.Time `db:"created_at"`
		Completed   bool      `db:"completed"`
	}
)

func (r courseRow) toDomain() course.Course {
	return course.Course(r)
}

func (r enrollmentRow) toDomain() course.Enrollment {
	return course.Enrollment(r)
}

func (r materialRow) toDomain() course.Material {
	return course.Material(r)
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CheckCodeUniqueness(ctx context.Context, code string) error {
	query, args, err := psql.Select("1").From("course").Where(sq.Eq{"code": code}).Limit(1).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	var one int
	if err = repo.db.GetContext(ctx, &one, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return errors.Wrap(err, "checking code uniqueness")
	}
	return course.ErrCodeExists
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	c.ID = uuid.NewString()
	query, args, err := psql.Insert("course").
		Columns(courseColumns...).
		Values(c.ID, c.Name, c.Code, c.TeacherID, c.IsActive, c.CreatedAt, c.UpdatedAt).
		ToSql()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo *courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	query, args, err := psql.Select(courseColumns...).From("course").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "building query")
	}
	var row courseRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "querying course")
	}
	return row.toDomain(), nil
}

func (repo *courseRepository) FilterCourses(ctx context.Context, filter course.QueryFilter, ordering ...core.DBOrdering) ([]course.Course, error) {
	builder := psql.Select(courseColumns...).From("course")

	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		builder = builder.Where(sq.Or{sq.ILike{"name": search}, sq.ILike{"code": search}})
	}
	if filter.TeacherID != "" {
		builder = builder.Where(sq.Eq{"teacher_id": filter.TeacherID})
	}
	if filter.IsActive != nil {
		builder = builder.Where(sq.Eq{"is_active": *filter.IsActive})
	}
	builder = orderBy(builder, "created_at ASC", ordering)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []courseRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.toDomain())
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course, isActive *bool) (course.Course, error) {
	builder := psql.Update("course").Where(sq.Eq{"id": c.ID})

	// only save set fields
	if c.Name != "" {
		builder = builder.Set("name", c.Name)
	}
	if c.Code != "" {
		builder = builder.Set("code", c.Code)
	}
	if c.TeacherID != "" {
		builder = builder.Set("teacher_id", c.TeacherID)
	}
	if isActive != nil {
		builder = builder.Set("is_active", *isActive)
	}
	if !c.UpdatedAt.IsZero() {
		builder = builder.Set("updated_at", c.UpdatedAt)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return repo.GetCourseByID(ctx, c.ID)
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	var count int
	query, args, err := psql.Select("COUNT(*)").From("enrollment").Where(sq.Eq{"course_id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return errors.Wrap(err, "counting enrollments")
	}
	if count > 0 {
		return course.ErrHasEnrollments
	}

	query, args, err = psql.Delete("course").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) CreateEnrollment(ctx context.Context, e course.Enrollment) (course.Enrollment, error) {
	e.ID = uuid.NewString()
	query, args, err := psql.Insert("enrollment").
		Columns(enrollmentColumns...).
		Values(e.ID, e.CourseID, e.StudentID, e.IsActive, e.EnrolledAt).
		ToSql()
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return course.Enrollment{}, course.ErrAlreadyEnrolled
		}
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo *courseRepository) GetEnrollment(ctx context.Context, courseID, studentID string) (course.Enrollment, error) {
	query, args, err := psql.Select(enrollmentColumns...).From("enrollment").
		Where(sq.Eq{"course_id": courseID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "building query")
	}
	var row enrollmentRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return course.Enrollment{}, course.ErrNotEnrolled
		}
		return course.Enrollment{}, errors.Wrap(err, "querying enrollment")
	}
	return row.toDomain(), nil
}

func (repo *courseRepository) queryEnrollments(ctx context.Context, pred sq.Eq) ([]course.Enrollment, error) {
	query, args, err := psql.Select(enrollmentColumns...).From("enrollment").
		Where(pred).
		OrderBy("enrolled_at ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []enrollmentRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrs := make([]course.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrs = append(enrs, row.toDomain())
	}
	return enrs, nil
}

func (repo *courseRepository) QueryEnrollmentsByCourse(ctx context.Context, courseID string) ([]course.Enrollment, error) {
	return repo.queryEnrollments(ctx, sq.Eq{"course_id": courseID})
}

func (repo *courseRepository) QueryEnrollmentsByStudent(ctx context.Context, studentID string) ([]course.Enrollment, error) {
	return repo.queryEnrollments(ctx, sq.Eq{"student_id": studentID})
}

func (repo *courseRepository) SetEnrollmentActive(ctx context.Context, id string, active bool) error {
	query, args, err := psql.Update("enrollment").Set("is_active", active).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "updating enrollment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.ErrNotEnrolled
	}
	return nil
}

func (repo *courseRepository) CreateMaterial(ctx context.Context, m course.Material) (course.Material, error) {
	m.ID = uuid.NewString()
	query, args, err := psql.Insert("material").
		Columns(materialColumns...).
		Values(m.ID, m.CourseID, m.Week, m.Title, m.Description, m.URL, m.CreatedAt).
		ToSql()
	if err != nil {
		return course.Material{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return course.Material{}, errors.Wrap(err, "inserting material")
	}
	return m, nil
}

func (repo *courseRepository) GetMaterialByID(ctx context.Context, id string) (course.Material, error) {
	query, args, err := psql.Select(materialColumns...).From("material").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return course.Material{}, errors.Wrap(err, "building query")
	}
	var row materialRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return course.Material{}, course.ErrMaterialNotFound
		}
		return course.Material{}, errors.Wrap(err, "querying material")
	}
	return row.toDomain(), nil
}

func (repo *courseRepository) QueryMaterialsByCourse(ctx context.Context, courseID string, studentID ...string) ([]course.Material, error) {
	builder := psql.Select("m.id", "m.course_id", "m.week", "m.title", "m.description", "m.url", "m.created_at").
		From("material m").
		Where(sq.Eq{"m.course_id": courseID}).
		OrderBy("m.week ASC", "m.created_at ASC")

	// join per-student completion on student listings
	withProgress := len(studentID) > 0
	if withProgress {
		builder = psql.Select(
			"m.id", "m.course_id", "m.week", "m.title", "m.description", "m.url", "m.created_at",
			"(mp.material_id IS NOT NULL) AS completed",
		).
			From("material m").
			LeftJoin("material_progress mp ON mp.material_id = m.id AND mp.student_id = ?", studentID[0]).
			Where(sq.Eq{"m.course_id": courseID}).
			OrderBy("m.week ASC", "m.created_at ASC")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []materialRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}
	mats := make([]course.Material, 0, len(rows))
	for _, row := range rows {
		mats = append(mats, row.toDomain())
	}
	return mats, nil
}

func (repo *courseRepository) DeleteMaterial(ctx context.Context, id string) error {
	query, args, err := psql.Delete("material").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting material")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return course.ErrMaterialNotFound
	}
	return nil
}

func (repo *courseRepository) MarkMaterialComplete(ctx context.Context, materialID, studentID string) error {
	query, args, err := psql.Insert("material_progress").
		Columns("material_id", "student_id", "completed_at").
		Values(materialID, studentID, time.Now().UTC()).
		Suffix("ON CONFLICT (material_id, student_id) DO NOTHING").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "marking material complete")
	}
	return nil
}
