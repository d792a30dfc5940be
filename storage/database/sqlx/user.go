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

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles",
	"password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    sql.NullTime   `db:"last_login"`
}

func (r userRow) toDomain() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		IsActive:     r.IsActive,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) getBy(ctx context.Context, pred interface{}, args ...interface{}) (user.User, error) {
	query, qargs, err := psql.Select(userColumns...).From(`"user"`).Where(pred, args...).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, qargs...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "querying user")
	}
	return row.toDomain(), nil
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	pred := sq.Or{}
	if username != "" {
		pred = append(pred, sq.Eq{"username": username})
	}
	if email != "" {
		pred = append(pred, sq.Eq{"email": email})
	}
	if len(pred) == 0 {
		return nil
	}

	builder := psql.Select("username", "email").From(`"user"`).Where(pred)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		builder = builder.Where(sq.NotEq{"id": ids})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	query, args, err := psql.Insert(`"user"`).
		Columns(userColumns...).
		Values(
			usr.ID, usr.Name, usr.Username, usr.Email, usr.IsActive, pq.StringArray(usr.Roles),
			usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt, nullTime(usr.LastLogin),
		).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getBy(ctx, sq.Eq{"id": id})
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, sq.Eq{"username": username})
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getBy(ctx, sq.Eq{"email": email})
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, sq.Or{sq.Eq{"username": username}, sq.Eq{"email": username}})
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	builder := psql.Select(userColumns...).From(`"user"`)

	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"name": search},
			sq.ILike{"username": search},
			sq.ILike{"email": search},
		})
	}
	if len(filter.Roles) > 0 {
		rolePred := sq.Or{}
		for _, role := range filter.Roles {
			rolePred = append(rolePred, sq.Expr(
				"EXISTS (SELECT 1 FROM unnest(roles) AS r WHERE r LIKE ?)", role+"%",
			))
		}
		builder = builder.Where(rolePred)
	}
	if filter.IsActive != nil {
		builder = builder.Where(sq.Eq{"is_active": *filter.IsActive})
	}
	if !filter.CreatedFrom.IsZero() {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
	}
	if !filter.CreatedTo.IsZero() {
		builder = builder.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
	}
	builder = orderBy(builder, "created_at ASC", ordering)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	builder := psql.Update(`"user"`).Where(sq.Eq{"id": usr.ID})

	// only save set fields
	if usr.Name != "" {
		builder = builder.Set("name", usr.Name)
	}
	if usr.Username != "" {
		builder = builder.Set("username", usr.Username)
	}
	if usr.Email != "" {
		builder = builder.Set("email", usr.Email)
	}
	if usr.Roles != nil {
		builder = builder.Set("roles", pq.StringArray(usr.Roles))
	}
	if usr.PasswordHash != nil {
		builder = builder.Set("password_hash", usr.PasswordHash)
	}
	if isActive != nil {
		builder = builder.Set("is_active", *isActive)
	}
	if !usr.UpdatedAt.IsZero() {
		builder = builder.Set("updated_at", usr.UpdatedAt)
	}
	if !usr.LastLogin.IsZero() {
		builder = builder.Set("last_login", usr.LastLogin)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	query, args, err := psql.Delete(`"user"`).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
