package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type settingsRepository struct {
	db *sqlx.DB
}

var _ core.SettingsRepository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *sqlx.DB) core.SettingsRepository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) GetAllSettings(ctx context.Context) (map[string]string, error) {
	query, args, err := psql.Select("key", "value").From("site_setting").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	rows, err := repo.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying settings")
	}
	defer func() { _ = rows.Close() }()

	vals := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scanning setting")
		}
		vals[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "querying settings")
	}
	return vals, nil
}

func (repo *settingsRepository) SaveSetting(ctx context.Context, key, value string) error {
	query, args, err := psql.Insert("site_setting").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "saving setting")
	}
	return nil
}
