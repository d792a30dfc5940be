package dummydb

import (
	"context"

	"github.com/trezcool/shule/core"
)

type settingsRepository struct {
	db *settingsTable
}

var _ core.SettingsRepository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *DB) core.SettingsRepository {
	return &settingsRepository{db: db.settings}
}

func (repo *settingsRepository) GetAllSettings(_ context.Context) (map[string]string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	vals := make(map[string]string, len(repo.db.table))
	for k, v := range repo.db.table {
		vals[k] = v
	}
	return vals, nil
}

func (repo *settingsRepository) SaveSetting(_ context.Context, key, value string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[key] = value
	return nil
}
