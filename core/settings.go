package core

import (
	"context"
	"strconv"
)

// Site settings keys. Settings are key/value rows editable by admins;
// anything missing falls back to the documented default.
const (
	SettingSchoolName        = "school_name"
	SettingThemeColor        = "theme_color"
	SettingMaxAbsencePercent = "max_absence_percent"
)

var (
	defaultThemeColor = "#1f6feb"
)

type (
	// Settings is a read-only snapshot of the site-wide settings, loaded once
	// at request start and passed explicitly into the services that need it.
	Settings struct {
		SchoolName        string  `json:"school_name"`
		ThemeColor        string  `json:"theme_color"`
		MaxAbsencePercent float64 `json:"max_absence_percent"`
	}

	SettingsRepository interface {
		GetAllSettings(ctx context.Context) (map[string]string, error)
		SaveSetting(ctx context.Context, key, value string) error
	}

	SettingsService struct {
		repo SettingsRepository
		conf *Config
	}
)

func NewSettingsService(repo SettingsRepository, conf *Config) *SettingsService {
	return &SettingsService{repo: repo, conf: conf}
}

// Snapshot loads the current settings, applying defaults for missing or
// malformed values.
func (svc *SettingsService) Snapshot(ctx context.Context) (Settings, error) {
	s := Settings{
		SchoolName:        svc.conf.AppName,
		ThemeColor:        defaultThemeColor,
		MaxAbsencePercent: svc.conf.DefaultMaxAbsencePercent,
	}

	vals, err := svc.repo.GetAllSettings(ctx)
	if err != nil {
		return s, err
	}
	if v, ok := vals[SettingSchoolName]; ok && v != "" {
		s.SchoolName = v
	}
	if v, ok := vals[SettingThemeColor]; ok && v != "" {
		s.ThemeColor = v
	}
	if v, ok := vals[SettingMaxAbsencePercent]; ok {
		if pct, err := strconv.ParseFloat(v, 64); err == nil && pct >= 0 && pct <= 100 {
			s.MaxAbsencePercent = pct
		}
	}
	return s, nil
}

func (svc *SettingsService) Save(ctx context.Context, key, value string) error {
	switch key {
	case SettingSchoolName, SettingThemeColor:
	case SettingMaxAbsencePercent:
		if pct, err := strconv.ParseFloat(value, 64); err != nil || pct < 0 || pct > 100 {
			return NewValidationError(nil, FieldError{Field: key, Error: "must be a percentage between 0 and 100"})
		}
	default:
		return NewValidationError(nil, FieldError{Field: "key", Error: "unknown setting"})
	}
	return svc.repo.SaveSetting(ctx, key, value)
}
