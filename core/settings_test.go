package core

import (
	"context"
	"testing"
)

type settingsRepoStub struct {
	vals map[string]string
	err  error
}

func (r *settingsRepoStub) GetAllSettings(context.Context) (map[string]string, error) {
	return r.vals, r.err
}

func (r *settingsRepoStub) SaveSetting(_ context.Context, key, value string) error {
	if r.vals == nil {
		r.vals = make(map[string]string)
	}
	r.vals[key] = value
	return nil
}

func TestSettingsSnapshot(t *testing.T) {
	conf := &Config{AppName: "Shule", DefaultMaxAbsencePercent: 25}

	t.Run("defaults", func(t *testing.T) {
		svc := NewSettingsService(&settingsRepoStub{}, conf)
		s, err := svc.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot() failed: %v", err)
		}
		if s.SchoolName != "Shule" || s.ThemeColor != defaultThemeColor || s.MaxAbsencePercent != 25 {
			t.Errorf("unexpected defaults: %+v", s)
		}
	})

	t.Run("stored values override defaults", func(t *testing.T) {
		svc := NewSettingsService(&settingsRepoStub{vals: map[string]string{
			SettingSchoolName:        "Mlimani High",
			SettingThemeColor:        "#112233",
			SettingMaxAbsencePercent: "10",
		}}, conf)
		s, err := svc.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot() failed: %v", err)
		}
		if s.SchoolName != "Mlimani High" || s.ThemeColor != "#112233" || s.MaxAbsencePercent != 10 {
			t.Errorf("unexpected settings: %+v", s)
		}
	})

	t.Run("malformed percentage falls back", func(t *testing.T) {
		svc := NewSettingsService(&settingsRepoStub{vals: map[string]string{
			SettingMaxAbsencePercent: "lots",
		}}, conf)
		s, err := svc.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot() failed: %v", err)
		}
		if s.MaxAbsencePercent != 25 {
			t.Errorf("MaxAbsencePercent = %v; want 25", s.MaxAbsencePercent)
		}
	})
}

func TestSettingsSave(t *testing.T) {
	svc := NewSettingsService(&settingsRepoStub{}, &Config{})

	if err := svc.Save(context.Background(), SettingMaxAbsencePercent, "150"); err == nil {
		t.Error("expected an out-of-range percentage to be rejected")
	}
	if err := svc.Save(context.Background(), "mystery", "x"); err == nil {
		t.Error("expected an unknown key to be rejected")
	}
	if err := svc.Save(context.Background(), SettingSchoolName, "Mlimani High"); err != nil {
		t.Errorf("Save() failed: %v", err)
	}
}
