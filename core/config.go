package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var Conf *Config

type (
	ServerConfig struct {
		Host                      string
		Addr                      string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		DisableTLS    bool
	}

	// GraderConfig configures the external AI feedback collaborator used to
	// grade free-text quiz answers. Grading degrades to zero credit when the
	// collaborator is not reachable; it is never required for a submission
	// to complete.
	GraderConfig struct {
		URL     string
		APIKey  string
		Timeout time.Duration
	}

	Config struct {
		Env      string
		AppName  string
		Build    string
		Debug    bool
		TestMode bool
		WorkDir  string

		SecretKey                 []byte
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		PasswordResetTimeoutDelta time.Duration

		SendgridAPIKey string
		RollbarToken   string

		Server   ServerConfig
		Database DatabaseConfig
		Grader   GraderConfig

		// site settings defaults; live values come from the settings table
		// and may be changed by admins at runtime.
		DefaultMaxAbsencePercent float64
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

func init() {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Shule")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "7dj=r#b8^7f&1+q3ev*a#$ndj5bh=+4$-yrgte1vro22_a9*xt")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("shutdownTimeout", 20*time.Second)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "shule")
	v.SetDefault("dbUser", "shule")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("graderURL", "")
	v.SetDefault("graderApiKey", "")
	v.SetDefault("graderTimeout", 10*time.Second)
	v.SetDefault("maxAbsencePercent", 25.0)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	var testMode bool
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	Conf = &Config{
		Env:                       env,
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  testMode,
		WorkDir:                   wd,
		SecretKey:                 []byte(v.GetString("secretKey")),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          mail.Address{Name: v.GetString("appName"), Address: v.GetString("defaultFromEmail")},
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		SendgridAPIKey:            v.GetString("sendgridApiKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Addr:                      v.GetString("serverAddr"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Grader: GraderConfig{
			URL:     v.GetString("graderURL"),
			APIKey:  v.GetString("graderApiKey"),
			Timeout: v.GetDuration("graderTimeout"),
		},
		DefaultMaxAbsencePercent: v.GetFloat64("maxAbsencePercent"),
	}
}
