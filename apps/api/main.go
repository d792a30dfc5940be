package main

import (
	"context"
	"fmt"
	"log"
	"os"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	gradersvc "github.com/trezcool/shule/services/grader"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		core.Conf,
	)
	logger.Enable(!core.Conf.Debug)

	// set up DB
	db, err := database.Open(core.Conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("failed to close DB", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	var grader quiz.Grader
	if core.Conf.Grader.URL != "" {
		grader = gradersvc.NewHTTPService(core.Conf, logger)
	} else {
		grader = gradersvc.NewStaticService()
	}

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc)
	courseSvc := course.NewService(sqlxrepos.NewCourseRepository(db))
	attendanceSvc := attendance.NewService(sqlxrepos.NewAttendanceRepository(db), courseSvc)
	quizSvc := quiz.NewService(sqlxrepos.NewQuizRepository(db), courseSvc, grader)
	messagingSvc := messaging.NewService(sqlxrepos.NewMessagingRepository(db), courseSvc, usrSvc, mailSvc)
	settingsSvc := core.NewSettingsService(sqlxrepos.NewSettingsRepository(db), core.Conf)

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", core.Conf.Build))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(&echoapi.Options{
		Address:       core.Conf.Server.Addr,
		Logger:        logger,
		UserSvc:       usrSvc,
		CourseSvc:     courseSvc,
		AttendanceSvc: attendanceSvc,
		QuizSvc:       quizSvc,
		MessagingSvc:  messagingSvc,
		SettingsSvc:   settingsSvc,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", core.Conf.Server.Addr))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		ctx, cancel := context.WithTimeout(context.Background(), core.Conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
			if err = server.Stop(context.Background()); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
