package dummydb

import (
	"sync"

	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user       *userTable
		course     *courseTable
		attendance *attendanceTable
		quiz       *quizTable
		messaging  *messagingTable
		settings   *settingsTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	courseTable struct {
		sync.RWMutex
		courses     map[string]*course.Course
		enrollments map[string]*course.Enrollment
		materials   map[string]*course.Material
		// materialID -> studentID -> completed
		progress map[string]map[string]bool
	}

	attendanceTable struct {
		sync.RWMutex
		sessions   map[string]*attendance.Session
		firstKeys  map[string]*attendance.FirstPhaseKey
		secondKeys map[string]*attendance.SecondPhaseKey
		records    map[string]*attendance.Record
	}

	quizTable struct {
		sync.RWMutex
		quizzes     map[string]*quiz.Quiz
		questions   map[string]*quiz.Question
		submissions map[string]*quiz.Submission
		answers     map[string]*quiz.Answer
	}

	messagingTable struct {
		sync.RWMutex
		announcements map[string]*messaging.Announcement
		// announcementID -> userID -> recipient row
		recipients map[string]map[string]*messaging.AnnouncementRecipient
		messages   map[string]*messaging.PrivateMessage
	}

	settingsTable struct {
		sync.RWMutex
		table map[string]string
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		course: &courseTable{
			courses:     make(map[string]*course.Course),
			enrollments: make(map[string]*course.Enrollment),
			materials:   make(map[string]*course.Material),
			progress:    make(map[string]map[string]bool),
		},
		attendance: &attendanceTable{
			sessions:   make(map[string]*attendance.Session),
			firstKeys:  make(map[string]*attendance.FirstPhaseKey),
			secondKeys: make(map[string]*attendance.SecondPhaseKey),
			records:    make(map[string]*attendance.Record),
		},
		quiz: &quizTable{
			quizzes:     make(map[string]*quiz.Quiz),
			questions:   make(map[string]*quiz.Question),
			submissions: make(map[string]*quiz.Submission),
			answers:     make(map[string]*quiz.Answer),
		},
		messaging: &messagingTable{
			announcements: make(map[string]*messaging.Announcement),
			recipients:    make(map[string]map[string]*messaging.AnnouncementRecipient),
			messages:      make(map[string]*messaging.PrivateMessage),
		},
		settings: &settingsTable{table: make(map[string]string)},
	}
	return db, nil
}
