package models

import (
	"time"

	"gorm.io/gorm"
)

// Reference entities below are owned by the curriculum/administration
// surfaces; this service reads them by id only and never mutates them.

type Qualification struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;size:100"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Board struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	Name            string `json:"name" gorm:"not null;size:100"`
	QualificationID uint   `json:"qualification_id" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Qualification Qualification `json:"qualification" gorm:"foreignKey:QualificationID"`
}

type Subject struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"not null;size:100;index"`
	BoardID uint   `json:"board_id" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Board Board `json:"board" gorm:"foreignKey:BoardID"`
}

type Course struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"not null;size:200"`
	SubjectID uint   `json:"subject_id" gorm:"not null;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Subject Subject `json:"subject" gorm:"foreignKey:SubjectID"`
	Topics  []Topic `json:"topics,omitempty" gorm:"foreignKey:CourseID"`
}

type Topic struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"not null;size:200"`
	CourseID uint   `json:"course_id" gorm:"not null;index"`
	Order    int    `json:"order" gorm:"column:sort_order;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Subtopics []Subtopic `json:"subtopics,omitempty" gorm:"foreignKey:TopicID"`
}

type Subtopic struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"not null;size:200"`
	TopicID uint   `json:"topic_id" gorm:"not null;index"`
	Order   int    `json:"order" gorm:"column:sort_order;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Term struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null;size:100"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:false;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Student struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	FullName string  `json:"full_name" gorm:"not null;size:200"`
	Email    *string `json:"email" gorm:"size:255"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

type Class struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"not null;size:200"`
	CourseID uint   `json:"course_id" gorm:"not null;index"`

	// Casdoor user id of the owning teacher.
	TeacherID string `json:"teacher_id" gorm:"not null;index;size:255"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Course      Course       `json:"course" gorm:"foreignKey:CourseID"`
	Enrollments []Enrollment `json:"enrollments,omitempty" gorm:"foreignKey:ClassID"`
}

// Enrollment links a student to a class.
type Enrollment struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	StudentID uint `json:"student_id" gorm:"not null;index;uniqueIndex:idx_class_student"`
	ClassID   uint `json:"class_id" gorm:"not null;index;uniqueIndex:idx_class_student"`

	CreatedAt time.Time `json:"created_at"`

	Student Student `json:"student" gorm:"foreignKey:StudentID"`
}

func (Qualification) TableName() string { return "qualifications" }
func (Board) TableName() string         { return "boards" }
func (Subject) TableName() string       { return "subjects" }
func (Course) TableName() string        { return "courses" }
func (Topic) TableName() string         { return "topics" }
func (Subtopic) TableName() string      { return "subtopics" }
func (Term) TableName() string          { return "terms" }
func (Student) TableName() string       { return "students" }
func (Class) TableName() string         { return "classes" }
func (Enrollment) TableName() string    { return "enrollments" }
