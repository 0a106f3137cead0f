package models

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Table names that realtime subscribers refer to
const (
	TableUsers          = "users"
	TableAssignments    = "assignments"
	TableSubmissions    = "submissions"
	TableActivities     = "activities"
	TableQueries        = "queries"
	TableQueryResponses = "query_responses"
	TableNotifications  = "notifications"
	TableCalendarNotes  = "calendar_notes"
)

// Role is the portal role stored on a user's profile
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// Roles lists every known role
var Roles = []Role{RoleStudent, RoleFaculty, RoleAdmin}

// ParseRole normalizes a stored role. Unknown values map to the empty role.
func ParseRole(value string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleStudent:
		return RoleStudent
	case RoleFaculty:
		return RoleFaculty
	case RoleAdmin:
		return RoleAdmin
	default:
		return ""
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return ParseRole(string(r)) == r && r != ""
}

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User is both the account and the profile row (id, role, full_name)
type User struct {
	BaseModel
	Email        string    `json:"email" gorm:"unique;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         Role      `json:"role" gorm:"type:varchar(16);not null;index"`
	FullName     string    `json:"full_name"`
	Department   string    `json:"department"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AuthSession backs an issued access token. The token is live while the row
// exists, is not revoked and has not expired.
type AuthSession struct {
	BaseModel
	UserID    string     `json:"user_id" gorm:"not null;index"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null"`
	RevokedAt *time.Time `json:"revoked_at"`
	UserAgent string     `json:"user_agent"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Active reports whether the session can still authenticate requests
func (s *AuthSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Assignment is created by a faculty member and visible to everyone
type Assignment struct {
	BaseModel
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description" gorm:"type:text"`
	Subject     string    `json:"subject"`
	DueAt       time.Time `json:"due_at" gorm:"not null;index"`
	MaxMarks    int       `json:"max_marks" gorm:"not null"`
	CreatedByID string    `json:"created_by_id" gorm:"not null;index"`

	CreatedBy *User `json:"created_by,omitempty" gorm:"foreignKey:CreatedByID;constraint:OnDelete:CASCADE"`
}

// Submission statuses
const (
	SubmissionSubmitted = "submitted"
	SubmissionEvaluated = "evaluated"
)

// Submission is a student's upload for an assignment (one per student)
type Submission struct {
	BaseModel
	AssignmentID  string     `json:"assignment_id" gorm:"not null;uniqueIndex:idx_submission_owner"`
	StudentID     string     `json:"student_id" gorm:"not null;uniqueIndex:idx_submission_owner"`
	FilePath      string     `json:"file_path"`
	FileURL       string     `json:"file_url"`
	Comment       string     `json:"comment"`
	Late          bool       `json:"late" gorm:"not null;default:false"`
	Status        string     `json:"status" gorm:"not null;default:submitted"`
	Marks         *int       `json:"marks"`
	Feedback      string     `json:"feedback"`
	EvaluatedByID *string    `json:"evaluated_by_id"`
	EvaluatedAt   *time.Time `json:"evaluated_at"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Assignment *Assignment `json:"assignment,omitempty" gorm:"foreignKey:AssignmentID;constraint:OnDelete:CASCADE"`
	Student    *User       `json:"student,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
}

// Activity statuses
const (
	ActivityPending  = "pending"
	ActivityApproved = "approved"
	ActivityRejected = "rejected"
)

// Activity is an extra-curricular entry that earns points once approved
type Activity struct {
	BaseModel
	StudentID      string     `json:"student_id" gorm:"not null;index"`
	Title          string     `json:"title" gorm:"not null"`
	Category       string     `json:"category" gorm:"not null"`
	Points         int        `json:"points" gorm:"not null"`
	CertificateURL string     `json:"certificate_url"`
	Status         string     `json:"status" gorm:"not null;default:pending"`
	ReviewedByID   *string    `json:"reviewed_by_id"`
	ReviewedAt     *time.Time `json:"reviewed_at"`

	Student *User `json:"student,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
}

// Query statuses
const (
	QueryOpen     = "open"
	QueryAnswered = "answered"
	QueryClosed   = "closed"
)

// Query is a student's ticket addressed to a faculty member
type Query struct {
	BaseModel
	StudentID string    `json:"student_id" gorm:"not null;index"`
	FacultyID string    `json:"faculty_id" gorm:"not null;index"`
	Subject   string    `json:"subject" gorm:"not null"`
	Body      string    `json:"body" gorm:"type:text"`
	Status    string    `json:"status" gorm:"not null;default:open"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Student *User `json:"student,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
	Faculty *User `json:"faculty,omitempty" gorm:"foreignKey:FacultyID;constraint:OnDelete:CASCADE"`
}

// QueryResponse is one message in a query thread
type QueryResponse struct {
	BaseModel
	QueryID  string `json:"query_id" gorm:"not null;index"`
	AuthorID string `json:"author_id" gorm:"not null"`
	Body     string `json:"body" gorm:"type:text;not null"`

	Author *User `json:"author,omitempty" gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
}

// Notification is a per-user message, pushed over realtime on insert
type Notification struct {
	BaseModel
	UserID  string `json:"user_id" gorm:"not null;index"`
	Title   string `json:"title" gorm:"not null"`
	Message string `json:"message"`
	Link    string `json:"link"`
	Read    bool   `json:"read" gorm:"not null;default:false"`
}

// CalendarNote is a personal note pinned to a day
type CalendarNote struct {
	BaseModel
	UserID string `json:"user_id" gorm:"not null;index:idx_note_day"`
	Date   string `json:"date" gorm:"type:varchar(10);not null;index:idx_note_day"` // YYYY-MM-DD
	Title  string `json:"title" gorm:"not null"`
	Body   string `json:"body" gorm:"type:text"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &AuthSession{}, &Assignment{}, &Submission{}, &Activity{},
		&Query{}, &QueryResponse{}, &Notification{}, &CalendarNote{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
