package store

import (
	"encoding/json"
	"time"

	"github.com/lumenclass/agentrun/pkg/schema"
)

// Execution is the persisted record of one workflow run.
// It is created pending by the façade and mutated only by the runner
// that owns it; the context snapshot is immutable after creation.
type Execution struct {
	ID             string                 `json:"id"`
	ScopeID        int64                  `json:"scope_id"`
	AgentType      schema.AgentType       `json:"agent_type"`
	TargetType     string                 `json:"target_type,omitempty"`
	TargetID       *int64                 `json:"target_id,omitempty"`
	Status         schema.ExecutionStatus `json:"status"`
	Context        map[string]any         `json:"context,omitempty"`
	Result         json.RawMessage        `json:"result,omitempty"`
	StepsCompleted []string               `json:"steps_completed"`
	InitiatedBy    int64                  `json:"initiated_by"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
// StepsCompleted replaces the whole persisted list when non-nil.
type ExecutionUpdate struct {
	Status         *schema.ExecutionStatus `json:"status,omitempty"`
	Result         json.RawMessage         `json:"result,omitempty"`
	StepsCompleted []string                `json:"steps_completed,omitempty"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
// ScopeIDs, when non-nil, restricts results to those scopes (used to
// enforce the actor's visibility); nil means unrestricted.
type ExecutionFilter struct {
	ScopeID     *int64                  `json:"scope_id,omitempty"`
	ScopeIDs    []int64                 `json:"scope_ids,omitempty"`
	AgentType   *schema.AgentType       `json:"agent_type,omitempty"`
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	InitiatedBy *int64                  `json:"initiated_by,omitempty"`
	RunningFor  *time.Duration          `json:"running_for,omitempty"` // updated_at older than now-d
	Limit       int                     `json:"limit,omitempty"`
	Offset      int                     `json:"offset,omitempty"`
}

// AuditEntry is an immutable record of an engine or agent action.
type AuditEntry struct {
	ID           int64           `json:"id"`
	ActorID      int64           `json:"actor_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	ScopeID      *int64          `json:"scope_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AuditFilter specifies criteria for listing audit entries.
type AuditFilter struct {
	Action       string `json:"action,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// Center is a tenant boundary.
type Center struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Course is the primary publishing target.
type Course struct {
	ID              int64               `json:"id"`
	CenterID        int64               `json:"center_id"`
	Title           string              `json:"title"`
	Status          schema.CourseStatus `json:"status"`
	PreviousStatus  schema.CourseStatus `json:"previous_status,omitempty"`
	EnrollmentLimit *int                `json:"enrollment_limit,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Section is an ordered content unit within a course.
type Section struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Video is a media attachment with a processing lifecycle.
type Video struct {
	ID       int64              `json:"id"`
	CourseID int64              `json:"course_id"`
	Title    string             `json:"title"`
	Status   schema.VideoStatus `json:"status"`
}

// PDF is a document attachment; FilePath is empty until uploaded.
type PDF struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
	FilePath string `json:"file_path,omitempty"`
}

// User is any person known to a center: students, admins, superadmins.
type User struct {
	ID          int64     `json:"id"`
	CenterID    *int64    `json:"center_id,omitempty"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actor converts the persisted user into the identity the façade consumes.
func (u *User) Actor() schema.Actor {
	return schema.Actor{
		ID:          u.ID,
		Name:        u.Name,
		CenterID:    u.CenterID,
		Roles:       u.Roles,
		Permissions: u.Permissions,
	}
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID         int64                   `json:"id"`
	CourseID   int64                   `json:"course_id"`
	StudentID  int64                   `json:"student_id"`
	Status     schema.EnrollmentStatus `json:"status"`
	EnrolledBy int64                   `json:"enrolled_by"`
	CreatedAt  time.Time               `json:"created_at"`
}
