package schema

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ValidExecutionTransitions defines the allowed forward-only state
// transitions for executions. Terminal states have no outgoing edges;
// there is no cancelled state and no way back to running.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:   {ExecutionStatusRunning},
	ExecutionStatusRunning:   {ExecutionStatusCompleted, ExecutionStatusFailed},
	ExecutionStatusCompleted: {},
	ExecutionStatusFailed:    {},
}

// IsValidExecutionTransition reports whether from -> to is allowed.
func IsValidExecutionTransition(from, to ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// AgentType identifies which agent implementation handles an execution.
type AgentType string

const (
	AgentTypeContentPublishing    AgentType = "content_publishing"
	AgentTypeEnrollmentManagement AgentType = "enrollment_management"
)

// KnownAgentTypes is the closed set of agent tags the registry accepts.
var KnownAgentTypes = map[AgentType]struct{}{
	AgentTypeContentPublishing:    {},
	AgentTypeEnrollmentManagement: {},
}

// Audit action tags written by the engine and its agents.
const (
	ActionAgentExecuted    = "AGENT_EXECUTED"
	ActionAgentFailed      = "AGENT_FAILED"
	ActionExecutionStale   = "EXECUTION_STALE"
	ActionCoursePublished  = "course_published"
	ActionStudentsEnrolled = "students_enrolled"
)

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "draft"
	CourseStatusPublished CourseStatus = "published"
	CourseStatusArchived  CourseStatus = "archived"
)

// VideoStatus is the media-processing lifecycle state of a video.
type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// EnrollmentStatus is the state of a student's enrollment in a course.
type EnrollmentStatus string

const (
	EnrollmentStatusActive  EnrollmentStatus = "active"
	EnrollmentStatusDropped EnrollmentStatus = "dropped"
)

// Roles carried by users.
const (
	RoleStudent    = "student"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// Permission grants checked by agents before execution.
const (
	PermCoursePublish    = "course.publish"
	PermEnrollmentManage = "enrollment.manage"
)
