package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use. A Store obtained
// inside WithTx sees and writes uncommitted transaction state.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, int, error)
	SoftDeleteExecution(ctx context.Context, id string) error

	// Audit log (append-only)
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// Centers
	CreateCenter(ctx context.Context, c *Center) error
	GetCenter(ctx context.Context, id int64) (*Center, error)

	// Courses and attachments
	CreateCourse(ctx context.Context, c *Course) error
	GetCourse(ctx context.Context, id int64) (*Course, error)
	UpdateCourseStatus(ctx context.Context, id int64, status, previous string) error
	CreateSection(ctx context.Context, s *Section) error
	ListSections(ctx context.Context, courseID int64) ([]*Section, error)
	CreateVideo(ctx context.Context, v *Video) error
	ListVideos(ctx context.Context, courseID int64) ([]*Video, error)
	CreatePDF(ctx context.Context, p *PDF) error
	ListPDFs(ctx context.Context, courseID int64) ([]*PDF, error)

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)

	// Enrollments
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	GetActiveEnrollment(ctx context.Context, courseID, studentID int64) (*Enrollment, error)
	CountActiveEnrollments(ctx context.Context, courseID int64) (int, error)

	// Transactions. fn receives a Store scoped to a single transaction;
	// returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
