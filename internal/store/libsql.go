package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/lumenclass/agentrun/pkg/schema"
)

// dbtx is the subset of *sql.DB and *sql.Tx the store methods need, so a
// transaction-scoped store can share all query code with the root store.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LibSQLStore implements the Store interface using libSQL (embedded
// SQLite fork). A zero tx field means queries run against the pool.
type LibSQLStore struct {
	db   *sql.DB
	q    dbtx
	inTx bool
}

// NewLibSQLStore opens a libSQL database at the given path and returns a
// Store. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, q: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database. No-op on a transaction-scoped store.
func (s *LibSQLStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// WithTx runs fn with a Store scoped to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
// Nesting is not supported.
func (s *LibSQLStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return schema.NewError(schema.ErrCodeStore, "nested transaction not supported")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&LibSQLStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Executions ---

const executionColumns = `id, scope_id, agent_type, target_type, target_id, status, context, result, steps_completed, initiated_by, started_at, completed_at, created_at, updated_at, deleted_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	contextJSON, err := marshalMapOrDefault(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	steps, err := marshalStepsOrDefault(exec.StepsCompleted)
	if err != nil {
		return fmt.Errorf("marshal steps_completed: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO executions (id, scope_id, agent_type, target_type, target_id, status, context, result, steps_completed, initiated_by, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ScopeID, string(exec.AgentType), nullStr(exec.TargetType), nullInt(exec.TargetID),
		string(exec.Status), string(contextJSON), nullRaw(exec.Result), string(steps),
		exec.InitiatedBy, nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
		timeOrNow(exec.CreatedAt), timeOrNow(exec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ? AND deleted_at IS NULL`, id)
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.StepsCompleted != nil {
		steps, err := marshalStepsOrDefault(update.StepsCompleted)
		if err != nil {
			return fmt.Errorf("marshal steps_completed: %w", err)
		}
		sets = append(sets, "steps_completed = ?")
		args = append(args, string(steps))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ? AND deleted_at IS NULL", strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if filter.ScopeID != nil {
		where = append(where, "scope_id = ?")
		args = append(args, *filter.ScopeID)
	}
	if filter.ScopeIDs != nil {
		placeholders := make([]string, len(filter.ScopeIDs))
		for i, id := range filter.ScopeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		if len(placeholders) == 0 {
			// Restricted to zero scopes: nothing is visible.
			return nil, 0, nil
		}
		where = append(where, "scope_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.AgentType != nil {
		where = append(where, "agent_type = ?")
		args = append(args, string(*filter.AgentType))
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.InitiatedBy != nil {
		where = append(where, "initiated_by = ?")
		args = append(args, *filter.InitiatedBy)
	}
	if filter.RunningFor != nil {
		where = append(where, "updated_at < ?")
		args = append(args, time.Now().UTC().Add(-*filter.RunningFor))
	}

	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + executionColumns + " FROM executions" + clause + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, exec)
	}
	return executions, total, rows.Err()
}

func (s *LibSQLStore) SoftDeleteExecution(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE executions SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func scanExecution(scan func(...any) error) (*Execution, error) {
	exec := &Execution{}
	var (
		agentType, status, contextJSON, stepsJSON string
		targetType, resultJSON                    sql.NullString
		targetID                                  sql.NullInt64
		startedAt, completedAt, deletedAt         sql.NullTime
	)
	if err := scan(&exec.ID, &exec.ScopeID, &agentType, &targetType, &targetID, &status,
		&contextJSON, &resultJSON, &stepsJSON, &exec.InitiatedBy,
		&startedAt, &completedAt, &exec.CreatedAt, &exec.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	exec.AgentType = schema.AgentType(agentType)
	exec.Status = schema.ExecutionStatus(status)
	exec.TargetType = targetType.String
	if targetID.Valid {
		exec.TargetID = &targetID.Int64
	}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &exec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	exec.Result = rawOrNil(resultJSON)
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &exec.StepsCompleted); err != nil {
			return nil, fmt.Errorf("unmarshal steps_completed: %w", err)
		}
	}
	if exec.StepsCompleted == nil {
		exec.StepsCompleted = []string{}
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	if deletedAt.Valid {
		exec.DeletedAt = &deletedAt.Time
	}
	return exec, nil
}

// --- Audit log ---

func (s *LibSQLStore) AppendAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_log (actor_id, action, resource_type, resource_id, scope_id, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ActorID, entry.Action, entry.ResourceType, nullStr(entry.ResourceID),
		nullInt(entry.ScopeID), nullRaw(entry.Details), entry.Timestamp,
	)
	return err
}

func (s *LibSQLStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var where []string
	var args []any

	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.ResourceType != "" {
		where = append(where, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}

	query := `SELECT id, actor_id, action, resource_type, resource_id, scope_id, details, timestamp FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var resourceID, details sql.NullString
		var scopeID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &resourceID, &scopeID, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ResourceID = resourceID.String
		if scopeID.Valid {
			e.ScopeID = &scopeID.Int64
		}
		e.Details = rawOrNil(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Centers ---

func (s *LibSQLStore) CreateCenter(ctx context.Context, c *Center) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO centers (name, created_at) VALUES (?, ?)`,
		c.Name, timeOrNow(c.CreatedAt))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) GetCenter(ctx context.Context, id int64) (*Center, error) {
	c := &Center{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM centers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("center", fmt.Sprint(id))
	}
	return c, err
}

// --- Courses and attachments ---

func (s *LibSQLStore) CreateCourse(ctx context.Context, c *Course) error {
	if c.Status == "" {
		c.Status = schema.CourseStatusDraft
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO courses (center_id, title, status, previous_status, enrollment_limit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.CenterID, c.Title, string(c.Status), nullStr(string(c.PreviousStatus)),
		nullIntVal(c.EnrollmentLimit), timeOrNow(c.CreatedAt), timeOrNow(c.UpdatedAt),
	)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) GetCourse(ctx context.Context, id int64) (*Course, error) {
	c := &Course{}
	var status string
	var previous sql.NullString
	var limit sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, center_id, title, status, previous_status, enrollment_limit, created_at, updated_at
		 FROM courses WHERE id = ?`, id,
	).Scan(&c.ID, &c.CenterID, &c.Title, &status, &previous, &limit, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("course", fmt.Sprint(id))
	}
	if err != nil {
		return nil, err
	}
	c.Status = schema.CourseStatus(status)
	c.PreviousStatus = schema.CourseStatus(previous.String)
	if limit.Valid {
		n := int(limit.Int64)
		c.EnrollmentLimit = &n
	}
	return c, nil
}

func (s *LibSQLStore) UpdateCourseStatus(ctx context.Context, id int64, status, previous string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE courses SET status = ?, previous_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, previous, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "course", fmt.Sprint(id))
}

func (s *LibSQLStore) CreateSection(ctx context.Context, sec *Section) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO sections (course_id, title, position) VALUES (?, ?, ?)`,
		sec.CourseID, sec.Title, sec.Position)
	if err != nil {
		return err
	}
	sec.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) ListSections(ctx context.Context, courseID int64) ([]*Section, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, course_id, title, position FROM sections WHERE course_id = ? ORDER BY position, id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []*Section
	for rows.Next() {
		sec := &Section{}
		if err := rows.Scan(&sec.ID, &sec.CourseID, &sec.Title, &sec.Position); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func (s *LibSQLStore) CreateVideo(ctx context.Context, v *Video) error {
	if v.Status == "" {
		v.Status = schema.VideoStatusProcessing
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO videos (course_id, title, status) VALUES (?, ?, ?)`,
		v.CourseID, v.Title, string(v.Status))
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) ListVideos(ctx context.Context, courseID int64) ([]*Video, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, course_id, title, status FROM videos WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v := &Video{}
		var status string
		if err := rows.Scan(&v.ID, &v.CourseID, &v.Title, &status); err != nil {
			return nil, err
		}
		v.Status = schema.VideoStatus(status)
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *LibSQLStore) CreatePDF(ctx context.Context, p *PDF) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO pdfs (course_id, title, file_path) VALUES (?, ?, ?)`,
		p.CourseID, p.Title, nullStr(p.FilePath))
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) ListPDFs(ctx context.Context, courseID int64) ([]*PDF, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, course_id, title, file_path FROM pdfs WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pdfs []*PDF
	for rows.Next() {
		p := &PDF{}
		var path sql.NullString
		if err := rows.Scan(&p.ID, &p.CourseID, &p.Title, &path); err != nil {
			return nil, err
		}
		p.FilePath = path.String
		pdfs = append(pdfs, p)
	}
	return pdfs, rows.Err()
}

// --- Users ---

func (s *LibSQLStore) CreateUser(ctx context.Context, u *User) error {
	roles, err := marshalSliceOrDefault(u.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	perms, err := marshalSliceOrDefault(u.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (center_id, name, email, roles, permissions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullInt(u.CenterID), u.Name, u.Email, string(roles), string(perms), timeOrNow(u.CreatedAt))
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	var centerID sql.NullInt64
	var rolesJSON, permsJSON string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, center_id, name, email, roles, permissions, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &centerID, &u.Name, &u.Email, &rolesJSON, &permsJSON, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("user", fmt.Sprint(id))
	}
	if err != nil {
		return nil, err
	}
	if centerID.Valid {
		u.CenterID = &centerID.Int64
	}
	if err := json.Unmarshal([]byte(rolesJSON), &u.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	if err := json.Unmarshal([]byte(permsJSON), &u.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return u, nil
}

// --- Enrollments ---

func (s *LibSQLStore) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	if e.Status == "" {
		e.Status = schema.EnrollmentStatusActive
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO enrollments (course_id, student_id, status, enrolled_by, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.CourseID, e.StudentID, string(e.Status), e.EnrolledBy, timeOrNow(e.CreatedAt))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *LibSQLStore) GetActiveEnrollment(ctx context.Context, courseID, studentID int64) (*Enrollment, error) {
	e := &Enrollment{}
	var status string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, course_id, student_id, status, enrolled_by, created_at
		 FROM enrollments WHERE course_id = ? AND student_id = ? AND status = 'active'`,
		courseID, studentID,
	).Scan(&e.ID, &e.CourseID, &e.StudentID, &status, &e.EnrolledBy, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("enrollment", fmt.Sprintf("%d/%d", courseID, studentID))
	}
	if err != nil {
		return nil, err
	}
	e.Status = schema.EnrollmentStatus(status)
	return e, nil
}

func (s *LibSQLStore) CountActiveEnrollments(ctx context.Context, courseID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE course_id = ? AND status = 'active'`, courseID,
	).Scan(&n)
	return n, err
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullIntVal(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalStepsOrDefault(steps []string) (json.RawMessage, error) {
	if len(steps) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(steps)
}

func marshalSliceOrDefault(s []string) (json.RawMessage, error) {
	if len(s) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(s)
}
