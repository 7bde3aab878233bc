package agents

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/enrollment"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

func newEnrollmentAgent(s store.Store) *EnrollmentAgent {
	logger := testLogger()
	return NewEnrollmentAgent(
		enrollment.NewStoreCreator(s),
		enrollment.NewLogNotifier(logger),
		logger,
	)
}

func enrollerActor(centerID int64) schema.Actor {
	return schema.Actor{
		ID:          42,
		Name:        "admin",
		CenterID:    &centerID,
		Roles:       []string{schema.RoleAdmin},
		Permissions: []string{schema.PermEnrollmentManage},
	}
}

func seedStudents(t *testing.T, s store.Store, centerID int64, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		u := &store.User{
			CenterID: &centerID,
			Name:     "student",
			Email:    uuid.NewString() + "@example.com",
			Roles:    []string{schema.RoleStudent},
		}
		require.NoError(t, s.CreateUser(context.Background(), u))
		ids = append(ids, u.ID)
	}
	return ids
}

func runEnrollment(t *testing.T, s *store.LibSQLStore, scopeID int64, input map[string]any) (*store.Execution, map[string]any, error) {
	t.Helper()
	agent := newEnrollmentAgent(s)
	exec := newPendingExecution(t, s, scopeID, schema.AgentTypeEnrollmentManagement, nil, input)
	runner := engine.NewRunner(s, testLogger())
	result, err := runner.Execute(context.Background(), agent, exec, enrollerActor(scopeID), nil, input)
	return exec, result, err
}

func TestEnrollmentAgent_HappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)
	students := seedStudents(t, s, center.ID, 2)

	exec, result, err := runEnrollment(t, s, center.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": students,
	})
	require.NoError(t, err)

	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 2, result["enrollments_created"])
	assert.Equal(t, 0, result["skipped_count"])
	assert.Empty(t, result["errors"])
	assert.Empty(t, result["invalid_ids"])

	count, countErr := s.CountActiveEnrollments(ctx, course.ID)
	require.NoError(t, countErr)
	assert.Equal(t, 2, count)

	audits, auditErr := s.ListAuditEntries(ctx, store.AuditFilter{Action: schema.ActionStudentsEnrolled})
	require.NoError(t, auditErr)
	assert.Len(t, audits, 1)
}

func TestEnrollmentAgent_SkipsAlreadyEnrolled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)
	students := seedStudents(t, s, center.ID, 2)

	require.NoError(t, s.CreateEnrollment(ctx, &store.Enrollment{
		CourseID:   course.ID,
		StudentID:  students[0],
		Status:     schema.EnrollmentStatusActive,
		EnrolledBy: 1,
	}))

	exec, result, err := runEnrollment(t, s, center.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": students,
	})
	require.NoError(t, err)

	// The duplicate is skipped, not failed: the run still completes.
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, result["enrollments_created"])
	assert.Equal(t, 1, result["skipped_count"])
	assert.Empty(t, result["errors"])

	count, countErr := s.CountActiveEnrollments(ctx, course.ID)
	require.NoError(t, countErr)
	assert.Equal(t, 2, count)
}

func TestEnrollmentAgent_InvalidStudentsReported(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)
	students := seedStudents(t, s, center.ID, 1)

	// A teacher-role user is not enrollable.
	notStudent := &store.User{
		CenterID: &center.ID,
		Name:     "admin2",
		Email:    "admin2@example.com",
		Roles:    []string{schema.RoleAdmin},
	}
	require.NoError(t, s.CreateUser(ctx, notStudent))

	exec, result, err := runEnrollment(t, s, center.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": []int64{students[0], notStudent.ID, 99999},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, result["enrollments_created"])
	assert.ElementsMatch(t, []int64{notStudent.ID, 99999}, result["invalid_ids"])
}

func TestEnrollmentAgent_ForeignCenterStudentRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	centerA := seedCenter(t, s)
	centerB := seedCenter(t, s)
	course := seedPublishableCourse(t, s, centerA.ID)
	outsider := seedStudents(t, s, centerB.ID, 1)[0]

	exec, result, err := runEnrollment(t, s, centerA.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": []int64{outsider},
	})
	require.NoError(t, err)

	// A student-role user from another center never crosses the tenant
	// boundary: reported as invalid, no enrollment created.
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 0, result["enrollments_created"])
	assert.ElementsMatch(t, []int64{outsider}, result["invalid_ids"])

	count, countErr := s.CountActiveEnrollments(ctx, course.ID)
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestEnrollmentAgent_LimitExceededKeepsEarlierSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	limit := 1
	course := &store.Course{
		CenterID:        center.ID,
		Title:           "Small class",
		Status:          schema.CourseStatusPublished,
		EnrollmentLimit: &limit,
	}
	require.NoError(t, s.CreateCourse(ctx, course))
	students := seedStudents(t, s, center.ID, 2)

	exec, _, err := runEnrollment(t, s, center.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": students,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeLimitExceeded, schema.CodeOf(err))

	// Partial policy: the record keeps the steps that ran before the
	// limit check failed, and no enrollments exist.
	persisted, getErr := s.GetExecution(ctx, exec.ID)
	require.NoError(t, getErr)
	assert.Equal(t, schema.ExecutionStatusFailed, persisted.Status)
	assert.Equal(t, []string{StepParseRequest, StepValidateStudents, StepValidateCourse}, persisted.StepsCompleted)

	count, countErr := s.CountActiveEnrollments(ctx, course.ID)
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestEnrollmentAgent_CourseInOtherCenter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	centerA := seedCenter(t, s)
	centerB := seedCenter(t, s)
	course := seedPublishableCourse(t, s, centerA.ID)
	students := seedStudents(t, s, centerB.ID, 1)

	exec, _, err := runEnrollment(t, s, centerB.ID, map[string]any{
		"course_id":   course.ID,
		"student_ids": students,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeScopeMismatch, schema.CodeOf(err))
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)

	count, countErr := s.CountActiveEnrollments(ctx, course.ID)
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestEnrollmentAgent_ValidateContext(t *testing.T) {
	agent := newEnrollmentAgent(nil)

	assert.Empty(t, agent.ValidateContext(map[string]any{
		"course_id":   float64(1),
		"student_ids": []any{float64(2), float64(3)},
	}))

	fields := agent.ValidateContext(map[string]any{"course_id": float64(1), "student_ids": []any{}})
	assert.Contains(t, fields, "student_ids")

	fields = agent.ValidateContext(map[string]any{"student_ids": []any{float64(2)}})
	assert.Contains(t, fields, "context")
}
