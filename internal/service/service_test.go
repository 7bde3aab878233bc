package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenclass/agentrun/internal/agents"
	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/enrollment"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

func newTestService(t *testing.T) (*ExecutionService, *store.LibSQLStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := agents.NewRegistry(
		agents.NewPublishingAgent(),
		agents.NewEnrollmentAgent(
			enrollment.NewStoreCreator(s),
			enrollment.NewLogNotifier(logger),
			logger,
		),
	)
	require.NoError(t, err)

	runner := engine.NewRunner(s, logger)
	return NewExecutionService(s, reg, runner, NewRoleScopeChecker(), logger), s
}

func seedCenter(t *testing.T, s store.Store) *store.Center {
	t.Helper()
	c := &store.Center{Name: "center"}
	require.NoError(t, s.CreateCenter(context.Background(), c))
	return c
}

func seedPublishableCourse(t *testing.T, s store.Store, centerID int64) *store.Course {
	t.Helper()
	ctx := context.Background()
	course := &store.Course{CenterID: centerID, Title: "Algebra", Status: schema.CourseStatusDraft}
	require.NoError(t, s.CreateCourse(ctx, course))
	require.NoError(t, s.CreateSection(ctx, &store.Section{CourseID: course.ID, Title: "Basics", Position: 1}))
	return course
}

func adminActor(centerID int64, perms ...string) schema.Actor {
	return schema.Actor{
		ID:          10,
		Name:        "admin",
		CenterID:    &centerID,
		Roles:       []string{schema.RoleAdmin},
		Permissions: perms,
	}
}

func superadminActor() schema.Actor {
	return schema.Actor{ID: 1, Name: "root", Roles: []string{schema.RoleSuperadmin}}
}

// --- Execute ---

func TestExecute_HappyPath(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)
	actor := adminActor(center.ID, schema.PermCoursePublish)

	exec, result, err := svc.Execute(ctx, actor, center.ID, schema.AgentTypeContentPublishing,
		map[string]any{"course_id": course.ID})
	require.NoError(t, err)

	// The agent's result map comes back live, not only as the marshaled
	// copy on the record.
	assert.Equal(t, true, result["success"])
	assert.Contains(t, result, "steps")

	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "course", exec.TargetType)
	require.NotNil(t, exec.TargetID)
	assert.Equal(t, course.ID, *exec.TargetID)
	assert.Equal(t, actor.ID, exec.InitiatedBy)

	got, getErr := s.GetCourse(ctx, course.ID)
	require.NoError(t, getErr)
	assert.Equal(t, schema.CourseStatusPublished, got.Status)
}

func TestExecute_PermissionDenied(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)

	_, _, err := svc.Execute(ctx, adminActor(center.ID), center.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": course.ID})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAccessDenied, schema.CodeOf(err))

	// Denied before any record exists.
	_, total, listErr := s.ListExecutions(ctx, store.ExecutionFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestExecute_ScopeDenied(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	centerA := seedCenter(t, s)
	centerB := seedCenter(t, s)
	course := seedPublishableCourse(t, s, centerB.ID)

	// Admin of center A may not act in center B even with the permission.
	_, _, err := svc.Execute(ctx, adminActor(centerA.ID, schema.PermCoursePublish), centerB.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": course.ID})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAccessDenied, schema.CodeOf(err))
}

func TestExecute_SuperadminCrossesCenters(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)

	exec, _, err := svc.Execute(ctx, superadminActor(), center.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": course.ID})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
}

func TestExecute_InvalidContextReportsFields(t *testing.T) {
	svc, s := newTestService(t)
	center := seedCenter(t, s)
	actor := adminActor(center.ID, schema.PermCoursePublish)

	_, _, err := svc.Execute(context.Background(), actor, center.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": "not-a-number"})
	require.Error(t, err)

	var ae *schema.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)
	assert.Contains(t, ae.Fields, "course_id")
}

func TestExecute_TargetResolutionFailureCreatesNoRecord(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	actor := adminActor(center.ID, schema.PermCoursePublish)

	_, _, err := svc.Execute(ctx, actor, center.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": int64(404)})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	_, total, listErr := s.ListExecutions(ctx, store.ExecutionFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestExecute_FailedRunReturnsTerminalRecord(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	// Draft course without sections: resolution passes, the first step fails.
	course := &store.Course{CenterID: center.ID, Title: "Bare", Status: schema.CourseStatusDraft}
	require.NoError(t, s.CreateCourse(ctx, course))
	actor := adminActor(center.ID, schema.PermCoursePublish)

	exec, _, err := svc.Execute(ctx, actor, center.ID,
		schema.AgentTypeContentPublishing, map[string]any{"course_id": course.ID})
	require.Error(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)
}

func TestExecute_UnknownAgentType(t *testing.T) {
	svc, s := newTestService(t)
	center := seedCenter(t, s)

	_, _, err := svc.Execute(context.Background(), superadminActor(), center.ID,
		schema.AgentType("course_cloning"), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentNotRegistered, schema.CodeOf(err))
}

// --- Listing and access ---

func seedExecutions(t *testing.T, svc *ExecutionService, s store.Store, centerID int64, n int) {
	t.Helper()
	ctx := context.Background()
	actor := adminActor(centerID, schema.PermCoursePublish)
	for i := 0; i < n; i++ {
		course := seedPublishableCourse(t, s, centerID)
		_, _, err := svc.Execute(ctx, actor, centerID, schema.AgentTypeContentPublishing,
			map[string]any{"course_id": course.ID})
		require.NoError(t, err)
	}
}

func TestPaginateForAdmin_ScopesResults(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	centerA := seedCenter(t, s)
	centerB := seedCenter(t, s)
	seedExecutions(t, svc, s, centerA.ID, 2)
	seedExecutions(t, svc, s, centerB.ID, 1)

	// Superadmin sees everything.
	page, err := svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	// A center admin only sees their own center's executions.
	page, err = svc.PaginateForAdmin(ctx, adminActor(centerA.ID), ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, e := range page.Executions {
		assert.Equal(t, centerA.ID, e.ScopeID)
	}

	// Asking for another center is an error, not an empty page.
	_, err = svc.PaginateForAdmin(ctx, adminActor(centerA.ID), ListQuery{ScopeID: &centerB.ID})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAccessDenied, schema.CodeOf(err))
}

func TestPaginateForAdmin_Pagination(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	seedExecutions(t, svc, s, center.ID, 3)

	page, err := svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Executions, 2)

	page, err = svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page.Executions, 1)
}

func TestPaginateForAdmin_WhereFilter(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	seedExecutions(t, svc, s, center.ID, 2)

	page, err := svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{
		Where: `status == "completed" && agent_type == "content_publishing"`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{
		Where: `status == "failed"`,
	})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{Where: `status ==`})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestAssertActorCanAccess(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	centerA := seedCenter(t, s)
	centerB := seedCenter(t, s)
	seedExecutions(t, svc, s, centerA.ID, 1)

	page, err := svc.PaginateForAdmin(ctx, superadminActor(), ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	execID := page.Executions[0].ID

	_, err = svc.AssertActorCanAccess(ctx, adminActor(centerA.ID), execID)
	assert.NoError(t, err)

	_, err = svc.AssertActorCanAccess(ctx, adminActor(centerB.ID), execID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAccessDenied, schema.CodeOf(err))

	_, err = svc.AssertActorCanAccess(ctx, superadminActor(), "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

// --- Discovery and inspection ---

func TestAvailableAgents_FiltersByPermission(t *testing.T) {
	svc, s := newTestService(t)
	center := seedCenter(t, s)

	infos := svc.AvailableAgents(adminActor(center.ID, schema.PermCoursePublish))
	require.Len(t, infos, 1)
	assert.Equal(t, schema.AgentTypeContentPublishing, infos[0].Type)
	assert.NotEmpty(t, infos[0].Steps)

	infos = svc.AvailableAgents(superadminActor())
	assert.Len(t, infos, 2)

	infos = svc.AvailableAgents(adminActor(center.ID))
	assert.Empty(t, infos)
}

func TestInspectResult(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	center := seedCenter(t, s)
	course := seedPublishableCourse(t, s, center.ID)
	actor := adminActor(center.ID, schema.PermCoursePublish)

	exec, _, err := svc.Execute(ctx, actor, center.ID, schema.AgentTypeContentPublishing,
		map[string]any{"course_id": course.ID})
	require.NoError(t, err)

	out, err := svc.InspectResult(ctx, actor, exec.ID, ".success")
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = svc.InspectResult(ctx, actor, exec.ID, ".steps.publish_course.previous_status")
	require.NoError(t, err)
	assert.Equal(t, "draft", out)

	_, err = svc.InspectResult(ctx, adminActor(center.ID+100), exec.ID, ".success")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAccessDenied, schema.CodeOf(err))
}
