package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/enrollment"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/internal/validation"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Enrollment step names, in execution order.
const (
	StepParseRequest      = "parse_request"
	StepValidateStudents  = "validate_students"
	StepValidateCourse    = "validate_course"
	StepCheckLimits       = "check_limits"
	StepCreateEnrollments = "create_enrollments"
	StepSendNotifications = "send_notifications"
	StepCreateAuditLogs   = "create_audit_logs"
)

const enrollmentContextSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["course_id", "student_ids"],
  "properties": {
    "course_id": { "type": "integer", "minimum": 1 },
    "student_ids": {
      "type": "array",
      "items": { "type": "integer", "minimum": 1 },
      "minItems": 1
    }
  },
  "additionalProperties": false
}`

// EnrollmentAgent enrolls a batch of students into a course. It runs
// under the partial-commit policy: enrollments created before a failing
// step stay committed, and per-student problems are collected into the
// result instead of aborting the batch.
type EnrollmentAgent struct {
	validator *validation.ContextValidator
	creator   enrollment.Creator
	notifier  enrollment.Notifier
	logger    *slog.Logger
}

// NewEnrollmentAgent creates the enrollment-management agent.
func NewEnrollmentAgent(creator enrollment.Creator, notifier enrollment.Notifier, logger *slog.Logger) *EnrollmentAgent {
	return &EnrollmentAgent{
		validator: validation.MustContextValidator("enrollment_management", enrollmentContextSchema),
		creator:   creator,
		notifier:  notifier,
		logger:    logger,
	}
}

func (a *EnrollmentAgent) Type() schema.AgentType { return schema.AgentTypeEnrollmentManagement }
func (a *EnrollmentAgent) Name() string           { return "Bulk Enrollment" }
func (a *EnrollmentAgent) Description() string {
	return "Enrolls a batch of students into a course, skipping duplicates and reporting per-student failures."
}

func (a *EnrollmentAgent) Steps() []string {
	return []string{
		StepParseRequest,
		StepValidateStudents,
		StepValidateCourse,
		StepCheckLimits,
		StepCreateEnrollments,
		StepSendNotifications,
		StepCreateAuditLogs,
	}
}

func (a *EnrollmentAgent) Policy() engine.StepPolicy { return engine.PolicyPartial }

func (a *EnrollmentAgent) ValidateContext(input map[string]any) map[string][]string {
	return a.validator.Validate(input)
}

func (a *EnrollmentAgent) CanExecute(actor schema.Actor) bool {
	return actor.HasPermission(schema.PermEnrollmentManage)
}

// ResolveTarget returns no target: the course is validated as a step so
// its failure is recorded on the execution, not rejected up front.
func (a *EnrollmentAgent) ResolveTarget(ctx context.Context, st store.Store, scopeID int64, input map[string]any) (*engine.Target, error) {
	return nil, nil
}

func (a *EnrollmentAgent) ExecuteStep(ctx context.Context, st store.Store, sc *engine.StepContext, step string) (map[string]any, error) {
	switch step {
	case StepParseRequest:
		courseID, ok := coerceInt64(sc.Input["course_id"])
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "course_id must be an integer")
		}
		studentIDs, ok := coerceInt64Slice(sc.Input["student_ids"])
		if !ok || len(studentIDs) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "student_ids must be a non-empty array of integers")
		}
		return map[string]any{"course_id": courseID, "student_ids": studentIDs}, nil

	case StepValidateStudents:
		studentIDs := a.parsed(sc)["student_ids"].([]int64)
		valid := make([]int64, 0, len(studentIDs))
		invalid := make([]int64, 0)
		for _, id := range studentIDs {
			u, err := st.GetUser(ctx, id)
			if err != nil {
				if schema.CodeOf(err) == schema.ErrCodeNotFound {
					invalid = append(invalid, id)
					continue
				}
				return nil, err
			}
			// A student attached to another center is invalid here, same
			// as a missing or non-student user.
			if u.CenterID != nil && *u.CenterID != sc.Record.ScopeID {
				invalid = append(invalid, id)
				continue
			}
			if !u.Actor().HasRole(schema.RoleStudent) {
				invalid = append(invalid, id)
				continue
			}
			valid = append(valid, id)
		}
		return map[string]any{"valid_students": valid, "invalid_ids": invalid}, nil

	case StepValidateCourse:
		courseID := a.parsed(sc)["course_id"].(int64)
		course, err := st.GetCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if course.CenterID != sc.Record.ScopeID {
			return nil, schema.NewErrorf(schema.ErrCodeScopeMismatch,
				"course %d belongs to center %d, not %d", course.ID, course.CenterID, sc.Record.ScopeID)
		}
		sc.Target = &engine.Target{Type: "course", ID: course.ID, Entity: course}
		return map[string]any{"course_id": course.ID}, nil

	case StepCheckLimits:
		course := sc.Target.Entity.(*store.Course)
		valid := sc.Results[StepValidateStudents].(map[string]any)["valid_students"].([]int64)
		if course.EnrollmentLimit == nil {
			return map[string]any{"limit": nil}, nil
		}
		current, err := st.CountActiveEnrollments(ctx, course.ID)
		if err != nil {
			return nil, err
		}
		if current+len(valid) > *course.EnrollmentLimit {
			return nil, schema.NewErrorf(schema.ErrCodeLimitExceeded,
				"course %d has %d active enrollments; enrolling %d more would exceed the limit of %d",
				course.ID, current, len(valid), *course.EnrollmentLimit)
		}
		return map[string]any{"limit": *course.EnrollmentLimit, "current": current}, nil

	case StepCreateEnrollments:
		course := sc.Target.Entity.(*store.Course)
		valid := sc.Results[StepValidateStudents].(map[string]any)["valid_students"].([]int64)
		created := make([]*store.Enrollment, 0, len(valid))
		skipped := 0
		errs := make([]map[string]any, 0)
		for _, studentID := range valid {
			res, err := a.creator.Enroll(ctx, course.ID, studentID, sc.Actor.ID)
			if err != nil {
				errs = append(errs, map[string]any{"student_id": studentID, "error": err.Error()})
				continue
			}
			switch res.Outcome {
			case enrollment.OutcomeCreated:
				created = append(created, res.Enrollment)
			case enrollment.OutcomeAlreadyEnrolled:
				skipped++
			case enrollment.OutcomeRejected:
				errs = append(errs, map[string]any{"student_id": studentID, "error": res.Reason})
			}
		}
		return map[string]any{"created": created, "skipped_count": skipped, "errors": errs}, nil

	case StepSendNotifications:
		created := sc.Results[StepCreateEnrollments].(map[string]any)["created"].([]*store.Enrollment)
		sent := 0
		for _, e := range created {
			if err := a.notifier.SendEnrollmentNotification(ctx, e); err != nil {
				// Notification delivery never fails the workflow.
				a.logger.DebugContext(ctx, "enrollment notification failed",
					slog.Int64("enrollment_id", e.ID), slog.Any("error", err))
				continue
			}
			sent++
		}
		return map[string]any{"notifications_sent": sent}, nil

	case StepCreateAuditLogs:
		course := sc.Target.Entity.(*store.Course)
		created := sc.Results[StepCreateEnrollments].(map[string]any)["created"].([]*store.Enrollment)
		studentIDs := make([]int64, 0, len(created))
		for _, e := range created {
			studentIDs = append(studentIDs, e.StudentID)
		}
		details, _ := json.Marshal(map[string]any{
			"course_id":    course.ID,
			"student_ids":  studentIDs,
			"execution_id": sc.Record.ID,
		})
		if err := st.AppendAuditEntry(ctx, &store.AuditEntry{
			ActorID:      sc.Actor.ID,
			Action:       schema.ActionStudentsEnrolled,
			ResourceType: "course",
			ResourceID:   fmt.Sprint(course.ID),
			ScopeID:      &course.CenterID,
			Details:      details,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"audited": true}, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "unknown step %q", step)
	}
}

// Summary lifts the batch counters into the top-level result.
func (a *EnrollmentAgent) Summary(sc *engine.StepContext) map[string]any {
	out := map[string]any{}
	if vs, ok := sc.Results[StepValidateStudents].(map[string]any); ok {
		out["invalid_ids"] = vs["invalid_ids"]
	}
	if ce, ok := sc.Results[StepCreateEnrollments].(map[string]any); ok {
		created := ce["created"].([]*store.Enrollment)
		out["enrollments_created"] = len(created)
		out["skipped_count"] = ce["skipped_count"]
		out["errors"] = ce["errors"]
	}
	return out
}

// Rollback is a no-op: the partial-commit policy keeps work done before
// a failure, so there is nothing to unwind.
func (a *EnrollmentAgent) Rollback(ctx context.Context, st store.Store, sc *engine.StepContext, completed []string) error {
	return nil
}

func (a *EnrollmentAgent) parsed(sc *engine.StepContext) map[string]any {
	return sc.Results[StepParseRequest].(map[string]any)
}

var _ engine.Agent = (*EnrollmentAgent)(nil)
