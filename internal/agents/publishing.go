package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/internal/validation"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Publishing step names, in execution order.
const (
	StepValidateSections = "validate_sections"
	StepValidateVideos   = "validate_videos"
	StepValidatePDFs     = "validate_pdfs"
	StepVerifyCenter     = "verify_center"
	StepPublishCourse    = "publish_course"
	StepCreateAuditLog   = "create_audit_log"
)

const publishingContextSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["course_id"],
  "properties": {
    "course_id": { "type": "integer", "minimum": 1 }
  },
  "additionalProperties": false
}`

// PublishingAgent publishes a course after validating its content is
// complete and belongs to the execution's center. It runs under the
// transactional policy: either every mutation lands or none do.
type PublishingAgent struct {
	validator *validation.ContextValidator
}

// NewPublishingAgent creates the content-publishing agent.
func NewPublishingAgent() *PublishingAgent {
	return &PublishingAgent{
		validator: validation.MustContextValidator("content_publishing", publishingContextSchema),
	}
}

func (a *PublishingAgent) Type() schema.AgentType { return schema.AgentTypeContentPublishing }
func (a *PublishingAgent) Name() string           { return "Content Publishing" }
func (a *PublishingAgent) Description() string {
	return "Validates a course's sections, videos and PDFs, then publishes it within its center."
}

func (a *PublishingAgent) Steps() []string {
	return []string{
		StepValidateSections,
		StepValidateVideos,
		StepValidatePDFs,
		StepVerifyCenter,
		StepPublishCourse,
		StepCreateAuditLog,
	}
}

func (a *PublishingAgent) Policy() engine.StepPolicy { return engine.PolicyTransactional }

func (a *PublishingAgent) ValidateContext(input map[string]any) map[string][]string {
	return a.validator.Validate(input)
}

func (a *PublishingAgent) CanExecute(actor schema.Actor) bool {
	return actor.HasPermission(schema.PermCoursePublish)
}

// ResolveTarget loads the course and rejects states the workflow cannot
// publish from. Runs before the execution record is created.
func (a *PublishingAgent) ResolveTarget(ctx context.Context, st store.Store, scopeID int64, input map[string]any) (*engine.Target, error) {
	courseID, ok := coerceInt64(input["course_id"])
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "course_id must be an integer")
	}
	course, err := st.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	switch course.Status {
	case schema.CourseStatusPublished:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "course %d is already published", courseID)
	case schema.CourseStatusArchived:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "course %d is archived", courseID)
	}
	return &engine.Target{Type: "course", ID: course.ID, Entity: course}, nil
}

func (a *PublishingAgent) ExecuteStep(ctx context.Context, st store.Store, sc *engine.StepContext, step string) (map[string]any, error) {
	course := sc.Target.Entity.(*store.Course)

	switch step {
	case StepValidateSections:
		sections, err := st.ListSections(ctx, course.ID)
		if err != nil {
			return nil, err
		}
		if len(sections) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"course %d has no sections", course.ID)
		}
		return map[string]any{"section_count": len(sections)}, nil

	case StepValidateVideos:
		videos, err := st.ListVideos(ctx, course.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			if v.Status != schema.VideoStatusReady {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"video %d is not ready (status %s)", v.ID, v.Status)
			}
		}
		return map[string]any{"video_count": len(videos)}, nil

	case StepValidatePDFs:
		pdfs, err := st.ListPDFs(ctx, course.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range pdfs {
			if p.FilePath == "" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"pdf %d has no file", p.ID)
			}
		}
		return map[string]any{"pdf_count": len(pdfs)}, nil

	case StepVerifyCenter:
		// Defense in depth: the façade already scoped the actor, but a
		// course must never be published across the tenant boundary.
		if course.CenterID != sc.Record.ScopeID {
			return nil, schema.NewErrorf(schema.ErrCodeScopeMismatch,
				"course %d belongs to center %d, not %d", course.ID, course.CenterID, sc.Record.ScopeID)
		}
		return map[string]any{"center_id": course.CenterID}, nil

	case StepPublishCourse:
		previous := course.Status
		if err := st.UpdateCourseStatus(ctx, course.ID,
			string(schema.CourseStatusPublished), string(previous)); err != nil {
			return nil, err
		}
		course.PreviousStatus = previous
		course.Status = schema.CourseStatusPublished
		return map[string]any{"previous_status": string(previous)}, nil

	case StepCreateAuditLog:
		details, _ := json.Marshal(map[string]any{
			"course_id":    course.ID,
			"execution_id": sc.Record.ID,
		})
		if err := st.AppendAuditEntry(ctx, &store.AuditEntry{
			ActorID:      sc.Actor.ID,
			Action:       schema.ActionCoursePublished,
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

func (a *PublishingAgent) Summary(sc *engine.StepContext) map[string]any {
	return nil
}

// Rollback is intentionally nil-returning: every mutation this agent
// makes happens inside the runner's transaction, so there is nothing
// external to compensate.
func (a *PublishingAgent) Rollback(ctx context.Context, st store.Store, sc *engine.StepContext, completed []string) error {
	return nil
}

var _ engine.Agent = (*PublishingAgent)(nil)
