package enrollment

import (
	"context"

	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Outcome classifies one enrollment attempt. A typed outcome replaces
// message inspection: callers branch on the kind, never on error text.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeAlreadyEnrolled
	OutcomeRejected
)

// Result is the outcome of one Enroll call. Enrollment is set only when
// the outcome is OutcomeCreated; Reason only for OutcomeRejected.
type Result struct {
	Outcome    Outcome
	Enrollment *store.Enrollment
	Reason     string
}

// Creator creates enrollments one student at a time. Implementations
// return an error only for infrastructure failures; business rejections
// come back as OutcomeRejected results.
type Creator interface {
	Enroll(ctx context.Context, courseID, studentID, actorID int64) (Result, error)
}

// Notifier delivers enrollment notifications. Delivery is an external
// concern; the engine only guarantees it never fails a workflow.
type Notifier interface {
	SendEnrollmentNotification(ctx context.Context, e *store.Enrollment) error
}

// StoreCreator is the store-backed Creator.
type StoreCreator struct {
	st store.Store
}

// NewStoreCreator creates a Creator over the given store.
func NewStoreCreator(st store.Store) *StoreCreator {
	return &StoreCreator{st: st}
}

// Enroll creates an active enrollment, classifying an existing active
// (student, course) pair as OutcomeAlreadyEnrolled.
func (c *StoreCreator) Enroll(ctx context.Context, courseID, studentID, actorID int64) (Result, error) {
	_, err := c.st.GetActiveEnrollment(ctx, courseID, studentID)
	if err == nil {
		return Result{Outcome: OutcomeAlreadyEnrolled}, nil
	}
	if schema.CodeOf(err) != schema.ErrCodeNotFound {
		return Result{}, err
	}

	e := &store.Enrollment{
		CourseID:   courseID,
		StudentID:  studentID,
		Status:     schema.EnrollmentStatusActive,
		EnrolledBy: actorID,
	}
	if err := c.st.CreateEnrollment(ctx, e); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeCreated, Enrollment: e}, nil
}

var _ Creator = (*StoreCreator)(nil)
