package enrollment

import (
	"context"
	"log/slog"

	"github.com/lumenclass/agentrun/internal/store"
)

// LogNotifier is the default Notifier: it records the notification
// intent and succeeds. Real delivery (mail, push) lives outside the
// engine and plugs in through the Notifier interface.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a Notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendEnrollmentNotification(ctx context.Context, e *store.Enrollment) error {
	n.logger.InfoContext(ctx, "enrollment notification",
		slog.Int64("enrollment_id", e.ID),
		slog.Int64("course_id", e.CourseID),
		slog.Int64("student_id", e.StudentID),
	)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
