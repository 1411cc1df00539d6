package guard

import (
	"context"
	"strings"
)

type ctxKeyTaskID struct{}

// WithTaskID attaches the conversation/task id used for task-scoped grants
// when a Call leaves TaskID blank.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ctxKeyTaskID{}, strings.TrimSpace(taskID))
}

func TaskIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ctxKeyTaskID{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
