package ports

import "context"

// ToolWorker executes one named tool. Workers may return an error; the
// executor translates failures (including timeouts) into tool.error
// events after exhausting any configured retries.
type ToolWorker interface {
	Execute(ctx context.Context, sessionID, toolCallID string, args map[string]any) (map[string]any, error)
}

// ToolWorkerFunc adapts a function to the ToolWorker interface.
type ToolWorkerFunc func(ctx context.Context, sessionID, toolCallID string, args map[string]any) (map[string]any, error)

func (f ToolWorkerFunc) Execute(ctx context.Context, sessionID, toolCallID string, args map[string]any) (map[string]any, error) {
	return f(ctx, sessionID, toolCallID, args)
}
