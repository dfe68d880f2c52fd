package builtin

import (
	"context"
	"fmt"
	"strings"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

// MemorySearchID is the capability id of the reflection retrieval tool.
const MemorySearchID = "memory_search"

// MemorySearchTool retrieves reflections from past runs so planners can
// reuse earlier lessons.
type MemorySearchTool struct {
	store  ports.ReflectionStore
	logger logging.Logger
}

// NewMemorySearch builds the tool over a reflection store.
func NewMemorySearch(store ports.ReflectionStore, logger logging.Logger) *MemorySearchTool {
	return &MemorySearchTool{store: store, logger: logging.OrNop(logger)}
}

func (t *MemorySearchTool) Descriptor() ports.CapabilityDescriptor {
	return ports.CapabilityDescriptor{
		Kind:        ports.KindTool,
		ID:          MemorySearchID,
		Description: "Search reflections recorded from earlier runs for relevant experience",
		RiskClass:   "safe",
		Idempotent:  true,
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query": {Type: "string", Description: "what to look for"},
				"limit": {Type: "integer", Description: "maximum results (default 5)"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) (*ports.ToolOutput, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	limit := 5
	switch v := args["limit"].(type) {
	case int:
		limit = v
	case float64:
		limit = int(v)
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	results, err := t.store.SearchReflections(ctx, query, limit)
	if err != nil {
		return nil, ports.NewInfrastructureError(fmt.Errorf("reflection search: %w", err))
	}
	if len(results) == 0 {
		return &ports.ToolOutput{
			Content:  "No relevant reflections found.",
			Metadata: map[string]any{"count": 0},
		}, nil
	}

	var sb strings.Builder
	for i, reflection := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, reflection)
	}
	return &ports.ToolOutput{
		Content:  sb.String(),
		Metadata: map[string]any{"count": len(results)},
	}, nil
}
