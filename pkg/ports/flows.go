package ports

import (
	"context"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
)

// FlowRecord is a persisted flow definition with versioning metadata.
type FlowRecord struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Version   int                `json:"version"`
	Published bool               `json:"published"`
	Config    *domain.FlowConfig `json:"config"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// FlowRepository persists flow definitions for the CRUD surface. The
// engine core never reads from it; sessions carry their own flow copy.
type FlowRepository interface {
	List(ctx context.Context) ([]FlowRecord, error)
	Get(ctx context.Context, id string) (*FlowRecord, error)
	Create(ctx context.Context, name string, cfg *domain.FlowConfig) (*FlowRecord, error)
	Update(ctx context.Context, id string, cfg *domain.FlowConfig) (*FlowRecord, error)
	Delete(ctx context.Context, id string) error
	Publish(ctx context.Context, id string) (*FlowRecord, error)
	Versions(ctx context.Context, id string) ([]FlowRecord, error)
}
