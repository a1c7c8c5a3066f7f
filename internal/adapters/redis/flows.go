package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// FlowRepository persists flow definitions with versioning. The current
// record lives under one key; superseded versions are pushed onto a
// per-flow list.
type FlowRepository struct {
	client *backend.Client
	prefix string
}

// NewFlowRepository creates a repository over an existing client.
func NewFlowRepository(client *backend.Client, prefix string) *FlowRepository {
	if prefix == "" {
		prefix = "convo:"
	}
	return &FlowRepository{client: client, prefix: prefix}
}

func (r *FlowRepository) indexKey() string           { return r.prefix + "flows" }
func (r *FlowRepository) recordKey(id string) string { return r.prefix + "flowrec:" + id }
func (r *FlowRepository) versionsKey(id string) string {
	return r.prefix + "flowver:" + id
}

func (r *FlowRepository) List(ctx context.Context) ([]ports.FlowRecord, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	records := make([]ports.FlowRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err == domain.ErrFlowNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (r *FlowRepository) Get(ctx context.Context, id string) (*ports.FlowRecord, error) {
	val, err := r.client.Get(ctx, r.recordKey(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrFlowNotFound
		}
		return nil, fmt.Errorf("get flow: %w", err)
	}
	var rec ports.FlowRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal flow record: %w", err)
	}
	return &rec, nil
}

func (r *FlowRepository) Create(ctx context.Context, name string, cfg *domain.FlowConfig) (*ports.FlowRecord, error) {
	now := time.Now()
	rec := &ports.FlowRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Version:   1,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.client.SAdd(ctx, r.indexKey(), rec.ID).Err(); err != nil {
		return nil, fmt.Errorf("index flow: %w", err)
	}
	return rec, nil
}

func (r *FlowRepository) Update(ctx context.Context, id string, cfg *domain.FlowConfig) (*ports.FlowRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Archive the superseded version before overwriting.
	previous, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal flow version: %w", err)
	}
	if err := r.client.RPush(ctx, r.versionsKey(id), previous).Err(); err != nil {
		return nil, fmt.Errorf("archive flow version: %w", err)
	}

	rec.Config = cfg
	rec.Version++
	rec.Published = false
	rec.UpdatedAt = time.Now()
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.recordKey(id), r.versionsKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	return nil
}

func (r *FlowRepository) Publish(ctx context.Context, id string) (*ports.FlowRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Published = true
	rec.UpdatedAt = time.Now()
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *FlowRepository) Versions(ctx context.Context, id string) ([]ports.FlowRecord, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.LRange(ctx, r.versionsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list flow versions: %w", err)
	}
	records := make([]ports.FlowRecord, 0, len(raw)+1)
	for _, item := range raw {
		var rec ports.FlowRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal flow version: %w", err)
		}
		records = append(records, rec)
	}
	records = append(records, *current)
	return records, nil
}

func (r *FlowRepository) save(ctx context.Context, rec *ports.FlowRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal flow record: %w", err)
	}
	if err := r.client.Set(ctx, r.recordKey(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save flow record: %w", err)
	}
	return nil
}

var _ ports.FlowRepository = (*FlowRepository)(nil)
