package actions

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/storage"
	"github.com/djlord-it/easy-watcher/internal/template"
)

// IndexExecutor stores the execution payload as a document in a named
// partition. Unknown partitions are created with a dynamic mapping.
type IndexExecutor struct {
	backend storage.Backend

	mu      sync.Mutex
	ensured map[string]bool
}

func NewIndexExecutor(backend storage.Backend) *IndexExecutor {
	return &IndexExecutor{backend: backend, ensured: make(map[string]bool)}
}

func (e *IndexExecutor) Type() domain.ActionType { return domain.ActionTypeIndex }

func (e *IndexExecutor) Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult {
	if spec.Index == nil || spec.Index.Partition == "" {
		return domain.Failure(spec, "index action has no partition")
	}

	partition, err := template.Render(spec.Index.Partition, template.Model(ectx))
	if err != nil {
		return domain.Failure(spec, errors.Wrap(err, "render partition").Error())
	}

	docID := ectx.WatchID + "_" + spec.ID + "_" + ectx.Event.ID.String()
	res := domain.ActionResult{
		ID:    spec.ID,
		Type:  spec.Type,
		Index: &domain.IndexResult{Partition: partition, DocumentID: docID},
	}

	if err := e.ensure(ctx, partition); err != nil {
		res.Status = domain.ActionStatusFailure
		res.Reason = err.Error()
		return res
	}

	doc := domain.ClonePayload(ectx.Payload)
	if doc == nil {
		doc = map[string]any{}
	}
	doc["_watch_id"] = ectx.WatchID
	doc["_execution_time"] = ectx.ExecutionTime.UTC().Format(time.RFC3339Nano)

	if err := e.backend.PutDocument(ctx, partition, docID, doc); err != nil {
		res.Status = domain.ActionStatusFailure
		res.Reason = err.Error()
		return res
	}
	res.Status = domain.ActionStatusSuccess
	return res
}

func (e *IndexExecutor) ensure(ctx context.Context, partition string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ensured[partition] {
		return nil
	}
	exists, err := e.backend.PartitionExists(ctx, partition)
	if err != nil {
		return errors.Wrapf(err, "check partition %s", partition)
	}
	if !exists {
		if err := e.backend.CreatePartition(ctx, partition, storage.DynamicMapping()); err != nil && !errors.Is(err, storage.ErrPartitionExists) {
			return errors.Wrapf(err, "create partition %s", partition)
		}
	}
	e.ensured[partition] = true
	return nil
}
