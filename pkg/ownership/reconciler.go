// Package ownership decides, per brand and per entity field, which data
// source is authoritative. Claims on the same field are serialized; a
// write from a non-owning source is held as a conflict, never applied,
// until a human resolves it.
package ownership

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/threadpass/pipeline/pkg/core"
)

// lockStripes bounds memory for per-entity claim serialization. Claims
// on the same entity always hash to the same stripe; distinct entities
// may share one, which only costs needless serialization.
const lockStripes = 128

// casAttempts bounds version compare-and-swap retries against claims
// racing in from another process.
const casAttempts = 3

// Reconciler maintains field-ownership state and executes resolutions
// and promotions against it.
type Reconciler struct {
	store core.OwnershipStore
	locks [lockStripes]sync.Mutex
}

// New creates a reconciler over the given ownership store.
func New(store core.OwnershipStore) *Reconciler {
	return &Reconciler{store: store}
}

func (r *Reconciler) stripe(brandID, entityType, entityID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(brandID))
	h.Write([]byte{0})
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	return &r.locks[h.Sum32()%lockStripes]
}

// ClaimField asks whether src may write one field of one entity.
//
// No existing owner: src becomes the owner and the write proceeds. Same
// owner: the write proceeds as a refresh. Different owner: the stored
// value is untouched, the conflict flag is raised naming the rejected
// source, and the caller gets Granted=false; automatic commits treat
// that as "skip this field".
func (r *Reconciler) ClaimField(ctx context.Context, brandID, entityType, entityID, field string, src core.Source) (core.ClaimResult, error) {
	mu := r.stripe(brandID, entityType, entityID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := r.store.Get(ctx, brandID, entityType, entityID, field)
		if err != nil {
			return core.ClaimResult{}, err
		}

		if rec == nil {
			rec = &core.FieldOwnership{
				BrandID:       brandID,
				EntityType:    entityType,
				EntityID:      entityID,
				FieldName:     field,
				Owner:         src,
				LastWrittenAt: time.Now(),
			}
			if err := r.store.Create(ctx, rec); err != nil {
				// Lost a cross-process race to first write; re-read.
				lastErr = err
				continue
			}
			return core.ClaimResult{Granted: true, Owner: src}, nil
		}

		if rec.Owner == src {
			rec.LastWrittenAt = time.Now()
			if err := r.store.Update(ctx, rec, rec.Version); err != nil {
				if err == core.ErrVersionConflict {
					lastErr = err
					continue
				}
				return core.ClaimResult{}, err
			}
			return core.ClaimResult{Granted: true, Owner: src}, nil
		}

		rec.Conflict = true
		rec.ConflictWith = src
		if err := r.store.Update(ctx, rec, rec.Version); err != nil {
			if err == core.ErrVersionConflict {
				lastErr = err
				continue
			}
			return core.ClaimResult{}, err
		}
		return core.ClaimResult{Granted: false, Owner: rec.Owner}, nil
	}

	return core.ClaimResult{}, fmt.Errorf("claim %s.%s of %s: %w", entityType, field, entityID, lastErr)
}

// ResolveConflict is the explicit, human-triggered resolution: it sets
// the chosen source as owner and clears the conflict flag. The skipped
// value is not replayed; the next sync cycle from the chosen source
// supplies it.
func (r *Reconciler) ResolveConflict(ctx context.Context, brandID, entityType, entityID, field string, chosen core.Source) error {
	mu := r.stripe(brandID, entityType, entityID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.store.Get(ctx, brandID, entityType, entityID, field)
	if err != nil {
		return err
	}
	if rec == nil {
		return core.ErrNotFound
	}
	if !rec.Conflict {
		return core.ErrNoConflict
	}

	rec.Owner = chosen
	rec.Conflict = false
	rec.ConflictWith = ""
	rec.LastWrittenAt = time.Now()
	return r.store.Update(ctx, rec, rec.Version)
}

// ListConflicts returns a brand's unresolved conflicts.
func (r *Reconciler) ListConflicts(ctx context.Context, brandID string) ([]core.FieldOwnership, error) {
	return r.store.ListConflicts(ctx, brandID)
}

// NeedsPromotion reports whether any of the entity's fields are owned by
// an integration source other than newPrimary. Manually-owned fields
// never count.
func (r *Reconciler) NeedsPromotion(ctx context.Context, brandID, entityType, entityID string, newPrimary core.Source) (bool, error) {
	recs, err := r.store.ListByEntity(ctx, brandID, entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if _, integration := rec.Owner.Integration(); integration && rec.Owner != newPrimary {
			return true, nil
		}
	}
	return false, nil
}

// PromoteEntity reassigns every integration-owned field of one entity to
// the new primary source, clearing conflict flags raised by the old
// owner. Manually-entered fields are untouched. Returns how many fields
// changed owner; re-running on an already-promoted entity changes none.
func (r *Reconciler) PromoteEntity(ctx context.Context, brandID, entityType, entityID string, newPrimary core.Source) (int, error) {
	mu := r.stripe(brandID, entityType, entityID)
	mu.Lock()
	defer mu.Unlock()

	recs, err := r.store.ListByEntity(ctx, brandID, entityType, entityID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range recs {
		rec := recs[i]
		_, integration := rec.Owner.Integration()
		if !integration || rec.Owner == newPrimary {
			continue
		}
		rec.Owner = newPrimary
		rec.Conflict = false
		rec.ConflictWith = ""
		rec.LastWrittenAt = time.Now()
		if err := r.store.Update(ctx, &rec, rec.Version); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// DropEntity removes ownership records when the entity itself is
// deleted from the catalog.
func (r *Reconciler) DropEntity(ctx context.Context, brandID, entityType, entityID string) error {
	return r.store.DeleteByEntity(ctx, brandID, entityType, entityID)
}
