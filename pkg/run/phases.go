package run

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/rowproc"
	"github.com/threadpass/pipeline/pkg/security"
	"github.com/threadpass/pipeline/pkg/source"
)

// externalHandleAttr is the attribute integrations store their own
// product handle under; promotion uses it to re-derive grouping.
const externalHandleAttr = "external_handle"

// Advance drives a leased job as far as it can go in one invocation.
// Called only by the worker goroutine holding the lease, which keeps the
// job single-writer.
func (o *Orchestrator) Advance(ctx context.Context, job *core.Job, workerID string) {
	log := o.logger.With(
		zap.String("job_id", job.ID),
		zap.String("brand_id", job.BrandID),
		zap.String("kind", string(job.Kind)),
	)

	if job.CancelRequested {
		o.finishCancelled(ctx, job, workerID, log)
		return
	}

	switch job.Status {
	case core.StatusPending:
		if err := o.setStatus(ctx, job, workerID, core.StatusValidating, ""); err != nil {
			log.Error("failed to enter validation", zap.Error(err))
			return
		}
		o.publish(job)
		o.runValidate(ctx, job, workerID, log)
	case core.StatusValidating:
		// Reclaimed from a stale lease; validation has no side effects,
		// so it restarts from the top.
		o.runValidate(ctx, job, workerID, log)
	case core.StatusCommitting:
		o.runCommit(ctx, job, workerID, log)
	default:
		log.Warn("advance called in non-runnable status", zap.String("status", string(job.Status)))
	}
}

func (o *Orchestrator) runValidate(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	switch job.Kind {
	case core.KindImport:
		o.validateImport(ctx, job, workerID, log)
	case core.KindExport:
		o.planExport(ctx, job, workerID, log)
	case core.KindPromotion:
		o.planPromotion(ctx, job, workerID, log)
	}
}

func (o *Orchestrator) runCommit(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	switch job.Kind {
	case core.KindImport:
		o.commitImport(ctx, job, workerID, log)
	case core.KindExport:
		o.commitExport(ctx, job, workerID, log)
	case core.KindPromotion:
		o.commitPromotion(ctx, job, workerID, log)
	}
}

// --- import ---

func (o *Orchestrator) validateImport(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	src := o.rowSource(job.ID)
	if src == nil {
		o.failJob(ctx, job, workerID, "input source is no longer available; resubmit the job", "source_lost", log)
		return
	}

	total := src.Total()
	if err := o.resetPhase(ctx, job, workerID, total); err != nil {
		o.failJob(ctx, job, workerID, "could not initialize validation", "storage", log)
		return
	}
	snap, err := o.snapshot(ctx, job.BrandID)
	if err != nil {
		o.failJob(ctx, job, workerID, "could not load catalog reference data", "storage", log)
		return
	}
	if err := src.Reset(); err != nil {
		o.failJob(ctx, job, workerID, fmt.Sprintf("source rewind failed: %v", err), "source", log)
		return
	}

	seen := make(map[string]int)
	var pending []core.RowFailure
	stored := 0
	inChunk := 0

	for {
		row, ok, err := o.nextRow(ctx, src)
		if err != nil {
			o.failJob(ctx, job, workerID, fmt.Sprintf("reading source failed: %v", err), "source", log)
			return
		}
		if !ok {
			break
		}

		o.noteDuplicate(job, row, seen, &pending, &stored)

		errs := o.proc.Validate(row, snap)
		job.Processed++
		if len(errs) > 0 {
			job.Failed++
			outcome := core.RowOutcome{Index: row.Index, Kind: core.OutcomeFailed, Errors: errs}
			appendCapped(&pending, &stored, outcome.Failures(job.ID)...)
		}
		job.Checkpoint = row.Index

		inChunk++
		if inChunk >= o.cfg.ChunkSize {
			inChunk = 0
			cancelled, err := o.flushChunk(ctx, job, workerID, &pending)
			if err != nil {
				o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
				return
			}
			if cancelled {
				o.finishCancelled(ctx, job, workerID, log)
				return
			}
		}
	}

	if _, err := o.flushChunk(ctx, job, workerID, &pending); err != nil {
		o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
		return
	}

	msg := fmt.Sprintf("validated %d rows, %d failed", job.Processed, job.Failed)
	o.finishValidated(ctx, job, workerID, msg, log)
}

func (o *Orchestrator) commitImport(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	src := o.rowSource(job.ID)
	if src == nil {
		o.failJob(ctx, job, workerID, "input source is no longer available; resubmit the job", "source_lost", log)
		return
	}

	// A fresh commit clears the validation-phase counters and failure
	// list; a checkpoint resume keeps what earlier chunks recorded.
	if job.Checkpoint == 0 {
		if err := o.resetPhase(ctx, job, workerID, src.Total()); err != nil {
			o.failJob(ctx, job, workerID, "could not initialize commit", "storage", log)
			return
		}
	}
	snap, err := o.snapshot(ctx, job.BrandID)
	if err != nil {
		o.failJob(ctx, job, workerID, "could not load catalog reference data", "storage", log)
		return
	}
	if err := src.Reset(); err != nil {
		o.failJob(ctx, job, workerID, fmt.Sprintf("source rewind failed: %v", err), "source", log)
		return
	}

	seen := make(map[string]int)
	var pending []core.RowFailure
	stored := job.Failed // approximation of entries already persisted on resume
	inChunk := 0

	for {
		row, ok, err := o.nextRow(ctx, src)
		if err != nil {
			o.failJob(ctx, job, workerID, fmt.Sprintf("reading source failed: %v", err), "source", log)
			return
		}
		if !ok {
			break
		}

		// Rows at or before the checkpoint already committed in a
		// previous run; they still feed duplicate detection.
		if row.Index <= job.Checkpoint {
			if upid := strings.TrimSpace(row.Get(rowproc.ColUPID)); upid != "" {
				seen[upid] = row.Index
			}
			continue
		}

		o.noteDuplicate(job, row, seen, &pending, &stored)

		var outcome core.RowOutcome
		err = retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
			var commitErr error
			outcome, commitErr = o.proc.Commit(c, job.BrandID, job.ActingSource, row, snap)
			return commitErr
		})
		if err != nil {
			o.failJob(ctx, job, workerID, "catalog storage unavailable during commit", "storage", log)
			return
		}

		job.Processed++
		switch outcome.Kind {
		case core.OutcomeCreated:
			job.Created++
		case core.OutcomeUpdated:
			job.Updated++
		case core.OutcomeSkipped:
			job.Skipped++
		case core.OutcomeFailed:
			job.Failed++
		}
		appendCapped(&pending, &stored, outcome.Failures(job.ID)...)
		for _, field := range outcome.SkippedFields {
			appendCapped(&pending, &stored, core.RowFailure{
				JobID:    job.ID,
				RowIndex: row.Index,
				Column:   field,
				Message:  fmt.Sprintf("field %q is owned by another source; value held for conflict resolution", field),
				Kind:     core.FailureConflict,
				Warning:  true,
			})
		}
		job.Checkpoint = row.Index

		inChunk++
		if inChunk >= o.cfg.ChunkSize {
			inChunk = 0
			cancelled, err := o.flushChunk(ctx, job, workerID, &pending)
			if err != nil {
				o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
				return
			}
			if cancelled {
				o.finishCancelled(ctx, job, workerID, log)
				return
			}
		}
	}

	if _, err := o.flushChunk(ctx, job, workerID, &pending); err != nil {
		o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
		return
	}

	msg := fmt.Sprintf("imported %d rows: %d created, %d updated, %d failed",
		job.Processed, job.Created, job.Updated, job.Failed)
	o.completeJob(ctx, job, workerID, msg, log)
}

// --- export ---

func (o *Orchestrator) planExport(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	var total int
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var countErr error
		total, countErr = o.catalog.CountProducts(c, job.BrandID)
		return countErr
	})
	if err != nil {
		o.failJob(ctx, job, workerID, "could not count catalog products", "storage", log)
		return
	}
	if err := o.resetPhase(ctx, job, workerID, total); err != nil {
		o.failJob(ctx, job, workerID, "could not initialize export", "storage", log)
		return
	}

	// Nothing for the brand to review on an export; it self-approves.
	o.finishValidated(ctx, job, workerID, fmt.Sprintf("%d products to export", total), log)
	o.selfApprove(ctx, job, log)
}

func (o *Orchestrator) commitExport(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	sink := o.rowSink(job.ID)
	if sink == nil {
		o.failJob(ctx, job, workerID, "export sink is no longer available; resubmit the job", "sink_lost", log)
		return
	}

	offset := job.Checkpoint
	var pending []core.RowFailure

	for {
		products, err := o.listProducts(ctx, job.BrandID, offset, o.cfg.ChunkSize)
		if err != nil {
			o.failJob(ctx, job, workerID, "listing catalog products failed", "storage", log)
			return
		}
		if len(products) == 0 {
			break
		}

		for i, p := range products {
			rows, err := o.exportRows(ctx, p, offset+i+1)
			if err != nil {
				o.failJob(ctx, job, workerID, "loading product details failed", "storage", log)
				return
			}
			for _, row := range rows {
				err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
					return sink.Write(c, row)
				})
				if err != nil {
					o.failJob(ctx, job, workerID, "export sink rejected rows", "sink", log)
					return
				}
			}
			job.Processed++
		}

		offset += len(products)
		job.Checkpoint = offset

		cancelled, err := o.flushChunk(ctx, job, workerID, &pending)
		if err != nil {
			o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
			return
		}
		if cancelled {
			o.finishCancelled(ctx, job, workerID, log)
			return
		}
		if len(products) < o.cfg.ChunkSize {
			break
		}
	}

	o.completeJob(ctx, job, workerID, fmt.Sprintf("exported %d products", job.Processed), log)
}

// exportRows flattens one product into sink rows, one per variant, or a
// single row for a variant-less product.
func (o *Orchestrator) exportRows(ctx context.Context, p *catalog.Product, ordinal int) ([]core.Row, error) {
	var attrs []catalog.Attribute
	var variants []*catalog.Variant
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var loadErr error
		attrs, loadErr = o.catalog.GetAttributes(c, p.ID)
		if loadErr != nil {
			return loadErr
		}
		variants, loadErr = o.catalog.ListVariants(c, p.ID)
		return loadErr
	})
	if err != nil {
		return nil, err
	}

	base := map[string]string{
		rowproc.ColProductName:  p.Name,
		rowproc.ColUPID:         p.UPID,
		rowproc.ColDescription:  p.Description,
		rowproc.ColCategory:     p.Category,
		rowproc.ColSeason:       p.Season,
		rowproc.ColPrimaryImage: p.PrimaryImageURL,
	}
	for _, a := range attrs {
		switch core.ValueKind(a.Kind) {
		case core.KindString:
			base[a.Name] = a.StrVal
		case core.KindFloat:
			base[a.Name] = fmt.Sprintf("%g", a.FloatVal)
		case core.KindInt:
			base[a.Name] = fmt.Sprintf("%d", a.IntVal)
		case core.KindBool:
			base[a.Name] = fmt.Sprintf("%t", a.BoolVal)
		}
	}

	if len(variants) == 0 {
		return []core.Row{{Index: ordinal, Fields: base}}, nil
	}

	rows := make([]core.Row, 0, len(variants))
	for _, v := range variants {
		fields := make(map[string]string, len(base)+4)
		for k, val := range base {
			fields[k] = val
		}
		fields[rowproc.ColSKU] = v.SKU
		fields[rowproc.ColColor] = v.Color
		fields[rowproc.ColSize] = v.Size
		fields[rowproc.ColVariantImage] = v.ImageURL
		rows = append(rows, core.Row{Index: ordinal, Fields: fields})
	}
	return rows, nil
}

// --- promotion ---

func (o *Orchestrator) planPromotion(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	newPrimary := job.ActingSource
	needed := 0
	offset := 0

	for {
		products, err := o.listProducts(ctx, job.BrandID, offset, o.cfg.ChunkSize)
		if err != nil {
			o.failJob(ctx, job, workerID, "listing catalog products failed", "storage", log)
			return
		}
		if len(products) == 0 {
			break
		}
		for _, p := range products {
			needs, err := o.promotionNeeded(ctx, job.BrandID, p, newPrimary)
			if err != nil {
				o.failJob(ctx, job, workerID, "reading ownership records failed", "storage", log)
				return
			}
			if needs {
				needed++
			}
		}
		offset += len(products)

		// Keeps the lease alive and observes cancellation during the scan.
		fresh, err := o.saveProgress(ctx, job, workerID)
		if err != nil {
			o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
			return
		}
		if fresh.CancelRequested {
			o.finishCancelled(ctx, job, workerID, log)
			return
		}
		if len(products) < o.cfg.ChunkSize {
			break
		}
	}

	if err := o.resetPhase(ctx, job, workerID, needed); err != nil {
		o.failJob(ctx, job, workerID, "could not initialize promotion", "storage", log)
		return
	}

	o.finishValidated(ctx, job, workerID, fmt.Sprintf("%d products to promote", needed), log)
	o.selfApprove(ctx, job, log)
}

func (o *Orchestrator) commitPromotion(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	newPrimary := job.ActingSource
	offset := job.Checkpoint
	var pending []core.RowFailure

	for {
		products, err := o.listProducts(ctx, job.BrandID, offset, o.cfg.ChunkSize)
		if err != nil {
			o.failJob(ctx, job, workerID, "listing catalog products failed", "storage", log)
			return
		}
		if len(products) == 0 {
			break
		}

		for _, p := range products {
			needs, err := o.promotionNeeded(ctx, job.BrandID, p, newPrimary)
			if err != nil {
				o.failJob(ctx, job, workerID, "reading ownership records failed", "storage", log)
				return
			}
			if !needs {
				continue
			}
			if err := o.promoteProduct(ctx, job.BrandID, p, newPrimary); err != nil {
				o.failJob(ctx, job, workerID, "promoting product failed", "storage", log)
				return
			}
			job.Processed++
			job.Updated++
			// The plan counted entities needing work at scan time;
			// claims landing since then can push past it.
			if job.Processed > job.Total {
				job.Total = job.Processed
			}
		}

		offset += len(products)
		job.Checkpoint = offset

		cancelled, err := o.flushChunk(ctx, job, workerID, &pending)
		if err != nil {
			o.failJob(ctx, job, workerID, "persisting progress failed", "storage", log)
			return
		}
		if cancelled {
			o.finishCancelled(ctx, job, workerID, log)
			return
		}
		if len(products) < o.cfg.ChunkSize {
			break
		}
	}

	msg := fmt.Sprintf("promoted %d products to %s", job.Updated, newPrimary)
	o.completeJob(ctx, job, workerID, msg, log)
}

// promotionNeeded reports whether the product still reflects a previous
// primary: grouping derived from a different integration, or any field
// owned by a different integration. Manual-only products never qualify.
func (o *Orchestrator) promotionNeeded(ctx context.Context, brandID string, p *catalog.Product, newPrimary core.Source) (bool, error) {
	gs := core.Source(p.GroupSource)
	if _, isIntegration := gs.Integration(); isIntegration && gs != newPrimary {
		return true, nil
	}
	var needs bool
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var checkErr error
		needs, checkErr = o.owners.NeedsPromotion(c, brandID, rowproc.EntityProduct, p.UPID, newPrimary)
		return checkErr
	})
	return needs, err
}

// promoteProduct reassigns the product's integration-owned fields to the
// new primary and re-derives its grouping from the primary's structure:
// the integration-supplied external handle when present, the UPID
// otherwise. Manual fields stay untouched.
func (o *Orchestrator) promoteProduct(ctx context.Context, brandID string, p *catalog.Product, newPrimary core.Source) error {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		_, promoteErr := o.owners.PromoteEntity(c, brandID, rowproc.EntityProduct, p.UPID, newPrimary)
		return promoteErr
	})
	if err != nil {
		return err
	}

	var attrs []catalog.Attribute
	err = retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var loadErr error
		attrs, loadErr = o.catalog.GetAttributes(c, p.ID)
		return loadErr
	})
	if err != nil {
		return err
	}

	groupKey := p.UPID
	for _, a := range attrs {
		if a.Name == externalHandleAttr && a.StrVal != "" {
			groupKey = a.StrVal
			break
		}
	}

	return retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		current := p
		for {
			current.GroupKey = groupKey
			current.GroupSource = string(newPrimary)
			err := o.catalog.UpdateProduct(c, current, current.Version)
			if err != core.ErrVersionConflict {
				return err
			}
			fresh, getErr := o.catalog.GetProductByUPID(c, p.BrandID, p.UPID)
			if getErr != nil {
				return getErr
			}
			if fresh == nil {
				return nil // deleted underneath us; nothing to promote
			}
			current = fresh
		}
	})
}

// --- shared helpers ---

func (o *Orchestrator) nextRow(ctx context.Context, src source.RowSource) (core.Row, bool, error) {
	var row core.Row
	var ok bool
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var nextErr error
		row, ok, nextErr = src.Next(c)
		return nextErr
	})
	return row, ok, err
}

// noteDuplicate flags a repeated identifying key within one job. The
// later row wins; the warning points at it.
func (o *Orchestrator) noteDuplicate(job *core.Job, row core.Row, seen map[string]int, pending *[]core.RowFailure, stored *int) {
	upid := strings.TrimSpace(row.Get(rowproc.ColUPID))
	if upid == "" {
		return
	}
	if prev, ok := seen[upid]; ok {
		appendCapped(pending, stored, core.RowFailure{
			JobID:    job.ID,
			RowIndex: row.Index,
			Column:   rowproc.ColUPID,
			Message:  fmt.Sprintf("upid %q also appears at row %d; this row wins", upid, prev),
			Kind:     core.FailureDuplicate,
			Warning:  true,
		})
	}
	seen[upid] = row.Index
}

func appendCapped(pending *[]core.RowFailure, stored *int, failures ...core.RowFailure) {
	for _, f := range failures {
		if *stored >= security.MaxRowFailures {
			return
		}
		*pending = append(*pending, f)
		*stored++
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, job *core.Job, workerID string, status core.JobStatus, message string) error {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.SetStatus(c, job.ID, workerID, status, message)
	})
	if err != nil {
		return err
	}
	job.Status = status
	if message != "" {
		job.Message = message
	}
	return nil
}

func (o *Orchestrator) resetPhase(ctx context.Context, job *core.Job, workerID string, total int) error {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.ResetPhase(c, job.ID, workerID, total)
	})
	if err != nil {
		return err
	}
	job.Total = total
	job.Processed, job.Created, job.Updated, job.Skipped, job.Failed = 0, 0, 0, 0, 0
	job.Checkpoint = 0
	return nil
}

func (o *Orchestrator) snapshot(ctx context.Context, brandID string) (*catalog.Snapshot, error) {
	var snap *catalog.Snapshot
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var snapErr error
		snap, snapErr = o.catalog.Snapshot(c, brandID)
		return snapErr
	})
	return snap, err
}

func (o *Orchestrator) listProducts(ctx context.Context, brandID string, offset, limit int) ([]*catalog.Product, error) {
	var products []*catalog.Product
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var listErr error
		products, listErr = o.catalog.ListProducts(c, brandID, offset, limit)
		return listErr
	})
	return products, err
}

func (o *Orchestrator) saveProgress(ctx context.Context, job *core.Job, workerID string) (*core.Job, error) {
	var fresh *core.Job
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		var saveErr error
		fresh, saveErr = o.jobs.SaveProgress(c, job, workerID)
		return saveErr
	})
	return fresh, err
}

// flushChunk persists counters, checkpoint, and accumulated failures,
// publishes a progress event, and reports whether cancellation was
// requested meanwhile.
func (o *Orchestrator) flushChunk(ctx context.Context, job *core.Job, workerID string, pending *[]core.RowFailure) (bool, error) {
	if len(*pending) > 0 {
		failures := *pending
		err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
			return o.jobs.AppendFailures(c, failures)
		})
		if err != nil {
			return false, err
		}
		*pending = nil
	}

	fresh, err := o.saveProgress(ctx, job, workerID)
	if err != nil {
		return false, err
	}
	o.publish(job)
	return fresh.CancelRequested, nil
}

func (o *Orchestrator) finishValidated(ctx context.Context, job *core.Job, workerID, message string, log *zap.Logger) {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.Finish(c, job.ID, workerID, core.StatusValidated, message, "")
	})
	if err != nil {
		log.Error("failed to finish validation", zap.Error(err))
		return
	}
	job.Status = core.StatusValidated
	job.Message = message
	o.publish(job)
	log.Info("validation finished",
		zap.Int("processed", job.Processed),
		zap.Int("failed", job.Failed),
	)
}

// selfApprove moves export and promotion jobs straight to committing;
// there is nothing for the brand to review between their phases.
func (o *Orchestrator) selfApprove(ctx context.Context, job *core.Job, log *zap.Logger) {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.Approve(c, job.BrandID, job.ID)
	})
	if err != nil {
		log.Error("self-approval failed", zap.Error(err))
	}
}

func (o *Orchestrator) completeJob(ctx context.Context, job *core.Job, workerID, message string, log *zap.Logger) {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.Finish(c, job.ID, workerID, core.StatusCompleted, message, "")
	})
	if err != nil {
		log.Error("failed to complete job", zap.Error(err))
		return
	}
	job.Status = core.StatusCompleted
	job.Message = message
	o.publish(job)
	o.release(job.ID)

	if job.Kind != core.KindExport {
		o.notifier.CatalogChanged(ctx, job.BrandID)
	}

	log.Info("job completed",
		zap.Int("processed", job.Processed),
		zap.Int("created", job.Created),
		zap.Int("updated", job.Updated),
		zap.Int("failed", job.Failed),
	)
}

func (o *Orchestrator) failJob(ctx context.Context, job *core.Job, workerID, message, errorKind string, log *zap.Logger) {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.Finish(c, job.ID, workerID, core.StatusFailed, message, errorKind)
	})
	if err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
		return
	}
	job.Status = core.StatusFailed
	job.Message = message
	job.ErrorKind = errorKind
	o.publish(job)
	o.release(job.ID)
	log.Warn("job failed", zap.String("error_kind", errorKind), zap.String("message", message))
}

func (o *Orchestrator) finishCancelled(ctx context.Context, job *core.Job, workerID string, log *zap.Logger) {
	err := retryWithBackoff(ctx, o.cfg.Retry, func(c context.Context) error {
		return o.jobs.Finish(c, job.ID, workerID, core.StatusCancelled, "cancelled by request", "")
	})
	if err != nil {
		log.Error("failed to mark job cancelled", zap.Error(err))
		return
	}
	job.Status = core.StatusCancelled
	job.Message = "cancelled by request"
	o.publish(job)
	o.release(job.ID)
	log.Info("job cancelled", zap.Int("processed", job.Processed))
}
