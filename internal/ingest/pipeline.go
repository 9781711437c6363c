package ingest

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/identity"
	"github.com/saan-system/uprl-core/internal/version"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// maxVersionConflictRetries bounds how many times a committed version
// is retried after losing a race at the storage layer (§7
// "VersionConflictError: retry up to 3x with jitter, then DLQ").
const maxVersionConflictRetries = 3

// withVersionConflictRetry retries op while it keeps failing with
// domain.VersionConflictError, with a small jittered backoff between
// attempts, and gives up after maxVersionConflictRetries so the event
// falls through to the DLQ instead of retrying forever.
func (p *Pipeline) withVersionConflictRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		var conflict *domain.VersionConflictError
		if !errors.As(err, &conflict) || attempt >= maxVersionConflictRetries {
			return err
		}
		p.log.WithFields(map[string]interface{}{
			"family": conflict.Family,
			"scope":  conflict.ScopeKey,
			"attempt": attempt + 1,
		}).Warn("version conflict, retrying")

		jitter := time.Duration(rand.Intn(50)+10) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
}

// Pipeline is the Ingestion Pipeline (C4): parse, validate, route,
// normalize, and commit one event at a time, routing anything that
// fails to the Dead Letter Queue instead of blocking later events.
type Pipeline struct {
	store    domain.FactStore
	registry *version.Registry
	log      logger.Logger
}

func NewPipeline(store domain.FactStore, registry *version.Registry, log logger.Logger) *Pipeline {
	return &Pipeline{store: store, registry: registry, log: log}
}

// Process handles one raw event end to end. It never returns an error
// for a malformed or rejected event — those are routed to the DLQ and
// Process returns nil so a Kafka consumer's offset can advance. A
// non-nil return means the DLQ write itself failed, which the caller
// should treat as retryable.
func (p *Pipeline) Process(ctx context.Context, raw []byte) error {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return p.deadLetter(ctx, raw, err)
	}

	if env.EventType == "" || env.OrderID == "" {
		return p.deadLetter(ctx, raw, &domain.ValidationError{Field: "event_type/order_id", Reason: "required"})
	}
	if err := ValidateSchemaVersion(env.SchemaVersion); err != nil {
		return p.deadLetter(ctx, raw, err)
	}

	family, ok := familyFor(env.EventType)
	if !ok && env.EventType != EventPartnerAdjustment {
		return p.deadLetter(ctx, raw, &domain.ValidationError{Field: "event_type", Reason: "unrecognized: " + env.EventType})
	}

	if ok && env.EventID != "" && family != domain.FamilyIssuance {
		dup, err := p.store.EventAlreadyCommitted(ctx, family, env.EventID)
		if err != nil {
			return p.deadLetter(ctx, raw, &domain.StorageError{Op: "EventAlreadyCommitted", Err: err})
		}
		if dup {
			p.log.WithFields(map[string]interface{}{"event_id": env.EventID, "event_type": env.EventType}).Info("duplicate event skipped")
			return nil
		}
	}

	var commitErr error
	switch env.EventType {
	case EventPricingUpdated:
		commitErr = p.commitPricing(ctx, env, false)
	case EventRefundIssued:
		commitErr = p.commitPricing(ctx, env, true)
	case EventPaymentLifecycle:
		commitErr = p.commitPayment(ctx, env)
	case EventSupplierLifecycle:
		commitErr = p.commitSupplier(ctx, env)
	case EventPartnerAdjustment:
		commitErr = p.commitPartnerAdjustment(ctx, env)
	case EventRefundLifecycle:
		commitErr = p.commitRefund(ctx, env)
	default:
		commitErr = &domain.ValidationError{Field: "event_type", Reason: "unrecognized: " + env.EventType}
	}

	if commitErr != nil {
		return p.deadLetter(ctx, raw, commitErr)
	}
	p.log.WithFields(map[string]interface{}{"event_id": env.EventID, "event_type": env.EventType, "order_id": env.OrderID}).Info("event committed")
	return nil
}

func familyFor(eventType string) (domain.VersionFamily, bool) {
	switch eventType {
	case EventPricingUpdated, EventRefundIssued:
		return domain.FamilyPricing, true
	case EventPaymentLifecycle:
		return domain.FamilyPayment, true
	case EventSupplierLifecycle:
		return domain.FamilySupplier, true
	case EventRefundLifecycle:
		return domain.FamilyRefund, true
	case EventPartnerAdjustment:
		// Standalone lines bypass the registry entirely (§4.2); there
		// is no family-scoped idempotency check to run for them.
		return "", false
	default:
		return "", false
	}
}

func (p *Pipeline) commitPricing(ctx context.Context, env *Envelope, isRefund bool) error {
	normalized, err := normalizePricingUpdated(env, isRefund)
	if err != nil {
		return err
	}
	if normalized.warning != "" {
		p.log.WithFields(map[string]interface{}{"order_id": env.OrderID}).Warn(normalized.warning)
	}

	snapshotID := uuid.NewString()
	now := time.Now()

	return p.registry.WithNextVersion(ctx, domain.FamilyPricing, env.OrderID, func(nextVersion int) error {
		rows := normalized.rows
		for i := range rows {
			rows[i].PricingSnapshotID = snapshotID
			rows[i].Version = nextVersion
			rows[i].ComponentInstanceID = identity.InstanceID(rows[i].ComponentSemanticID, snapshotID)
			rows[i].IngestedAt = now
		}
		if err := p.store.AppendPricingComponents(ctx, rows); err != nil {
			return &domain.StorageError{Op: "AppendPricingComponents", Err: err}
		}
		return nil
	})
}

func (p *Pipeline) commitPayment(ctx context.Context, env *Envelope) error {
	row, err := normalizePaymentLifecycle(env)
	if err != nil {
		return err
	}
	row.EventID = env.EventID

	return p.withVersionConflictRetry(ctx, func() error {
		return p.registry.WithNextVersion(ctx, domain.FamilyPayment, env.OrderID, func(nextVersion int) error {
			row.TimelineVersion = nextVersion
			if err := p.store.AppendPaymentEvent(ctx, *row); err != nil {
				return &domain.StorageError{Op: "AppendPaymentEvent", Err: err}
			}
			return nil
		})
	})
}

func (p *Pipeline) commitSupplier(ctx context.Context, env *Envelope) error {
	row, lines, err := normalizeSupplierLifecycle(env)
	if err != nil {
		return err
	}
	row.EventID = env.EventID

	scopeKey := supplierScopeKey(env.OrderID, row.OrderDetailID, row.SupplierReferenceID, row.InstanceKey())

	return p.withVersionConflictRetry(ctx, func() error {
		return p.registry.WithNextVersion(ctx, domain.FamilySupplier, scopeKey, func(nextVersion int) error {
			row.SupplierTimelineVersion = nextVersion
			for i := range lines {
				lines[i].SupplierTimelineVersion = nextVersion
			}
			if err := p.store.AppendSupplierEvent(ctx, *row, lines); err != nil {
				return &domain.StorageError{Op: "AppendSupplierEvent", Err: err}
			}
			return nil
		})
	})
}

func (p *Pipeline) commitPartnerAdjustment(ctx context.Context, env *Envelope) error {
	line, err := normalizePartnerAdjustment(env)
	if err != nil {
		return err
	}
	if err := p.store.AppendStandaloneLine(ctx, *line); err != nil {
		return &domain.StorageError{Op: "AppendStandaloneLine", Err: err}
	}
	return nil
}

func (p *Pipeline) commitRefund(ctx context.Context, env *Envelope) error {
	row, err := normalizeRefundLifecycle(env)
	if err != nil {
		return err
	}
	row.EventID = env.EventID

	scopeKey := strings.Join([]string{env.OrderID, row.RefundID}, scopeKeySep)
	return p.withVersionConflictRetry(ctx, func() error {
		return p.registry.WithNextVersion(ctx, domain.FamilyRefund, scopeKey, func(nextVersion int) error {
			row.RefundTimelineVersion = nextVersion
			if err := p.store.AppendRefundEvent(ctx, *row); err != nil {
				return &domain.StorageError{Op: "AppendRefundEvent", Err: err}
			}
			return nil
		})
	})
}

// scopeKeySep separates composite scope key fields. It must not
// collide with characters the domain actually uses in IDs, so we use
// the ASCII unit separator rather than a printable delimiter like ":".
const scopeKeySep = "\x1f"

func supplierScopeKey(orderID, orderDetailID, supplierReferenceID, instanceKey string) string {
	return strings.Join([]string{orderID, orderDetailID, supplierReferenceID, instanceKey}, scopeKeySep)
}

func (p *Pipeline) deadLetter(ctx context.Context, raw []byte, cause error) error {
	entry := domain.DLQEntry{
		DLQID:       uuid.NewString(),
		RawEvent:    raw,
		ErrorKind:   errorKindOf(cause),
		ErrorDetail: cause.Error(),
		ReceivedAt:  time.Now(),
	}
	p.log.WithFields(map[string]interface{}{
		"dlq_id":     entry.DLQID,
		"error_kind": entry.ErrorKind,
	}).Warn("event routed to dead letter queue")

	if err := p.store.AppendDLQEntry(ctx, entry); err != nil {
		return &domain.StorageError{Op: "AppendDLQEntry", Err: err}
	}
	return nil
}

func errorKindOf(err error) string {
	switch err.(type) {
	case *domain.ValidationError:
		return domain.ErrorKindValidation
	case *domain.IdentityError:
		return domain.ErrorKindIdentity
	case *domain.VersionConflictError:
		return domain.ErrorKindVersionConflict
	case *domain.StorageError:
		return domain.ErrorKindStorage
	case *domain.ProjectionError:
		return domain.ErrorKindProjection
	case *domain.DuplicateEventError:
		return domain.ErrorKindDuplicateEvent
	default:
		return domain.ErrorKindValidation
	}
}
