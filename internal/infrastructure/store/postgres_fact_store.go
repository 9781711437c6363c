// Package store implements the Fact Store (C3) against Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/saan-system/uprl-core/internal/domain"
)

// versionConflictConstraints names the unique indexes added in
// migration 000007 that back the scope lock: a write that reaches one
// of these despite holding the scope lock means a second writer raced
// past it (e.g. a misconfigured second Core instance), not a bad event.
var versionConflictConstraints = map[string]domain.VersionFamily{
	"uq_payment_timeline_scope_version":  domain.FamilyPayment,
	"uq_supplier_timeline_scope_version": domain.FamilySupplier,
	"uq_refund_timeline_scope_version":   domain.FamilyRefund,
}

// asVersionConflict translates a unique-violation on a version-scope
// index into a domain.VersionConflictError, leaving every other error
// (including unrelated constraint violations) untouched.
func asVersionConflict(scopeKey string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if pqErr.Code != "23505" {
		return err
	}
	if family, ok := versionConflictConstraints[pqErr.Constraint]; ok {
		return &domain.VersionConflictError{Family: string(family), ScopeKey: scopeKey}
	}
	return err
}

// PostgresFactStore implements domain.FactStore over a single
// append-only schema (§4.3): one table per fact kind, idempotent
// appends keyed by primary key, and scoped range reads via the
// secondary indexes declared in the migrations.
type PostgresFactStore struct {
	db *sqlx.DB
}

func NewPostgresFactStore(db *sqlx.DB) domain.FactStore {
	return &PostgresFactStore{db: db}
}

// pricingComponentRow mirrors domain.PricingComponentFact with
// dimensions stored as JSONB, since sqlx cannot scan a Go map
// directly from a jsonb column.
type pricingComponentRow struct {
	domain.PricingComponentFact
	DimensionsJSON []byte `db:"dimensions"`
}

func (r *pricingComponentRow) toDomain() (domain.PricingComponentFact, error) {
	out := r.PricingComponentFact
	if len(r.DimensionsJSON) > 0 {
		if err := json.Unmarshal(r.DimensionsJSON, &out.Dimensions); err != nil {
			return out, fmt.Errorf("decoding dimensions: %w", err)
		}
	}
	return out, nil
}

// scopeKeySep mirrors internal/ingest's composite scope key encoding
// for the Supplier and Refund families (§4.2): the Version Registry
// only ever hands this store one opaque string per scope, so the
// boundaries must round-trip exactly what the pipeline joined.
const scopeKeySep = "\x1f"

func supplierScopeKey(orderID, orderDetailID, supplierReferenceID, instanceKey string) string {
	return strings.Join([]string{orderID, orderDetailID, supplierReferenceID, instanceKey}, scopeKeySep)
}

func (s *PostgresFactStore) MaxVersion(ctx context.Context, family domain.VersionFamily, scopeKey string) (int, error) {
	var query string
	var args []interface{}

	switch family {
	case domain.FamilyPricing:
		query = `SELECT COALESCE(MAX(version), 0) FROM pricing_component_facts WHERE order_id = $1`
		args = []interface{}{scopeKey}
	case domain.FamilyPayment:
		query = `SELECT COALESCE(MAX(timeline_version), 0) FROM payment_timeline_facts WHERE order_id = $1`
		args = []interface{}{scopeKey}
	case domain.FamilySupplier:
		parts := strings.Split(scopeKey, scopeKeySep)
		if len(parts) != 4 {
			return 0, fmt.Errorf("malformed supplier scope key %q", scopeKey)
		}
		query = `
			SELECT COALESCE(MAX(supplier_timeline_version), 0)
			FROM supplier_timeline_facts
			WHERE order_id = $1 AND order_detail_id = $2 AND supplier_reference_id = $3
			  AND COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__') = $4
		`
		args = []interface{}{parts[0], parts[1], parts[2], parts[3]}
	case domain.FamilyRefund:
		parts := strings.Split(scopeKey, scopeKeySep)
		if len(parts) != 2 {
			return 0, fmt.Errorf("malformed refund scope key %q", scopeKey)
		}
		query = `SELECT COALESCE(MAX(refund_timeline_version), 0) FROM refund_timeline_facts WHERE order_id = $1 AND refund_id = $2`
		args = []interface{}{parts[0], parts[1]}
	default:
		return 0, fmt.Errorf("MaxVersion: unsupported family %s", family)
	}

	var max int
	if err := s.db.GetContext(ctx, &max, query, args...); err != nil {
		return 0, fmt.Errorf("reading max version for %s: %w", family, err)
	}
	return max, nil
}

func (s *PostgresFactStore) AppendPricingComponents(ctx context.Context, rows []domain.PricingComponentFact) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning pricing append transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pricing_component_facts
			(component_instance_id, component_semantic_id, order_id, pricing_snapshot_id, version,
			 component_type, canonical_component_type, amount, currency, dimensions, is_refund,
			 refund_of_component_semantic_id, emitted_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (component_instance_id) DO NOTHING
	`
	for _, row := range rows {
		dims, err := json.Marshal(row.Dimensions)
		if err != nil {
			return fmt.Errorf("encoding dimensions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			row.ComponentInstanceID, row.ComponentSemanticID, row.OrderID, row.PricingSnapshotID, row.Version,
			row.ComponentType, row.CanonicalComponentType, row.Amount, row.Currency, dims, row.IsRefund,
			row.RefundOfComponentSemantic, row.EmittedAt, row.IngestedAt,
		); err != nil {
			return fmt.Errorf("appending pricing component: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresFactStore) PricingComponentsByOrder(ctx context.Context, orderID string) ([]domain.PricingComponentFact, error) {
	query := `
		SELECT component_instance_id, component_semantic_id, order_id, pricing_snapshot_id, version,
		       component_type, canonical_component_type, amount, currency, dimensions, is_refund,
		       refund_of_component_semantic_id, emitted_at, ingested_at
		FROM pricing_component_facts
		WHERE order_id = $1
		ORDER BY component_semantic_id, version
	`
	var rows []pricingComponentRow
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading pricing components for order %s: %w", orderID, err)
	}
	return decodePricingRows(rows)
}

func (s *PostgresFactStore) PricingLatest(ctx context.Context, orderID string) ([]domain.PricingComponentFact, error) {
	query := `
		SELECT DISTINCT ON (component_semantic_id)
		       component_instance_id, component_semantic_id, order_id, pricing_snapshot_id, version,
		       component_type, canonical_component_type, amount, currency, dimensions, is_refund,
		       refund_of_component_semantic_id, emitted_at, ingested_at
		FROM pricing_component_facts
		WHERE order_id = $1
		ORDER BY component_semantic_id, version DESC, emitted_at DESC, ingested_at DESC
	`
	var rows []pricingComponentRow
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading latest pricing for order %s: %w", orderID, err)
	}
	return decodePricingRows(rows)
}

func decodePricingRows(rows []pricingComponentRow) ([]domain.PricingComponentFact, error) {
	out := make([]domain.PricingComponentFact, 0, len(rows))
	for i := range rows {
		fact, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, fact)
	}
	return out, nil
}

func (s *PostgresFactStore) AppendPaymentEvent(ctx context.Context, row domain.PaymentTimelineFact) error {
	query := `
		INSERT INTO payment_timeline_facts
			(event_id, order_id, timeline_version, status, payment_method, instrument,
			 authorized_amount, captured_amount, currency, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		row.EventID, row.OrderID, row.TimelineVersion, row.Status, row.PaymentMethod, row.Instrument,
		row.AuthorizedAmount, row.CapturedAmount, row.Currency, row.EmittedAt,
	)
	if err != nil {
		if conflict := asVersionConflict(row.OrderID, err); conflict != err {
			return conflict
		}
		return fmt.Errorf("appending payment event: %w", err)
	}
	return nil
}

func (s *PostgresFactStore) PaymentTimelineByOrder(ctx context.Context, orderID string) ([]domain.PaymentTimelineFact, error) {
	query := `
		SELECT event_id, order_id, timeline_version, status, payment_method, instrument,
		       authorized_amount, captured_amount, currency, emitted_at
		FROM payment_timeline_facts
		WHERE order_id = $1
		ORDER BY timeline_version
	`
	var rows []domain.PaymentTimelineFact
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading payment timeline for order %s: %w", orderID, err)
	}
	return rows, nil
}

func (s *PostgresFactStore) PaymentLatest(ctx context.Context, orderID string) (*domain.PaymentTimelineFact, error) {
	query := `
		SELECT event_id, order_id, timeline_version, status, payment_method, instrument,
		       authorized_amount, captured_amount, currency, emitted_at
		FROM payment_timeline_facts
		WHERE order_id = $1
		ORDER BY timeline_version DESC
		LIMIT 1
	`
	var row domain.PaymentTimelineFact
	if err := s.db.GetContext(ctx, &row, query, orderID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("reading latest payment for order %s: %w", orderID, err)
	}
	return &row, nil
}

func (s *PostgresFactStore) AppendSupplierEvent(ctx context.Context, row domain.SupplierTimelineFact, lines []domain.SupplierPayableLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning supplier append transaction: %w", err)
	}
	defer tx.Rollback()

	timelineQuery := `
		INSERT INTO supplier_timeline_facts
			(event_id, order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
			 supplier_timeline_version, status, amount, amount_basis, currency, fx_context, entity_context, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, timelineQuery,
		row.EventID, row.OrderID, row.OrderDetailID, row.SupplierReferenceID, row.FulfillmentInstanceID,
		row.SupplierTimelineVersion, row.Status, row.Amount, row.AmountBasis, row.Currency,
		row.FXContext, row.EntityContext, row.EmittedAt,
	); err != nil {
		scopeKey := supplierScopeKey(row.OrderID, row.OrderDetailID, row.SupplierReferenceID, row.InstanceKey())
		if conflict := asVersionConflict(scopeKey, err); conflict != err {
			return conflict
		}
		return fmt.Errorf("appending supplier timeline row: %w", err)
	}

	lineQuery := `
		INSERT INTO supplier_payable_lines
			(order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
			 supplier_timeline_version, party_type, party_id, obligation_type, amount, amount_effect, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, lineQuery,
			line.OrderID, line.OrderDetailID, line.SupplierReferenceID, line.FulfillmentInstanceID,
			line.SupplierTimelineVersion, line.PartyType, line.PartyID, line.ObligationType,
			line.Amount, line.AmountEffect, line.Currency,
		); err != nil {
			return fmt.Errorf("appending supplier payable line: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresFactStore) AppendStandaloneLine(ctx context.Context, line domain.SupplierPayableLine) error {
	query := `
		INSERT INTO supplier_payable_lines
			(order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
			 supplier_timeline_version, party_type, party_id, obligation_type, amount, amount_effect, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		line.OrderID, line.OrderDetailID, line.SupplierReferenceID, line.FulfillmentInstanceID,
		line.SupplierTimelineVersion, line.PartyType, line.PartyID, line.ObligationType,
		line.Amount, line.AmountEffect, line.Currency,
	)
	if err != nil {
		return fmt.Errorf("appending standalone payable line: %w", err)
	}
	return nil
}

func (s *PostgresFactStore) InstanceKeys(ctx context.Context, orderID string) ([]domain.SupplierInstanceKey, error) {
	query := `
		SELECT DISTINCT order_detail_id, supplier_reference_id,
		       COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__') AS fulfillment_instance_id
		FROM supplier_timeline_facts
		WHERE order_id = $1
	`
	var rows []domain.SupplierInstanceKey
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading instance keys for order %s: %w", orderID, err)
	}
	return rows, nil
}

func (s *PostgresFactStore) SupplierTimelineByInstance(ctx context.Context, orderID string, key domain.SupplierInstanceKey) ([]domain.SupplierTimelineFact, error) {
	query := `
		SELECT event_id, order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
		       supplier_timeline_version, status, amount, amount_basis, currency, fx_context, entity_context, emitted_at
		FROM supplier_timeline_facts
		WHERE order_id = $1 AND order_detail_id = $2 AND supplier_reference_id = $3
		  AND COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__') = $4
		ORDER BY supplier_timeline_version
	`
	var rows []domain.SupplierTimelineFact
	if err := s.db.SelectContext(ctx, &rows, query, orderID, key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID); err != nil {
		return nil, fmt.Errorf("reading supplier timeline for instance: %w", err)
	}
	return rows, nil
}

func (s *PostgresFactStore) SupplierLatestByInstance(ctx context.Context, orderID string, key domain.SupplierInstanceKey) (*domain.SupplierTimelineFact, error) {
	query := `
		SELECT event_id, order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
		       supplier_timeline_version, status, amount, amount_basis, currency, fx_context, entity_context, emitted_at
		FROM supplier_timeline_facts
		WHERE order_id = $1 AND order_detail_id = $2 AND supplier_reference_id = $3
		  AND COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__') = $4
		ORDER BY supplier_timeline_version DESC
		LIMIT 1
	`
	var row domain.SupplierTimelineFact
	if err := s.db.GetContext(ctx, &row, query, orderID, key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("reading latest supplier timeline for instance: %w", err)
	}
	return &row, nil
}

func (s *PostgresFactStore) PayableLinesByInstance(ctx context.Context, orderID string, key domain.SupplierInstanceKey) ([]domain.SupplierPayableLine, error) {
	query := `
		SELECT line_id, order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
		       supplier_timeline_version, party_type, party_id, obligation_type, amount, amount_effect, currency
		FROM supplier_payable_lines
		WHERE order_id = $1 AND order_detail_id = $2 AND supplier_reference_id = $3
		  AND COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__') = $4
		ORDER BY supplier_timeline_version
	`
	var rows []domain.SupplierPayableLine
	if err := s.db.SelectContext(ctx, &rows, query, orderID, key.OrderDetailID, key.SupplierReferenceID, key.FulfillmentInstanceID); err != nil {
		return nil, fmt.Errorf("reading payable lines for instance: %w", err)
	}
	return rows, nil
}

func (s *PostgresFactStore) SupplierLatestAll(ctx context.Context, orderID string) ([]domain.SupplierTimelineFact, error) {
	query := `
		SELECT DISTINCT ON (order_detail_id, supplier_reference_id, COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__'))
		       event_id, order_id, order_detail_id, supplier_reference_id, fulfillment_instance_id,
		       supplier_timeline_version, status, amount, amount_basis, currency, fx_context, entity_context, emitted_at
		FROM supplier_timeline_facts
		WHERE order_id = $1
		ORDER BY order_detail_id, supplier_reference_id, COALESCE(fulfillment_instance_id, '__BOOKING_LEVEL__'), supplier_timeline_version DESC
	`
	var rows []domain.SupplierTimelineFact
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading latest supplier rows for order %s: %w", orderID, err)
	}
	return rows, nil
}

func (s *PostgresFactStore) AppendRefundEvent(ctx context.Context, row domain.RefundTimelineFact) error {
	query := `
		INSERT INTO refund_timeline_facts
			(event_id, order_id, refund_id, refund_timeline_version, status, refund_amount, currency, reason, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		row.EventID, row.OrderID, row.RefundID, row.RefundTimelineVersion, row.Status,
		row.RefundAmount, row.Currency, row.Reason, row.EmittedAt,
	)
	if err != nil {
		scopeKey := strings.Join([]string{row.OrderID, row.RefundID}, scopeKeySep)
		if conflict := asVersionConflict(scopeKey, err); conflict != err {
			return conflict
		}
		return fmt.Errorf("appending refund event: %w", err)
	}
	return nil
}

func (s *PostgresFactStore) RefundTimelineByOrder(ctx context.Context, orderID string) ([]domain.RefundTimelineFact, error) {
	query := `
		SELECT event_id, order_id, refund_id, refund_timeline_version, status, refund_amount, currency, reason, emitted_at
		FROM refund_timeline_facts
		WHERE order_id = $1
		ORDER BY refund_id, refund_timeline_version
	`
	var rows []domain.RefundTimelineFact
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading refund timeline for order %s: %w", orderID, err)
	}
	return rows, nil
}

func (s *PostgresFactStore) RefundLatest(ctx context.Context, orderID string) ([]domain.RefundTimelineFact, error) {
	query := `
		SELECT DISTINCT ON (refund_id)
		       event_id, order_id, refund_id, refund_timeline_version, status, refund_amount, currency, reason, emitted_at
		FROM refund_timeline_facts
		WHERE order_id = $1
		ORDER BY refund_id, refund_timeline_version DESC
	`
	var rows []domain.RefundTimelineFact
	if err := s.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("reading latest refunds for order %s: %w", orderID, err)
	}
	return rows, nil
}

func (s *PostgresFactStore) AppendDLQEntry(ctx context.Context, entry domain.DLQEntry) error {
	query := `
		INSERT INTO dlq_entries (dlq_id, raw_event, error_kind, error_detail, received_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, entry.DLQID, entry.RawEvent, entry.ErrorKind, entry.ErrorDetail, entry.ReceivedAt, entry.RetryCount)
	if err != nil {
		return fmt.Errorf("appending DLQ entry: %w", err)
	}
	return nil
}

func (s *PostgresFactStore) ListDLQ(ctx context.Context, filter domain.DLQFilter) ([]domain.DLQEntry, error) {
	query := `SELECT dlq_id, raw_event, error_kind, error_detail, received_at, retry_count FROM dlq_entries WHERE 1=1`
	args := []interface{}{}
	if filter.ErrorKind != "" {
		args = append(args, filter.ErrorKind)
		query += fmt.Sprintf(" AND error_kind = $%d", len(args))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		query += fmt.Sprintf(" AND raw_event->>'order_id' = $%d", len(args))
	}
	query += " ORDER BY received_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []domain.DLQEntry
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing DLQ entries: %w", err)
	}
	return rows, nil
}

func (s *PostgresFactStore) IncrementRetry(ctx context.Context, dlqID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dlq_entries SET retry_count = retry_count + 1 WHERE dlq_id = $1`, dlqID)
	if err != nil {
		return fmt.Errorf("incrementing DLQ retry count: %w", err)
	}
	return nil
}

func (s *PostgresFactStore) PendingForReplay(ctx context.Context, maxRetries, limit int) ([]domain.DLQEntry, error) {
	query := `
		SELECT dlq_id, raw_event, error_kind, error_detail, received_at, retry_count
		FROM dlq_entries
		WHERE retry_count < $1
		ORDER BY received_at
		LIMIT $2
	`
	var rows []domain.DLQEntry
	if err := s.db.SelectContext(ctx, &rows, query, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("reading DLQ entries pending replay: %w", err)
	}
	return rows, nil
}

// EventAlreadyCommitted checks the family's own table for the given
// event_id. PricingUpdated/RefundIssued events don't carry a stored
// event_id column (component_instance_id is the natural key instead),
// so pricing idempotency is handled by the ON CONFLICT clause in
// AppendPricingComponents and this always reports false for it.
func (s *PostgresFactStore) EventAlreadyCommitted(ctx context.Context, family domain.VersionFamily, eventID string) (bool, error) {
	var table string
	switch family {
	case domain.FamilyPayment:
		table = "payment_timeline_facts"
	case domain.FamilySupplier:
		table = "supplier_timeline_facts"
	case domain.FamilyRefund:
		table = "refund_timeline_facts"
	default:
		return false, nil
	}

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE event_id = $1)`, table)
	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, eventID); err != nil {
		return false, fmt.Errorf("checking idempotency for %s: %w", family, err)
	}
	return exists, nil
}
