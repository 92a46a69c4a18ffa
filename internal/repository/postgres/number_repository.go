package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/repository"
)

// NumberRepository implements repository.NumberRepository using PostgreSQL.
type NumberRepository struct {
	db *sqlx.DB
}

// NewNumberRepository constructs a new repository.
func NewNumberRepository(db *sqlx.DB) *NumberRepository {
	return &NumberRepository{db: db}
}

const numberColumns = `id, owner_id, phone_number, country_code, area_code, provider_id,
	status, attempts, last_error, is_active, activated_at, purchased_at, expires_at,
	created_at, updated_at`

// Create inserts a new purchased number.
func (r *NumberRepository) Create(ctx context.Context, number *domain.PurchasedNumber) error {
	q := `INSERT INTO purchased_numbers (
		id, owner_id, phone_number, country_code, area_code, provider_id,
		status, attempts, last_error, is_active, activated_at, purchased_at, expires_at,
		created_at, updated_at
	) VALUES (
		:id, :owner_id, :phone_number, :country_code, :area_code, :provider_id,
		:status, :attempts, :last_error, :is_active, :activated_at, :purchased_at, :expires_at,
		:created_at, :updated_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, numberParams(number)); err != nil {
		return fmt.Errorf("number repo: insert: %w", err)
	}
	return nil
}

// Get fetches a number by id.
func (r *NumberRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PurchasedNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM purchased_numbers WHERE id = $1`

	var record numberRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("number repo: get: %w", err)
	}

	number := record.toDomain()
	return &number, nil
}

// GetByProviderID fetches a number by its provider-assigned id. Used by
// webhook ingestion, which only knows the provider's identifier.
func (r *NumberRepository) GetByProviderID(ctx context.Context, providerID string) (*domain.PurchasedNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM purchased_numbers WHERE provider_id = $1`

	var record numberRecord
	if err := r.db.QueryRowxContext(ctx, q, providerID).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("number repo: get by provider id: %w", err)
	}

	number := record.toDomain()
	return &number, nil
}

// Update persists the provisioning-related fields of a number.
func (r *NumberRepository) Update(ctx context.Context, number *domain.PurchasedNumber) error {
	q := `UPDATE purchased_numbers SET
		provider_id = :provider_id,
		status = :status,
		attempts = :attempts,
		last_error = :last_error,
		is_active = :is_active,
		activated_at = :activated_at,
		expires_at = :expires_at,
		updated_at = :updated_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, numberParams(number))
	if err != nil {
		return fmt.Errorf("number repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("number repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByOwner returns numbers belonging to an owner.
func (r *NumberRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.PurchasedNumber, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + numberColumns + ` FROM purchased_numbers
		WHERE owner_id = $1 ORDER BY purchased_at DESC LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("number repo: list by owner: %w", err)
	}
	defer rows.Close()

	return scanNumbers(rows)
}

// ListByStatus returns numbers filtered by status.
func (r *NumberRepository) ListByStatus(ctx context.Context, status domain.NumberStatus, limit int) ([]*domain.PurchasedNumber, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + numberColumns + ` FROM purchased_numbers
		WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, q, status, limit)
	if err != nil {
		return nil, fmt.Errorf("number repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanNumbers(rows)
}

func scanNumbers(rows *sqlx.Rows) ([]*domain.PurchasedNumber, error) {
	var results []*domain.PurchasedNumber
	for rows.Next() {
		var record numberRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("number repo: scan: %w", err)
		}
		number := record.toDomain()
		results = append(results, &number)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("number repo: rows err: %w", err)
	}
	return results, nil
}

func numberParams(n *domain.PurchasedNumber) map[string]any {
	return map[string]any{
		"id":           n.ID,
		"owner_id":     n.OwnerID,
		"phone_number": n.PhoneNumber,
		"country_code": n.CountryCode,
		"area_code":    n.AreaCode,
		"provider_id":  n.ProviderID,
		"status":       n.Status,
		"attempts":     n.Attempts,
		"last_error":   n.LastError,
		"is_active":    n.IsActive,
		"activated_at": n.ActivatedAt,
		"purchased_at": n.PurchasedAt,
		"expires_at":   n.ExpiresAt,
		"created_at":   n.CreatedAt,
		"updated_at":   n.UpdatedAt,
	}
}

type numberRecord struct {
	ID          uuid.UUID      `db:"id"`
	OwnerID     uuid.UUID      `db:"owner_id"`
	PhoneNumber string         `db:"phone_number"`
	CountryCode string         `db:"country_code"`
	AreaCode    sql.NullString `db:"area_code"`
	ProviderID  sql.NullString `db:"provider_id"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	LastError   sql.NullString `db:"last_error"`
	IsActive    bool           `db:"is_active"`
	ActivatedAt sql.NullTime   `db:"activated_at"`
	PurchasedAt sql.NullTime   `db:"purchased_at"`
	ExpiresAt   sql.NullTime   `db:"expires_at"`
	CreatedAt   sql.NullTime   `db:"created_at"`
	UpdatedAt   sql.NullTime   `db:"updated_at"`
}

func (r numberRecord) toDomain() domain.PurchasedNumber {
	number := domain.PurchasedNumber{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		PhoneNumber: r.PhoneNumber,
		CountryCode: r.CountryCode,
		AreaCode:    r.AreaCode.String,
		Status:      domain.NumberStatus(r.Status),
		Attempts:    r.Attempts,
		IsActive:    r.IsActive,
		PurchasedAt: r.PurchasedAt.Time,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if r.ProviderID.Valid {
		providerID := r.ProviderID.String
		number.ProviderID = &providerID
	}
	if r.LastError.Valid {
		lastError := r.LastError.String
		number.LastError = &lastError
	}
	if r.ActivatedAt.Valid {
		activatedAt := r.ActivatedAt.Time
		number.ActivatedAt = &activatedAt
	}
	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time
		number.ExpiresAt = &expiresAt
	}
	return number
}
