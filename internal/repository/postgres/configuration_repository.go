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

// ConfigurationRepository implements repository.ConfigurationRepository using PostgreSQL.
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository constructs a new repository.
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// Upsert writes the configuration row, replacing any existing one for the number.
func (r *ConfigurationRepository) Upsert(ctx context.Context, cfg *domain.NumberConfiguration) error {
	q := `INSERT INTO number_configurations (
		purchased_number_id, forwarding_type, forwarding_number,
		voicemail_enabled, voicemail_email, call_recording_enabled, updated_at
	) VALUES (
		:purchased_number_id, :forwarding_type, :forwarding_number,
		:voicemail_enabled, :voicemail_email, :call_recording_enabled, :updated_at
	)
	ON CONFLICT (purchased_number_id) DO UPDATE SET
		forwarding_type = EXCLUDED.forwarding_type,
		forwarding_number = EXCLUDED.forwarding_number,
		voicemail_enabled = EXCLUDED.voicemail_enabled,
		voicemail_email = EXCLUDED.voicemail_email,
		call_recording_enabled = EXCLUDED.call_recording_enabled,
		updated_at = EXCLUDED.updated_at`

	params := map[string]any{
		"purchased_number_id":    cfg.NumberID,
		"forwarding_type":        cfg.ForwardingType,
		"forwarding_number":      cfg.ForwardingNumber,
		"voicemail_enabled":      cfg.VoicemailEnabled,
		"voicemail_email":        cfg.VoicemailEmail,
		"call_recording_enabled": cfg.CallRecordingEnabled,
		"updated_at":             cfg.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("configuration repo: upsert: %w", err)
	}
	return nil
}

// Get fetches the configuration for a number.
func (r *ConfigurationRepository) Get(ctx context.Context, numberID uuid.UUID) (*domain.NumberConfiguration, error) {
	q := `SELECT purchased_number_id, forwarding_type, forwarding_number,
		voicemail_enabled, voicemail_email, call_recording_enabled, updated_at
	  FROM number_configurations WHERE purchased_number_id = $1`

	var record configurationRecord
	if err := r.db.QueryRowxContext(ctx, q, numberID).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("configuration repo: get: %w", err)
	}

	cfg := record.toDomain()
	return &cfg, nil
}

type configurationRecord struct {
	NumberID             uuid.UUID      `db:"purchased_number_id"`
	ForwardingType       string         `db:"forwarding_type"`
	ForwardingNumber     sql.NullString `db:"forwarding_number"`
	VoicemailEnabled     bool           `db:"voicemail_enabled"`
	VoicemailEmail       sql.NullString `db:"voicemail_email"`
	CallRecordingEnabled bool           `db:"call_recording_enabled"`
	UpdatedAt            sql.NullTime   `db:"updated_at"`
}

func (r configurationRecord) toDomain() domain.NumberConfiguration {
	return domain.NumberConfiguration{
		NumberID:             r.NumberID,
		ForwardingType:       domain.ForwardingType(r.ForwardingType),
		ForwardingNumber:     r.ForwardingNumber.String,
		VoicemailEnabled:     r.VoicemailEnabled,
		VoicemailEmail:       r.VoicemailEmail.String,
		CallRecordingEnabled: r.CallRecordingEnabled,
		UpdatedAt:            r.UpdatedAt.Time,
	}
}
