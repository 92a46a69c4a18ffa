package domain

import (
	"time"

	"github.com/google/uuid"
)

// NumberStatus enumerates lifecycle states of a purchased number.
type NumberStatus string

const (
	NumberStatusPending      NumberStatus = "pending"
	NumberStatusProvisioning NumberStatus = "provisioning"
	NumberStatusActive       NumberStatus = "active"
	NumberStatusSuspended    NumberStatus = "suspended"
	NumberStatusFailed       NumberStatus = "failed"
	NumberStatusCancelled    NumberStatus = "cancelled"
)

// ForwardingType enumerates supported call forwarding destinations.
type ForwardingType string

const (
	ForwardingNone     ForwardingType = "none"
	ForwardingMobile   ForwardingType = "mobile"
	ForwardingLandline ForwardingType = "landline"
	ForwardingVoIP     ForwardingType = "voip"
)

// PurchasedNumber models a virtual phone number owned by a customer.
type PurchasedNumber struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	PhoneNumber string
	CountryCode string
	AreaCode    string
	ProviderID  *string
	Status      NumberStatus
	Attempts    int
	LastError   *string
	IsActive    bool
	ActivatedAt *time.Time
	PurchasedAt time.Time
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NumberConfiguration holds the forwarding and voicemail settings for a number.
type NumberConfiguration struct {
	NumberID             uuid.UUID
	ForwardingType       ForwardingType
	ForwardingNumber     string
	VoicemailEnabled     bool
	VoicemailEmail       string
	CallRecordingEnabled bool
	UpdatedAt            time.Time
}

// DefaultConfiguration returns the configuration a number starts with at purchase.
func DefaultConfiguration(numberID uuid.UUID, now time.Time) NumberConfiguration {
	return NumberConfiguration{
		NumberID:       numberID,
		ForwardingType: ForwardingNone,
		UpdatedAt:      now,
	}
}

// JobAction enumerates the lifecycle operations a provisioning job can carry.
type JobAction string

const (
	JobActionProvision        JobAction = "provision"
	JobActionUpdateForwarding JobAction = "update_forwarding"
	JobActionSuspend          JobAction = "suspend"
	JobActionReactivate       JobAction = "reactivate"
	JobActionCancel           JobAction = "cancel"
)

// ValidAction reports whether the action is a known job action.
func ValidAction(a JobAction) bool {
	switch a {
	case JobActionProvision, JobActionUpdateForwarding, JobActionSuspend, JobActionReactivate, JobActionCancel:
		return true
	}
	return false
}

// JobStatus enumerates lifecycle states of a provisioning job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts bounds provisioning retries unless a job overrides it.
const DefaultMaxAttempts = 3

// ProvisioningJob is one unit of lifecycle work against a purchased number.
type ProvisioningJob struct {
	ID           uuid.UUID
	NumberID     uuid.UUID
	Action       JobAction
	Status       JobStatus
	Priority     int
	Attempts     int
	MaxAttempts  int
	ScheduledFor time.Time
	ProcessedAt  *time.Time
	ErrorMessage *string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProvisioningJob builds a pending job scheduled for immediate pickup.
func NewProvisioningJob(numberID uuid.UUID, action JobAction, priority int, metadata map[string]any, now time.Time) *ProvisioningJob {
	return &ProvisioningJob{
		ID:           uuid.New(),
		NumberID:     numberID,
		Action:       action,
		Status:       JobStatusPending,
		Priority:     priority,
		Attempts:     0,
		MaxAttempts:  DefaultMaxAttempts,
		ScheduledFor: now,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
