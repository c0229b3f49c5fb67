// Package domain defines the persistence models and value types shared by the
// quota tracker, the generation pipeline, and the HTTP layer. Persistent types
// are mapped with GORM.
package domain

import (
	"fmt"
	"time"
)

// Service names a quota-metered generation capability.
type Service string

const (
	ServiceReadme    Service = "readme"
	ServiceStructure Service = "structure"
	ServiceLinkedIn  Service = "linkedin"
	ServiceResume    Service = "resume"
)

// Services lists every known service in a stable order.
func Services() []Service {
	return []Service{ServiceReadme, ServiceStructure, ServiceLinkedIn, ServiceResume}
}

// ParseService converts a raw string into a known Service.
func ParseService(s string) (Service, error) {
	for _, svc := range Services() {
		if string(svc) == s {
			return svc, nil
		}
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// ServiceLimitPolicy is the per-service quota configuration. It is immutable
// deployment configuration, not user data.
type ServiceLimitPolicy struct {
	MaxRequests int           // requests admitted per window (> 0)
	Window      time.Duration // window length (> 0)
}

// QuotaRecord tracks usage for one (user, service) pair.
//
// Count never decreases within a window. It is reset to zero when the current
// time reaches WindowResetAt, at which point WindowResetAt is moved one window
// length into the future.
type QuotaRecord struct {
	UserID        string    `json:"user_id"         gorm:"type:varchar(64);primaryKey"`
	Service       Service   `json:"service"         gorm:"type:varchar(32);primaryKey"`
	Count         int       `json:"count"           gorm:"not null;default:0;check:count >= 0"`
	WindowResetAt time.Time `json:"window_reset_at" gorm:"not null;index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuotaRecord.
func (QuotaRecord) TableName() string { return "quota_records" }

// Expired reports whether the record's window has elapsed at now.
func (r QuotaRecord) Expired(now time.Time) bool {
	return !now.Before(r.WindowResetAt)
}
