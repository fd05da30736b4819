package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jsndz/signalpush/pkg/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationAggregate holds running totals per project. Rows are only ever
// grown by additive merges.
type NotificationAggregate struct {
	ProjectID    string    `gorm:"primaryKey;size:64" json:"projectId"`
	TotalRequest int64     `gorm:"not null" json:"total_request"`
	TotalSent    int64     `gorm:"not null" json:"total_sent"`
	TotalClicked int64     `gorm:"not null" json:"total_clicked"`
	TotalFailed  int64     `gorm:"not null" json:"total_failed"`
	TotalDropped int64     `gorm:"not null" json:"total_dropped"`
	TotalClosed  int64     `gorm:"not null" json:"total_closed"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// AggregateColumn maps an event kind to its total column.
func AggregateColumn(kind types.EventKind) string {
	return "total_" + string(kind)
}

func (a *NotificationAggregate) field(kind types.EventKind) *int64 {
	switch kind {
	case types.EventRequest:
		return &a.TotalRequest
	case types.EventSent:
		return &a.TotalSent
	case types.EventClicked:
		return &a.TotalClicked
	case types.EventFailed:
		return &a.TotalFailed
	case types.EventDropped:
		return &a.TotalDropped
	case types.EventClosed:
		return &a.TotalClosed
	}
	return nil
}

// Add increments the total for kind. Unknown kinds are ignored.
func (a *NotificationAggregate) Add(kind types.EventKind, n int64) {
	if f := a.field(kind); f != nil {
		*f += n
	}
}

func (a *NotificationAggregate) Total(kind types.EventKind) int64 {
	if f := a.field(kind); f != nil {
		return *f
	}
	return 0
}

func (a *NotificationAggregate) IsZero() bool {
	for _, k := range types.EventKinds {
		if a.Total(k) != 0 {
			return false
		}
	}
	return true
}

// NotificationLog is the append-only audit row for a single lifecycle event.
type NotificationLog struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	NotificationID string            `gorm:"size:64;index" json:"notificationId"`
	ProjectID      string            `gorm:"size:64;not null;index" json:"projectId"`
	EventKind      string            `gorm:"size:20;not null;index" json:"event"`
	TriggeredAt    time.Time         `gorm:"not null;index" json:"triggeredAt"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"createdAt"`
}

func (l *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// NewNotificationLog derives the audit row for a drained event.
func NewNotificationLog(e types.LifecycleEvent) NotificationLog {
	return NotificationLog{
		NotificationID: e.NotificationID,
		ProjectID:      e.ProjectID,
		EventKind:      string(e.Event),
		TriggeredAt:    e.OccurredAt(),
		Metadata:       datatypes.JSONMap(e.Metadata),
	}
}
