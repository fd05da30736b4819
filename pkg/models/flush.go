package models

import "time"

const (
	FlushKindDelta  = "delta"
	FlushKindBuffer = "buffer"
)

// FlushBatch records that a rotated key was committed. It is written in the
// same transaction as the commit itself, so a second attempt on the same key
// can tell it has already been applied.
type FlushBatch struct {
	BatchKey  string    `gorm:"primaryKey;column:batch_key;size:191"`
	Kind      string    `gorm:"size:20;not null"`
	ProjectID string    `gorm:"size:64;not null;index"`
	Events    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// All lists the models owned by this service, for migrations.
func All() []interface{} {
	return []interface{}{
		&Project{},
		&Subscription{},
		&NotificationAggregate{},
		&NotificationLog{},
		&FlushBatch{},
	}
}
