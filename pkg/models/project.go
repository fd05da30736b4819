package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project owns push credentials and the subscriptions they were issued for.
type Project struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Name            string    `gorm:"size:100;not null"`
	VAPIDPublicKey  string    `gorm:"column:vapid_public_key;type:text;not null"`
	VAPIDPrivateKey string    `gorm:"column:vapid_private_key;type:text;not null"`
	VAPIDSubject    string    `gorm:"column:vapid_subject;size:255"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`

	Subscriptions []Subscription `gorm:"constraint:OnDelete:CASCADE"`
}

type Subscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID string    `gorm:"size:64;not null;uniqueIndex:idx_subscription_endpoint"`
	Endpoint  string    `gorm:"size:1024;not null;uniqueIndex:idx_subscription_endpoint"`
	P256dh    string    `gorm:"column:p256dh;type:text;not null"`
	Auth      string    `gorm:"column:auth;type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
