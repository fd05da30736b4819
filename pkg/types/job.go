package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

type NotificationType string

const (
	NotificationRaw      NotificationType = "-1"
	NotificationAdHoc    NotificationType = "0"
	NotificationTemplate NotificationType = "1"
)

var (
	ErrInvalidJob             = errors.New("invalid notification job")
	ErrTemplateNotImplemented = errors.New("template notifications are not implemented")
)

// NotificationBody is the ad-hoc notification a browser renders.
type NotificationBody struct {
	Title   string               `json:"title"`
	Body    string               `json:"body,omitempty"`
	Icon    string               `json:"icon,omitempty"`
	Image   string               `json:"image,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	URL     string               `json:"url,omitempty"`
	Tag     string               `json:"tag,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// DispatchJob is the work queue message consumed by the push worker.
type DispatchJob struct {
	ProjectID      string                 `json:"projectId"`
	Type           NotificationType       `json:"type"`
	Body           *NotificationBody      `json:"body,omitempty"`
	Data           json.RawMessage        `json:"data,omitempty"`
	TemplateID     string                 `json:"template_id,omitempty"`
	Overrides      map[string]interface{} `json:"overrides,omitempty"`
	Variant        json.RawMessage        `json:"variant,omitempty"`
	NotificationID string                 `json:"notificationId,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// Validate enforces the send-notification schema: exactly one of body, data
// or template_id, never together with variant, and a type matching the
// content that was supplied.
func (j *DispatchJob) Validate() error {
	if err := ValidateProjectID(j.ProjectID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	switch j.Type {
	case NotificationRaw, NotificationAdHoc, NotificationTemplate:
	default:
		return fmt.Errorf("%w: type must be one of \"-1\", \"0\", \"1\"", ErrInvalidJob)
	}

	n := 0
	if j.Body != nil {
		n++
	}
	if present(j.Data) {
		n++
	}
	if j.TemplateID != "" {
		n++
	}
	if present(j.Variant) {
		return fmt.Errorf("%w: variant cannot be combined with body, data or template_id", ErrInvalidJob)
	}
	if n != 1 {
		return fmt.Errorf("%w: exactly one of body, data or template_id is required", ErrInvalidJob)
	}

	switch j.Type {
	case NotificationRaw:
		if !present(j.Data) {
			return fmt.Errorf("%w: type -1 requires data", ErrInvalidJob)
		}
		if !json.Valid(j.Data) {
			return fmt.Errorf("%w: data is not valid JSON", ErrInvalidJob)
		}
	case NotificationAdHoc:
		if j.Body == nil {
			return fmt.Errorf("%w: type 0 requires body", ErrInvalidJob)
		}
		if j.Body.Title == "" {
			return fmt.Errorf("%w: body.title is required", ErrInvalidJob)
		}
	case NotificationTemplate:
		if j.TemplateID == "" {
			return fmt.Errorf("%w: type 1 requires template_id", ErrInvalidJob)
		}
		return ErrTemplateNotImplemented
	}
	return nil
}

// Metadata is the job description attached to lifecycle events and webhook signals.
func (j *DispatchJob) Metadata() map[string]interface{} {
	md := map[string]interface{}{
		"type": string(j.Type),
	}
	if j.Body != nil {
		md["title"] = j.Body.Title
	}
	if j.TemplateID != "" {
		md["template_id"] = j.TemplateID
	}
	return md
}

func DecodeDispatchJob(raw []byte) (*DispatchJob, error) {
	var j DispatchJob
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return &j, nil
}
