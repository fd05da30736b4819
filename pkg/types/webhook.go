package types

// WebhookSignal is handed to project configured outbound webhooks
// (Slack, Discord, Telegram, generic API) by an external relay.
type WebhookSignal struct {
	WebhookType      string                 `json:"webhookType"`
	Event            EventKind              `json:"event"`
	ProjectID        string                 `json:"projectId"`
	NotificationType NotificationType       `json:"notificationType"`
	NotificationData map[string]interface{} `json:"notificationData"`
	Timestamp        int64                  `json:"timestamp"`
}
