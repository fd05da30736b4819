package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrSubscriptionGone marks an endpoint the push service no longer accepts
// (404 or 410). The subscription should be removed.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Pusher delivers one encrypted payload to one endpoint.
type Pusher interface {
	Push(ctx context.Context, t *Target, ep Endpoint, payload []byte) error
}

// StatusError is a non-2xx answer from a push service.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push service answered %d for %s: %s", e.Code, e.Endpoint, e.Body)
}

// WebPushSender sends RFC 8030 messages signed with the project's VAPID keys.
type WebPushSender struct {
	client  *http.Client
	ttl     int
	subject string
}

// NewWebPushSender uses subject for projects that have no VAPID subject of
// their own. ttl is how long, in seconds, the push service may hold a message.
func NewWebPushSender(client *http.Client, ttl int, subject string) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{client: client, ttl: ttl, subject: subject}
}

func (s *WebPushSender) Push(ctx context.Context, t *Target, ep Endpoint, payload []byte) error {
	subject := t.VAPIDSubject
	if subject == "" {
		subject = s.subject
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: ep.Endpoint,
		Keys: webpush.Keys{
			Auth:   ep.Auth,
			P256dh: ep.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      strings.TrimPrefix(subject, "mailto:"),
		VAPIDPublicKey:  t.VAPIDPublicKey,
		VAPIDPrivateKey: t.VAPIDPrivateKey,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", ep.Endpoint, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s answered %d", ErrSubscriptionGone, ep.Endpoint, resp.StatusCode)
	case resp.StatusCode >= 300:
		return &StatusError{Endpoint: ep.Endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
