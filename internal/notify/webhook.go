// Package notify forwards bill events to external systems (bookkeeping,
// loyalty, dashboards) as signed webhooks delivered through the task queue.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
)

// KindWebhook is the queue kind for deliveries.
const KindWebhook = "webhook_delivery"

// Endpoint receives events for its topics; no topics means every topic.
type Endpoint struct {
	URL    string
	Secret string
	Topics []string
}

func (e Endpoint) wants(topic string) bool {
	return len(e.Topics) == 0 || slices.Contains(e.Topics, topic)
}

// ParseEndpoints builds endpoints sharing one secret and topic list.
func ParseEndpoints(urls []string, secret string, topics []string) ([]Endpoint, error) {
	var out []Endpoint
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("webhook %q: %w", raw, err)
		}
		out = append(out, Endpoint{URL: raw, Secret: secret, Topics: topics})
	}
	return out, nil
}

// delivery is the queued payload; the secret is looked up at send time.
type delivery struct {
	URL         string          `json:"url"`
	EventID     int64           `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Dispatcher schedules and sends webhook deliveries.
type Dispatcher struct {
	Endpoints   []Endpoint
	Queue       queue.Submitter
	Client      *http.Client
	MaxAttempts int
	// Sent remembers delivered events so a replayed task is not sent twice.
	Sent    kv.Store
	SentTTL time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Enabled reports whether any endpoint is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.Endpoints) > 0 && d.Queue != nil
}

// Notify implements events.Notifier by queueing one delivery per
// subscribed endpoint.
func (d *Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	if !d.Enabled() {
		return nil
	}
	var joined error
	for _, ep := range d.Endpoints {
		if !ep.wants(ev.Topic) {
			continue
		}
		payload, err := json.Marshal(delivery{
			URL:         ep.URL,
			EventID:     ev.ID,
			Topic:       ev.Topic,
			AggregateID: ev.AggregateID,
			Data:        ev.Payload,
			OccurredAt:  ev.OccurredAt,
		})
		if err != nil {
			return err
		}
		err = d.Queue.Enqueue(ctx, queue.Task{
			Kind:           KindWebhook,
			Payload:        payload,
			IdempotencyKey: deliveryKey(ev.ID, ep.URL),
			MaxAttempts:    d.MaxAttempts,
		})
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("schedule webhook for %s: %w", ep.URL, err))
		}
	}
	return joined
}

// Handle sends one queued delivery. Any non-2xx answer is an error so the
// queue retries and eventually dead-letters it.
func (d *Dispatcher) Handle(ctx context.Context, t queue.Task) error {
	var del delivery
	if err := json.Unmarshal(t.Payload, &del); err != nil {
		return fmt.Errorf("decode webhook delivery: %w", err)
	}
	ep, ok := d.endpoint(del.URL)
	if !ok {
		d.Logger.Warn().Str("url", del.URL).Int64("event_id", del.EventID).Msg("webhook_endpoint_removed")
		return nil
	}
	key := deliveryKey(del.EventID, del.URL)
	if d.Sent != nil {
		if _, done, err := d.Sent.Get(ctx, "webhook:sent:"+key); err == nil && done {
			return nil
		}
	}

	start := time.Now()
	status, err := d.deliver(ctx, ep, del, key)
	millis := float64(time.Since(start).Microseconds()) / 1000
	if err == nil && (status < 200 || status >= 300) {
		err = fmt.Errorf("webhook %s answered %d", ep.URL, status)
	}
	if err != nil {
		obs.RecordWebhook("failed", millis)
		return err
	}
	obs.RecordWebhook("delivered", millis)
	if d.Sent != nil {
		ttl := d.SentTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		if setErr := d.Sent.Set(ctx, "webhook:sent:"+key, "1", ttl); setErr != nil {
			d.Logger.Warn().Err(setErr).Str("key", key).Msg("webhook_mark_sent_failed")
		}
	}
	d.Logger.Info().Str("url", ep.URL).Str("topic", del.Topic).Int64("event_id", del.EventID).Int("status", status).Msg("webhook_delivered")
	return nil
}

func (d *Dispatcher) endpoint(rawURL string) (Endpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.URL == rawURL {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, del delivery, key string) (int, error) {
	client := d.Client
	if client == nil {
		client = HTTPClient(5*time.Second, false)
	}
	ctx, span := otel.Tracer("notify").Start(ctx, "webhook.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.topic", del.Topic),
		attribute.Int64("webhook.event_id", del.EventID),
	)

	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     strconv.FormatInt(del.EventID, 10),
		Topic:       del.Topic,
		AggregateID: del.AggregateID,
		Data:        del.Data,
		OccurredAt:  del.OccurredAt,
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := d.now().Unix()
	eventID := strconv.FormatInt(del.EventID, 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kasir-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", del.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", key)
	if ep.Secret != "" {
		req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, nil
}

func deliveryKey(eventID int64, endpointURL string) string {
	sum := sha256.Sum256([]byte(endpointURL))
	return strconv.FormatInt(eventID, 10) + ":" + hex.EncodeToString(sum[:6])
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>", hex encoded.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns a traced client for webhook delivery.
func HTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
