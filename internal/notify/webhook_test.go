package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/queue"
)

type captureQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (c *captureQueue) Enqueue(_ context.Context, t queue.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return nil
}

type received struct {
	headers http.Header
	body    []byte
}

func newReceiver(t *testing.T, status int) (*httptest.Server, *[]received) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{headers: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func billCreated() events.Event {
	return events.Event{
		ID:          42,
		Topic:       events.TopicBillCreated,
		AggregateID: "bill-1",
		Payload:     json.RawMessage(`{"invoiceNumber":"0301_001"}`),
		OccurredAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestParseEndpoints(t *testing.T) {
	eps, err := ParseEndpoints([]string{" https://books.example.com/hook ", "", "http://localhost:9000/x"}, "s3cret", nil)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	require.Equal(t, "https://books.example.com/hook", eps[0].URL)

	_, err = ParseEndpoints([]string{"http://books.example.com/hook"}, "", nil)
	require.Error(t, err)
	_, err = ParseEndpoints([]string{"ftp://books.example.com"}, "", nil)
	require.Error(t, err)
}

func TestNotifySchedulesPerSubscribedEndpoint(t *testing.T) {
	q := &captureQueue{}
	d := &Dispatcher{
		Endpoints: []Endpoint{
			{URL: "https://a.example.com/hook"},
			{URL: "https://b.example.com/hook", Topics: []string{events.TopicBillDeleted}},
		},
		Queue:       q,
		MaxAttempts: 4,
	}
	require.NoError(t, d.Notify(context.Background(), billCreated()))
	require.Len(t, q.tasks, 1)
	task := q.tasks[0]
	require.Equal(t, KindWebhook, task.Kind)
	require.Equal(t, 4, task.MaxAttempts)
	require.Equal(t, deliveryKey(42, "https://a.example.com/hook"), task.IdempotencyKey)

	var del delivery
	require.NoError(t, json.Unmarshal(task.Payload, &del))
	require.Equal(t, "bill-1", del.AggregateID)
	require.JSONEq(t, `{"invoiceNumber":"0301_001"}`, string(del.Data))
}

func TestNotifyWithoutEndpointsIsNoop(t *testing.T) {
	q := &captureQueue{}
	require.NoError(t, (&Dispatcher{Queue: q}).Notify(context.Background(), billCreated()))
	var nilDispatcher *Dispatcher
	require.NoError(t, nilDispatcher.Notify(context.Background(), billCreated()))
	require.Empty(t, q.tasks)
}

func TestHandleDeliversSignedPayloadOnce(t *testing.T) {
	srv, got := newReceiver(t, http.StatusNoContent)
	q := &captureQueue{}
	now := time.Unix(1_709_280_000, 0)
	d := &Dispatcher{
		Endpoints: []Endpoint{{URL: srv.URL, Secret: "s3cret"}},
		Queue:     q,
		Client:    srv.Client(),
		Sent:      kv.NewMemory(),
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return now },
	}
	require.NoError(t, d.Notify(context.Background(), billCreated()))
	require.Len(t, q.tasks, 1)

	require.NoError(t, d.Handle(context.Background(), q.tasks[0]))
	require.Len(t, *got, 1)
	req := (*got)[0]
	require.Equal(t, "42", req.headers.Get("X-Event-ID"))
	require.Equal(t, events.TopicBillCreated, req.headers.Get("X-Event-Topic"))
	ts := strconv.FormatInt(now.Unix(), 10)
	require.Equal(t, ts, req.headers.Get("X-Timestamp"))
	require.Equal(t, ComputeSignature("s3cret", now.Unix(), "42", req.body), req.headers.Get("X-Signature"))
	require.JSONEq(t, `{"eventId":"42","topic":"bill.created","aggregateId":"bill-1","data":{"invoiceNumber":"0301_001"},"occurredAt":"2024-03-01T09:00:00Z"}`, string(req.body))

	// A replayed task is acknowledged without a second request.
	require.NoError(t, d.Handle(context.Background(), q.tasks[0]))
	require.Len(t, *got, 1)
}

func TestHandleFailsOnErrorStatus(t *testing.T) {
	srv, got := newReceiver(t, http.StatusBadGateway)
	q := &captureQueue{}
	d := &Dispatcher{
		Endpoints: []Endpoint{{URL: srv.URL}},
		Queue:     q,
		Client:    srv.Client(),
		Sent:      kv.NewMemory(),
		Logger:    zerolog.Nop(),
	}
	require.NoError(t, d.Notify(context.Background(), billCreated()))
	err := d.Handle(context.Background(), q.tasks[0])
	require.ErrorContains(t, err, "502")
	require.Empty(t, (*got)[0].headers.Get("X-Signature"))

	// Still not marked as sent, so a retry goes out again.
	require.Error(t, d.Handle(context.Background(), q.tasks[0]))
	require.Len(t, *got, 2)
}

func TestHandleDropsRemovedEndpoint(t *testing.T) {
	q := &captureQueue{}
	d := &Dispatcher{Endpoints: []Endpoint{{URL: "https://a.example.com/hook"}}, Queue: q, Logger: zerolog.Nop()}
	require.NoError(t, d.Notify(context.Background(), billCreated()))

	d.Endpoints = nil
	require.NoError(t, d.Handle(context.Background(), q.tasks[0]))
	require.Error(t, d.Handle(context.Background(), queue.Task{Kind: KindWebhook, Payload: []byte("not json")}))
}

func TestComputeSignatureStable(t *testing.T) {
	a := ComputeSignature("k", 1, "7", []byte(`{}`))
	require.Len(t, a, 64)
	require.Equal(t, a, ComputeSignature("k", 1, "7", []byte(`{}`)))
	require.NotEqual(t, a, ComputeSignature("other", 1, "7", []byte(`{}`)))
}
