package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

// KindPrint is the queue kind of print jobs.
const KindPrint = "receipt_print"

// ErrInvalidInput flags rejected receipt requests.
var ErrInvalidInput = errors.New("invalid receipt request")

// Job is the payload of a print task.
type Job struct {
	BillID string `json:"billId"`
	Width  int    `json:"width"`
}

// Bills loads bills to render.
type Bills interface {
	Get(ctx context.Context, id string) (billing.Bill, error)
}

// SettingsSource supplies the receipt width and the auto-print switch.
type SettingsSource interface {
	Get(ctx context.Context) settings.Settings
}

// Enqueuer publishes print tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Service renders receipts and moves print jobs through the queue.
type Service struct {
	bills       Bills
	settings    SettingsSource
	queue       Enqueuer
	printer     Printer
	gate        subscription.Gate
	logger      zerolog.Logger
	location    *time.Location
	maxAttempts int
}

// ServiceConfig groups Service dependencies. Queue is only needed to submit
// jobs and Printer only to run them.
type ServiceConfig struct {
	Bills       Bills
	Settings    SettingsSource
	Queue       Enqueuer
	Printer     Printer
	Gate        subscription.Gate
	Logger      zerolog.Logger
	Location    *time.Location
	MaxAttempts int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Bills == nil {
		return nil, errors.New("bill source is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("settings store is required")
	}
	s := &Service{
		bills:       cfg.Bills,
		settings:    cfg.Settings,
		queue:       cfg.Queue,
		printer:     cfg.Printer,
		gate:        cfg.Gate,
		logger:      cfg.Logger,
		location:    cfg.Location,
		maxAttempts: cfg.MaxAttempts,
	}
	if s.printer == nil {
		s.printer = NopPrinter{}
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	return s, nil
}

func (s *Service) width(ctx context.Context, requested int) (int, error) {
	if requested == 0 {
		return s.settings.Get(ctx).ReceiptWidth, nil
	}
	if !ValidWidth(requested) {
		return 0, fmt.Errorf("width must be %d or %d: %w", settings.Width2Inch, settings.Width3Inch, ErrInvalidInput)
	}
	return requested, nil
}

// Text renders the share-sheet receipt of a bill. A zero width uses the
// configured paper width.
func (s *Service) Text(ctx context.Context, billID string, width int) (string, error) {
	w, err := s.width(ctx, width)
	if err != nil {
		return "", err
	}
	b, err := s.bills.Get(ctx, billID)
	if err != nil {
		return "", err
	}
	return Text(b, w, s.location), nil
}

// Print queues a print of the bill. The bill itself is never modified and a
// failure here leaves it as it was.
func (s *Service) Print(ctx context.Context, billID string, width int) error {
	if err := s.gate.Feature(ctx, subscription.FeaturePrint); err != nil {
		return err
	}
	w, err := s.width(ctx, width)
	if err != nil {
		return err
	}
	if _, err := s.bills.Get(ctx, billID); err != nil {
		return err
	}
	return s.enqueue(ctx, Job{BillID: billID, Width: w}, "")
}

func (s *Service) enqueue(ctx context.Context, job Job, key string) error {
	if s.queue == nil {
		return errors.New("print queue not configured")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, queue.Task{
		Kind:           KindPrint,
		Payload:        payload,
		IdempotencyKey: key,
		MaxAttempts:    s.maxAttempts,
	}); err != nil {
		obs.RecordPrint("enqueue_failed", -1)
		return fmt.Errorf("enqueue print job: %w", err)
	}
	s.logger.Info().Str("bill_id", job.BillID).Int("width", job.Width).Msg("print_job_queued")
	return nil
}

// Handle runs one print task for the worker. Jobs for bills that no longer
// exist are dropped; printer failures are returned so the queue retries.
func (s *Service) Handle(ctx context.Context, t queue.Task) error {
	var job Job
	if err := json.Unmarshal(t.Payload, &job); err != nil || job.BillID == "" {
		s.logger.Error().Err(err).Str("kind", t.Kind).Msg("print_job_malformed")
		obs.RecordPrint("dropped", -1)
		return nil
	}
	b, err := s.bills.Get(ctx, job.BillID)
	if errors.Is(err, billing.ErrNotFound) {
		s.logger.Warn().Str("bill_id", job.BillID).Msg("print_job_dropped")
		obs.RecordPrint("dropped", -1)
		return nil
	}
	if err != nil {
		return err
	}
	width := job.Width
	if !ValidWidth(width) {
		width = settings.Width2Inch
	}

	start := time.Now()
	err = s.printer.Print(ctx, ESCPOS(b, width, s.location))
	elapsed := obs.DurationMillis(time.Since(start))
	if err != nil {
		obs.RecordPrint("failed", elapsed)
		s.logger.Warn().Err(err).Str("bill_id", b.ID).Str("invoice_number", b.InvoiceNumber).Msg("print_failed")
		return err
	}
	obs.RecordPrint("ok", elapsed)
	s.logger.Info().Str("bill_id", b.ID).Str("invoice_number", b.InvoiceNumber).Msg("receipt_printed")
	return nil
}

// AutoPrint returns the notifier that queues a print for every new bill
// while auto-print is switched on. The bill id is the dedup key, so a
// replayed event does not queue a second job while the first is pending.
func (s *Service) AutoPrint() events.Notifier {
	return events.Filter(events.NotifierFunc(func(ctx context.Context, ev events.Event) error {
		cfg := s.settings.Get(ctx)
		if !cfg.AutoPrint {
			return nil
		}
		if err := s.gate.Feature(ctx, subscription.FeaturePrint); err != nil {
			s.logger.Info().Str("bill_id", ev.AggregateID).Msg("auto_print_skipped")
			return nil
		}
		return s.enqueue(ctx, Job{BillID: ev.AggregateID, Width: cfg.ReceiptWidth}, "auto:"+ev.AggregateID)
	}), events.TopicBillCreated)
}
