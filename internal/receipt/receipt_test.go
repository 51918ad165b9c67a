package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/resilience"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

const billID = "5b8f3c1e-8a0d-4f7e-9c11-0123456789ab"

func sampleBill() billing.Bill {
	return billing.Bill{
		ID:            billID,
		InvoiceNumber: "0315_001",
		CustomerName:  "Asha",
		CustomerPhone: "9876543210",
		Items: []billing.Item{
			{ItemID: "tea", Name: "Tea (Large)", Price: 10, Quantity: 2, Total: 20},
		},
		Subtotal:      20,
		Tax:           1,
		TaxRate:       5,
		Total:         21,
		PaymentMethod: cart.PaymentBankTransfer,
		Notes:         "no sugar",
		Status:        billing.StatusPaid,
		Business:      billing.Business{Name: "Toko Maju", Address: "Jl. Merdeka 1", Phone: "0812"},
		CreatedAt:     time.Date(2024, 3, 15, 10, 5, 0, 0, time.UTC),
	}
}

func TestTextTwoInch(t *testing.T) {
	out := receipt.Text(sampleBill(), settings.Width2Inch, time.UTC)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	require.Equal(t, strings.Repeat("=", 32), lines[0])
	require.Equal(t, strings.Repeat(" ", 11)+"TOKO MAJU", lines[1])
	require.Contains(t, out, "Tel: 0812\n")
	require.NotContains(t, out, "GST: ")
	require.Contains(t, out, "Bill: 0315_001  Date: 15/03/2024\n")
	require.Contains(t, out, strings.Repeat(" ", 16)+"Time: 10:05 AM\n")
	require.Contains(t, out, "Cust: Asha\nPh: 9876543210\n")
	require.Contains(t, out, "Tea"+strings.Repeat(" ", 13)+"2  10.00   20.00\n")
	require.Contains(t, out, "Subtotal:"+strings.Repeat(" ", 18)+"20.00\n")
	require.Contains(t, out, "CGST(2.5%):"+strings.Repeat(" ", 17)+"0.50\n")
	require.Contains(t, out, "SGST(2.5%):"+strings.Repeat(" ", 17)+"0.50\n")
	require.NotContains(t, out, "Discount:")
	require.Contains(t, out, "TOTAL:"+strings.Repeat(" ", 21)+"21.00\n")
	require.Contains(t, out, "Payment: BANK TRANSFER\n")
	require.Contains(t, out, "no sugar\n")
	require.Equal(t, strings.Repeat("=", 32), lines[len(lines)-1])
	for _, l := range lines {
		require.LessOrEqual(t, len(l), 32, l)
	}
}

func TestTextTwoInchLongInvoiceNumber(t *testing.T) {
	b := sampleBill()
	b.InvoiceNumber = "INV/2024/0315/00001"
	out := receipt.Text(b, settings.Width2Inch, time.UTC)
	require.Contains(t, out, "Bill: INV/2024/0315/00001\n"+strings.Repeat(" ", 16)+"Date: 15/03/2024\n")
	for _, l := range strings.Split(out, "\n") {
		require.LessOrEqual(t, len(l), 32, l)
	}
}

func TestTextThreeInchAndFallbacks(t *testing.T) {
	b := sampleBill()
	b.InvoiceNumber = ""
	b.Business = billing.Business{}
	b.TaxRate = 0
	b.Discount = 1.5
	b.Notes = ""

	out := receipt.Text(b, settings.Width3Inch, time.FixedZone("IST", 5*3600+1800))
	require.Contains(t, out, strings.Repeat("=", 48)+"\n")
	require.Contains(t, out, "YOUR BUSINESS NAME")
	require.Contains(t, out, "Bill No: 5b8f3c1e")
	require.Contains(t, out, "Time: 03:35 PM")
	require.NotContains(t, out, "CGST")
	require.Contains(t, out, "Discount:"+strings.Repeat(" ", 35)+"1.50\n")
	require.NotContains(t, out, "Notes")
}

func TestPaymentLabel(t *testing.T) {
	require.Equal(t, "Bank Transfer", receipt.PaymentLabel(cart.PaymentBankTransfer))
	require.Equal(t, "Upi", receipt.PaymentLabel(cart.PaymentUPI))
}

func TestESCPOS(t *testing.T) {
	data := receipt.ESCPOS(sampleBill(), settings.Width2Inch, time.UTC)
	require.True(t, bytes.HasPrefix(data, []byte{0x1B, '@'}))
	require.True(t, bytes.HasSuffix(data, []byte{0x1D, 'V', 0x01}))
	require.Contains(t, string(data), "TOKO MAJU")
	require.Contains(t, string(data), "Payment: Bank Transfer")
	require.Contains(t, string(data), "TOTAL"+strings.Repeat(" ", 22)+"21.00")
}

func TestNewPrinter(t *testing.T) {
	p, err := receipt.NewPrinter(receipt.PrinterConfig{Type: receipt.PrinterNetwork, Address: "10.0.0.5"})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:9100", p.(receipt.NetworkPrinter).Address)

	p, err = receipt.NewPrinter(receipt.PrinterConfig{})
	require.NoError(t, err)
	require.IsType(t, receipt.NopPrinter{}, p)

	_, err = receipt.NewPrinter(receipt.PrinterConfig{Type: receipt.PrinterUSB})
	require.Error(t, err)
	_, err = receipt.NewPrinter(receipt.PrinterConfig{Type: "bluetooth"})
	require.Error(t, err)
}

func TestNetworkPrinter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	p, err := receipt.NewPrinter(receipt.PrinterConfig{Type: receipt.PrinterNetwork, Address: ln.Addr().String(), Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, p.Print(context.Background(), []byte("hello")))

	select {
	case data := <-received:
		require.Equal(t, []byte("hello"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer never received data")
	}
}

func TestUSBPrinter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	p := receipt.USBPrinter{Path: path}
	require.NoError(t, p.Print(context.Background(), []byte{0x1B, '@'}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1B, '@'}, data)

	missing := receipt.USBPrinter{Path: filepath.Join(t.TempDir(), "missing", "lp1")}
	require.Error(t, missing.Print(context.Background(), []byte("x")))
}

type failingPrinter struct {
	calls int
}

func (f *failingPrinter) Print(context.Context, []byte) error {
	f.calls++
	return errors.New("paper jam")
}

func TestGuardedPrinterOpensBreaker(t *testing.T) {
	inner := &failingPrinter{}
	g := receipt.Guarded{Printer: inner, Breaker: resilience.NewBreaker(2, 0.5, time.Minute).WithTarget("printer")}

	require.EqualError(t, g.Print(context.Background(), nil), "paper jam")
	require.EqualError(t, g.Print(context.Background(), nil), "paper jam")
	require.ErrorIs(t, g.Print(context.Background(), nil), receipt.ErrPrinterUnavailable)
	require.Equal(t, 2, inner.calls)
}

type billMap map[string]billing.Bill

func (m billMap) Get(_ context.Context, id string) (billing.Bill, error) {
	b, ok := m[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	return b, nil
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (c *captureQueue) Enqueue(_ context.Context, t queue.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tasks = append(c.tasks, t)
	return nil
}

type capturePrinter struct {
	data [][]byte
	err  error
}

func (c *capturePrinter) Print(_ context.Context, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.data = append(c.data, data)
	return nil
}

type fixture struct {
	svc      *receipt.Service
	settings *settings.Store
	queue    *captureQueue
	printer  *capturePrinter
}

func newFixture(t *testing.T, gate subscription.Gate) *fixture {
	t.Helper()
	f := &fixture{
		settings: settings.NewStore(kv.NewMemory(), zerolog.Nop()),
		queue:    &captureQueue{},
		printer:  &capturePrinter{},
	}
	var err error
	f.svc, err = receipt.NewService(receipt.ServiceConfig{
		Bills:    billMap{billID: sampleBill()},
		Settings: f.settings,
		Queue:    f.queue,
		Printer:  f.printer,
		Gate:     gate,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return f
}

func decodeJob(t *testing.T, task queue.Task) receipt.Job {
	t.Helper()
	var job receipt.Job
	require.NoError(t, json.Unmarshal(task.Payload, &job))
	return job
}

func TestServicePrintQueuesJob(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	ctx := context.Background()

	require.NoError(t, f.svc.Print(ctx, billID, 0))
	require.NoError(t, f.svc.Print(ctx, billID, settings.Width3Inch))
	require.Len(t, f.queue.tasks, 2)
	require.Equal(t, receipt.KindPrint, f.queue.tasks[0].Kind)
	require.Equal(t, receipt.Job{BillID: billID, Width: 32}, decodeJob(t, f.queue.tasks[0]))
	require.Equal(t, 48, decodeJob(t, f.queue.tasks[1]).Width)

	require.ErrorIs(t, f.svc.Print(ctx, billID, 40), receipt.ErrInvalidInput)
	require.ErrorIs(t, f.svc.Print(ctx, "missing", 0), billing.ErrNotFound)

	f.queue.err = errors.New("redis down")
	require.ErrorContains(t, f.svc.Print(ctx, billID, 0), "enqueue print job")
}

func TestServicePrintRequiresFeature(t *testing.T) {
	f := newFixture(t, subscription.Gate{Enabled: true})
	ctx := subscription.WithContext(context.Background(), &subscription.Subscription{
		Plan:    subscription.PlanNone,
		Status:  subscription.StatusActive,
		EndDate: time.Now().Add(time.Hour),
	})
	require.ErrorContains(t, f.svc.Print(ctx, billID, 0), "print is not available")
	require.Empty(t, f.queue.tasks)
}

func TestServiceHandle(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	ctx := context.Background()
	payload, err := json.Marshal(receipt.Job{BillID: billID, Width: 48})
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(ctx, queue.Task{Kind: receipt.KindPrint, Payload: payload}))
	require.Len(t, f.printer.data, 1)
	require.Contains(t, string(f.printer.data[0]), strings.Repeat("=", 48))

	f.printer.err = errors.New("offline")
	require.Error(t, f.svc.Handle(ctx, queue.Task{Kind: receipt.KindPrint, Payload: payload}))

	gone, err := json.Marshal(receipt.Job{BillID: "missing"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Handle(ctx, queue.Task{Kind: receipt.KindPrint, Payload: gone}))
	require.NoError(t, f.svc.Handle(ctx, queue.Task{Kind: receipt.KindPrint, Payload: []byte("{")}))
}

func TestAutoPrintNotifier(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	ctx := context.Background()
	notifier := f.svc.AutoPrint()
	created := events.Event{Topic: events.TopicBillCreated, AggregateID: billID}

	require.NoError(t, notifier.Notify(ctx, created))
	require.Empty(t, f.queue.tasks, "auto-print is off by default")

	on := true
	width := settings.Width3Inch
	_, err := f.settings.Update(ctx, settings.Patch{AutoPrint: &on, ReceiptWidth: &width})
	require.NoError(t, err)

	require.NoError(t, notifier.Notify(ctx, events.Event{Topic: events.TopicBillDeleted, AggregateID: billID}))
	require.Empty(t, f.queue.tasks)

	require.NoError(t, notifier.Notify(ctx, created))
	require.Len(t, f.queue.tasks, 1)
	require.Equal(t, "auto:"+billID, f.queue.tasks[0].IdempotencyKey)
	require.Equal(t, 48, decodeJob(t, f.queue.tasks[0]).Width)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	h := receipt.NewHandler(f.svc)
	r := chi.NewRouter()
	r.Get("/api/v1/bills/{id}/receipt", h.Text)
	r.Post("/api/v1/bills/{id}/print", h.Print)

	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := do(http.MethodGet, "/api/v1/bills/"+billID+"/receipt?width=48")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "Bill No: 0315_001")

	rec = do(http.MethodGet, "/api/v1/bills/"+billID+"/receipt?width=40")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/api/v1/bills/missing/receipt")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/api/v1/bills/"+billID+"/print")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"queued":true`)
	require.Len(t, f.queue.tasks, 1)
}
