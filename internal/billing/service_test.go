package billing_test

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/billing"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/customer"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/settings"
	"github.com/noah-isme/backend-kasir/internal/subscription"
	"github.com/noah-isme/backend-kasir/internal/tax"
)

const (
	teaID    = "7d0f2a52-4c1e-4f55-9d1a-111111111111"
	coffeeID = "7d0f2a52-4c1e-4f55-9d1a-222222222222"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu         sync.Mutex
	bills      map[string]billing.Bill
	stock      map[string]int
	failInsert error
	inserts    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{bills: map[string]billing.Bill{}, stock: map[string]int{teaID: 5}}
}

type fakeTx struct {
	repo  *fakeRepo
	bills map[string]billing.Bill
	stock map[string]int
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, billing.TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{repo: f, bills: map[string]billing.Bill{}, stock: map[string]int{}}
	for k, v := range f.bills {
		tx.bills[k] = v
	}
	for k, v := range f.stock {
		tx.stock[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	f.bills, f.stock = tx.bills, tx.stock
	return nil
}

func (t *fakeTx) InsertBill(_ context.Context, b billing.Bill) error {
	t.repo.inserts++
	if t.repo.failInsert != nil {
		return t.repo.failInsert
	}
	for _, existing := range t.bills {
		if existing.InvoiceNumber == b.InvoiceNumber {
			return &pgconn.PgError{Code: "23505", ConstraintName: "bills_invoice_number_key", Message: "duplicate key value violates unique constraint"}
		}
	}
	t.bills[b.ID] = b
	return nil
}

func (t *fakeTx) AdjustStock(_ context.Context, itemID string, delta int) error {
	cur, ok := t.stock[itemID]
	if !ok {
		return nil
	}
	cur += delta
	if cur < 0 {
		cur = 0
	}
	t.stock[itemID] = cur
	return nil
}

func (t *fakeTx) DeleteBill(_ context.Context, id string) (billing.Bill, error) {
	b, ok := t.bills[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	delete(t.bills, id)
	return b, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (billing.Bill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bills[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	return b, nil
}

func (f *fakeRepo) List(_ context.Context, flt billing.Filter) ([]billing.Bill, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []billing.Bill
	for _, b := range f.bills {
		if flt.From != nil && b.CreatedAt.Before(*flt.From) {
			continue
		}
		if flt.To != nil && !b.CreatedAt.Before(*flt.To) {
			continue
		}
		if flt.Status != "" && b.Status != flt.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if flt.Offset > len(out) {
		flt.Offset = len(out)
	}
	out = out[flt.Offset:]
	if flt.Limit < len(out) {
		out = out[:flt.Limit]
	}
	return out, total, nil
}

func (f *fakeRepo) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bills), nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id string, status billing.Status, at time.Time) (billing.Bill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bills[id]
	if !ok {
		return billing.Bill{}, billing.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = at
	f.bills[id] = b
	return b, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (c *capturePublisher) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

type stubCustomers struct {
	calls int
}

func (s *stubCustomers) EnsureFromBilling(_ context.Context, name, phone string) (*customer.Customer, error) {
	s.calls++
	return &customer.Customer{ID: "cust-" + phone, Name: name, Phone: phone}, nil
}

type itemMap map[string]catalog.Item

func (m itemMap) Get(_ context.Context, id string) (catalog.Item, error) {
	it, ok := m[id]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return it, nil
}

type fixture struct {
	svc       *billing.Service
	repo      *fakeRepo
	carts     *cart.Service
	numbers   *invoice.Generator
	events    *capturePublisher
	customers *stubCustomers
}

func newFixture(t *testing.T, gate subscription.Gate) *fixture {
	t.Helper()
	store := kv.NewMemory()
	stock := 5
	carts, err := cart.NewService(cart.ServiceConfig{
		Store:  store,
		Locker: &lock.Local{},
		Items: itemMap{
			teaID:    {ID: teaID, Name: "Tea", Price: 10, Stock: &stock, Unit: "cup"},
			coffeeID: {ID: coffeeID, Name: "Coffee", Price: 25},
		},
		Defaults: cart.Defaults{Discount: 0, TaxRate: 5, PaymentMethod: cart.PaymentCash},
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	numbers, err := invoice.NewGenerator(invoice.Config{
		Store:    store,
		Locker:   &lock.Local{},
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
		Strict:   true,
	})
	require.NoError(t, err)

	f := &fixture{
		repo:      newFakeRepo(),
		carts:     carts,
		numbers:   numbers,
		events:    &capturePublisher{},
		customers: &stubCustomers{},
	}
	gate.Now = func() time.Time { return fixedNow }
	f.svc, err = billing.NewService(billing.ServiceConfig{
		Repo:      f.repo,
		Carts:     carts,
		Numbers:   numbers,
		Settings:  settings.NewStore(store, zerolog.Nop()),
		Customers: f.customers,
		Events:    f.events,
		Gate:      gate,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) filledCart(t *testing.T) *cart.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := f.carts.Create(ctx)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, c.ID, teaID, 2)
	require.NoError(t, err)
	c, err = f.carts.AddItem(ctx, c.ID, coffeeID, 1)
	require.NoError(t, err)
	return c
}

func TestCreateFromCart(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	c := f.filledCart(t)
	ctx := common.WithRegisterID(context.Background(), "register-7")

	bill, err := f.svc.CreateFromCart(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "0315_001", bill.InvoiceNumber)
	require.False(t, bill.InvoiceFallback)
	require.Equal(t, billing.StatusPaid, bill.Status)
	require.Equal(t, "register-7", bill.RegisterID)
	require.Equal(t, "My Business", bill.Business.Name)
	require.Len(t, bill.Items, 2)
	require.InDelta(t, 45, bill.Subtotal, 1e-9)
	require.InDelta(t, 2.25, bill.Tax, 1e-9)
	require.InDelta(t, 47.25, bill.Total, 1e-9)
	require.Equal(t, fixedNow, bill.CreatedAt)

	require.Equal(t, 3, f.repo.stock[teaID])
	stored, err := f.svc.Get(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, bill.InvoiceNumber, stored.InvoiceNumber)

	after, err := f.carts.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, after.Empty())
	require.Equal(t, []string{events.TopicBillCreated}, f.events.topics)

	_, err = f.svc.CreateFromCart(ctx, c.ID)
	require.ErrorIs(t, err, billing.ErrEmptyCart)

	next, err := f.numbers.Preview(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0315_002", next)
}

func TestCreateFromCartReleasesInvoiceOnFailure(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	c := f.filledCart(t)
	f.repo.failInsert = errors.New("connection reset")

	_, err := f.svc.CreateFromCart(context.Background(), c.ID)
	require.ErrorContains(t, err, "persist bill")

	next, err := f.numbers.Preview(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0315_001", next, "failed checkout must not consume a number")
	require.Equal(t, 5, f.repo.stock[teaID])
	require.Empty(t, f.repo.bills)

	kept, err := f.carts.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, kept.Lines, 2)
	require.Empty(t, f.events.topics)

	f.repo.failInsert = nil
	bill, err := f.svc.CreateFromCart(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "0315_001", bill.InvoiceNumber)
}

func TestCreateFromCartSkipsNumbersHeldByOlderBills(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	lastYear := fixedNow.AddDate(-1, 0, 0)
	for _, n := range []string{"0315_001", "0315_002", "0315_003"} {
		f.repo.bills["old-"+n] = billing.Bill{ID: "old-" + n, InvoiceNumber: n, CreatedAt: lastYear}
	}

	bill, err := f.svc.CreateFromCart(context.Background(), f.filledCart(t).ID)
	require.NoError(t, err)
	require.Equal(t, "0315_004", bill.InvoiceNumber)
	require.Equal(t, 3, f.repo.stock[teaID])

	bill, err = f.svc.CreateFromCart(context.Background(), f.filledCart(t).ID)
	require.NoError(t, err)
	require.Equal(t, "0315_005", bill.InvoiceNumber)
	require.Len(t, f.repo.bills, 5)
}

func TestCreateFromCartInvoiceConflict(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	c := f.filledCart(t)
	f.repo.failInsert = &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

	_, err := f.svc.CreateFromCart(context.Background(), c.ID)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "INVOICE_CONFLICT", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.Equal(t, 25, f.repo.inserts)

	// Skipped numbers stay consumed so the next checkout moves past them.
	next, err := f.numbers.Preview(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0315_026", next)
}

func TestCreateFromCartQuota(t *testing.T) {
	f := newFixture(t, subscription.Gate{Enabled: true})
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		f.repo.bills[id] = billing.Bill{ID: id}
	}
	c := f.filledCart(t)
	ctx := subscription.WithContext(context.Background(), &subscription.Subscription{
		Plan:    subscription.PlanTrial,
		Status:  subscription.StatusActive,
		EndDate: fixedNow.AddDate(0, 0, 3),
	})

	_, err := f.svc.CreateFromCart(ctx, c.ID)
	require.ErrorContains(t, err, "limit of 20 bills")

	next, err := f.numbers.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_001", next)
}

func TestCreateFromCartLinksCustomer(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	c := f.filledCart(t)
	name, phone := "Asha", "9876543210"
	_, err := f.carts.Update(context.Background(), c.ID, cart.Patch{CustomerName: &name, CustomerPhone: &phone})
	require.NoError(t, err)

	bill, err := f.svc.CreateFromCart(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, bill.CustomerID)
	require.Equal(t, "cust-9876543210", *bill.CustomerID)
	require.Equal(t, "Asha", bill.CustomerName)
	require.Equal(t, 1, f.customers.calls)
}

func TestConcurrentCheckoutsGetDistinctNumbers(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	carts := make([]*cart.Cart, 8)
	for i := range carts {
		c, err := f.carts.Create(context.Background())
		require.NoError(t, err)
		carts[i], err = f.carts.AddItem(context.Background(), c.ID, coffeeID, 1)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	for _, c := range carts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			bill, err := f.svc.CreateFromCart(context.Background(), id)
			require.NoError(t, err)
			mu.Lock()
			numbers[bill.InvoiceNumber] = true
			mu.Unlock()
		}(c.ID)
	}
	wg.Wait()
	require.Len(t, numbers, len(carts))
}

func TestDeleteRestoresStock(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	c := f.filledCart(t)
	bill, err := f.svc.CreateFromCart(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 3, f.repo.stock[teaID])

	require.NoError(t, f.svc.Delete(context.Background(), bill.ID))
	require.Equal(t, 5, f.repo.stock[teaID])
	_, err = f.svc.Get(context.Background(), bill.ID)
	require.ErrorIs(t, err, billing.ErrNotFound)
	require.Equal(t, []string{events.TopicBillCreated, events.TopicBillDeleted}, f.events.topics)

	require.ErrorIs(t, f.svc.Delete(context.Background(), bill.ID), billing.ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(context.Background(), "nope"), billing.ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	bill, err := f.svc.CreateFromCart(context.Background(), f.filledCart(t).ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), bill.ID, "refunded")
	require.ErrorIs(t, err, billing.ErrInvalidInput)

	same, err := f.svc.UpdateStatus(context.Background(), bill.ID, billing.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, billing.StatusPaid, same.Status)
	require.Len(t, f.events.topics, 1)

	voided, err := f.svc.UpdateStatus(context.Background(), bill.ID, billing.StatusVoid)
	require.NoError(t, err)
	require.Equal(t, billing.StatusVoid, voided.Status)
	require.InDelta(t, bill.Total, voided.Total, 1e-9)
	require.Equal(t, events.TopicBillStatusChanged, f.events.topics[1])
}

func TestListValidatesFilters(t *testing.T) {
	f := newFixture(t, subscription.Gate{})
	_, err := f.svc.CreateFromCart(context.Background(), f.filledCart(t).ID)
	require.NoError(t, err)

	bills, total, err := f.svc.List(context.Background(), billing.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, bills, 1)

	_, _, err = f.svc.List(context.Background(), billing.Filter{Status: "lost"})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
	from, to := fixedNow, fixedNow
	_, _, err = f.svc.List(context.Background(), billing.Filter{From: &from, To: &to})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestSnapshotRoundsMoney(t *testing.T) {
	c := cart.New("cart-1", cart.Defaults{Discount: 10, TaxRate: 7.5, PaymentMethod: cart.PaymentUPI})
	c.AddItem(cart.Product{ID: "a", Name: "Notebook", Price: 19.99}, 3)
	c.AddItem(cart.Product{ID: "b", Name: "Pen", Price: 100, TaxClass: &tax.ItemClass{Type: tax.ItemGST, GSTRate: 18}}, 1)
	c.SetCustomer("", "Walk-in", "")
	c.SetNotes("gift wrap")

	alloc := invoice.Allocation{Number: "INV-0001", Fallback: true}
	b := billing.Snapshot(c, billing.Business{Name: "Toko"}, alloc, fixedNow.In(time.FixedZone("WIB", 7*3600)))

	require.Equal(t, "INV-0001", b.InvoiceNumber)
	require.True(t, b.InvoiceFallback)
	require.Nil(t, b.CustomerID)
	require.Equal(t, "Walk-in", b.CustomerName)
	require.Equal(t, cart.PaymentUPI, b.PaymentMethod)
	require.Equal(t, "gift wrap", b.Notes)
	require.Equal(t, time.UTC, b.CreatedAt.Location())
	require.InDelta(t, 159.97, b.Subtotal, 1e-9)
	// Bill rate on 59.97 plus item GST on 100.
	require.InDelta(t, 22.50, b.Tax, 1e-9)
	require.InDelta(t, 18, b.ItemsTax, 1e-9)
	require.InDelta(t, 18.25, b.Discount, 1e-9)
	require.InDelta(t, 164.22, b.Total, 1e-9)
	require.Equal(t, 10.0, b.DiscountRate)
	require.NotNil(t, b.Breakdown)
	require.InDelta(t, 9, *b.Breakdown.CGST, 1e-9)
	require.InDelta(t, 59.97, b.Items[0].Total, 1e-9)
}

func TestSnapshotTotalMatchesRoundedParts(t *testing.T) {
	// Tax 0.004 rounds down and discount 0.006024 rounds up; the unrounded
	// total 0.997976 would round to 1.00.
	c := cart.New("cart-1", cart.Defaults{Discount: 0.6, TaxRate: 0.4, PaymentMethod: cart.PaymentCash})
	c.AddItem(cart.Product{ID: "a", Name: "Permen", Price: 1}, 1)

	b := billing.Snapshot(c, billing.Business{}, invoice.Allocation{Number: "0315_001"}, fixedNow)
	require.InDelta(t, 1, b.Subtotal, 1e-9)
	require.InDelta(t, 0, b.Tax, 1e-9)
	require.InDelta(t, 0.01, b.Discount, 1e-9)
	require.InDelta(t, 0.99, b.Total, 1e-9)
	require.InDelta(t, b.Subtotal+b.Tax-b.Discount, b.Total, 1e-9)
}
