package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/invoice"
	"github.com/noah-isme/backend-kasir/internal/kv"
	"github.com/noah-isme/backend-kasir/internal/lock"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type flakyStore struct {
	kv.Store
	failGet map[string]bool
	failSet map[string]bool
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet[key] {
		return "", false, errors.New("storage unavailable")
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failSet[key] {
		return errors.New("storage full")
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func newGenerator(t *testing.T, store kv.Store, strict bool) *invoice.Generator {
	t.Helper()
	gen, err := invoice.NewGenerator(invoice.Config{
		Store:    store,
		Locker:   &lock.Local{},
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
		Strict:   strict,
	})
	require.NoError(t, err)
	return gen
}

func ptr[T any](v T) *T { return &v }

func TestNewGeneratorRequiresDependencies(t *testing.T) {
	_, err := invoice.NewGenerator(invoice.Config{Locker: &lock.Local{}})
	require.Error(t, err)
	_, err = invoice.NewGenerator(invoice.Config{Store: kv.NewMemory()})
	require.Error(t, err)
}

func TestAllocateDefaultDailyNumbers(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	first, err := gen.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_001", first.Number)
	require.Equal(t, invoice.ScopeDaily, first.Scope)
	require.Equal(t, "2024-03-15", first.Key)
	require.Equal(t, 1, first.Value)

	second, err := gen.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_002", second.Number)
}

func TestAllocateSequentialIncreasing(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	seen := map[string]bool{}
	prev := 0
	for i := 0; i < 25; i++ {
		a, err := gen.Allocate(ctx)
		require.NoError(t, err)
		require.False(t, seen[a.Number], "duplicate %s", a.Number)
		seen[a.Number] = true
		require.Greater(t, a.Value, prev)
		prev = a.Value
	}
	require.Equal(t, 25, prev)
}

func TestAllocateConcurrentNoDuplicates(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	const n = 40
	var (
		mu      sync.Mutex
		numbers = make(map[string]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := gen.Allocate(ctx)
			require.NoError(t, err)
			mu.Lock()
			numbers[a.Number]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, numbers, n)
	for num, count := range numbers {
		require.Equal(t, 1, count, num)
	}
}

func TestPreviewDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	p1, err := gen.Preview(ctx)
	require.NoError(t, err)
	p2, err := gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_001", p1)
	require.Equal(t, p1, p2)

	a, err := gen.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, p1, a.Number)

	p3, err := gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_002", p3)
}

func TestNumberFormats(t *testing.T) {
	cases := []struct {
		name  string
		patch invoice.Patch
		want  []string
		scope invoice.Scope
	}{
		{
			name: "sequential has no date part",
			patch: invoice.Patch{
				Format:    ptr(invoice.FormatSequential),
				Prefix:    ptr("INV"),
				Separator: ptr("-"),
				MinDigits: ptr(4),
			},
			want:  []string{"INV-0001", "INV-0002"},
			scope: invoice.ScopeGlobal,
		},
		{
			name: "monthly reset with long date",
			patch: invoice.Patch{
				ResetDaily:   ptr(false),
				ResetMonthly: ptr(true),
				DateFormat:   ptr(invoice.DateYYYYMMDD),
			},
			want:  []string{"20240315_001", "20240315_002"},
			scope: invoice.ScopeMonthly,
		},
		{
			name: "date based without reset uses global counter",
			patch: invoice.Patch{
				ResetDaily:  ptr(false),
				DateFormat:  ptr(invoice.DateDDMM),
				StartNumber: ptr(100),
				Suffix:      ptr("B"),
			},
			want:  []string{"1503_100_B", "1503_101_B"},
			scope: invoice.ScopeGlobal,
		},
		{
			name: "custom behaves as date based",
			patch: invoice.Patch{
				Format:     ptr(invoice.FormatCustom),
				DateFormat: ptr(invoice.DateYYMMDD),
				Prefix:     ptr("POS"),
				MinDigits:  ptr(1),
			},
			want:  []string{"POS_240315_1", "POS_240315_2"},
			scope: invoice.ScopeDaily,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			gen := newGenerator(t, kv.NewMemory(), true)
			_, err := gen.SaveSettings(ctx, tc.patch)
			require.NoError(t, err)
			for _, want := range tc.want {
				a, err := gen.Allocate(ctx)
				require.NoError(t, err)
				require.Equal(t, want, a.Number)
				require.Equal(t, tc.scope, a.Scope)
			}
		})
	}
}

func TestGenerateFallsBackInStrictMode(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemory(), failGet: map[string]bool{invoice.KeyDailyCounters: true}}
	gen := newGenerator(t, store, true)

	_, err := gen.Allocate(ctx)
	require.Error(t, err)

	a := gen.Generate(ctx)
	require.True(t, a.Fallback)
	require.Equal(t, "INV_800000", a.Number)
	require.Regexp(t, regexp.MustCompile(`^INV_\d{6}$`), a.Number)
	require.NoError(t, gen.Release(ctx, a))
}

func TestNonStrictReadFailureRestartsAtStartNumber(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	store := &flakyStore{Store: mem, failGet: map[string]bool{}}
	gen := newGenerator(t, store, false)

	for i := 0; i < 3; i++ {
		_, err := gen.Allocate(ctx)
		require.NoError(t, err)
	}
	store.failGet[invoice.KeyDailyCounters] = true

	a, err := gen.Allocate(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_001", a.Number)

	store.failGet[invoice.KeyDailyCounters] = false
	next, err := gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_004", next, "read failure must not write")
}

func TestWriteFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemory(), failSet: map[string]bool{invoice.KeyDailyCounters: true}}
	gen := newGenerator(t, store, false)

	_, err := gen.Allocate(ctx)
	require.Error(t, err)
	require.True(t, gen.Generate(ctx).Fallback)
}

func TestReleaseRollsBackOnlyLatest(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	first, err := gen.Allocate(ctx)
	require.NoError(t, err)
	second, err := gen.Allocate(ctx)
	require.NoError(t, err)

	// first is no longer the latest allocation
	require.NoError(t, gen.Release(ctx, first))
	next, err := gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_003", next)

	require.NoError(t, gen.Release(ctx, second))
	next, err = gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_002", next)

	require.NoError(t, gen.Release(ctx, first))
	next, err = gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_001", next)
}

func TestResetAndStatistics(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	for i := 0; i < 3; i++ {
		_, err := gen.Allocate(ctx)
		require.NoError(t, err)
	}
	stats, err := gen.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TodayCount)
	require.Equal(t, 0, stats.MonthCount)
	require.Equal(t, 0, stats.TotalCount)
	require.Equal(t, "0315_004", stats.NextInvoiceNumber)

	require.NoError(t, gen.Reset(ctx, invoice.ScopeDaily))
	stats, err = gen.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TodayCount)
	require.Equal(t, "0315_001", stats.NextInvoiceNumber)

	err = gen.Reset(ctx, invoice.Scope("weekly"))
	require.ErrorIs(t, err, invoice.ErrInvalidScope)
}

func TestSaveSettingsValidation(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, kv.NewMemory(), true)

	_, err := gen.SaveSettings(ctx, invoice.Patch{MinDigits: ptr(0)})
	require.ErrorIs(t, err, invoice.ErrInvalidSettings)

	_, err = gen.SaveSettings(ctx, invoice.Patch{Format: ptr(invoice.Format("weird"))})
	require.ErrorIs(t, err, invoice.ErrInvalidSettings)

	s, err := gen.SaveSettings(ctx, invoice.Patch{ResetMonthly: ptr(true)})
	require.NoError(t, err)
	require.True(t, s.ResetMonthly)
	require.False(t, s.ResetDaily)

	s, err = gen.SaveSettings(ctx, invoice.Patch{ResetDaily: ptr(true), ResetMonthly: ptr(true)})
	require.NoError(t, err)
	require.True(t, s.ResetDaily)
	require.False(t, s.ResetMonthly)

	loaded, err := gen.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, s, loaded)
}

func TestPruneDropsOldCounters(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	daily := map[string]invoice.DailyCounter{}
	for _, d := range []string{"2023-12-01", "2024-03-01", "2024-03-14", "2024-03-15"} {
		daily[d] = invoice.DailyCounter{Date: d, Count: 5, LastBillNumber: "005"}
	}
	monthly := map[string]invoice.MonthlyCounter{
		"2022-01": {Month: "2022-01", Count: 9},
		"2024-03": {Month: "2024-03", Count: 2},
	}
	require.NoError(t, kv.SetJSON(ctx, mem, invoice.KeyDailyCounters, daily, 0))
	require.NoError(t, kv.SetJSON(ctx, mem, invoice.KeyMonthlyCounters, monthly, 0))

	gen := newGenerator(t, mem, true)
	removed, err := gen.Prune(ctx, 7, 12)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	var gotDaily map[string]invoice.DailyCounter
	_, err = kv.GetJSON(ctx, mem, invoice.KeyDailyCounters, &gotDaily)
	require.NoError(t, err)
	require.Len(t, gotDaily, 2)
	require.Contains(t, gotDaily, "2024-03-15")

	next, err := gen.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, "0315_006", next)
}

func TestGeneratorOnRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gen, err := invoice.NewGenerator(invoice.Config{
		Store:    kv.Redis{R: client, Prefix: "kasir"},
		Locker:   lock.Redis{R: client, RetryBackoff: 2 * time.Millisecond},
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
		Logger:   zerolog.Nop(),
		Strict:   true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := gen.Allocate(ctx)
			if err == nil {
				results <- a.Number
			}
		}()
	}
	wg.Wait()
	close(results)
	seen := map[string]bool{}
	for n := range results {
		seen[n] = true
	}
	require.Len(t, seen, 10)
	for i := 1; i <= 10; i++ {
		require.True(t, seen[fmt.Sprintf("0315_%03d", i)])
	}
	raw, err := mr.Get("kasir:" + invoice.KeyDailyCounters)
	require.NoError(t, err)
	require.Contains(t, raw, `"count":10`)
}
