package spend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository with real version guards, so the
// ledger's retry loop is exercised against genuine conflicts.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*Record

	creates int
	updates int
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*Record)}
}

func key(week, user string) string { return week + "|" + user }

func (r *memRepo) Get(_ context.Context, weekStart, userEmail string) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key(weekStart, userEmail)]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (r *memRepo) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	k := key(rec.WeekStart, rec.UserEmail)
	if _, ok := r.records[k]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	r.records[k] = &cp
	return nil
}

func (r *memRepo) UpdateWithVersion(_ context.Context, rec *Record, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	k := key(rec.WeekStart, rec.UserEmail)
	cur, ok := r.records[k]
	if !ok || cur.Version != expected {
		return ErrVersionConflict
	}
	cp := *rec
	cp.Version = expected + 1
	r.records[k] = &cp
	return nil
}

func fixedLedger(repo Repository) *Ledger {
	l := NewLedger(repo)
	l.now = func() time.Time {
		return time.Date(2026, time.March, 11, 12, 0, 0, 0, time.UTC) // a Wednesday
	}
	return l
}

func TestCurrentWeekStart(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{
			name: "midweek maps to previous Sunday",
			t:    time.Date(2026, time.March, 11, 9, 30, 0, 0, time.UTC),
			want: "2026-03-08",
		},
		{
			name: "sunday is its own week start",
			t:    time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC),
			want: "2026-03-08",
		},
		{
			name: "saturday belongs to the preceding Sunday",
			t:    time.Date(2026, time.March, 14, 23, 59, 59, 0, time.UTC),
			want: "2026-03-08",
		},
		{
			name: "local time is normalised to UTC first",
			t:    time.Date(2026, time.March, 8, 1, 0, 0, 0, time.FixedZone("east", 3*3600)),
			want: "2026-03-07",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentWeekStart(tt.t); got != tt.want {
				t.Errorf("CurrentWeekStart(%v) = %q, want %q", tt.t, got, tt.want)
			}
		})
	}
}

func TestRecordSpendCreatesThenAccumulates(t *testing.T) {
	repo := newMemRepo()
	ledger := fixedLedger(repo)
	ctx := context.Background()

	total, err := ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("new total = %s, want 0.01", total)
	}

	total, err = ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("new total = %s, want 0.03", total)
	}

	spent, err := ledger.GetSpend(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetSpend() error = %v", err)
	}
	if !spent.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("spent = %s, want 0.03", spent)
	}

	rec, found, _ := repo.Get(ctx, "2026-03-08", "a@example.com")
	if !found {
		t.Fatal("record not found")
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Version)
	}
}

func TestRecordSpendZeroAmountIsNoop(t *testing.T) {
	repo := newMemRepo()
	ledger := fixedLedger(repo)

	total, err := ledger.RecordSpend(context.Background(), "a@example.com", "eng", decimal.Zero)
	if err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if !total.IsZero() {
		t.Errorf("new total = %s, want 0", total)
	}
	if repo.creates != 0 || repo.updates != 0 {
		t.Errorf("zero amount should write nothing, creates=%d updates=%d", repo.creates, repo.updates)
	}
}

func TestRecordSpendNegativeCredit(t *testing.T) {
	repo := newMemRepo()
	ledger := fixedLedger(repo)
	ctx := context.Background()

	if _, err := ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("0.50")); err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	total, err := ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("-0.30"))
	if err != nil {
		t.Fatalf("RecordSpend() credit error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("new total = %s, want 0.20", total)
	}

	spent, _ := ledger.GetSpend(ctx, "a@example.com")
	if !spent.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("spent = %s, want 0.20", spent)
	}
}

func TestRecordSpendConcurrentConservation(t *testing.T) {
	repo := newMemRepo()
	ledger := fixedLedger(repo)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25
	amount := decimal.RequireFromString("0.01")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var lost int

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := ledger.RecordSpend(ctx, "a@example.com", "eng", amount)
				if errors.Is(err, ErrConcurrencyExhausted) {
					mu.Lock()
					lost++
					mu.Unlock()
					continue
				}
				if err != nil {
					t.Errorf("RecordSpend() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	spent, err := ledger.GetSpend(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetSpend() error = %v", err)
	}
	recorded := writers*perWriter - lost
	want := amount.Mul(decimal.NewFromInt(int64(recorded)))
	if !spent.Equal(want) {
		t.Errorf("spent = %s, want %s (%d recorded, %d exhausted)", spent, want, recorded, lost)
	}
}

// conflictRepo loses every write, to pin the attempt bound.
type conflictRepo struct {
	gets    int
	updates int
}

func (r *conflictRepo) Get(_ context.Context, weekStart, userEmail string) (*Record, bool, error) {
	r.gets++
	return &Record{WeekStart: weekStart, UserEmail: userEmail, Spent: decimal.Zero, Version: 1}, true, nil
}

func (r *conflictRepo) Create(_ context.Context, _ *Record) error {
	return ErrAlreadyExists
}

func (r *conflictRepo) UpdateWithVersion(_ context.Context, _ *Record, _ int64) error {
	r.updates++
	return ErrVersionConflict
}

func TestRecordSpendRetriesExactlyThreeTimes(t *testing.T) {
	repo := &conflictRepo{}
	ledger := fixedLedger(repo)

	_, err := ledger.RecordSpend(context.Background(), "a@example.com", "eng", decimal.RequireFromString("0.01"))
	if !errors.Is(err, ErrConcurrencyExhausted) {
		t.Fatalf("RecordSpend() error = %v, want ErrConcurrencyExhausted", err)
	}
	if repo.updates != 3 {
		t.Errorf("update attempts = %d, want 3", repo.updates)
	}
}

func TestCheckBudget(t *testing.T) {
	repo := newMemRepo()
	ledger := fixedLedger(repo)
	ctx := context.Background()

	limit := decimal.RequireFromString("1.00")

	// No record yet: under budget
	if err := ledger.CheckBudget(ctx, "a@example.com", limit); err != nil {
		t.Fatalf("CheckBudget() with no spend error = %v", err)
	}

	if _, err := ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("0.99")); err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if err := ledger.CheckBudget(ctx, "a@example.com", limit); err != nil {
		t.Fatalf("CheckBudget() under limit error = %v", err)
	}

	if _, err := ledger.RecordSpend(ctx, "a@example.com", "eng", decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if err := ledger.CheckBudget(ctx, "a@example.com", limit); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("CheckBudget() at limit error = %v, want ErrBudgetExceeded", err)
	}

	// Zero limit disables the check
	if err := ledger.CheckBudget(ctx, "a@example.com", decimal.Zero); err != nil {
		t.Fatalf("CheckBudget() with zero limit error = %v", err)
	}
}
