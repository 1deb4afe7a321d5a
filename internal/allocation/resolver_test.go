package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/infrastructure/memory"
	"github.com/pos-platform/stock-service/internal/shortage"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
)

const product = "MILK"

var errTransfer = errors.New("transfer rejected")

// countingReader records which tiers were read.
type countingReader struct {
	inner AvailabilityReader
	mu    sync.Mutex
	reads []domain.StockLocation
}

func (r *countingReader) TotalAvailable(ctx context.Context, loc domain.StockLocation, code string) (int, error) {
	r.mu.Lock()
	r.reads = append(r.reads, loc)
	r.mu.Unlock()
	return r.inner.TotalAvailable(ctx, loc, code)
}

func (r *countingReader) readsOf(loc domain.StockLocation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.reads {
		if l == loc {
			n++
		}
	}
	return n
}

// recordingTransferrer records every transfer call and can fail chosen ones.
type recordingTransferrer struct {
	inner  Transferrer
	mu     sync.Mutex
	calls  []TransferLeg
	failOn map[int]bool
	after  func(ctx context.Context, call int)
}

func (t *recordingTransferrer) Transfer(ctx context.Context, code string, leg TransferLeg) error {
	t.mu.Lock()
	t.calls = append(t.calls, leg)
	call := len(t.calls)
	fail := t.failOn[call]
	t.mu.Unlock()

	if fail {
		return errTransfer
	}
	if err := t.inner.Transfer(ctx, code, leg); err != nil {
		return err
	}
	if t.after != nil {
		t.after(ctx, call)
	}
	return nil
}

type harness struct {
	store     *memory.Store
	exec      *uow.Executor
	reader    *countingReader
	transfers *recordingTransferrer
	bus       *shortage.Bus
	published []*domain.ShortageEvent
	recorder  ShortageRecorder
}

func newHarness(t *testing.T, shelf, main, web int) *harness {
	t.Helper()

	h := &harness{store: memory.NewStore()}
	for loc, qty := range map[domain.StockLocation]int{
		domain.LocationShelf:     shelf,
		domain.LocationMainStore: main,
		domain.LocationWeb:       web,
	} {
		if qty == 0 {
			continue
		}
		require.NoError(t, h.store.ReceiveBatch(context.Background(), domain.Batch{
			ID:          product + "-" + string(loc),
			ProductCode: product,
			Location:    loc,
			ReceivedAt:  base,
			Expiry:      day(10),
			Quantity:    qty,
		}))
	}

	h.exec = uow.NewExecutor(h.store, logging.NewNop(), nil)
	h.reader = &countingReader{inner: h.store}
	h.transfers = &recordingTransferrer{inner: NewUnitOfWorkTransferrer(h.exec), failOn: map[int]bool{}}
	h.bus = shortage.NewBus()
	h.bus.Subscribe("capture", shortage.HandlerFunc(func(_ context.Context, ev *domain.ShortageEvent) error {
		h.published = append(h.published, ev)
		return nil
	}))
	h.recorder = shortage.NewRecorder(h.exec, h.bus, logging.NewNop())
	return h
}

func (h *harness) resolver(opts ...ResolverOption) *Resolver {
	opts = append([]ResolverOption{
		WithTransferrer(h.transfers),
		WithShortageIDs(idgen.NewSequenceGenerator("SHORTAGE")),
		WithClock(func() time.Time { return base }),
	}, opts...)
	return NewResolver(h.reader, h.exec, AlwaysDecline, NewDeductor(domain.FEFO), h.recorder, logging.NewNop(), opts...)
}

func (h *harness) available(t *testing.T, loc domain.StockLocation) int {
	t.Helper()
	qty, err := h.store.TotalAvailable(context.Background(), loc, product)
	require.NoError(t, err)
	return qty
}

func shelfRequest(qty int) domain.AllocationRequest {
	return domain.AllocationRequest{ProductCode: product, RequestedQuantity: qty, Location: domain.LocationShelf}
}

func TestResolve_DirectFromShelf(t *testing.T) {
	h := newHarness(t, 10, 5, 5)
	decider := NewScriptedDecider()

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(4), decider)

	require.NoError(t, err)
	assert.Equal(t, 4, res.Fulfilled)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Empty(t, h.transfers.calls)
	assert.Empty(t, decider.Prompts())
	assert.Zero(t, h.reader.readsOf(domain.LocationMainStore))
	assert.Zero(t, h.reader.readsOf(domain.LocationWeb))
	assert.Equal(t, 6, h.available(t, domain.LocationShelf))
}

func TestResolve_TransferFromMainStore(t *testing.T) {
	h := newHarness(t, 3, 10, 0)
	decider := NewScriptedDecider(true)

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), decider)

	require.NoError(t, err)
	assert.Equal(t, 8, res.Fulfilled)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, []TransferLeg{{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 5}}, h.transfers.calls)
	assert.Equal(t, []PromptKind{PromptTransfer}, decider.Kinds())
	assert.Equal(t, h.transfers.calls, res.Transfers)
	assert.Zero(t, h.reader.readsOf(domain.LocationWeb))

	assert.Equal(t, 0, h.available(t, domain.LocationShelf))
	assert.Equal(t, 5, h.available(t, domain.LocationMainStore))
}

func TestResolve_TwoStepTransferFromWeb(t *testing.T) {
	h := newHarness(t, 2, 1, 10)
	decider := NewScriptedDecider(true)

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), decider)

	require.NoError(t, err)
	assert.Equal(t, 8, res.Fulfilled)
	assert.Equal(t, []TransferLeg{
		{From: domain.LocationWeb, To: domain.LocationMainStore, Quantity: 5},
		{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 6},
	}, h.transfers.calls)
	assert.Equal(t, []PromptKind{PromptTwoStepTransfer}, decider.Kinds())
	assert.False(t, res.ShortageRecorded)

	assert.Equal(t, 0, h.available(t, domain.LocationShelf))
	assert.Equal(t, 0, h.available(t, domain.LocationMainStore))
	assert.Equal(t, 5, h.available(t, domain.LocationWeb))
}

func TestResolve_EmptyEverywhereRecordsShortageWithoutPrompt(t *testing.T) {
	h := newHarness(t, 0, 0, 0)
	decider := NewScriptedDecider()

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(5), decider)

	require.NoError(t, err)
	assert.Zero(t, res.Fulfilled)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Empty(t, decider.Prompts())
	assert.True(t, res.ShortageRecorded)
	assert.Equal(t, "SHORTAGE-1", res.ShortageID)

	require.Len(t, h.published, 1)
	ev := h.published[0]
	assert.Zero(t, ev.TotalAvailable)
	assert.Equal(t, 5, ev.RequestedQuantity)
	assert.Equal(t, base, ev.DetectedAt)

	persisted, err := h.store.ListShortages(context.Background(), product, 0)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestResolve_ShortageOffersGrandTotal(t *testing.T) {
	h := newHarness(t, 2, 1, 3)
	decider := NewScriptedDecider(true)

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(10), decider)

	require.NoError(t, err)
	require.Len(t, decider.Prompts(), 1)
	prompt := decider.Prompts()[0]
	assert.Equal(t, PromptPartial, prompt.Kind)
	assert.Equal(t, 6, prompt.Offered)
	assert.Equal(t, 2, prompt.Sellable)
	assert.Contains(t, prompt.Message, "Sell 2 from SHELF?")
	assert.Equal(t, map[domain.StockLocation]int{
		domain.LocationShelf: 2, domain.LocationMainStore: 1, domain.LocationWeb: 3,
	}, prompt.Available)

	// consent covers exactly what SHELF holds
	assert.Equal(t, prompt.Sellable, res.Fulfilled)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.True(t, res.ShortageRecorded)
	assert.Empty(t, h.transfers.calls)

	require.Len(t, h.published, 1)
	assert.Equal(t, map[domain.StockLocation]int{
		domain.LocationShelf: 2, domain.LocationMainStore: 1, domain.LocationWeb: 3,
	}, h.published[0].Breakdown)
	assert.Equal(t, 4, h.published[0].Missing())
}

func TestResolve_ShortageWithEmptyShelfAsksNothing(t *testing.T) {
	h := newHarness(t, 0, 1, 2)
	decider := NewScriptedDecider()

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(10), decider)

	require.NoError(t, err)
	assert.Empty(t, decider.Prompts())
	assert.Zero(t, res.Fulfilled)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.True(t, res.ShortageRecorded)
	assert.Equal(t, 1, h.available(t, domain.LocationMainStore))
	assert.Equal(t, 2, h.available(t, domain.LocationWeb))
}

func TestResolve_DeclineNeverExceedsShelf(t *testing.T) {
	tests := []struct {
		name          string
		shelf         int
		main          int
		web           int
		requested     int
		answers       []bool
		wantFulfilled int
		wantKinds     []PromptKind
	}{
		{
			name: "decline transfer, accept partial", shelf: 3, main: 10, requested: 8,
			answers: []bool{false, true}, wantFulfilled: 3,
			wantKinds: []PromptKind{PromptTransfer, PromptPartial},
		},
		{
			name: "decline transfer and partial", shelf: 3, main: 10, requested: 8,
			answers: []bool{false, false}, wantFulfilled: 0,
			wantKinds: []PromptKind{PromptTransfer, PromptPartial},
		},
		{
			name: "decline two-step, accept partial", shelf: 2, main: 1, web: 10, requested: 8,
			answers: []bool{false, true}, wantFulfilled: 2,
			wantKinds: []PromptKind{PromptTwoStepTransfer, PromptPartial},
		},
		{
			name: "decline with empty shelf skips the partial prompt", shelf: 0, main: 10, requested: 4,
			answers: []bool{false}, wantFulfilled: 0,
			wantKinds: []PromptKind{PromptTransfer},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.shelf, tt.main, tt.web)
			decider := NewScriptedDecider(tt.answers...)

			res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(tt.requested), decider)

			require.NoError(t, err)
			assert.Equal(t, tt.wantFulfilled, res.Fulfilled)
			assert.LessOrEqual(t, res.Fulfilled, tt.shelf)
			assert.Equal(t, tt.wantKinds, decider.Kinds())
			assert.Empty(t, h.transfers.calls)
			assert.Equal(t, tt.main, h.available(t, domain.LocationMainStore))
			assert.Equal(t, tt.web, h.available(t, domain.LocationWeb))
			assert.Equal(t, tt.shelf-tt.wantFulfilled, h.available(t, domain.LocationShelf))
		})
	}
}

func TestResolve_TransferFailureFallsBackToPartial(t *testing.T) {
	h := newHarness(t, 3, 10, 0)
	h.transfers.failOn[1] = true
	decider := NewScriptedDecider(true, true)

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), decider)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Fulfilled)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, []PromptKind{PromptTransfer, PromptPartial}, decider.Kinds())
	assert.Equal(t, 10, h.available(t, domain.LocationMainStore))
}

func TestResolve_SecondLegFailureCompensatesFirst(t *testing.T) {
	h := newHarness(t, 2, 1, 10)
	h.transfers.failOn[2] = true
	decider := NewScriptedDecider(true, true)

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), decider)

	require.NoError(t, err)
	assert.Equal(t, []TransferLeg{
		{From: domain.LocationWeb, To: domain.LocationMainStore, Quantity: 5},
		{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 6},
		{From: domain.LocationMainStore, To: domain.LocationWeb, Quantity: 5},
	}, h.transfers.calls)
	assert.Empty(t, res.Transfers)
	assert.Equal(t, 2, res.Fulfilled)

	assert.Equal(t, 0, h.available(t, domain.LocationShelf))
	assert.Equal(t, 1, h.available(t, domain.LocationMainStore))
	assert.Equal(t, 10, h.available(t, domain.LocationWeb))
}

func TestResolve_FinalDeductionFailureCompensatesAndSurfaces(t *testing.T) {
	h := newHarness(t, 3, 10, 0)
	// a concurrent sale takes 2 units between the transfer and the deduction
	h.transfers.after = func(ctx context.Context, call int) {
		if call == 1 {
			_, err := NewDeductor(domain.FEFO).DeductUpTo(ctx, h.store, product, 2, domain.LocationShelf)
			require.NoError(t, err)
		}
	}

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), AlwaysApprove)

	require.Error(t, err)
	assert.Nil(t, res)
	tf, ok := uow.AsTransactionFailure(err)
	require.True(t, ok)
	assert.True(t, tf.RolledBack())
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.Len(t, h.transfers.calls, 2)
	assert.Equal(t, TransferLeg{From: domain.LocationShelf, To: domain.LocationMainStore, Quantity: 5}, h.transfers.calls[1])
	assert.Equal(t, 1, h.available(t, domain.LocationShelf))
	assert.Equal(t, 10, h.available(t, domain.LocationMainStore))
}

func TestResolve_ShortageDeliveryFailureStillCounts(t *testing.T) {
	h := newHarness(t, 0, 0, 0)
	h.bus.Subscribe("broken", shortage.HandlerFunc(func(context.Context, *domain.ShortageEvent) error {
		return errors.New("mail server down")
	}))

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(5), NewScriptedDecider())

	require.NoError(t, err)
	assert.True(t, res.ShortageRecorded)
	assert.NotEmpty(t, res.ShortageID)
}

func TestResolve_ShortagePersistFailureDoesNotBlockSale(t *testing.T) {
	h := newHarness(t, 2, 0, 0)
	h.recorder = recorderFunc(func(context.Context, *domain.ShortageEvent) error {
		return errors.New("shortage log unavailable")
	})

	res, err := h.resolver().ResolveWith(context.Background(), shelfRequest(5), AlwaysApprove)

	require.NoError(t, err)
	assert.False(t, res.ShortageRecorded)
	assert.Empty(t, res.ShortageID)
	assert.Equal(t, 2, res.Fulfilled)
}

func TestResolve_DeciderErrorAborts(t *testing.T) {
	h := newHarness(t, 3, 10, 0)

	_, err := h.resolver().ResolveWith(context.Background(), shelfRequest(8), NewScriptedDecider())

	assert.ErrorIs(t, err, ErrNoScriptedAnswer)
	assert.Empty(t, h.transfers.calls)
	assert.Equal(t, 3, h.available(t, domain.LocationShelf))
}

func TestResolve_NonShelfRequestsStayOnTheirTier(t *testing.T) {
	h := newHarness(t, 5, 10, 20)
	r := h.resolver()
	req := domain.AllocationRequest{ProductCode: product, RequestedQuantity: 4, Location: domain.LocationMainStore}

	res, err := r.ResolveWith(context.Background(), req, NewScriptedDecider())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fulfilled)

	req.RequestedQuantity = 8
	decider := NewScriptedDecider(true)
	res, err = r.ResolveWith(context.Background(), req, decider)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Fulfilled)
	assert.Equal(t, []PromptKind{PromptPartial}, decider.Kinds())

	assert.Empty(t, h.transfers.calls)
	assert.Equal(t, 0, h.available(t, domain.LocationMainStore))
	assert.Equal(t, 5, h.available(t, domain.LocationShelf))
	assert.Equal(t, 20, h.available(t, domain.LocationWeb))
}

func TestResolve_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, 5, 0, 0)

	_, err := h.resolver().ResolveAndAllocate(context.Background(), shelfRequest(0))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = h.resolver().ResolveAndAllocate(context.Background(), domain.AllocationRequest{RequestedQuantity: 1, Location: domain.LocationShelf})
	assert.ErrorIs(t, err, domain.ErrInvalidProductCode)
}

func TestResolve_DefaultDeciderIsUsed(t *testing.T) {
	h := newHarness(t, 3, 10, 0)

	res, err := h.resolver().ResolveAndAllocate(context.Background(), shelfRequest(8))

	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
}

func TestResolve_LockerSerializesSameProduct(t *testing.T) {
	h := newHarness(t, 3, 10, 0)
	r := h.resolver(WithLocker(NewKeyedMutex()))

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.ResolveWith(context.Background(), shelfRequest(8), AlwaysApprove)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 8, results[0].Fulfilled+results[1].Fulfilled)
	assert.Equal(t, 5, h.available(t, domain.LocationShelf)+h.available(t, domain.LocationMainStore))
}

type recorderFunc func(ctx context.Context, event *domain.ShortageEvent) error

func (f recorderFunc) Record(ctx context.Context, event *domain.ShortageEvent) error {
	return f(ctx, event)
}
