package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/shortage"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

// ErrInvariantViolated means availability figures contradicted each other.
var ErrInvariantViolated = errors.New("allocation invariant violated")

// Outcome summarizes how much of a request was met.
type Outcome string

const (
	OutcomeFulfilled Outcome = "FULFILLED"
	OutcomePartial   Outcome = "PARTIAL"
	OutcomeAbandoned Outcome = "ABANDONED"
)

// Result describes a settled allocation request.
type Result struct {
	ProductCode      string        `json:"productCode"`
	Requested        int           `json:"requested"`
	Fulfilled        int           `json:"fulfilled"`
	Outcome          Outcome       `json:"outcome"`
	Transfers        []TransferLeg `json:"transfers,omitempty"`
	ShortageRecorded bool          `json:"shortageRecorded"`
	ShortageID       string        `json:"shortageId,omitempty"`
}

func (r *Result) settle() {
	switch {
	case r.Fulfilled >= r.Requested:
		r.Outcome = OutcomeFulfilled
	case r.Fulfilled > 0:
		r.Outcome = OutcomePartial
	default:
		r.Outcome = OutcomeAbandoned
	}
}

// AvailabilityReader reports how much of a product a tier holds.
type AvailabilityReader interface {
	TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error)
}

// ShortageRecorder persists and announces shortage events.
type ShortageRecorder interface {
	Record(ctx context.Context, event *domain.ShortageEvent) error
}

// Resolver settles allocation requests against the tiered location chain,
// escalating a shelf deficit to MAIN_STORE and then WEB with the operator's
// consent.
type Resolver struct {
	reader      AvailabilityReader
	runner      uow.Runner
	decider     Decider
	deductor    *Deductor
	recorder    ShortageRecorder
	transferrer Transferrer
	locker      Locker
	ids         idgen.Generator
	now         func() time.Time
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLocker serializes cascades per product code.
func WithLocker(l Locker) ResolverOption {
	return func(r *Resolver) { r.locker = l }
}

// WithTransferrer replaces the default unit-of-work transferrer.
func WithTransferrer(t Transferrer) ResolverOption {
	return func(r *Resolver) { r.transferrer = t }
}

// WithMetrics records allocation metrics.
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithShortageIDs sets the generator for shortage event IDs.
func WithShortageIDs(g idgen.Generator) ResolverOption {
	return func(r *Resolver) { r.ids = g }
}

// WithClock overrides time.Now for shortage timestamps.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver. decider is the default used by
// ResolveAndAllocate.
func NewResolver(
	reader AvailabilityReader,
	runner uow.Runner,
	decider Decider,
	deductor *Deductor,
	recorder ShortageRecorder,
	logger *logging.Logger,
	opts ...ResolverOption,
) *Resolver {
	r := &Resolver{
		reader:   reader,
		runner:   runner,
		decider:  decider,
		deductor: deductor,
		recorder: recorder,
		ids:      idgen.UUIDGenerator{Prefix: "SHORTAGE-"},
		now:      time.Now,
		logger:   logger.WithComponent("allocation-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transferrer == nil {
		r.transferrer = NewUnitOfWorkTransferrer(runner)
	}
	return r
}

// ResolveAndAllocate settles req using the default decider.
func (r *Resolver) ResolveAndAllocate(ctx context.Context, req domain.AllocationRequest) (*Result, error) {
	return r.ResolveWith(ctx, req, r.decider)
}

// ResolveWith settles req, asking decider whenever the operator must agree to
// a transfer or a partial sale.
func (r *Resolver) ResolveWith(ctx context.Context, req domain.AllocationRequest, decider Decider) (result *Result, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "allocation.ResolveAndAllocate",
		tracing.AllocationSpanAttributes(req.ProductCode, req.RequestedQuantity, req.Location.String())...)
	start := time.Now()
	defer func() {
		if result != nil {
			span.SetAttributes(
				attribute.String("pos.outcome", string(result.Outcome)),
				attribute.Int("pos.fulfilled", result.Fulfilled),
			)
			r.metrics.RecordAllocation(req.ProductCode, string(result.Outcome), result.Fulfilled, time.Since(start))
		}
		tracing.EndSpan(span, err)
	}()

	if r.locker != nil {
		lockStart := time.Now()
		unlock, err := r.locker.Lock(ctx, LockKey(req.ProductCode))
		if err != nil {
			return nil, fmt.Errorf("lock product %s: %w", req.ProductCode, err)
		}
		defer unlock()
		r.metrics.RecordLockWait(fmt.Sprintf("%T", r.locker), time.Since(lockStart))
	}

	c := &cascade{
		Resolver: r,
		req:      req,
		decider:  decider,
		log:      r.logger.WithContext(ctx).WithProduct(req.ProductCode),
		saga:     newTransferSaga(req.ProductCode, r.transferrer, r.logger, r.metrics),
		result:   &Result{ProductCode: req.ProductCode, Requested: req.RequestedQuantity},
		avail:    make(map[domain.StockLocation]int, len(domain.Locations)),
	}

	if req.Location != domain.LocationShelf {
		err = c.resolveSingleTier(ctx)
	} else {
		err = c.resolve(ctx)
	}
	if err != nil {
		return nil, err
	}

	c.result.Transfers = c.saga.legs()
	c.result.settle()
	c.log.Info("Allocation resolved",
		"requested", req.RequestedQuantity,
		"fulfilled", c.result.Fulfilled,
		"outcome", c.result.Outcome,
		"transfers", len(c.result.Transfers),
	)
	return c.result, nil
}

// cascade holds the state of one request while it is being resolved.
type cascade struct {
	*Resolver
	req     domain.AllocationRequest
	decider Decider
	log     *logging.Logger
	saga    *transferSaga
	result  *Result
	avail   map[domain.StockLocation]int
}

func (c *cascade) resolve(ctx context.Context) error {
	requested := c.req.RequestedQuantity

	shelf, err := c.read(ctx, domain.LocationShelf)
	if err != nil {
		return err
	}
	if shelf >= requested {
		return c.deductFromShelf(ctx, requested)
	}

	shortfall := requested - shelf
	main, err := c.read(ctx, domain.LocationMainStore)
	if err != nil {
		return err
	}

	if main >= shortfall {
		legs := []TransferLeg{{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: shortfall}}
		ok, err := c.ask(ctx, Prompt{
			Kind:    PromptTransfer,
			Legs:    legs,
			Message: fmt.Sprintf("SHELF holds %d of %d %s. Transfer %d from MAIN_STORE?", shelf, requested, c.req.ProductCode, shortfall),
		})
		if err != nil {
			return err
		}
		if !ok {
			return c.partial(ctx, shelf)
		}
		return c.transferThenDeduct(ctx, legs, shelf)
	}

	web, err := c.read(ctx, domain.LocationWeb)
	if err != nil {
		return err
	}

	total := shelf + main + web
	if total < requested {
		c.recordShortage(ctx)
		return c.partial(ctx, total)
	}

	stillNeeded := shortfall - main
	if web < stillNeeded {
		return fmt.Errorf("%w: WEB holds %d but %d is needed with %d in total", ErrInvariantViolated, web, stillNeeded, total)
	}

	legs := []TransferLeg{
		{From: domain.LocationWeb, To: domain.LocationMainStore, Quantity: stillNeeded},
		{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: shortfall},
	}
	ok, err := c.ask(ctx, Prompt{
		Kind: PromptTwoStepTransfer,
		Legs: legs,
		Message: fmt.Sprintf("SHELF holds %d and MAIN_STORE %d of %d %s. Transfer %d from WEB to MAIN_STORE, then %d to SHELF?",
			shelf, main, requested, c.req.ProductCode, stillNeeded, shortfall),
	})
	if err != nil {
		return err
	}
	if !ok {
		return c.partial(ctx, shelf)
	}
	return c.transferThenDeduct(ctx, legs, shelf)
}

// resolveSingleTier handles requests made directly against MAIN_STORE or
// WEB. Those tiers have nothing above them to draw from on the sale path.
func (c *cascade) resolveSingleTier(ctx context.Context) error {
	available, err := c.read(ctx, c.req.Location)
	if err != nil {
		return err
	}
	if available >= c.req.RequestedQuantity {
		return c.deductAt(ctx, c.req.Location, c.req.RequestedQuantity)
	}
	return c.partialAt(ctx, c.req.Location, available)
}

func (c *cascade) read(ctx context.Context, loc domain.StockLocation) (int, error) {
	qty, err := c.reader.TotalAvailable(ctx, loc, c.req.ProductCode)
	if err != nil {
		return 0, fmt.Errorf("read %s availability: %w", loc, err)
	}
	c.avail[loc] = qty
	return qty, nil
}

func (c *cascade) ask(ctx context.Context, p Prompt) (bool, error) {
	p.ProductCode = c.req.ProductCode
	p.Requested = c.req.RequestedQuantity
	p.Available = make(map[domain.StockLocation]int, len(c.avail))
	for k, v := range c.avail {
		p.Available[k] = v
	}

	ok, err := c.decider.Decide(ctx, p)
	if err != nil {
		return false, fmt.Errorf("decide %s: %w", p.Kind, err)
	}
	c.metrics.RecordDecision(string(p.Kind), ok)
	c.log.Debug("Operator decision", "prompt", p.Kind, "approved", ok)
	return ok, nil
}

func (c *cascade) transferThenDeduct(ctx context.Context, legs []TransferLeg, shelf int) error {
	for _, leg := range legs {
		if err := c.saga.step(ctx, leg); err != nil {
			c.log.WithError(err).Warn("Transfer failed, falling back to partial sale", "leg", leg.String())
			if cerr := c.saga.compensate(ctx); cerr != nil {
				c.log.WithError(cerr).Error("Transfer compensation incomplete")
			}
			return c.partial(ctx, shelf)
		}
	}

	if err := c.deductFromShelf(ctx, c.req.RequestedQuantity); err != nil {
		if cerr := c.saga.compensate(ctx); cerr != nil {
			c.log.WithError(cerr).Error("Transfer compensation incomplete after failed deduction")
		}
		return err
	}
	return nil
}

func (c *cascade) deductFromShelf(ctx context.Context, qty int) error {
	return c.deductAt(ctx, domain.LocationShelf, qty)
}

func (c *cascade) deductAt(ctx context.Context, loc domain.StockLocation, qty int) error {
	err := c.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return c.deductor.Deduct(ctx, store, c.req.ProductCode, qty, loc)
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to deduct stock", "location", loc, "quantity", qty)
		return err
	}
	c.result.Fulfilled = qty
	return nil
}

func (c *cascade) partial(ctx context.Context, offered int) error {
	return c.partialAt(ctx, domain.LocationShelf, offered)
}

// partialAt offers a reduced sale. After a shortage the offer is the grand
// total across tiers, but only what loc holds can be sold, so the prompt
// names that cap and the deduction never exceeds it.
func (c *cascade) partialAt(ctx context.Context, loc domain.StockLocation, offered int) error {
	sellable := offered
	if held, ok := c.avail[loc]; ok {
		sellable = min(offered, held)
	}
	if sellable <= 0 {
		c.result.Fulfilled = 0
		return nil
	}

	message := fmt.Sprintf("Only %d of %d %s can be supplied. Sell %d?", offered, c.req.RequestedQuantity, c.req.ProductCode, offered)
	if sellable < offered {
		message = fmt.Sprintf("Only %d of %d %s are in stock across all tiers, %d of them on %s. Sell %d from %s?",
			offered, c.req.RequestedQuantity, c.req.ProductCode, sellable, loc, sellable, loc)
	}
	ok, err := c.ask(ctx, Prompt{
		Kind:     PromptPartial,
		Offered:  offered,
		Sellable: sellable,
		Message:  message,
	})
	if err != nil {
		return err
	}
	if !ok {
		c.result.Fulfilled = 0
		return nil
	}

	taken, err := uow.Execute(ctx, c.runner, func(ctx context.Context, store domain.StockStore) (int, error) {
		return c.deductor.DeductUpTo(ctx, store, c.req.ProductCode, sellable, loc)
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to deduct partial quantity", "location", loc, "sellable", sellable)
		return err
	}
	c.result.Fulfilled = taken
	return nil
}

func (c *cascade) recordShortage(ctx context.Context) {
	event := domain.NewShortageEvent(c.ids.NewID(), c.req.ProductCode, c.req.RequestedQuantity, c.avail, c.now())

	err := c.recorder.Record(ctx, event)
	switch {
	case err == nil:
		c.result.ShortageRecorded = true
	case errors.Is(err, shortage.ErrDeliveryFailed):
		// persisted, a subscriber failed
		c.result.ShortageRecorded = true
		c.log.WithError(err).Warn("Shortage recorded but not delivered to every subscriber")
	default:
		c.log.WithError(err).Error("Failed to record shortage")
		return
	}
	c.result.ShortageID = event.ID
}
