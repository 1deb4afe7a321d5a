//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	postesting "github.com/pos-platform/stock-service/pkg/testing"
)

type StoreIntegrationTestSuite struct {
	suite.Suite
	container *postesting.PostgresContainer
	pool      *pgxpool.Pool
	store     *Store
	exec      *uow.Executor
	ctx       context.Context
}

func (s *StoreIntegrationTestSuite) SetupSuite() {
	postesting.RequireDocker(s.T())
	s.ctx = context.Background()

	container, err := postesting.NewPostgresContainer(s.ctx)
	s.Require().NoError(err)
	s.container = container

	pool, err := Connect(s.ctx, &Config{DSN: container.DSN, MaxConns: 10})
	s.Require().NoError(err)
	s.pool = pool
	s.Require().NoError(Migrate(s.ctx, pool))
}

func (s *StoreIntegrationTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Close(s.ctx)
	}
}

func (s *StoreIntegrationTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE batches, shortages, outbox_events`)
	s.Require().NoError(err)

	s.store = NewStore(s.pool, logging.NewNop(),
		WithOutbox(cloudevents.NewEventFactory(cloudevents.SourceStockService), "pos.stock.shortages"))
	s.exec = uow.NewExecutor(s.store, logging.NewNop(), nil)
}

func (s *StoreIntegrationTestSuite) receive(id string, loc domain.StockLocation, qty int, expiryDays int) {
	b := domain.Batch{
		ID:          id,
		ProductCode: "MILK",
		Location:    loc,
		ReceivedAt:  time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Quantity:    qty,
	}
	if expiryDays > 0 {
		exp := b.ReceivedAt.AddDate(0, 0, expiryDays)
		b.Expiry = &exp
	}
	s.Require().NoError(s.store.ReceiveBatch(s.ctx, b))
}

func (s *StoreIntegrationTestSuite) total(loc domain.StockLocation) int {
	qty, err := s.store.TotalAvailable(s.ctx, loc, "MILK")
	s.Require().NoError(err)
	return qty
}

func (s *StoreIntegrationTestSuite) TestCandidatesAreFEFOOrdered() {
	s.receive("none", domain.LocationShelf, 1, 0)
	s.receive("late", domain.LocationShelf, 1, 9)
	s.receive("soon", domain.LocationShelf, 1, 2)

	got, err := s.store.FindDeductionCandidates(s.ctx, "MILK", domain.LocationShelf)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal([]string{"soon", "late", "none"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func (s *StoreIntegrationTestSuite) TestReceiveRejectsDuplicates() {
	s.receive("B1", domain.LocationShelf, 2, 3)
	err := s.store.ReceiveBatch(s.ctx, domain.Batch{ID: "B1", ProductCode: "MILK", Location: domain.LocationShelf, Quantity: 1})
	s.ErrorIs(err, domain.ErrBatchAlreadyExists)
}

func (s *StoreIntegrationTestSuite) TestTransferIsAllOrNothing() {
	s.receive("M1", domain.LocationMainStore, 4, 5)

	err := s.store.TransferStock(s.ctx, "MILK", domain.LocationMainStore, domain.LocationShelf, 5)
	s.ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(4, s.total(domain.LocationMainStore))

	s.Require().NoError(s.store.TransferStock(s.ctx, "MILK", domain.LocationMainStore, domain.LocationShelf, 3))
	s.Require().NoError(s.store.TransferStock(s.ctx, "MILK", domain.LocationMainStore, domain.LocationShelf, 1))
	s.Equal(4, s.total(domain.LocationShelf))

	shelf, err := s.store.FindDeductionCandidates(s.ctx, "MILK", domain.LocationShelf)
	s.Require().NoError(err)
	s.Require().Len(shelf, 1, "repeated transfers merge into one target batch")
	s.NotNil(shelf[0].Expiry)
}

func (s *StoreIntegrationTestSuite) TestUnitOfWorkRollsBackEveryStatement() {
	s.receive("S1", domain.LocationShelf, 5, 3)
	s.receive("M1", domain.LocationMainStore, 5, 3)
	boom := errors.New("boom")

	err := s.exec.Run(s.ctx, func(ctx context.Context, store domain.StockStore) error {
		if err := store.TransferStock(ctx, "MILK", domain.LocationMainStore, domain.LocationShelf, 2); err != nil {
			return err
		}
		if err := store.DeductFromBatch(ctx, "S1", 5); err != nil {
			return err
		}
		return boom
	})

	s.ErrorIs(err, boom)
	s.Equal(5, s.total(domain.LocationShelf))
	s.Equal(5, s.total(domain.LocationMainStore))
}

func (s *StoreIntegrationTestSuite) TestShortageAndOutbox() {
	ev := domain.NewShortageEvent("SH-1", "MILK", 5, map[domain.StockLocation]int{domain.LocationWeb: 2}, time.Now())

	s.Require().NoError(s.exec.Run(s.ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.RecordShortage(ctx, ev)
	}))
	s.ErrorIs(s.store.RecordShortage(s.ctx, ev), domain.ErrShortageAlreadyExists)

	listed, err := s.store.ListShortages(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(2, listed[0].Breakdown[domain.LocationWeb])

	pending, err := s.store.Outbox().FindUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	s.Require().NoError(s.store.Outbox().IncrementRetry(s.ctx, pending[0].ID, "broker down"))
	s.Require().NoError(s.store.Outbox().MarkPublished(s.ctx, pending[0].ID))
	pending, err = s.store.Outbox().FindUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func TestStoreIntegration(t *testing.T) {
	suite.Run(t, new(StoreIntegrationTestSuite))
}
