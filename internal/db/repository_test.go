package db

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"payments-service/internal/model"
	"payments-service/internal/testhelpers"
)

type RepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	tenants     *TenantRepository
	payments    *PaymentRepository
	orphans     *OrphanRepository
	ctx         context.Context

	tenantX *model.Tenant
	bucket  *model.Tenant
}

func (s *RepositoryTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping postgres container in short mode")
	}
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	s.Require().NoError(err)
	s.pgContainer = pgContainer

	s.Require().NoError(RunMigrations(pgContainer.ConnectionString))

	pool, err := GetPool(s.ctx, pgContainer.ConnectionString, 20)
	s.Require().NoError(err)

	s.pool = pool
	s.tenants = NewTenantRepository(pool)
	s.payments = NewPaymentRepository(pool)
	s.orphans = NewOrphanRepository(pool)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		s.Require().NoError(s.pgContainer.Terminate(s.ctx))
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE payment, orphan_callback, tenant")
	s.Require().NoError(err)

	s.bucket, err = s.tenants.EnsureTenant(s.ctx, &model.Tenant{
		ID: model.DefaultBucketID, DisplayName: "ADMIN_SHOP", Credential: "bucket-key", Active: true, CreatedAt: time.Now(),
	})
	s.Require().NoError(err)

	s.tenantX = &model.Tenant{ID: uuid.New(), DisplayName: "shop-x", Credential: "x-key", Active: true, CreatedAt: time.Now()}
	s.Require().NoError(s.tenants.Create(s.ctx, s.tenantX))
}

func (s *RepositoryTestSuite) newPayment(owner uuid.UUID, kind model.Kind, status model.Status) *model.Payment {
	now := time.Now().Truncate(time.Microsecond)
	return &model.Payment{
		ID:          uuid.New(),
		TenantID:    &owner,
		PhoneNumber: "254712345678",
		Amount:      decimal.RequireFromString("100.50"),
		Kind:        kind,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *RepositoryTestSuite) TestTenant_EnsureAndResolve() {
	again, err := s.tenants.EnsureTenant(s.ctx, &model.Tenant{
		ID: model.DefaultBucketID, DisplayName: "ADMIN_SHOP", Credential: "other-key", Active: true, CreatedAt: time.Now(),
	})
	s.Require().NoError(err)
	s.Equal("bucket-key", again.Credential)

	resolved, err := s.tenants.GetActiveByCredential(s.ctx, "x-key")
	s.Require().NoError(err)
	s.Equal(s.tenantX.ID, resolved.ID)

	err = s.tenants.Create(s.ctx, &model.Tenant{ID: uuid.New(), DisplayName: "shop-x", Credential: "y-key", Active: true, CreatedAt: time.Now()})
	s.ErrorIs(err, model.ErrConflict)

	_, err = s.tenants.Deactivate(s.ctx, "shop-x")
	s.Require().NoError(err)
	_, err = s.tenants.GetActiveByCredential(s.ctx, "x-key")
	s.ErrorIs(err, model.ErrNotFound)

	_, err = s.tenants.Deactivate(s.ctx, "missing")
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *RepositoryTestSuite) TestPayment_CreateAndGet() {
	p := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusPending)
	p.ExternalReference = "ORDER1"
	p.CheckoutID = "ws_1"
	p.MerchantID = "m_1"
	s.Require().NoError(s.payments.Create(s.ctx, p))

	stored, err := s.payments.GetByCheckoutID(s.ctx, "ws_1")
	s.Require().NoError(err)
	s.Equal(p.ID, stored.ID)
	s.True(stored.Amount.Equal(decimal.RequireFromString("100.50")))
	s.Equal("ORDER1", stored.ExternalReference)
	s.Equal("m_1", stored.MerchantID)
	s.Empty(stored.GatewayReceipt)
	s.Nil(stored.RawNotification)
	s.True(stored.OwnedBy(s.tenantX.ID))

	_, err = s.payments.GetByID(s.ctx, uuid.New())
	s.ErrorIs(err, model.ErrNotFound)

	duplicate := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusPending)
	duplicate.CheckoutID = "ws_1"
	s.ErrorIs(s.payments.Create(s.ctx, duplicate), model.ErrDuplicateCorrelation)
}

func (s *RepositoryTestSuite) TestPayment_ReceiptUniqueness() {
	first := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	first.GatewayReceipt = "RCY1"
	s.Require().NoError(s.payments.Create(s.ctx, first))

	second := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	second.GatewayReceipt = "RCY1"
	s.ErrorIs(s.payments.Create(s.ctx, second), model.ErrReceiptConflict)

	pending := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusPending)
	pending.CheckoutID = "ws_1"
	s.Require().NoError(s.payments.Create(s.ctx, pending))

	_, err := s.payments.Settle(s.ctx, "ws_1", model.Settlement{Status: model.StatusSuccess, Receipt: "RCY1"})
	s.ErrorIs(err, model.ErrReceiptConflict)

	stored, err := s.payments.GetByCheckoutID(s.ctx, "ws_1")
	s.Require().NoError(err)
	s.Equal(model.StatusPending, stored.Status)
}

func (s *RepositoryTestSuite) TestPayment_SettleIsConditional() {
	p := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusPending)
	p.CheckoutID = "ws_1"
	s.Require().NoError(s.payments.Create(s.ctx, p))

	raw := json.RawMessage(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_1","ResultCode":0}}}`)
	settled, err := s.payments.Settle(s.ctx, "ws_1", model.Settlement{Status: model.StatusSuccess, Receipt: "RCX1", RawNotification: raw})
	s.Require().NoError(err)
	s.Equal(model.StatusSuccess, settled.Status)
	s.Equal("RCX1", settled.GatewayReceipt)
	s.JSONEq(string(raw), string(settled.RawNotification))

	again, err := s.payments.Settle(s.ctx, "ws_1", model.Settlement{Status: model.StatusFailed, FailureReason: "late"})
	s.ErrorIs(err, model.ErrAlreadyFinal)
	s.Equal(model.StatusSuccess, again.Status)
	s.Equal("RCX1", again.GatewayReceipt)

	_, err = s.payments.Settle(s.ctx, "ws_ghost", model.Settlement{Status: model.StatusSuccess})
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *RepositoryTestSuite) TestPayment_FindScopesAndOrders() {
	older := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusSuccess)
	older.ExternalReference = "ORDER1"
	older.CheckoutID = "ws_1"
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	newer := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusSuccess)
	newer.ExternalReference = "ORDER1"
	newer.CheckoutID = "ws_2"
	bucketPayment := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	bucketPayment.GatewayReceipt = "RCY1"
	for _, p := range []*model.Payment{newer, older, bucketPayment} {
		s.Require().NoError(s.payments.Create(s.ctx, p))
	}

	found, err := s.payments.Find(s.ctx, model.PaymentFilter{
		Owners: []uuid.UUID{s.tenantX.ID},
		Lookup: model.Lookup{Reference: "ORDER1"},
	})
	s.Require().NoError(err)
	s.Equal(older.ID, found.ID)

	_, err = s.payments.Find(s.ctx, model.PaymentFilter{
		Owners: []uuid.UUID{s.tenantX.ID},
		Lookup: model.Lookup{Receipt: "RCY1"},
	})
	s.ErrorIs(err, model.ErrNotFound)

	found, err = s.payments.Find(s.ctx, model.PaymentFilter{
		Owners: []uuid.UUID{s.tenantX.ID, model.DefaultBucketID},
		Status: model.StatusSuccess,
		Lookup: model.Lookup{Receipt: "RCY1"},
	})
	s.Require().NoError(err)
	s.Equal(bucketPayment.ID, found.ID)

	byReceipt, err := s.payments.GetByReceipt(s.ctx, "RCY1")
	s.Require().NoError(err)
	s.Equal(bucketPayment.ID, byReceipt.ID)
}

func (s *RepositoryTestSuite) TestPayment_FindUnclaimedFirst() {
	claimed := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	claimed.GatewayReceipt = "RCA1"
	claimed.ExternalReference = "ACC1"
	claimed.CreatedAt = claimed.CreatedAt.Add(-time.Minute)
	fresh := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	fresh.GatewayReceipt = "RCA2"
	fresh.ExternalReference = "ACC1"
	for _, p := range []*model.Payment{claimed, fresh} {
		s.Require().NoError(s.payments.Create(s.ctx, p))
	}
	_, err := s.payments.Claim(s.ctx, claimed.ID, s.tenantX.ID, model.DefaultBucketID, time.Now())
	s.Require().NoError(err)

	filter := model.PaymentFilter{
		Owners: []uuid.UUID{s.tenantX.ID, model.DefaultBucketID},
		Status: model.StatusSuccess,
		Lookup: model.Lookup{Reference: "ACC1"},
	}
	found, err := s.payments.Find(s.ctx, filter)
	s.Require().NoError(err)
	s.Equal(claimed.ID, found.ID)

	filter.UnclaimedFirst = true
	found, err = s.payments.Find(s.ctx, filter)
	s.Require().NoError(err)
	s.Equal(fresh.ID, found.ID)
}

func (s *RepositoryTestSuite) TestPayment_ClaimTransfersBucketOwnership() {
	p := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	p.GatewayReceipt = "RCY1"
	s.Require().NoError(s.payments.Create(s.ctx, p))

	claimed, err := s.payments.Claim(s.ctx, p.ID, s.tenantX.ID, model.DefaultBucketID, time.Now())
	s.Require().NoError(err)
	s.True(claimed.Claimed)
	s.NotNil(claimed.ClaimedAt)
	s.True(claimed.OwnedBy(s.tenantX.ID))

	_, err = s.payments.Claim(s.ctx, p.ID, s.tenantX.ID, model.DefaultBucketID, time.Now())
	s.ErrorIs(err, model.ErrAlreadyClaimed)
}

func (s *RepositoryTestSuite) TestPayment_ClaimRequiresSuccessAndVisibility() {
	pending := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusPending)
	pending.CheckoutID = "ws_1"
	s.Require().NoError(s.payments.Create(s.ctx, pending))

	_, err := s.payments.Claim(s.ctx, pending.ID, s.tenantX.ID, model.DefaultBucketID, time.Now())
	s.ErrorIs(err, model.ErrNotFound)

	solicited := s.newPayment(s.tenantX.ID, model.KindSolicited, model.StatusSuccess)
	solicited.CheckoutID = "ws_2"
	s.Require().NoError(s.payments.Create(s.ctx, solicited))

	_, err = s.payments.Claim(s.ctx, solicited.ID, uuid.New(), model.DefaultBucketID, time.Now())
	s.ErrorIs(err, model.ErrNotFound)

	claimed, err := s.payments.Claim(s.ctx, solicited.ID, s.tenantX.ID, model.DefaultBucketID, time.Now())
	s.Require().NoError(err)
	s.True(claimed.OwnedBy(s.tenantX.ID))
}

func (s *RepositoryTestSuite) TestPayment_ConcurrentClaimSucceedsOnce() {
	t := s.T()

	p := s.newPayment(model.DefaultBucketID, model.KindUnsolicited, model.StatusSuccess)
	p.GatewayReceipt = "RCY1"
	s.Require().NoError(s.payments.Create(s.ctx, p))

	const claimers = 10
	claimants := make([]uuid.UUID, claimers)
	for i := range claimants {
		tenant := &model.Tenant{ID: uuid.New(), DisplayName: uuid.NewString(), Credential: uuid.NewString(), Active: true, CreatedAt: time.Now()}
		s.Require().NoError(s.tenants.Create(s.ctx, tenant))
		claimants[i] = tenant.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for _, claimant := range claimants {
		wg.Add(1)
		go func(claimant uuid.UUID) {
			defer wg.Done()
			_, err := s.payments.Claim(s.ctx, p.ID, claimant, model.DefaultBucketID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, model.ErrAlreadyClaimed) {
				rejected++
			}
		}(claimant)
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(claimers-1, rejected)
}

func (s *RepositoryTestSuite) TestOrphan_ParkAndTake() {
	s.Require().NoError(s.orphans.Park(s.ctx, model.OrphanCallback{CheckoutID: "ws_1", Payload: json.RawMessage(`{"n":1}`), ReceivedAt: time.Now()}))
	s.Require().NoError(s.orphans.Park(s.ctx, model.OrphanCallback{CheckoutID: "ws_1", Payload: json.RawMessage(`{"n":2}`), ReceivedAt: time.Now()}))

	orphan, err := s.orphans.Take(s.ctx, "ws_1")
	s.Require().NoError(err)
	s.JSONEq(`{"n":1}`, string(orphan.Payload))

	_, err = s.orphans.Take(s.ctx, "ws_1")
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *RepositoryTestSuite) TestOrphan_Purge() {
	now := time.Now()
	s.Require().NoError(s.orphans.Park(s.ctx, model.OrphanCallback{CheckoutID: "ws_old", Payload: json.RawMessage(`{}`), ReceivedAt: now.Add(-96 * time.Hour)}))
	s.Require().NoError(s.orphans.Park(s.ctx, model.OrphanCallback{CheckoutID: "ws_new", Payload: json.RawMessage(`{}`), ReceivedAt: now}))

	purged, err := s.orphans.Purge(s.ctx, now.Add(-72*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), purged)

	_, err = s.orphans.Take(s.ctx, "ws_old")
	s.ErrorIs(err, model.ErrNotFound)
	_, err = s.orphans.Take(s.ctx, "ws_new")
	s.NoError(err)
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
