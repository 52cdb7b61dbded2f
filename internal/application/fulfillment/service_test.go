package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/cache"
	"github.com/erp/fulfillment/internal/infrastructure/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const orderJSON = `{
	"_id": "order_67890",
	"contactSnapshot": {
		"firstName": "Jane",
		"lastName": "Smith",
		"email": "jane@example.com",
		"address1": "500 Market St",
		"city": "San Francisco",
		"postalCode": "94105",
		"country": "US"
	},
	"items": [
		{"name": "Desk Lamp", "qty": 1, "price": {"sku": "LAMP-01", "amount": 45.00}},
		{"name": "Bulb", "qty": 3, "price": {"sku": "BULB-60", "amount": 5.00}}
	],
	"amount": 60.00,
	"currency": "USD"
}`

const mismatchedOrderJSON = `{
	"_id": "order_67890",
	"contactSnapshot": {
		"firstName": "Jane",
		"address1": "500 Market St",
		"city": "San Francisco",
		"postalCode": "94105",
		"country": "US"
	},
	"items": [{"name": "Desk Lamp", "qty": 1, "price": {"sku": "LAMP-01", "amount": 45.00}}],
	"amount": 70.00,
	"currency": "USD"
}`

// MockOrderSource is a mock implementation of fulfillment.OrderSource
type MockOrderSource struct {
	mock.Mock
}

func (m *MockOrderSource) LatestOrderID(ctx context.Context, contactID string) (string, error) {
	args := m.Called(ctx, contactID)
	return args.String(0), args.Error(1)
}

func (m *MockOrderSource) FetchOrder(ctx context.Context, orderID string) (*fulfillment.InboundOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.InboundOrder), args.Error(1)
}

// fakeDeliverer records submissions; fn decides the outcome when set
type fakeDeliverer struct {
	mu         sync.Mutex
	requests   []*fulfillment.FulfillmentRequest
	processIDs []string
	fn         func(ctx context.Context, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error)
}

func (d *fakeDeliverer) Deliver(ctx context.Context, processID string, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.processIDs = append(d.processIDs, processID)
	n := len(d.requests)
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &fulfillment.DeliveryResult{
		OrderNumber:    req.OrderNumber,
		ConfirmationID: fmt.Sprintf("WMS-CONF-%d", n),
		Attempts:       1,
	}, nil
}

func (d *fakeDeliverer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// stepClock advances one second on every reading
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	service   *Service
	source    *MockOrderSource
	deliverer *fakeDeliverer
	records   *persistence.InMemoryProcessRecordRepository
	locker    *cache.InMemoryOrderLocker
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		source:    new(MockOrderSource),
		deliverer: &fakeDeliverer{},
		records:   persistence.NewInMemoryProcessRecordRepository(),
		locker:    cache.NewInMemoryOrderLocker(),
	}
	clock := &stepClock{t: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
	ids := 0
	var idMu sync.Mutex
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("proc-%d", ids)
		}),
	}
	env.service = NewService(env.source, env.deliverer, env.records, env.locker,
		fulfillment.WarehouseSettings{WarehouseID: "warehouse_001"},
		append(base, opts...)...)
	return env
}

func decodeOrder(t *testing.T, raw string) *fulfillment.InboundOrder {
	t.Helper()
	order, err := fulfillment.ParseInboundOrder([]byte(raw))
	require.NoError(t, err)
	return order
}

func createdEvent(orderID string) WebhookEvent {
	return WebhookEvent{ContactID: "contact_12345", OrderID: orderID, EventType: EventOrderCreated}
}

func TestService_Process_Success(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnv(t, WithLogger(zap.New(core)))
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil).Once()

	res, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	rec := res.Record
	assert.Equal(t, "proc-1", res.ProcessID)
	assert.False(t, res.Cached)
	assert.False(t, res.Coalesced)
	assert.Equal(t, fulfillment.ProcessStateSucceeded, rec.State)
	assert.Equal(t, "ECOM-order_67890", rec.WMSOrderNumber)
	assert.Equal(t, "WMS-CONF-1", rec.ConfirmationID)
	assert.Equal(t, 1, rec.Attempts)

	states := make([]fulfillment.ProcessState, 0, len(rec.Steps))
	for _, step := range rec.Steps {
		states = append(states, step.State)
	}
	assert.Equal(t, []fulfillment.ProcessState{
		fulfillment.ProcessStateReceived,
		fulfillment.ProcessStateFetched,
		fulfillment.ProcessStateMapped,
		fulfillment.ProcessStateValidated,
		fulfillment.ProcessStateDelivering,
		fulfillment.ProcessStateSucceeded,
	}, states)

	require.Equal(t, 1, env.deliverer.calls())
	req := env.deliverer.requests[0]
	assert.Equal(t, "proc-1", env.deliverer.processIDs[0])
	assert.Equal(t, "CUSTOMER-contact_12345", req.ShippingAddress.CustomerNumber)
	assert.Equal(t, "USD", req.Currency)
	assert.Len(t, req.LineItems, 2)

	stored, err := env.service.Status(context.Background(), "order_67890")
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
	assert.Zero(t, env.locker.Held())

	for _, entry := range logs.FilterMessage("Order fulfilled").All() {
		assert.Equal(t, "proc-1", entry.ContextMap()["process_id"])
		assert.Equal(t, "order_67890", entry.ContextMap()["order_id"])
	}
	assert.Equal(t, 1, logs.FilterMessage("Order fulfilled").Len())
	env.source.AssertExpectations(t)
}

func TestService_Process_ResolvesLatestOrder(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("LatestOrderID", mock.Anything, "contact_12345").Return("order_67890", nil).Once()
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil).Once()

	res, err := env.service.Process(context.Background(), createdEvent(""))
	require.NoError(t, err)
	assert.Equal(t, "order_67890", res.Record.OrderID)
	assert.Equal(t, fulfillment.ProcessStateSucceeded, res.Record.State)
	env.source.AssertExpectations(t)
}

func TestService_Process_ResolveFailure(t *testing.T) {
	env := newTestEnv(t)
	notFound := &fulfillment.OrderFetchError{ContactID: "contact_12345", NotFound: true}
	env.source.On("LatestOrderID", mock.Anything, "contact_12345").Return("", notFound).Once()

	res, err := env.service.Process(context.Background(), createdEvent(""))
	require.Error(t, err)
	assert.Equal(t, fulfillment.CodeOrderNotFound, fulfillment.ErrorCode(err))

	require.NotNil(t, res.Record)
	assert.Equal(t, fulfillment.ProcessStateFailed, res.Record.State)
	assert.Equal(t, fulfillment.CodeOrderNotFound, res.Record.ErrorCode)

	stored, err := env.records.FindByProcessID(context.Background(), res.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, "contact_12345", stored.ContactID)
	env.source.AssertNotCalled(t, "FetchOrder", mock.Anything, mock.Anything)
}

func TestService_Process_RequiresContactID(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.service.Process(context.Background(), WebhookEvent{OrderID: "order_67890"})
	require.Error(t, err)
	assert.Equal(t, fulfillment.CodeValidation, fulfillment.ErrorCode(err))
	assert.Nil(t, res.Record)
	assert.NotEmpty(t, res.ProcessID)
	assert.Zero(t, env.records.Len())
}

func TestService_Process_ConcurrentDuplicatesDeliverOnce(t *testing.T) {
	env := newTestEnv(t)
	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	env.deliverer.fn = func(ctx context.Context, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error) {
		once.Do(func() { close(entered) })
		<-gate
		return &fulfillment.DeliveryResult{OrderNumber: req.OrderNumber, ConfirmationID: "WMS-ONLY", Attempts: 1}, nil
	}
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil)

	const callers = 5
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = env.service.Process(context.Background(), createdEvent("order_67890"))
	}()
	<-entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.service.Process(context.Background(), createdEvent("order_67890"))
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, env.deliverer.calls())
	env.source.AssertNumberOfCalls(t, "FetchOrder", 1)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		require.NotNil(t, results[i].Record, "caller %d", i)
		assert.Equal(t, fulfillment.ProcessStateSucceeded, results[i].Record.State)
		assert.Equal(t, "WMS-ONLY", results[i].Record.ConfirmationID)
		assert.Equal(t, results[0].ProcessID, results[i].ProcessID)
	}
	assert.Equal(t, 1, env.records.Len())
}

func TestService_Process_TotalMismatchIsNotDelivered(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, mismatchedOrderJSON), nil)

	res, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.Error(t, err)

	var verr *fulfillment.ValidationError
	require.True(t, errors.As(err, &verr))
	codes := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, fulfillment.FieldCodeTotalMismatch)

	assert.Zero(t, env.deliverer.calls())
	assert.Equal(t, fulfillment.ProcessStateFailed, res.Record.State)
	assert.Equal(t, fulfillment.ProcessStateFetched, res.Record.FailedStage)
	assert.Equal(t, fulfillment.CodeValidation, res.Record.ErrorCode)
}

func TestService_Process_FetchFailure(t *testing.T) {
	env := newTestEnv(t)
	fetchErr := &fulfillment.OrderFetchError{OrderID: "order_67890", Err: errors.New("connection refused")}
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(nil, fetchErr)

	res, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.ErrorIs(t, err, fetchErr)
	assert.Equal(t, fulfillment.ProcessStateReceived, res.Record.FailedStage)
	assert.Equal(t, fulfillment.CodeOrderFetch, res.Record.ErrorCode)
	assert.Zero(t, env.deliverer.calls())
	assert.Zero(t, env.locker.Held())
}

func TestService_Process_AlreadySucceededShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil).Once()

	first, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.NoError(t, err)

	second, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.False(t, second.Coalesced)
	assert.Equal(t, first.ProcessID, second.ProcessID)
	assert.Equal(t, first.Record.ConfirmationID, second.Record.ConfirmationID)
	assert.Equal(t, 1, env.deliverer.calls())
	assert.Equal(t, 1, env.records.Len())
	env.source.AssertExpectations(t)
}

func TestService_Process_FailedOrderRunsAgain(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil)

	attempt := 0
	env.deliverer.fn = func(ctx context.Context, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error) {
		attempt++
		if attempt == 1 {
			return nil, fulfillment.NewTransientDeliveryError(req.OrderNumber, 503, errors.New("maintenance"))
		}
		return &fulfillment.DeliveryResult{OrderNumber: req.OrderNumber, ConfirmationID: "WMS-2", Attempts: 1}, nil
	}

	first, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.Error(t, err)
	assert.True(t, fulfillment.IsTransient(err))
	assert.Equal(t, fulfillment.ProcessStateDelivering, first.Record.FailedStage)
	assert.Equal(t, fulfillment.CodeTransientDelivery, first.Record.ErrorCode)

	second, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ProcessID, second.ProcessID)
	assert.Equal(t, fulfillment.ProcessStateSucceeded, second.Record.State)

	latest, err := env.service.Status(context.Background(), "order_67890")
	require.NoError(t, err)
	assert.Equal(t, second.ProcessID, latest.ProcessID)
	assert.Equal(t, 2, env.records.Len())
}

func TestService_Process_LockHeldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	release, err := env.locker.Acquire(context.Background(), "order_67890")
	require.NoError(t, err)
	defer release(context.Background())

	res, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.ErrorIs(t, err, fulfillment.ErrAlreadyProcessing)
	assert.Equal(t, fulfillment.CodeAlreadyProcessing, fulfillment.ErrorCode(err))
	assert.Nil(t, res.Record)
	assert.Zero(t, env.records.Len())
	env.source.AssertNotCalled(t, "FetchOrder", mock.Anything, mock.Anything)
}

func TestService_Process_Timeout(t *testing.T) {
	env := newTestEnv(t, WithTimeout(30*time.Millisecond))
	env.source.On("FetchOrder", mock.Anything, "order_67890").Return(decodeOrder(t, orderJSON), nil)
	env.deliverer.fn = func(ctx context.Context, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("delivery of %s interrupted: %w", req.OrderNumber, ctx.Err())
	}

	res, err := env.service.Process(context.Background(), createdEvent("order_67890"))
	require.Error(t, err)
	assert.Equal(t, fulfillment.CodeProcessTimeout, fulfillment.ErrorCode(err))
	assert.Equal(t, "proc-1", res.ProcessID)

	assert.Eventually(t, func() bool {
		rec, err := env.records.FindByProcessID(context.Background(), "proc-1")
		return err == nil && rec.State == fulfillment.ProcessStateFailed
	}, time.Second, 5*time.Millisecond)

	rec, err := env.records.FindByProcessID(context.Background(), "proc-1")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.ProcessStateDelivering, rec.FailedStage)
	assert.Equal(t, fulfillment.CodeProcessTimeout, rec.ErrorCode)
	assert.Eventually(t, func() bool { return env.locker.Held() == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_Process_CallerCancelledDuringFetch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	var fetchErr error
	env.source.On("FetchOrder", mock.Anything, "order_67890").
		Run(func(args mock.Arguments) {
			cancel()
			<-returned
			fetchErr = args.Get(0).(context.Context).Err()
		}).
		Return(decodeOrder(t, orderJSON), nil).Once()

	res, err := env.service.Process(ctx, createdEvent("order_67890"))
	close(returned)
	require.Error(t, err)
	assert.Equal(t, fulfillment.CodeProcessTimeout, fulfillment.ErrorCode(err))
	assert.Equal(t, "proc-1", res.ProcessID)

	// the run outlives the caller that started it
	assert.Eventually(t, func() bool {
		rec, err := env.records.FindByProcessID(context.Background(), "proc-1")
		return err == nil && rec.State == fulfillment.ProcessStateSucceeded
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, fetchErr)
	assert.Equal(t, 1, env.deliverer.calls())
	assert.Eventually(t, func() bool { return env.locker.Held() == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_Process_JoinedCallerSurvivesFirstCallerCancel(t *testing.T) {
	env := newTestEnv(t)
	entered := make(chan struct{})
	gate := make(chan struct{})
	env.source.On("FetchOrder", mock.Anything, "order_67890").
		Run(func(mock.Arguments) {
			close(entered)
			<-gate
		}).
		Return(decodeOrder(t, orderJSON), nil).Once()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	var first *Result
	var firstErr error
	go func() {
		defer close(firstDone)
		first, firstErr = env.service.Process(firstCtx, createdEvent("order_67890"))
	}()
	<-entered

	secondDone := make(chan struct{})
	var second *Result
	var secondErr error
	go func() {
		defer close(secondDone)
		second, secondErr = env.service.Process(context.Background(), createdEvent("order_67890"))
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("first caller did not return after its context was cancelled")
	}
	close(gate)
	<-secondDone

	require.Error(t, firstErr)
	assert.Equal(t, fulfillment.CodeProcessTimeout, fulfillment.ErrorCode(firstErr))
	assert.Nil(t, first.Record)

	require.NoError(t, secondErr)
	require.NotNil(t, second.Record)
	assert.True(t, second.Coalesced)
	assert.Equal(t, "proc-1", second.ProcessID)
	assert.Equal(t, fulfillment.ProcessStateSucceeded, second.Record.State)
	assert.Equal(t, 1, env.deliverer.calls())
	assert.Equal(t, 1, env.records.Len())
}

func TestService_Status_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Status(context.Background(), "order_missing")
	assert.ErrorIs(t, err, fulfillment.ErrProcessNotFound)
}

func TestService_Acknowledge(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnv(t, WithLogger(zap.New(core)))

	ack, err := env.service.Acknowledge(context.Background(), WebhookEvent{
		ContactID: "contact_12345",
		OrderID:   "order_67890",
		EventType: EventOrderUpdated,
	})
	require.NoError(t, err)
	assert.Equal(t, "proc-1", ack.ProcessID)
	assert.Equal(t, EventOrderUpdated, ack.EventType)
	assert.False(t, ack.ReceivedAt.IsZero())

	entries := logs.FilterMessage("Webhook acknowledged").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "proc-1", entries[0].ContextMap()["process_id"])

	assert.Zero(t, env.records.Len())
	assert.Zero(t, env.deliverer.calls())

	_, err = env.service.Acknowledge(context.Background(), WebhookEvent{})
	assert.Equal(t, fulfillment.CodeValidation, fulfillment.ErrorCode(err))
}
