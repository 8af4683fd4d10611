package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/breaker"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/settlement"
)

// --- fakes -----------------------------------------------------------------

type fakeLease struct {
	renewErr   error
	renewed    int
	released   int
	releaseErr error
}

func (l *fakeLease) Renew(context.Context) error {
	l.renewed++
	return l.renewErr
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return l.releaseErr
}

type fakeLocker struct {
	lease      *fakeLease
	acquireErr error
	acquired   int
}

func (f *fakeLocker) AcquireWithRetry(context.Context, string, time.Duration, time.Duration) (Lease, error) {
	f.acquired++

	if f.acquireErr != nil {
		return nil, f.acquireErr
	}

	return f.lease, nil
}

type fakeStore struct {
	mu   sync.Mutex
	txns map[uuid.UUID]*domain.Transaction

	getErr          error
	markFailedCalls []string
	deadLettered    []uuid.UUID
}

func newFakeStore(txns ...*domain.Transaction) *fakeStore {
	store := &fakeStore{txns: map[uuid.UUID]*domain.Transaction{}}

	for _, txn := range txns {
		store.txns[txn.ID] = txn
	}

	return store
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}

	txn, ok := f.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}

	copied := *txn

	return &copied, nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	txn, ok := f.txns[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	if !txn.Status.CanTransitionTo(domain.StatusProcessing) {
		return domain.ErrInvalidTransition
	}

	txn.Status = domain.StatusProcessing

	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	txn, ok := f.txns[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	if txn.Status != domain.StatusProcessing {
		return domain.ErrInvalidTransition
	}

	txn.Status = domain.StatusFailed
	txn.ErrorCode = code
	txn.ErrorMessage = message
	f.markFailedCalls = append(f.markFailedCalls, code)

	return nil
}

func (f *fakeStore) RecordTransientFailure(_ context.Context, id uuid.UUID, code, message string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	txn, ok := f.txns[id]
	if !ok {
		return 0, domain.ErrTransactionNotFound
	}

	if txn.Status.Terminal() {
		return 0, domain.ErrInvalidTransition
	}

	if txn.Status == domain.StatusProcessing {
		txn.Status = domain.StatusFailed
	}

	txn.Attempts++
	txn.ErrorCode = code
	txn.ErrorMessage = message

	return txn.Attempts, nil
}

func (f *fakeStore) MarkDeadLettered(_ context.Context, id uuid.UUID, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	txn, ok := f.txns[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	txn.Status = domain.StatusDeadLettered
	txn.ErrorCode = code
	txn.ErrorMessage = message
	f.deadLettered = append(f.deadLettered, id)

	return nil
}

func (f *fakeStore) status(id uuid.UUID) domain.TransactionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.txns[id].Status
}

type fakeLedger struct {
	err     error
	applied []uuid.UUID
	refs    []string
}

func (f *fakeLedger) ApplyDelta(_ context.Context, _, transactionID uuid.UUID, delta decimal.Decimal, ref string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}

	f.applied = append(f.applied, transactionID)
	f.refs = append(f.refs, ref)

	return decimal.NewFromInt(100).Add(delta), nil
}

type fakeDeadLetters struct {
	entries []*domain.DeadLetter
}

func (f *fakeDeadLetters) Create(_ context.Context, entry *domain.DeadLetter) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeScheduler struct {
	tasks  []queue.Task
	delays []time.Duration
}

func (f *fakeScheduler) ScheduleRetry(_ context.Context, task queue.Task, delay time.Duration) error {
	f.tasks = append(f.tasks, task)
	f.delays = append(f.delays, delay)

	return nil
}

// passBreaker runs the call; openBreaker rejects without running it.
type passBreaker struct{}

func (passBreaker) Execute(fn func() (any, error)) (any, error) { return fn() }

type openBreaker struct{ calls int }

func (b *openBreaker) Execute(func() (any, error)) (any, error) {
	b.calls++
	return nil, domain.ErrCircuitOpen
}

type stubGateway struct {
	result settlement.Result
	err    error
	calls  int
}

func (g *stubGateway) Submit(context.Context, settlement.Request) (settlement.Result, error) {
	g.calls++

	if g.err != nil {
		return settlement.Result{}, g.err
	}

	return g.result, nil
}

// --- harness ---------------------------------------------------------------

type harness struct {
	executor    *Executor
	store       *fakeStore
	locker      *fakeLocker
	lease       *fakeLease
	ledger      *fakeLedger
	deadLetters *fakeDeadLetters
	scheduler   *fakeScheduler
	gateway     *stubGateway
}

func newHarness(t *testing.T, txn *domain.Transaction, gateway *stubGateway) *harness {
	t.Helper()

	h := &harness{
		store:       newFakeStore(txn),
		lease:       &fakeLease{},
		ledger:      &fakeLedger{},
		deadLetters: &fakeDeadLetters{},
		scheduler:   &fakeScheduler{},
		gateway:     gateway,
	}
	h.locker = &fakeLocker{lease: h.lease}

	cfg := Config{
		LeaseTTL:           time.Second,
		LockAcquireTimeout: 10 * time.Millisecond,
		SettlementTimeout:  time.Second,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      8 * time.Second,
		MaxAttempts:        3,
	}

	h.executor = NewExecutor(cfg, h.locker, h.store, h.ledger, h.deadLetters,
		h.scheduler, passBreaker{}, gateway, nil)

	return h
}

func pendingTxn(t *testing.T) *domain.Transaction {
	t.Helper()

	txn, err := domain.NewTransaction(uuid.New(), domain.TypeDeposit,
		decimal.NewFromInt(25), "USD", uuid.NewString())
	require.NoError(t, err)

	return txn
}

func taskFor(txn *domain.Transaction) queue.Task {
	return queue.Task{TransactionID: txn.ID, AccountID: txn.AccountID}
}

// --- tests -----------------------------------------------------------------

func TestHandle_SuccessPath(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		ExternalRef: "STL-DEP-000000000001",
		Outcome:     settlement.OutcomeSuccess,
	}})

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	assert.Equal(t, 1, h.gateway.calls)
	assert.Equal(t, []uuid.UUID{txn.ID}, h.ledger.applied)
	assert.Equal(t, []string{"STL-DEP-000000000001"}, h.ledger.refs)

	// Lease renewed before the mutation, released after.
	assert.Equal(t, 1, h.lease.renewed)
	assert.Equal(t, 1, h.lease.released)
	assert.Empty(t, h.scheduler.tasks)
}

func TestHandle_UnknownTransactionAcks(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{})

	unknown := queue.Task{TransactionID: uuid.New(), AccountID: uuid.New()}

	require.NoError(t, h.executor.Handle(context.Background(), unknown))
	assert.Zero(t, h.locker.acquired)
	assert.Zero(t, h.gateway.calls)
}

func TestHandle_TerminalTransactionAcks(t *testing.T) {
	txn := pendingTxn(t)
	txn.Status = domain.StatusSuccess
	h := newHarness(t, txn, &stubGateway{})

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))
	assert.Zero(t, h.locker.acquired)
	assert.Zero(t, h.gateway.calls)
}

func TestHandle_InfraErrorRedelivers(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{})
	h.store.getErr = errors.New("database down")

	err := h.executor.Handle(context.Background(), taskFor(txn))
	require.Error(t, err)
}

func TestHandle_LockBusySchedulesRetry(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{})
	h.locker.acquireErr = domain.ErrLockBusy

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	// The attempt is consumed but the row never left PENDING.
	assert.Equal(t, domain.StatusPending, h.store.status(txn.ID))
	require.Len(t, h.scheduler.tasks, 1)
	assert.Equal(t, 1, h.scheduler.tasks[0].Attempt)
	assert.Equal(t, time.Second, h.scheduler.delays[0])
	assert.Zero(t, h.gateway.calls)
}

func TestHandle_CircuitOpenSchedulesRetry(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{})
	breaker := &openBreaker{}
	h.executor.breaker = breaker

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	assert.Equal(t, 1, breaker.calls)
	assert.Zero(t, h.gateway.calls)
	require.Len(t, h.scheduler.tasks, 1)
	assert.Equal(t, domain.StatusFailed, h.store.status(txn.ID))
}

func TestHandle_TransientFailureRetriesThenDeadLetters(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		Outcome:     settlement.OutcomeTransientFailure,
		ErrorCode:   settlement.CodeTimeout,
		ErrorDetail: "settlement processing timeout",
	}})

	ctx := context.Background()
	task := taskFor(txn)

	// Attempts 1 and 2: rescheduled with growing delay.
	require.NoError(t, h.executor.Handle(ctx, task))
	require.NoError(t, h.executor.Handle(ctx, task))

	require.Len(t, h.scheduler.delays, 2)
	assert.Equal(t, time.Second, h.scheduler.delays[0])
	assert.Equal(t, 2*time.Second, h.scheduler.delays[1])
	assert.LessOrEqual(t, h.scheduler.delays[0], h.scheduler.delays[1])

	// Attempt 3 hits the budget: dead lettered, nothing rescheduled.
	require.NoError(t, h.executor.Handle(ctx, task))

	assert.Len(t, h.scheduler.tasks, 2)
	assert.Equal(t, domain.StatusDeadLettered, h.store.status(txn.ID))
	require.Len(t, h.deadLetters.entries, 1)
	assert.Equal(t, txn.ID, h.deadLetters.entries[0].TransactionID)
	assert.Equal(t, settlement.CodeTimeout, h.deadLetters.entries[0].ErrorCode)
	assert.Equal(t, 3, h.deadLetters.entries[0].Attempts)
	assert.Empty(t, h.ledger.applied)
}

func TestHandle_TransientOutcomesTripBreaker(t *testing.T) {
	// Distinct transactions so the retry budget never dead letters before
	// the breaker trips.
	first := pendingTxn(t)
	second := pendingTxn(t)
	third := pendingTxn(t)

	h := newHarness(t, first, &stubGateway{result: settlement.Result{
		Outcome:     settlement.OutcomeTransientFailure,
		ErrorCode:   settlement.CodeUnavailable,
		ErrorDetail: "settlement provider unavailable",
	}})
	h.store.txns[second.ID] = second
	h.store.txns[third.ID] = third

	settlementBreaker := breaker.New("settlement", breaker.Config{
		ConsecutiveFailures: 2,
		Cooldown:            time.Minute,
	}, nil)
	h.executor.breaker = settlementBreaker

	ctx := context.Background()

	// Two transient outcomes in a row open the circuit even though the
	// gateway returned them as structured results, not errors.
	require.NoError(t, h.executor.Handle(ctx, taskFor(first)))
	require.NoError(t, h.executor.Handle(ctx, taskFor(second)))

	require.Equal(t, 2, h.gateway.calls)
	require.Equal(t, breaker.StateOpen, settlementBreaker.State())

	// The next task fails fast without contacting the gateway and is
	// rescheduled like any other circuit rejection.
	require.NoError(t, h.executor.Handle(ctx, taskFor(third)))

	assert.Equal(t, 2, h.gateway.calls, "open breaker must not contact the gateway")
	require.Len(t, h.scheduler.tasks, 3)
	assert.Equal(t, "CIRCUIT_OPEN", h.store.txns[third.ID].ErrorCode)
}

func TestHandle_ProcessingRowIsResumed(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		ExternalRef: "STL-DEP-000000000001",
		Outcome:     settlement.OutcomeSuccess,
	}})
	h.ledger.err = errors.New("connection reset during commit")

	ctx := context.Background()
	task := taskFor(txn)

	// The mutation fails with the row already PROCESSING; the delivery is
	// redelivered.
	require.Error(t, h.executor.Handle(ctx, task))
	require.Equal(t, domain.StatusProcessing, h.store.status(txn.ID))

	// Redelivery picks the row back up under the lease instead of
	// abandoning it mid-flight.
	h.ledger.err = nil

	require.NoError(t, h.executor.Handle(ctx, task))
	assert.Equal(t, []uuid.UUID{txn.ID}, h.ledger.applied)
	assert.Equal(t, 2, h.gateway.calls)
	assert.Empty(t, h.scheduler.tasks)
	assert.Empty(t, h.deadLetters.entries)
}

func TestHandle_BusinessFailureIsTerminal(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		Outcome:     settlement.OutcomeBusinessFailure,
		ErrorCode:   settlement.CodeInsufficientFunds,
		ErrorDetail: "insufficient funds in external account",
	}})

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	assert.Equal(t, domain.StatusFailed, h.store.status(txn.ID))
	assert.Equal(t, []string{settlement.CodeInsufficientFunds}, h.store.markFailedCalls)
	assert.Empty(t, h.scheduler.tasks)
	assert.Empty(t, h.ledger.applied)
}

func TestHandle_GatewayErrorCountsTransient(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{err: errors.New("connection reset")})

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	require.Len(t, h.scheduler.tasks, 1)
	assert.Equal(t, domain.StatusFailed, h.store.status(txn.ID))
	assert.Empty(t, h.ledger.applied)
}

func TestHandle_LostLeaseDefersMutation(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		ExternalRef: "STL-DEP-000000000001",
		Outcome:     settlement.OutcomeSuccess,
	}})
	h.lease.renewErr = domain.ErrLockLost

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	// Money untouched; the task retries under a fresh lease.
	assert.Empty(t, h.ledger.applied)
	require.Len(t, h.scheduler.tasks, 1)
}

func TestHandle_AlreadyAppliedAcks(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		ExternalRef: "STL-DEP-000000000001",
		Outcome:     settlement.OutcomeSuccess,
	}})
	h.ledger.err = domain.ErrAlreadyApplied

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))
	assert.Empty(t, h.scheduler.tasks)
}

func TestHandle_InsufficientFundsAtMutationFailsTerminally(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		ExternalRef: "STL-WTH-000000000001",
		Outcome:     settlement.OutcomeSuccess,
	}})
	h.ledger.err = domain.ErrInsufficientFunds

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))

	assert.Equal(t, domain.StatusFailed, h.store.status(txn.ID))
	assert.Equal(t, []string{"INSUFFICIENT_FUNDS"}, h.store.markFailedCalls)
	assert.Empty(t, h.scheduler.tasks)
}

func TestHandle_FencedMutationAcks(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		Outcome: settlement.OutcomeSuccess,
	}})
	h.ledger.err = domain.ErrInvalidTransition

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))
	assert.Empty(t, h.scheduler.tasks)
	assert.Empty(t, h.deadLetters.entries)
}

func TestHandle_LeaseReleasedOnEveryPath(t *testing.T) {
	txn := pendingTxn(t)
	h := newHarness(t, txn, &stubGateway{result: settlement.Result{
		Outcome:   settlement.OutcomeTransientFailure,
		ErrorCode: settlement.CodeUnavailable,
	}})

	require.NoError(t, h.executor.Handle(context.Background(), taskFor(txn)))
	assert.Equal(t, 1, h.lease.released)
}
