package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/backoff"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/lock"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/settlement"
)

// Error codes the executor records on failures it classifies itself.
const (
	codeLockBusy          = "LOCK_BUSY"
	codeLockLost          = "LOCK_LOST"
	codeCircuitOpen       = "CIRCUIT_OPEN"
	codeSettlementError   = "SETTLEMENT_ERROR"
	codeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// Executor runs one task end to end. Handle is the queue.Handler; a non-nil
// return means infrastructure failed before an outcome was recorded and the
// delivery should be redelivered.
type Executor struct {
	cfg          Config
	locker       Locker
	transactions TransactionStore
	ledger       Ledger
	deadLetters  DeadLetters
	scheduler    Scheduler
	breaker      Breaker
	gateway      settlement.Gateway
	logger       log.Logger
}

func NewExecutor(cfg Config, locker Locker, transactions TransactionStore, ledger Ledger, deadLetters DeadLetters, scheduler Scheduler, breaker Breaker, gateway settlement.Gateway, logger log.Logger) *Executor {
	cfg.normalize()

	return &Executor{
		cfg:          cfg,
		locker:       locker,
		transactions: transactions,
		ledger:       ledger,
		deadLetters:  deadLetters,
		scheduler:    scheduler,
		breaker:      breaker,
		gateway:      gateway,
		logger:       log.OrNone(logger),
	}
}

// Handle executes a task. Every path that records an outcome, including
// retry scheduling and dead lettering, returns nil so the delivery is acked
// exactly once.
func (e *Executor) Handle(ctx context.Context, task queue.Task) error {
	logger := e.logger.With("transaction_id", task.TransactionID.String())

	txn, err := e.transactions.Get(ctx, task.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			// Nothing to execute; a replayed or foreign message.
			logger.Warnf("dropping task for unknown transaction")
			return nil
		}

		return fmt.Errorf("load transaction: %w", err)
	}

	if txn.Status.Terminal() {
		logger.Debugf("dropping task for terminal transaction (%s)", txn.Status)
		return nil
	}

	lease, err := e.locker.AcquireWithRetry(ctx, lock.AccountKey(txn.AccountID.String()),
		e.cfg.LeaseTTL, e.cfg.LockAcquireTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			logger.Infof("account lease busy, rescheduling")
			return e.retryOrDeadLetter(ctx, task, codeLockBusy, "account lease held by another worker")
		}

		return fmt.Errorf("acquire account lease: %w", err)
	}

	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			logger.Warnf("failed to release account lease: %v", releaseErr)
		}
	}()

	if err := e.transactions.MarkProcessing(ctx, txn.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Reached a terminal state since the check above; the outcome is
			// already recorded.
			logger.Warnf("transaction no longer startable, dropping: %v", err)
			return nil
		}

		return fmt.Errorf("mark processing: %w", err)
	}

	result, err := e.submit(ctx, txn)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCircuitOpen):
			logger.Warnf("settlement circuit open")
			return e.retryOrDeadLetter(ctx, task, codeCircuitOpen, "settlement circuit breaker open")
		default:
			logger.Warnf("settlement call failed: %v", err)
			return e.retryOrDeadLetter(ctx, task, codeSettlementError, err.Error())
		}
	}

	switch result.Outcome {
	case settlement.OutcomeTransientFailure:
		logger.Infof("transient settlement failure: %s", result.ErrorCode)
		return e.retryOrDeadLetter(ctx, task, result.ErrorCode, result.ErrorDetail)

	case settlement.OutcomeBusinessFailure:
		logger.Infof("definitive settlement failure: %s", result.ErrorCode)

		if err := e.transactions.MarkFailed(ctx, txn.ID, result.ErrorCode, result.ErrorDetail); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}

		return nil
	}

	// Settled. Renew the lease before touching money: a renewal failure
	// means the lease may have changed hands mid-call, and mutating under a
	// lost lease risks a double apply if the new holder is mid-flight too.
	if err := lease.Renew(ctx); err != nil {
		logger.Errorf("lease lost after settlement, deferring mutation: %v", err)
		return e.retryOrDeadLetter(ctx, task, codeLockLost, "account lease lost before balance mutation")
	}

	return e.apply(ctx, txn, result, task, logger)
}

// errSettlementDegraded marks a transient settlement outcome inside the
// breaker call so consecutive transient failures trip the circuit. submit
// unwraps it back into the result it carries.
var errSettlementDegraded = errors.New("settlement reported transient failure")

func (e *Executor) submit(ctx context.Context, txn *domain.Transaction) (settlement.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.SettlementTimeout)
	defer cancel()

	value, err := e.breaker.Execute(func() (any, error) {
		result, err := e.gateway.Submit(callCtx, settlement.Request{
			TransactionID: txn.ID,
			AccountID:     txn.AccountID,
			Type:          txn.Type,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
		})
		if err != nil {
			return nil, err
		}

		if result.Outcome == settlement.OutcomeTransientFailure {
			return result, errSettlementDegraded
		}

		return result, nil
	})
	if err != nil && !errors.Is(err, errSettlementDegraded) {
		return settlement.Result{}, err
	}

	result, ok := value.(settlement.Result)
	if !ok {
		return settlement.Result{}, fmt.Errorf("unexpected settlement result type %T", value)
	}

	return result, nil
}

func (e *Executor) apply(ctx context.Context, txn *domain.Transaction, result settlement.Result, task queue.Task, logger log.Logger) error {
	newBalance, err := e.ledger.ApplyDelta(ctx, txn.AccountID, txn.ID, txn.SignedAmount(), result.ExternalRef)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyApplied):
			logger.Warnf("balance effect already applied, dropping redelivery")
			return nil

		case errors.Is(err, domain.ErrInsufficientFunds):
			// Settlement succeeded but the account can no longer cover the
			// withdrawal. Definitive from the account's point of view.
			logger.Infof("insufficient funds at mutation time")

			if err := e.transactions.MarkFailed(ctx, txn.ID, codeInsufficientFunds, "balance would go negative"); err != nil {
				return fmt.Errorf("mark failed: %w", err)
			}

			return nil

		case errors.Is(err, domain.ErrInvalidTransition):
			// Fenced out by a concurrent writer; whoever won recorded the
			// outcome.
			logger.Warnf("fenced out of balance mutation: %v", err)
			return nil
		}

		return fmt.Errorf("apply balance delta: %w", err)
	}

	logger.Infof("transaction settled: ref=%s new_balance=%s attempt=%d",
		result.ExternalRef, newBalance, task.Attempt)

	return nil
}

// retryOrDeadLetter consumes one attempt. While budget remains the task goes
// back on the retry queue with exponential backoff; otherwise the
// transaction is dead lettered terminally.
func (e *Executor) retryOrDeadLetter(ctx context.Context, task queue.Task, code, message string) error {
	attempts, err := e.transactions.RecordTransientFailure(ctx, task.TransactionID, code, message)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTransactionNotFound) {
			e.logger.Warnf("cannot record transient failure for %s, dropping: %v", task.TransactionID, err)
			return nil
		}

		return fmt.Errorf("record transient failure: %w", err)
	}

	if attempts >= e.cfg.MaxAttempts {
		return e.deadLetter(ctx, task, attempts, code, message)
	}

	task.Attempt = attempts
	delay := backoff.ExponentialCapped(e.cfg.RetryBaseDelay, attempts-1, e.cfg.RetryMaxDelay)

	if err := e.scheduler.ScheduleRetry(ctx, task, delay); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	e.logger.Infof("scheduled retry %d/%d for %s in %s (%s)",
		attempts+1, e.cfg.MaxAttempts, task.TransactionID, delay, code)

	return nil
}

func (e *Executor) deadLetter(ctx context.Context, task queue.Task, attempts int, code, message string) error {
	if err := e.transactions.MarkDeadLettered(ctx, task.TransactionID, code, message); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTransactionNotFound) {
			e.logger.Warnf("cannot dead letter %s, dropping: %v", task.TransactionID, err)
			return nil
		}

		return fmt.Errorf("mark dead lettered: %w", err)
	}

	payload, err := task.Encode()
	if err != nil {
		payload = []byte(task.TransactionID.String())
	}

	entry := &domain.DeadLetter{
		ID:            uuid.New(),
		TransactionID: task.TransactionID,
		Payload:       payload,
		ErrorCode:     code,
		ErrorMessage:  message,
		Attempts:      attempts,
		FailedAt:      time.Now().UTC(),
	}

	if err := e.deadLetters.Create(ctx, entry); err != nil {
		e.logger.Errorf("failed to record dead letter for %s: %v", task.TransactionID, err)
	}

	return nil
}
