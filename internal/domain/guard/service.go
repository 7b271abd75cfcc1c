// Package guard admits stock movements into the ledger.
//
// Every admission for a (material, warehouse) position is one atomic unit:
// the balance is read and locked, the movement is checked against it, the
// ledger record is appended and the snapshot is moved by compare-and-swap,
// all inside one storage transaction. Admissions on the same position are
// additionally serialized in-process (and across processes when a Locker is
// configured), so contention is resolved before it reaches storage.
package guard

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/masterdata"
	"stockledger/pkg/keylock"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/guard")

// Outcome labels reported to the Recorder.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
)

// Config bounds the admission loop.
type Config struct {
	// MaxAttempts caps optimistic retries of one admission.
	MaxAttempts int

	// RetryBackoff is the base pause between attempts; attempt n waits about n*RetryBackoff.
	RetryBackoff time.Duration

	// LockWait bounds the wait for the per-position lock.
	LockWait time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		RetryBackoff: 10 * time.Millisecond,
		LockWait:     5 * time.Second,
	}
}

// Locker serializes admissions of one position across processes.
type Locker interface {
	// Acquire blocks until key is held. A timeout yields CONCURRENT_MODIFICATION.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Recorder receives one observation per finished submission.
type Recorder interface {
	ObserveAdmission(txType ledger.Type, outcome string, attempts int, elapsed time.Duration)
}

// Option customizes the Service.
type Option func(*Service)

// WithLocker enables cross-process serialization.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithRecorder attaches admission metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the transaction guard.
type Service struct {
	store     ledger.Store
	balances  *balance.Service
	directory masterdata.Directory
	txm       tx.Manager
	locks     *keylock.Map
	locker    Locker
	recorder  Recorder
	cfg       Config
	now       func() time.Time
}

// NewService creates the guard.
func NewService(
	store ledger.Store,
	balances *balance.Service,
	directory masterdata.Directory,
	txm tx.Manager,
	cfg Config,
	opts ...Option,
) *Service {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}

	s := &Service{
		store:     store,
		balances:  balances,
		directory: directory,
		txm:       txm,
		locks:     keylock.New(),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and admits one stock movement.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	req = req.normalized()
	if req.ActorID == "" {
		req.ActorID = appctx.GetActorID(ctx)
	}

	ctx, span := tracer.Start(ctx, "guard.submit", trace.WithAttributes(
		attribute.String("ledger.material_id", req.MaterialID),
		attribute.String("ledger.warehouse_id", req.WarehouseID),
		attribute.String("ledger.type", string(req.Type)),
		attribute.Int64("ledger.quantity", req.Quantity),
	))
	defer span.End()

	start := s.now()
	res, attempts, err := s.submit(ctx, req)
	s.finish(ctx, span, req.Type, res, attempts, err, start)
	return res, err
}

func (s *Service) submit(ctx context.Context, req Request) (Result, int, error) {
	if err := req.Validate(); err != nil {
		return Result{}, 0, err
	}

	if res, ok, err := s.replay(ctx, req.ActorID, req.IdempotencyKey, req.sameAs); ok || err != nil {
		return res, 0, err
	}

	if err := masterdata.Verify(ctx, s.directory, req.MaterialID, req.WarehouseID); err != nil {
		return Result{}, 0, err
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	rec := ledger.StockTransaction{
		ID:             id.New(),
		MaterialID:     req.MaterialID,
		WarehouseID:    req.WarehouseID,
		Type:           req.Type,
		Quantity:       req.Quantity,
		OccurredAt:     occurredAt.UTC(),
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           notePtr(req.Note),
	}
	return s.admit(ctx, rec, req.sameAs)
}

// Reverse appends a compensating entry for an existing transaction.
// It is admitted like any other movement, so reversing a receipt needs enough stock.
func (s *Service) Reverse(ctx context.Context, req ReverseRequest) (Result, error) {
	req = req.normalized()
	if req.ActorID == "" {
		req.ActorID = appctx.GetActorID(ctx)
	}

	ctx, span := tracer.Start(ctx, "guard.reverse", trace.WithAttributes(
		attribute.String("ledger.reverses_id", req.TransactionID.String()),
	))
	defer span.End()

	start := s.now()
	res, attempts, err := s.reverse(ctx, req)
	s.finish(ctx, span, res.Transaction.Type, res, attempts, err, start)
	return res, err
}

func (s *Service) reverse(ctx context.Context, req ReverseRequest) (Result, int, error) {
	if err := req.Validate(); err != nil {
		return Result{}, 0, err
	}

	reverses := func(rec ledger.StockTransaction) bool {
		return rec.ReversesID != nil && *rec.ReversesID == req.TransactionID
	}
	if res, ok, err := s.replay(ctx, req.ActorID, req.IdempotencyKey, reverses); ok || err != nil {
		return res, 0, err
	}

	orig, err := s.store.Get(ctx, req.TransactionID)
	if err != nil {
		return Result{}, 0, apperror.WrapStorage("get transaction", err)
	}
	if orig.ReversesID != nil {
		return Result{}, 0, apperror.NewValidation("a reversal cannot be reversed").
			WithDetail("transactionId", orig.ID.String())
	}
	for prior, err := range s.store.List(ctx, ledger.Filter{ReversesID: &orig.ID, Limit: 1}, ledger.Ascending) {
		if err != nil {
			return Result{}, 0, apperror.WrapStorage("find reversal", err)
		}
		return Result{}, 0, apperror.NewValidation("transaction is already reversed").
			WithDetail("transactionId", orig.ID.String()).
			WithDetail("reversalId", prior.ID.String())
	}

	if err := masterdata.Verify(ctx, s.directory, orig.MaterialID, orig.WarehouseID); err != nil {
		return Result{}, 0, err
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	note := req.Note
	if note == "" {
		note = "reversal of " + orig.ID.String()
	}
	rec := ledger.StockTransaction{
		ID:             id.New(),
		MaterialID:     orig.MaterialID,
		WarehouseID:    orig.WarehouseID,
		Type:           orig.Type.Opposite(),
		Quantity:       orig.Quantity,
		OccurredAt:     occurredAt.UTC(),
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           notePtr(note),
		ReversesID:     &orig.ID,
	}
	return s.admit(ctx, rec, reverses)
}

// replay returns the committed result for an already used idempotency key.
func (s *Service) replay(
	ctx context.Context,
	actorID, key string,
	same func(ledger.StockTransaction) bool,
) (Result, bool, error) {
	rec, found, err := s.store.FindByIdempotencyKey(ctx, actorID, key)
	if err != nil {
		return Result{}, false, apperror.WrapStorage("find idempotency key", err)
	}
	if !found {
		return Result{}, false, nil
	}
	if !same(rec) {
		return Result{}, false, apperror.NewIdempotencyMismatch(key).
			WithDetail("transactionId", rec.ID.String())
	}
	return Result{Transaction: rec, ResultingBalance: rec.BalanceAfter, Replayed: true}, true, nil
}

// admit runs the bounded admission loop for rec under the position locks.
func (s *Service) admit(
	ctx context.Context,
	rec ledger.StockTransaction,
	same func(ledger.StockTransaction) bool,
) (Result, int, error) {
	key := rec.Key()
	ctx = logger.ContextWith(ctx, "position", key.String())

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	unlock, err := s.locks.Lock(lockCtx, key.String())
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, 0, apperror.NewStorage("wait for position lock", ctx.Err())
		}
		return Result{}, 0, apperror.NewConcurrencyConflict(key.String(), 0).WithCause(err)
	}
	defer unlock()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, key.String())
		if err != nil {
			return Result{}, 0, apperror.WrapStorage("acquire position lock", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "release position lock failed", "key", key.String(), "error", err)
			}
		}()
	}

	for attempt := 1; ; attempt++ {
		res, err := s.tryAdmit(ctx, rec, same)
		if err == nil {
			return res, attempt, nil
		}
		if !apperror.IsConcurrentModification(err) {
			if apperror.IsDeterministic(err) {
				return Result{}, attempt, err
			}
			return Result{}, attempt, apperror.WrapStorage("admit transaction", err)
		}

		logger.Debug(ctx, "admission conflict",
			"key", key.String(),
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
		)
		if attempt >= s.cfg.MaxAttempts {
			return Result{}, attempt, apperror.NewConcurrencyConflict(key.String(), attempt).WithCause(err)
		}
		if err := s.pause(ctx, attempt); err != nil {
			return Result{}, attempt, apperror.NewConcurrencyConflict(key.String(), attempt).WithCause(err)
		}
	}
}

// tryAdmit is one atomic attempt: check, append and move the snapshot.
func (s *Service) tryAdmit(
	ctx context.Context,
	rec ledger.StockTransaction,
	same func(ledger.StockTransaction) bool,
) (Result, error) {
	var res Result
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.balances.Load(ctx, rec.Key())
		if err != nil {
			return err
		}

		signed := rec.SignedQuantity()
		if current.Quantity+signed < 0 {
			return apperror.NewInsufficientStock(rec.MaterialID, rec.WarehouseID, rec.Quantity, current.Quantity)
		}
		rec.BalanceAfter = current.Quantity + signed

		stored, err := s.store.Append(ctx, rec)
		if err != nil {
			return err
		}
		if stored.ID != rec.ID {
			// The key was committed by a concurrent submission; nothing was written.
			if !same(stored) {
				return apperror.NewIdempotencyMismatch(rec.IdempotencyKey).
					WithDetail("transactionId", stored.ID.String())
			}
			res = Result{Transaction: stored, ResultingBalance: stored.BalanceAfter, Replayed: true}
			return nil
		}

		snap, err := s.balances.Apply(ctx, current, signed, stored.Sequence)
		if err != nil {
			return err
		}
		res = Result{Transaction: stored, ResultingBalance: snap.Quantity}
		return nil
	})
	return res, err
}

func (s *Service) pause(ctx context.Context, attempt int) error {
	if s.cfg.RetryBackoff <= 0 {
		return ctx.Err()
	}
	d := time.Duration(attempt) * s.cfg.RetryBackoff
	d += rand.N(s.cfg.RetryBackoff)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) finish(
	ctx context.Context,
	span trace.Span,
	txType ledger.Type,
	res Result,
	attempts int,
	err error,
	start time.Time,
) {
	outcome := OutcomeCommitted
	switch {
	case err != nil:
		outcome = "unknown"
		if appErr, ok := apperror.AsAppError(err); ok {
			outcome = strings.ToLower(appErr.Code)
		}
		span.SetStatus(codes.Error, err.Error())
		if apperror.IsDeterministic(err) {
			logger.Debug(ctx, "stock transaction rejected", "outcome", outcome, "error", err)
		} else {
			logger.Error(ctx, "stock transaction failed", "outcome", outcome, "error", err)
		}
	case res.Replayed:
		outcome = OutcomeReplayed
		logger.Info(ctx, "stock transaction replayed",
			"transaction_id", res.Transaction.ID,
			"idempotency_key", res.Transaction.IdempotencyKey,
		)
	default:
		logger.Info(ctx, "stock transaction committed",
			"transaction_id", res.Transaction.ID,
			"sequence", res.Transaction.Sequence,
			"material_id", res.Transaction.MaterialID,
			"warehouse_id", res.Transaction.WarehouseID,
			"type", res.Transaction.Type,
			"quantity", res.Transaction.Quantity,
			"balance", res.ResultingBalance,
			"attempts", attempts,
		)
	}
	span.SetAttributes(attribute.String("ledger.outcome", outcome), attribute.Int("ledger.attempts", attempts))

	if s.recorder != nil {
		if txType == "" {
			txType = res.Transaction.Type
		}
		s.recorder.ObserveAdmission(txType, outcome, attempts, s.now().Sub(start))
	}
}
