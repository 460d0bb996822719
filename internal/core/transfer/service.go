// Package transfer is the transaction boundary of the payment engine. It
// composes state machine validation, balance mutation and the audit append
// into one atomic unit and owns the lock order and retry policy.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/audit"
	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

const tracerName = "github.com/ibrahimkeyboad/payflow/internal/core/transfer"

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 20 * time.Millisecond
)

type Service struct {
	store       Store
	audit       *audit.Logger
	logger      *zap.Logger
	tracer      trace.Tracer
	webhookURL  string
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithWebhookURL makes every committed transition enqueue a webhook job.
func WithWebhookURL(url string) Option {
	return func(s *Service) { s.webhookURL = url }
}

// WithRetry sets how many times a busy transaction is attempted and the base
// delay of the exponential backoff between attempts.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.baseDelay = baseDelay
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      zap.NewNop(),
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = audit.NewLogger(s.logger)
	return s
}

// CreateRequest asks for a new payment from Sender to Recipient.
type CreateRequest struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Instrument  domain.Instrument
	Amount      decimal.Decimal
}

// Create records a payment in Created status. No money moves yet.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.create", trace.WithAttributes(
		attribute.String("payment.sender_id", req.SenderID.String()),
		attribute.String("payment.recipient_id", req.RecipientID.String()),
	))
	defer span.End()

	if err := domain.ValidateAmount(req.Amount); err != nil {
		return domain.Payment{}, fail(span, err)
	}
	inst, err := domain.NewInstrument(req.Instrument.Last4, req.Instrument.Holder)
	if err != nil {
		return domain.Payment{}, fail(span, err)
	}

	var out domain.Payment
	err = s.inTx(ctx, "create", func(ctx context.Context, tx Tx) error {
		sender, found, err := tx.GetUser(ctx, req.SenderID)
		if err != nil {
			return err
		}
		if !found || !sender.Active {
			return domain.NewError(domain.KindNotFound, "sender not found")
		}

		recipient, found, err := tx.GetUser(ctx, req.RecipientID)
		if err != nil {
			return err
		}
		if !found || !recipient.Active {
			return domain.NewError(domain.KindRecipientNotFound, "recipient not found")
		}

		out, err = tx.InsertPayment(ctx, domain.Payment{
			SenderID:    req.SenderID,
			RecipientID: req.RecipientID,
			Instrument:  inst,
			Amount:      domain.Normalize(req.Amount),
			Status:      domain.StatusCreated,
			Version:     1,
		})
		return err
	})
	if err != nil {
		return domain.Payment{}, fail(span, err)
	}

	span.SetAttributes(attribute.String("payment.id", out.ID.String()))
	s.logger.Info("payment created",
		zap.String("payment_id", out.ID.String()),
		zap.String("sender_id", out.SenderID.String()),
		zap.String("recipient_id", out.RecipientID.String()),
		zap.String("amount", out.Amount.StringFixed(domain.AmountScale)),
	)
	return out, nil
}

// Command is one requested transition on an existing payment.
type Command struct {
	PaymentID uuid.UUID
	Actor     uuid.UUID
	Action    domain.Action
	// NewStatus is read only for domain.ActionUpdate.
	NewStatus domain.PaymentStatus
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64
}

func (s *Service) Confirm(ctx context.Context, paymentID, actor uuid.UUID) (domain.Payment, error) {
	return s.Execute(ctx, Command{PaymentID: paymentID, Actor: actor, Action: domain.ActionConfirm})
}

func (s *Service) Cancel(ctx context.Context, paymentID, actor uuid.UUID) (domain.Payment, error) {
	return s.Execute(ctx, Command{PaymentID: paymentID, Actor: actor, Action: domain.ActionCancel})
}

func (s *Service) UpdateStatus(ctx context.Context, paymentID, actor uuid.UUID, status domain.PaymentStatus) (domain.Payment, error) {
	return s.Execute(ctx, Command{PaymentID: paymentID, Actor: actor, Action: domain.ActionUpdate, NewStatus: status})
}

func (s *Service) Delete(ctx context.Context, paymentID, actor uuid.UUID) error {
	_, err := s.Execute(ctx, Command{PaymentID: paymentID, Actor: actor, Action: domain.ActionDelete})
	return err
}

// Execute applies cmd atomically.
//
// The payment row is locked first. When funds move, both user rows are then
// locked in ascending id order whatever their role, so two confirmations
// between the same pair of users in opposite directions cannot deadlock.
// Every check runs before the first write; any failure rolls back the
// balance change, the status change and the log entry together.
func (s *Service) Execute(ctx context.Context, cmd Command) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "transfer."+string(cmd.Action), trace.WithAttributes(
		attribute.String("payment.id", cmd.PaymentID.String()),
		attribute.String("payment.actor_id", cmd.Actor.String()),
	))
	defer span.End()

	var (
		out domain.Payment
		tr  domain.Transition
	)
	err := s.inTx(ctx, string(cmd.Action), func(ctx context.Context, tx Tx) error {
		p, found, err := tx.LockPayment(ctx, cmd.PaymentID)
		if err != nil {
			return err
		}
		if !found || p.DeletedAt != nil {
			return domain.NewError(domain.KindNotFound, "payment not found")
		}
		if err := authorize(p, cmd.Actor, cmd.Action); err != nil {
			return err
		}
		if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != p.Version {
			return domain.NewError(domain.KindConflict, "payment version is %d, not %d", p.Version, *cmd.ExpectedVersion)
		}

		tr, err = domain.Plan(p, cmd.Action, cmd.NewStatus)
		if err != nil {
			return err
		}

		if tr.MovesFunds {
			if err := s.moveFunds(ctx, tx, p); err != nil {
				return err
			}
		}

		if tr.Delete {
			out, err = tx.SoftDeletePayment(ctx, p.ID, p.Version)
		} else {
			out, err = tx.UpdatePaymentStatus(ctx, p.ID, tr.To, p.Version)
		}
		if err != nil {
			return err
		}

		actor := cmd.Actor
		if _, err := s.audit.Append(ctx, tx, audit.Entry{
			Payment: out,
			Actor:   &actor,
			Prev:    tr.From,
			New:     tr.To,
			Note:    tr.Note,
		}); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, tr.Event, out)
	})
	if err != nil {
		s.logger.Info("payment transition rejected",
			zap.String("payment_id", cmd.PaymentID.String()),
			zap.String("action", string(cmd.Action)),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return domain.Payment{}, fail(span, err)
	}

	span.SetAttributes(attribute.String("payment.status", string(out.Status)))
	s.logger.Info("payment transition committed",
		zap.String("payment_id", out.ID.String()),
		zap.String("action", string(cmd.Action)),
		zap.String("prev_status", string(tr.From)),
		zap.String("new_status", string(tr.To)),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// moveFunds debits the sender and credits the recipient of p. Both rows are
// locked before either balance is read.
func (s *Service) moveFunds(ctx context.Context, tx Tx, p domain.Payment) error {
	users, err := lockUsers(ctx, tx, p.SenderID, p.RecipientID)
	if err != nil {
		return err
	}

	sender, ok := users[p.SenderID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "sender not found")
	}
	recipient, ok := users[p.RecipientID]
	if !ok {
		return domain.NewError(domain.KindRecipientNotFound, "recipient not found")
	}

	if err := sender.Debit(p.Amount); err != nil {
		return err
	}
	recipient.Credit(p.Amount)
	if err := domain.ValidateBalance(recipient.Balance); err != nil {
		return domain.NewError(domain.KindConflict, "recipient balance would overflow")
	}

	for _, u := range users {
		if err := tx.SaveBalance(ctx, u.ID, u.Balance); err != nil {
			return err
		}
	}
	return nil
}

// lockUsers takes the row locks of ids in ascending byte order. Duplicates
// are locked once. Missing users are absent from the result.
func lockUsers(ctx context.Context, tx Tx, ids ...uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	ordered := slices.Clone(ids)
	slices.SortFunc(ordered, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	ordered = slices.Compact(ordered)

	users := make(map[uuid.UUID]*domain.User, len(ordered))
	for _, id := range ordered {
		u, found, err := tx.LockUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if found && u.Active {
			users[id] = &u
		}
	}
	return users, nil
}

func authorize(p domain.Payment, actor uuid.UUID, action domain.Action) error {
	allowed := p.SenderID == actor
	if action == domain.ActionCancel {
		allowed = p.Involves(actor)
	}
	if !allowed {
		return domain.NewError(domain.KindUnauthorized, "not authorized to %s this payment", action)
	}
	return nil
}

type webhookEvent struct {
	Event     string         `json:"event"`
	Data      domain.Payment `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func (s *Service) enqueue(ctx context.Context, tx Tx, event string, p domain.Payment) error {
	if s.webhookURL == "" || event == "" {
		return nil
	}
	payload, err := json.Marshal(webhookEvent{Event: event, Data: p, Timestamp: s.now()})
	if err != nil {
		return err
	}
	return tx.EnqueueWebhook(ctx, s.webhookURL, payload)
}

// Get returns a payment visible to actor.
func (s *Service) Get(ctx context.Context, paymentID, actor uuid.UUID) (domain.Payment, error) {
	p, found, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, domain.Wrap(domain.KindStorageUnavailable, "load payment", err)
	}
	if !found || p.DeletedAt != nil {
		return domain.Payment{}, domain.NewError(domain.KindNotFound, "payment not found")
	}
	if !p.Involves(actor) {
		return domain.Payment{}, domain.NewError(domain.KindUnauthorized, "not authorized to view this payment")
	}
	return p, nil
}

// List returns the payments actor has sent that pass the filter.
func (s *Service) List(ctx context.Context, actor uuid.UUID, filter domain.PaymentFilter) ([]domain.Payment, error) {
	filter.SenderID = actor
	payments, err := s.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, "list payments", err)
	}
	return payments, nil
}

// Logs returns the audit trail of a payment, deleted ones included, ordered
// by sequence.
func (s *Service) Logs(ctx context.Context, paymentID, actor uuid.UUID) ([]domain.PaymentLog, error) {
	p, found, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, "load payment", err)
	}
	if !found {
		return nil, domain.NewError(domain.KindNotFound, "payment not found")
	}
	if !p.Involves(actor) {
		return nil, domain.NewError(domain.KindUnauthorized, "not authorized to view logs for this payment")
	}

	logs, err := s.store.ListLogs(ctx, paymentID)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, "list payment logs", err)
	}
	return logs, nil
}

// Deposit credits funds entering the ledger from outside to userID.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.deposit", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	if err := domain.ValidateAmount(amount); err != nil {
		return domain.User{}, fail(span, err)
	}

	var out domain.User
	err := s.inTx(ctx, "deposit", func(ctx context.Context, tx Tx) error {
		u, found, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !found || !u.Active {
			return domain.NewError(domain.KindNotFound, "user not found")
		}
		u.Credit(amount)
		if err := domain.ValidateBalance(u.Balance); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, u.ID, u.Balance); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return domain.User{}, fail(span, err)
	}

	s.logger.Info("deposit applied",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.StringFixed(domain.AmountScale)),
	)
	return out, nil
}

// fail records err on the span. Errors the store did not classify are
// reported as storage failures with their cause kept.
func fail(span trace.Span, err error) error {
	err = domain.Wrap(domain.KindStorageUnavailable, "ledger transaction failed", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(domain.KindOf(err)))
	return err
}
