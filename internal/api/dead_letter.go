package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Necmettin94/PaymentGatewaySystem/internal/domain"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/log"
	"github.com/Necmettin94/PaymentGatewaySystem/internal/queue"
)

// replayStatusRequeued is stamped on an entry once its task is back on the
// work queue.
const replayStatusRequeued = "REQUEUED"

// DeadLetterStore reads the dead letter archive and stamps replays.
type DeadLetterStore interface {
	List(ctx context.Context, limit, offset int) ([]*domain.DeadLetter, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error)
	MarkReplayed(ctx context.Context, id uuid.UUID, status string) error
}

// TransactionRequeuer re-arms a dead-lettered transaction for replay.
type TransactionRequeuer interface {
	Requeue(ctx context.Context, id uuid.UUID) error
}

// DeadLetterHandler is the operator view over exhausted transactions.
type DeadLetterHandler struct {
	deadLetters  DeadLetterStore
	transactions TransactionRequeuer
	publisher    TaskPublisher
	logger       log.Logger
}

func NewDeadLetterHandler(deadLetters DeadLetterStore, transactions TransactionRequeuer, publisher TaskPublisher, logger log.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		deadLetters:  deadLetters,
		transactions: transactions,
		publisher:    publisher,
		logger:       log.OrNone(logger),
	}
}

// List handles GET /v1/dead-letters.
func (h *DeadLetterHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.deadLetters.List(c.UserContext(), limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]deadLetterResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, newDeadLetterResponse(entry))
	}

	return c.JSON(fiber.Map{
		"dead_letters": items,
		"limit":        limit,
		"offset":       offset,
	})
}

// Replay handles POST /v1/dead-letters/:id/replay. The transaction is moved
// back to PENDING with a fresh attempt budget before the task is published,
// so the worker does not drop it as terminal.
func (h *DeadLetterHandler) Replay(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ID", "dead letter id must be a uuid")
	}

	ctx := c.UserContext()

	entry, err := h.deadLetters.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	task, err := queue.DecodeTask(entry.Payload)
	if err != nil {
		h.logger.Errorf("dead letter %s carries an undecodable payload: %v", id, err)
		return errorJSON(c, fiber.StatusUnprocessableEntity, "MALFORMED_PAYLOAD",
			"dead letter payload cannot be decoded into a task")
	}

	task.Attempt = 0

	if err := h.transactions.Requeue(ctx, entry.TransactionID); err != nil {
		return respondError(c, err)
	}

	if err := h.publisher.PublishExecute(ctx, task); err != nil {
		// The transaction is PENDING again; a later replay can re-publish.
		h.logger.Errorf("failed to publish replay for dead letter %s: %v", id, err)
		return respondError(c, err)
	}

	if err := h.deadLetters.MarkReplayed(ctx, id, replayStatusRequeued); err != nil {
		h.logger.Warnf("failed to stamp dead letter %s as replayed: %v", id, err)
	}

	h.logger.Infof("dead letter %s requeued (transaction %s)", id, entry.TransactionID)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":             entry.ID.String(),
		"transaction_id": entry.TransactionID.String(),
		"replay_status":  replayStatusRequeued,
	})
}
