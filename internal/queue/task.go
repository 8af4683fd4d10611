package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedTask is returned for deliveries whose body cannot be decoded.
// Such deliveries are rejected without requeue and land on the DLQ.
var ErrMalformedTask = errors.New("malformed task payload")

// Task is the wire contract between admission and execution. It carries ids
// only; the worker reloads the authoritative transaction row.
type Task struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	// Attempt is the attempt count at publish time: 0 for the first
	// delivery, then the post-failure counter on each retry.
	Attempt int `json:"attempt"`
}

// Encode serializes the task body.
func (t Task) Encode() ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	return body, nil
}

// DecodeTask parses and validates a delivery body.
func DecodeTask(body []byte) (Task, error) {
	var task Task

	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}

	if task.TransactionID == uuid.Nil || task.AccountID == uuid.Nil {
		return Task{}, fmt.Errorf("%w: missing transaction or account id", ErrMalformedTask)
	}

	if task.Attempt < 0 {
		return Task{}, fmt.Errorf("%w: negative attempt", ErrMalformedTask)
	}

	return task, nil
}
