package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	task := Task{
		TransactionID: uuid.New(),
		AccountID:     uuid.New(),
		Attempt:       2,
	}

	body, err := task.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTask(body)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedTask)
}

func TestDecodeTaskRejectsMissingIDs(t *testing.T) {
	_, err := DecodeTask([]byte(`{"attempt":1}`))
	assert.ErrorIs(t, err, ErrMalformedTask)

	_, err = DecodeTask([]byte(`{"transaction_id":"` + uuid.NewString() + `","attempt":1}`))
	assert.ErrorIs(t, err, ErrMalformedTask)
}

func TestDecodeTaskRejectsNegativeAttempt(t *testing.T) {
	body := `{"transaction_id":"` + uuid.NewString() + `","account_id":"` + uuid.NewString() + `","attempt":-1}`

	_, err := DecodeTask([]byte(body))
	assert.ErrorIs(t, err, ErrMalformedTask)
}

func TestQueueArgsWireRetryLoop(t *testing.T) {
	work := workQueueArgs()
	assert.Equal(t, DLXExchange, work["x-dead-letter-exchange"])
	assert.Equal(t, DeadRoutingKey, work["x-dead-letter-routing-key"])

	// Expired retries must land back on the work queue.
	retry := retryQueueArgs()
	assert.Equal(t, Exchange, retry["x-dead-letter-exchange"])
	assert.Equal(t, ExecuteRoutingKey, retry["x-dead-letter-routing-key"])
}
