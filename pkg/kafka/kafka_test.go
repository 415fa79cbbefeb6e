package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runEvent struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
}

func TestEncodeAndDecode(t *testing.T) {
	msgs, err := Encode([]Event{
		{Key: "run-1", Value: runEvent{RunID: "run-1", Stage: "typeImportance"}},
		{Key: "run-1", Value: runEvent{RunID: "run-1", Stage: "predicateEntropyType"}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "run-1", string(msgs[0].Key))

	got, err := DecodeJSON[runEvent](msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "predicateEntropyType", got.Stage)
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := Encode([]Event{{Key: "k", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeJSONError(t *testing.T) {
	_, err := DecodeJSON[runEvent]([]byte("{not json"))
	assert.Error(t, err)
}
