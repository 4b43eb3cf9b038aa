package mcpadapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeToolCallResultConcatenatesTextBlocks(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}]}`)
	got, err := decodeToolCallResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", got)
}

func TestDecodeToolCallResultReportsIsError(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"boom"}],"isError":true}`)
	_, err := decodeToolCallResult(raw)
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, "boom", mcpErr.Message)
}
