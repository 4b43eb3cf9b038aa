package mcpadapter

import (
	"encoding/json"
	"strings"
)

// rpcRequest/rpcResponse are the shared JSON-RPC 2.0 envelopes used by every
// transport (SPEC §6; grounded on goa-ai runtime/mcp's rpcRequest/rpcResponse).
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolsCallResult mirrors the MCP tools/call response shape: a list of
// content blocks, of which text blocks are concatenated into the flat
// string the Connection contract returns (SPEC §6 "invokeTool(...) →
// string").
type toolsCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// decodeToolCallResult flattens a tools/call JSON result into the plain
// string the Runner inlines as tool_result content.
func decodeToolCallResult(raw json.RawMessage) (string, error) {
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, block := range result.Content {
		if block.Type != "text" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	if result.IsError {
		return b.String(), &Error{Code: JSONRPCInternalError, Message: b.String()}
	}
	return b.String(), nil
}
