package mcpadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// SSEOptions configures an HTTP-SSE transport Connection (SPEC §6 "MCP
// adapter contract"), grounded on goa-ai runtime/mcp.SSECaller.
type SSEOptions struct {
	Endpoint        string
	Client          *http.Client
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
	Restricted      []string
}

// SSEConnection implements Connection over HTTP with a text/event-stream
// response per tools/call request.
type SSEConnection struct {
	opts     SSEOptions
	client   *http.Client
	endpoint string
	id       atomic.Uint64
}

// NewSSEConnection constructs an SSEConnection; Connect performs the MCP
// initialize handshake before use.
func NewSSEConnection(opts SSEOptions) *SSEConnection {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8080/rpc"
	}
	return &SSEConnection{opts: opts, client: client, endpoint: endpoint}
}

// Connect performs the MCP initialize handshake.
func (c *SSEConnection) Connect(ctx context.Context) error {
	protocol := c.opts.ProtocolVersion
	if protocol == "" {
		protocol = DefaultProtocolVersion
	}
	clientName := c.opts.ClientName
	if clientName == "" {
		clientName = "agentcore"
	}
	clientVersion := c.opts.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}
	payload := map[string]any{
		"protocolVersion": protocol,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
	}
	initCtx := ctx
	if c.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, c.opts.InitTimeout)
		defer cancel()
	}
	_, err := c.call(initCtx, "initialize", payload)
	return err
}

// Disconnect is a no-op: the SSE transport is stateless across requests.
func (c *SSEConnection) Disconnect(_ context.Context) error { return nil }

// GetTools implements Connection via "tools/list".
func (c *SSEConnection) GetTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var listed struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			InputSchema any    `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("mcpadapter: decode tools/list result: %w", err)
	}
	out := make([]ToolDescriptor, len(listed.Tools))
	for i, t := range listed.Tools {
		out[i] = ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out, nil
}

// InvokeTool implements Connection via "tools/call".
func (c *SSEConnection) InvokeTool(ctx context.Context, req InvokeRequest) (string, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": req.Name, "arguments": req.Arguments})
	if err != nil {
		return "", err
	}
	return decodeToolCallResult(raw)
}

// RestrictedTools implements Connection.
func (c *SSEConnection) RestrictedTools() []string { return c.opts.Restricted }

func (c *SSEConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rpcReq := rpcRequest{JSONRPC: "2.0", Method: method, ID: c.id.Add(1), Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcpadapter: rpc status %d: %s", resp.StatusCode, string(raw))
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcpadapter: unexpected content type %q: %s", resp.Header.Get("Content-Type"), string(raw))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		eventName, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("mcpadapter: sse stream closed before response")
			}
			return nil, err
		}
		switch eventName {
		case "response", "error":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return nil, err
			}
			if rpcResp.Error != nil {
				return nil, &Error{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
			}
			return rpcResp.Result, nil
		case "close":
			return nil, errors.New("mcpadapter: sse stream closed without response")
		default:
			continue
		}
	}
}

func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var eventName string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if eventName == "" && len(data) == 0 {
				continue
			}
			return eventName, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			eventName = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, after...)
			continue
		}
	}
}
