package mcpadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StdioOptions configures a stdio-transport Connection: a child process
// speaking MCP over its stdin/stdout (SPEC §6 "MCP adapter contract").
type StdioOptions struct {
	Command         string
	Args            []string
	Env             []string
	Dir             string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
	// Restricted lists tool names that require approval before invocation.
	Restricted []string
}

// StdioConnection implements Connection over the MCP stdio transport: one
// JSON-RPC message per Content-Length-framed chunk, grounded on the
// retrieval pack's stdio caller (goa-ai features/mcp/runtime/stdiocaller.go).
type StdioConnection struct {
	opts StdioOptions

	cmd   *exec.Cmd
	stdin io.WriteCloser

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcOutcome
	nextID    uint64

	closed    chan struct{}
	closeOnce sync.Once

	closeErrMu sync.Mutex
	closeErr   error
}

type rpcOutcome struct {
	result json.RawMessage
	rpcErr *Error
	err    error
}

// NewStdioConnection constructs a StdioConnection; Connect must be called
// before use.
func NewStdioConnection(opts StdioOptions) *StdioConnection {
	return &StdioConnection{opts: opts}
}

// Connect launches the configured command and performs the MCP initialize
// handshake.
func (c *StdioConnection) Connect(ctx context.Context) error {
	if c.opts.Command == "" {
		return errors.New("mcpadapter: stdio command is required")
	}
	cmd := exec.CommandContext(ctx, c.opts.Command, c.opts.Args...)
	if c.opts.Dir != "" {
		cmd.Dir = c.opts.Dir
	}
	if len(c.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), c.opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return err
	}

	c.cmd = cmd
	c.stdin = stdin
	c.pending = make(map[uint64]chan rpcOutcome)
	c.closed = make(chan struct{})

	go c.readLoop(stdout)
	if stderr != nil {
		go func() { _, _ = io.Copy(io.Discard, stderr) }()
	}

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
	if _, err := c.call(initCtx, "initialize", payload); err != nil {
		_ = c.Disconnect(ctx)
		return err
	}
	return nil
}

// Disconnect terminates the child process and releases resources.
func (c *StdioConnection) Disconnect(_ context.Context) error {
	c.closeOnce.Do(func() {
		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		if c.cmd != nil && c.cmd.ProcessState == nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		if c.cmd != nil {
			_ = c.cmd.Wait()
		}
		if c.closed != nil {
			close(c.closed)
		}
	})
	return nil
}

// GetTools implements Connection via the MCP "tools/list" method.
func (c *StdioConnection) GetTools(ctx context.Context) ([]ToolDescriptor, error) {
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

// InvokeTool implements Connection via the MCP "tools/call" method.
func (c *StdioConnection) InvokeTool(ctx context.Context, req InvokeRequest) (string, error) {
	params := map[string]any{"name": req.Name, "arguments": req.Arguments}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}
	return decodeToolCallResult(raw)
}

// RestrictedTools implements Connection.
func (c *StdioConnection) RestrictedTools() []string {
	return c.opts.Restricted
}

func (c *StdioConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.next()
	ch := make(chan rpcOutcome, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params}
	if err := c.writeMessage(req); err != nil {
		c.removePending(id)
		return nil, err
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.rpcErr != nil {
			return nil, out.rpcErr
		}
		return out.result, nil
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closeError()
	}
}

func (c *StdioConnection) writeMessage(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(c.stdin, header); err != nil {
		return err
	}
	if _, err := c.stdin.Write(data); err != nil {
		return err
	}
	return nil
}

func (c *StdioConnection) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			c.failPending(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			continue
		}
		if resp.ID == 0 {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		if resp.Error != nil {
			ch <- rpcOutcome{rpcErr: &Error{Code: resp.Error.Code, Message: resp.Error.Message}}
		} else {
			ch <- rpcOutcome{result: resp.Result}
		}
		close(ch)
	}
}

func (c *StdioConnection) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- rpcOutcome{err: err}
		close(ch)
	}
	c.pendingMu.Unlock()
	c.setCloseError(err)
}

func (c *StdioConnection) removePending(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *StdioConnection) next() uint64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *StdioConnection) setCloseError(err error) {
	if err == nil {
		return
	}
	c.closeErrMu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.closeErrMu.Unlock()
}

func (c *StdioConnection) closeError() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	if c.closeErr == nil {
		return errors.New("mcpadapter: stdio connection closed")
	}
	return c.closeErr
}

func readFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	if length < 0 {
		return nil, errors.New("mcpadapter: content-length header missing")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
