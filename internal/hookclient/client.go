package hookclient

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/followthedavid/samguard/internal/rpcproto"
)

// Client talks to a running (or auto-started) samguard daemon over its
// Unix socket.
type Client struct {
	SocketPath   string
	StartProcess func() error
}

// New builds a Client bound to socketPath, auto-starting the daemon via
// startProcess when the socket is unreachable.
func New(socketPath string, startProcess func() error) *Client {
	return &Client{SocketPath: socketPath, StartProcess: startProcess}
}

// Call sends a single RPC request, auto-starting the daemon and retrying
// up to 10 times at 200ms intervals if the first attempt can't reach the
// socket.
func (c *Client) Call(op rpcproto.Op, args any) (rpcproto.Response, error) {
	req, err := rpcproto.NewRequest(op, args)
	if err != nil {
		return rpcproto.Response{}, err
	}

	resp, err := c.send(req)
	if err == nil {
		return resp, nil
	}

	if c.StartProcess != nil {
		if startErr := c.StartProcess(); startErr != nil {
			return rpcproto.Response{}, fmt.Errorf("failed to start daemon: %w", startErr)
		}
	}

	for i := 0; i < 10; i++ {
		time.Sleep(200 * time.Millisecond)
		resp, err = c.send(req)
		if err == nil {
			return resp, nil
		}
	}
	return rpcproto.Response{}, fmt.Errorf("daemon not available after retries: %w", err)
}

func (c *Client) send(req rpcproto.Request) (rpcproto.Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, 2*time.Second)
	if err != nil {
		return rpcproto.Response{}, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(35 * time.Second))

	if err := rpcproto.WriteRequest(conn, req); err != nil {
		return rpcproto.Response{}, fmt.Errorf("encode request: %w", err)
	}
	resp, err := rpcproto.ReadResponse(conn)
	if err != nil {
		return rpcproto.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Run is the top-level hook entry point: read the tool call, skip
// evaluation for safe built-in tools, extract an actionable command or
// path, call the daemon, and emit allow/passthrough on stdout.
func Run(client *Client, input *Input, stdout *os.File) error {
	if input.ToolName == "" {
		return nil
	}
	if shouldSkipEvaluation(input.ToolName) {
		return nil
	}

	var result rpcproto.EvalResult
	var err error

	switch input.ToolName {
	case "Bash":
		result, err = evaluateBash(client, input)
	case "Write", "Edit", "NotebookEdit":
		result, err = evaluatePathOp(client, input)
	default:
		// Tools samguard doesn't model explicitly fall through to the
		// host's normal permission flow.
		return nil
	}

	if err != nil {
		// Fail-safe: daemon unreachable or malformed input falls through
		// to the host's normal ask-the-user flow rather than auto-denying.
		return nil
	}

	if result.Decision == "auto_execute" {
		return WriteOutput(stdout, AllowOutput())
	}
	return nil
}

func evaluateBash(client *Client, input *Input) (rpcproto.EvalResult, error) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input.ToolInput, &body); err != nil {
		return rpcproto.EvalResult{}, err
	}
	resp, err := client.Call(rpcproto.OpCanExecute, rpcproto.CanExecuteArgs{
		ProjectID:   input.WorkingDir,
		ProjectRoot: input.WorkingDir,
		Command:     body.Command,
	})
	if err != nil {
		return rpcproto.EvalResult{}, err
	}
	var result rpcproto.EvalResult
	if err := resp.Decode(&result); err != nil {
		return rpcproto.EvalResult{}, err
	}
	return result, nil
}

func evaluatePathOp(client *Client, input *Input) (rpcproto.EvalResult, error) {
	pathKey := "file_path"
	if input.ToolName == "NotebookEdit" {
		pathKey = "notebook_path"
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(input.ToolInput, &body); err != nil {
		return rpcproto.EvalResult{}, err
	}
	raw, ok := body[pathKey]
	if !ok {
		return rpcproto.EvalResult{}, fmt.Errorf("%s missing %s", input.ToolName, pathKey)
	}
	var path string
	if err := json.Unmarshal(raw, &path); err != nil {
		return rpcproto.EvalResult{}, err
	}

	resp, err := client.Call(rpcproto.OpCanModifyPath, rpcproto.CanModifyPathArgs{
		ProjectID:   input.WorkingDir,
		ProjectRoot: input.WorkingDir,
		Path:        path,
	})
	if err != nil {
		return rpcproto.EvalResult{}, err
	}
	var result rpcproto.EvalResult
	if err := resp.Decode(&result); err != nil {
		return rpcproto.EvalResult{}, err
	}
	return result, nil
}
