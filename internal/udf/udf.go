// Package udf implements the UDF Client: the versioned code-object cache
// and sandboxed execution path a serving node uses to run its
// user-defined function (spec §4.G). It has no direct analogue in torua,
// which has no user-supplied execution path at all; the callback-driven,
// timeout-bounded request/response shape is grounded in
// internal/coordinator.HealthMonitor's own pattern of bounding an external
// call with a context timeout and reporting the outcome through a single
// channel, generalized here from a health check to an arbitrary sandboxed
// call.
package udf

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/metrics"
)

// Argument is one positional UDF argument (spec §3 partition argument
// shape). Data is kept as raw JSON so it round-trips through the sandbox
// boundary without losing numeric precision or key order.
type Argument struct {
	Tags []string        `json:"tags"`
	Data json.RawMessage `json:"data"`
}

// CodeObject is the versioned UDF payload a node can have active (spec §3
// "UDF code object").
type CodeObject struct {
	HandlerName string
	Source      string
	Wasm        []byte
	Version     string
	LCT         int64
}

// Sandbox is the external collaborator that actually runs UDF code — the
// JS/Wasm engine — modeled as a pair of asynchronous, callback-resolved
// operations rather than blocking calls, since the real sandbox is a
// separate process pool (spec §5 "The UDF sandbox is a separate process
// pool ... awaits a completion notification").
type Sandbox interface {
	// LoadCodeObject begins loading obj, invoking done exactly once when
	// the sandbox acknowledges the load or fails to.
	LoadCodeObject(obj CodeObject, done func(error))
	// Execute begins running the active code object with the given
	// positional string arguments, invoking done exactly once with the
	// UDF's string return value or an execution error.
	Execute(args []string, done func(string, error))
}

type state int

const (
	stateUninitialized state = iota
	stateLoaded
	stateTerminated
)

const (
	setCodeObjectTimeout    = 1 * time.Second
	defaultExecuteTimeout   = 1 * time.Minute
	interfaceVersionField   = "interface_version"
	interfaceVersionCurrent = "1"
)

// Client owns exactly one active code object and mediates every call into
// the sandbox, enforcing the state machine
// Uninitialized -> Loaded(lct) -> Loaded(lct') -> Terminated (spec §4.G).
type Client struct {
	sandbox        Sandbox
	executeTimeout time.Duration
	metrics        *metrics.Metrics

	mu     sync.Mutex
	state  state
	active CodeObject
}

// NewClient builds a Client bound to sandbox. executeTimeout of zero uses
// the spec default of one minute.
func NewClient(sandbox Sandbox, executeTimeout time.Duration) *Client {
	if executeTimeout <= 0 {
		executeTimeout = defaultExecuteTimeout
	}
	return &Client{sandbox: sandbox, executeTimeout: executeTimeout}
}

// WithMetrics attaches m so timeouts and execution errors are counted.
// Nil is valid and disables recording.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// ActiveVersion reports the LCT of the currently active code object, or
// false if none has been loaded yet.
func (c *Client) ActiveVersion() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateLoaded {
		return 0, false
	}
	return c.active.LCT, true
}

// SetCodeObject loads obj into the sandbox if its LCT strictly exceeds the
// active object's, otherwise it is a monotonicity no-op (spec §4.G, P6).
func (c *Client) SetCodeObject(ctx context.Context, obj CodeObject) error {
	c.mu.Lock()
	if c.state == stateTerminated {
		c.mu.Unlock()
		return errkind.InternalMsg("udf client terminated")
	}
	if c.state == stateLoaded && obj.LCT <= c.active.LCT {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	done := make(chan error, 1)
	c.sandbox.LoadCodeObject(obj, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load UDF code object")
		}
	case <-time.After(setCodeObjectTimeout):
		if c.metrics != nil {
			c.metrics.UDFTimeouts.Inc()
		}
		return errkind.InternalMsg("Timed out setting UDF code object.")
	case <-ctx.Done():
		return errkind.Wrap(errkind.Unavailable, ctx.Err(), "set code object canceled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateLoaded && obj.LCT <= c.active.LCT {
		return nil
	}
	c.active = obj
	c.state = stateLoaded
	return nil
}

// Terminate transitions the client to its terminal state; every
// subsequent SetCodeObject/Execute call fails.
func (c *Client) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateTerminated
}

type execResult struct {
	output string
	err    error
}

// Execute projects metadata and arguments into the sandbox's positional
// string-argument calling convention and blocks until the sandbox's
// completion callback fires or executeTimeout elapses (spec §4.G).
//
// Each argument is projected whole (tags + data, JSON-encoded) when it
// carries tags, or as bare data otherwise; the metadata map, with
// interface_version injected, is serialized and prepended as argument
// zero.
func (c *Client) Execute(ctx context.Context, metadata map[string]string, arguments []Argument) (string, error) {
	c.mu.Lock()
	terminated := c.state == stateTerminated
	c.mu.Unlock()
	if terminated {
		return "", errkind.InternalMsg("udf client terminated")
	}

	args, err := projectArguments(metadata, arguments)
	if err != nil {
		return "", err
	}

	done := make(chan execResult, 1)
	c.sandbox.Execute(args, func(output string, err error) {
		done <- execResult{output: output, err: err}
	})

	select {
	case r := <-done:
		if r.err != nil {
			if c.metrics != nil {
				c.metrics.UDFErrors.Inc()
			}
			return "", errkind.Wrap(errkind.Internal, r.err, "UDF execution error")
		}
		return r.output, nil
	case <-time.After(c.executeTimeout):
		if c.metrics != nil {
			c.metrics.UDFTimeouts.Inc()
		}
		return "", errkind.InternalMsg("Timed out waiting for UDF result.")
	case <-ctx.Done():
		return "", errkind.Wrap(errkind.Unavailable, ctx.Err(), "udf execution canceled")
	}
}

func projectArguments(metadata map[string]string, arguments []Argument) ([]string, error) {
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[interfaceVersionField] = interfaceVersionCurrent
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "marshal udf metadata")
	}

	args := make([]string, 0, len(arguments)+1)
	args = append(args, string(metaJSON))
	for _, a := range arguments {
		var projected []byte
		if len(a.Tags) > 0 {
			projected, err = json.Marshal(a)
		} else {
			projected = a.Data
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "marshal udf argument")
		}
		args = append(args, string(projected))
	}
	return args, nil
}
