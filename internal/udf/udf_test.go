package udf

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetCodeObjectLoadsFirstVersion(t *testing.T) {
	sandbox := &FakeSandbox{}
	c := NewClient(sandbox, 0)

	if err := c.SetCodeObject(context.Background(), CodeObject{HandlerName: "h", LCT: 10}); err != nil {
		t.Fatalf("SetCodeObject: %v", err)
	}
	lct, ok := c.ActiveVersion()
	if !ok || lct != 10 {
		t.Fatalf("expected active version 10, got %d ok=%v", lct, ok)
	}
}

func TestSetCodeObjectIsMonotone(t *testing.T) {
	sandbox := &FakeSandbox{}
	c := NewClient(sandbox, 0)

	if err := c.SetCodeObject(context.Background(), CodeObject{LCT: 10}); err != nil {
		t.Fatalf("SetCodeObject(10): %v", err)
	}
	if err := c.SetCodeObject(context.Background(), CodeObject{LCT: 5}); err != nil {
		t.Fatalf("SetCodeObject(5): %v", err)
	}
	lct, _ := c.ActiveVersion()
	if lct != 10 {
		t.Fatalf("expected active version to remain 10 after a lower LCT, got %d", lct)
	}

	if err := c.SetCodeObject(context.Background(), CodeObject{LCT: 20}); err != nil {
		t.Fatalf("SetCodeObject(20): %v", err)
	}
	lct, _ = c.ActiveVersion()
	if lct != 20 {
		t.Fatalf("expected active version 20 after a strictly higher LCT, got %d", lct)
	}
}

func TestSetCodeObjectTimesOutAfterOneSecond(t *testing.T) {
	sandbox := &FakeSandbox{HangLoad: true}
	c := NewClient(sandbox, 0)

	start := time.Now()
	err := c.SetCodeObject(context.Background(), CodeObject{LCT: 1})
	elapsed := time.Since(start)

	if err == nil || err.Error() != "Timed out setting UDF code object." {
		t.Fatalf("expected exact timeout message, got %v", err)
	}
	if errkind.GetKind(err) != errkind.Internal {
		t.Fatalf("expected Internal kind, got %v", errkind.GetKind(err))
	}
	if elapsed < setCodeObjectTimeout {
		t.Fatalf("expected to wait at least %v, only waited %v", setCodeObjectTimeout, elapsed)
	}
}

func TestSetCodeObjectSurfacesSandboxError(t *testing.T) {
	sandbox := &FakeSandbox{LoadFunc: func(obj CodeObject) error {
		return errkind.Internalf("bad syntax at line 1")
	}}
	c := NewClient(sandbox, 0)
	if err := c.SetCodeObject(context.Background(), CodeObject{LCT: 1}); err == nil {
		t.Fatal("expected sandbox load error to surface")
	}
}

func TestExecuteProjectsArgumentsAndMetadata(t *testing.T) {
	var captured []string
	sandbox := &FakeSandbox{ExecFunc: func(args []string) (string, error) {
		captured = args
		return "ok", nil
	}}
	c := NewClient(sandbox, 0)

	arguments := []Argument{
		{Tags: []string{"custom", "keys"}, Data: json.RawMessage(`["a","b"]`)},
		{Data: json.RawMessage(`"bare"`)},
	}
	out, err := c.Execute(context.Background(), map[string]string{"hostname": "example.com"}, arguments)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected passthrough output, got %q", out)
	}
	if len(captured) != 3 {
		t.Fatalf("expected metadata + 2 arguments, got %d: %v", len(captured), captured)
	}

	var meta map[string]string
	if err := json.Unmarshal([]byte(captured[0]), &meta); err != nil {
		t.Fatalf("unmarshal metadata arg: %v", err)
	}
	if meta["hostname"] != "example.com" || meta["interface_version"] != "1" {
		t.Fatalf("unexpected metadata argument: %v", meta)
	}

	var withTags Argument
	if err := json.Unmarshal([]byte(captured[1]), &withTags); err != nil {
		t.Fatalf("tagged argument should serialize whole Argument: %v", err)
	}
	if len(withTags.Tags) != 2 {
		t.Fatalf("expected tags preserved, got %v", withTags.Tags)
	}

	if captured[2] != `"bare"` {
		t.Fatalf("untagged argument should serialize bare data, got %q", captured[2])
	}
}

func TestExecuteTimesOutWithExactMessage(t *testing.T) {
	sandbox := &FakeSandbox{HangExec: true}
	c := NewClient(sandbox, 30*time.Millisecond)

	_, err := c.Execute(context.Background(), nil, nil)
	if err == nil || err.Error() != "Timed out waiting for UDF result." {
		t.Fatalf("expected exact timeout message, got %v", err)
	}
}

func TestExecuteSiblingPartitionUnaffectedByTimeout(t *testing.T) {
	hanging := &FakeSandbox{HangExec: true}
	healthy := &FakeSandbox{ExecFunc: IdentityExecFunc}

	slow := NewClient(hanging, 20*time.Millisecond)
	fast := NewClient(healthy, 0)

	_, err := slow.Execute(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected the hanging client to time out")
	}

	out, err := fast.Execute(context.Background(), map[string]string{"hostname": "h"}, nil)
	if err != nil {
		t.Fatalf("sibling execution should be unaffected: %v", err)
	}
	if !strings.Contains(out, "interface_version") {
		t.Fatalf("expected metadata argument in output, got %q", out)
	}
}

func TestTerminateRejectsFurtherCalls(t *testing.T) {
	c := NewClient(&FakeSandbox{}, 0)
	c.Terminate()

	if err := c.SetCodeObject(context.Background(), CodeObject{LCT: 1}); err == nil {
		t.Fatal("expected SetCodeObject to fail after Terminate")
	}
	if _, err := c.Execute(context.Background(), nil, nil); err == nil {
		t.Fatal("expected Execute to fail after Terminate")
	}
}

func TestExecuteTimeoutIsCounted(t *testing.T) {
	m := metrics.NewUnregistered()
	c := NewClient(&FakeSandbox{HangExec: true}, 20*time.Millisecond).WithMetrics(m)

	if _, err := c.Execute(context.Background(), nil, nil); err == nil {
		t.Fatal("expected a timeout error")
	}
	if got := testutil.ToFloat64(m.UDFTimeouts); got != 1 {
		t.Fatalf("expected 1 UDF timeout recorded, got %v", got)
	}
}

func TestExecuteSandboxErrorIsCounted(t *testing.T) {
	m := metrics.NewUnregistered()
	c := NewClient(&FakeSandbox{ExecFunc: func(args []string) (string, error) {
		return "", errkind.InternalMsg("sandbox exploded")
	}}, 0).WithMetrics(m)

	if _, err := c.Execute(context.Background(), nil, nil); err == nil {
		t.Fatal("expected a sandbox error")
	}
	if got := testutil.ToFloat64(m.UDFErrors); got != 1 {
		t.Fatalf("expected 1 UDF error recorded, got %v", got)
	}
}
