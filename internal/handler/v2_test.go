package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/udf"
)

type fakeUDFClient struct {
	execute func(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error)
}

func (f *fakeUDFClient) Execute(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error) {
	return f.execute(ctx, metadata, arguments)
}

func TestGetValuesEmptyRequestFailsWithExactMessage(t *testing.T) {
	h := NewHandler(&fakeUDFClient{})
	_, err := h.GetValues(context.Background(), GetValuesRequest{})
	if err == nil || err.Error() != "response does not have single_partition" {
		t.Fatalf("expected exact error, got %v", err)
	}
}

func TestGetValuesSingleSuccessPopulatesSinglePartition(t *testing.T) {
	udfOutput := `{"keyGroupOutputs":[{"keyValues":{"key1":"value1"},"tags":["custom","keys"]}]}`
	h := NewHandler(&fakeUDFClient{execute: func(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error) {
		return udfOutput, nil
	}})

	req := GetValuesRequest{
		Metadata: map[string]string{"hostname": "example.com"},
		Partitions: []Partition{{
			Arguments: []Argument{
				{Tags: []string{"structured", "groupNames"}, Data: json.RawMessage(`["hello"]`)},
				{Tags: []string{"custom", "keys"}, Data: json.RawMessage(`["key1"]`)},
			},
		}},
	}
	resp, err := h.GetValues(context.Background(), req)
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.SinglePartition == nil || resp.SinglePartition.StringOutput == nil {
		t.Fatalf("expected single_partition.string_output, got %+v", resp)
	}
	if *resp.SinglePartition.StringOutput != udfOutput {
		t.Fatalf("expected verbatim UDF output, got %q", *resp.SinglePartition.StringOutput)
	}
}

func TestGetValuesPartitionFailureIsolatesSiblings(t *testing.T) {
	h := NewHandler(&fakeUDFClient{execute: func(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error) {
		if len(arguments) == 0 {
			return "", errkind.InternalMsg("boom")
		}
		return "ok", nil
	}})

	req := GetValuesRequest{
		Partitions: []Partition{
			{ID: "0"},
			{ID: "1", Arguments: []Argument{{Data: json.RawMessage(`"x"`)}}},
		},
	}
	resp, err := h.GetValues(context.Background(), req)
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if len(resp.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(resp.Partitions))
	}
	if resp.Partitions[0].Status == nil || resp.Partitions[0].Status.Code != 13 || resp.Partitions[0].Status.Message != "UDF execution error" {
		t.Fatalf("expected partition 0 to carry exact status, got %+v", resp.Partitions[0])
	}
	if resp.Partitions[1].StringOutput == nil || *resp.Partitions[1].StringOutput != "ok" {
		t.Fatalf("expected partition 1 to succeed intact, got %+v", resp.Partitions[1])
	}
}
