package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/lookup"
)

// V1Request is the flat v1 wire request (spec §6 "v1.KeyValueService.
// GetValues").
type V1Request struct {
	Subkey                string   `json:"subkey"`
	Keys                  []string `json:"keys"`
	RenderURLs            []string `json:"render_urls"`
	AdComponentRenderURLs []string `json:"ad_component_render_urls"`
	KVInternal            []string `json:"kv_internal"`
}

// V1Response mirrors V1Request's fields, each projected as a
// key -> parsed-JSON-or-string map (spec §6 "Response mirrors request
// fields, each as Struct{field: Value}").
type V1Response struct {
	Keys                  map[string]any `json:"keys,omitempty"`
	RenderURLs            map[string]any `json:"render_urls,omitempty"`
	AdComponentRenderURLs map[string]any `json:"ad_component_render_urls,omitempty"`
	KVInternal            map[string]any `json:"kv_internal,omitempty"`
}

type v1Field struct {
	namespace string
	values    []string
	set       func(*V1Response, map[string]any)
}

func v1Fields(req V1Request) []v1Field {
	return []v1Field{
		{namespace: "keys", values: req.Keys, set: func(r *V1Response, m map[string]any) { r.Keys = m }},
		{namespace: "renderUrls", values: req.RenderURLs, set: func(r *V1Response, m map[string]any) { r.RenderURLs = m }},
		{namespace: "adComponentRenderUrls", values: req.AdComponentRenderURLs, set: func(r *V1Response, m map[string]any) { r.AdComponentRenderURLs = m }},
		{namespace: "kvInternal", values: req.KVInternal, set: func(r *V1Response, m map[string]any) { r.KVInternal = m }},
	}
}

// keyGroupOutputs is the JSON document a v1-compatible UDF returns as its
// v2 string_output (spec §4.I / §8 scenario 2).
type keyGroupOutputs struct {
	KeyGroupOutputs []keyGroupOutput `json:"keyGroupOutputs"`
}

type keyGroupOutput struct {
	KeyValues map[string]string `json:"keyValues"`
	Tags      []string          `json:"tags"`
}

// V1Adapter converts a flat v1 request into a single v2 partition,
// invokes the v2 Handler, and routes the UDF's KeyGroupOutputs document
// back into v1's field shape by namespace tag (spec §4.I "v1 Adapter").
type V1Adapter struct {
	handler *Handler
}

// NewV1Adapter builds an adapter delegating to handler.
func NewV1Adapter(handler *Handler) *V1Adapter {
	return &V1Adapter{handler: handler}
}

func (a *V1Adapter) GetValues(ctx context.Context, req V1Request) (V1Response, error) {
	fields := v1Fields(req)

	var arguments []Argument
	for _, f := range fields {
		if len(f.values) == 0 {
			continue
		}
		data, err := json.Marshal(f.values)
		if err != nil {
			return V1Response{}, errkind.Wrap(errkind.Internal, err, "marshal v1 argument data")
		}
		arguments = append(arguments, Argument{Tags: []string{"custom", f.namespace}, Data: data})
	}

	v2Resp, err := a.handler.GetValues(ctx, GetValuesRequest{
		Metadata:   map[string]string{"hostname": req.Subkey},
		Partitions: []Partition{{Arguments: arguments}},
	})
	if err != nil {
		return V1Response{}, err
	}

	part := v2Resp.SinglePartition
	if part == nil || part.Status != nil {
		msg := "v1 adapter: v2 response carried no single_partition"
		if part != nil {
			msg = part.Status.Message
		}
		return V1Response{}, errkind.InternalMsg(msg)
	}

	var parsed keyGroupOutputs
	if err := json.Unmarshal([]byte(*part.StringOutput), &parsed); err != nil {
		return V1Response{}, errkind.Wrap(errkind.Internal, err, "unmarshal keyGroupOutputs")
	}

	resp := V1Response{}
	for _, kgo := range parsed.KeyGroupOutputs {
		namespace := namespaceFromTags(kgo.Tags)
		values := projectKeyValues(kgo.KeyValues)
		for _, f := range fields {
			if f.namespace == namespace {
				f.set(&resp, values)
			}
		}
	}
	return resp, nil
}

func namespaceFromTags(tags []string) string {
	for _, t := range tags {
		if t != "custom" {
			return t
		}
	}
	return ""
}

// projectKeyValues applies parse-if-possible-else-raw to every value
// (spec §9 Open Question, resolved in favor of parse-if-possible-else-raw
// since it matches the v1-direct code path).
func projectKeyValues(kv map[string]string) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = projectRawValue(v)
	}
	return out
}

func projectRawValue(v string) any {
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err == nil {
		return parsed
	}
	return v
}

// V1Direct answers v1 requests straight from the cache, bypassing UDF
// dispatch entirely (spec §4.I "v1 Direct mode").
type V1Direct struct {
	target lookup.Lookup
}

// NewV1Direct builds a direct-mode v1 responder over target.
func NewV1Direct(target lookup.Lookup) *V1Direct {
	return &V1Direct{target: target}
}

func (d *V1Direct) GetValues(ctx context.Context, req V1Request) (V1Response, error) {
	resp := V1Response{}
	for _, f := range v1Fields(req) {
		if len(f.values) == 0 {
			continue
		}
		keys := splitComposites(f.values)
		values, err := d.target.GetKeyValues(ctx, keys)
		if err != nil {
			return V1Response{}, err
		}
		projected := make(map[string]any, len(values))
		for k, v := range values {
			if v.Status != nil {
				continue
			}
			projected[k] = projectRawValue(string(v.Value))
		}
		f.set(&resp, projected)
	}
	return resp, nil
}

func splitComposites(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}
