package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dreamware/kvfabric/internal/bhttp"
	"github.com/dreamware/kvfabric/internal/crypto"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/logging"
)

// HTTPRouter exposes the v2 HTTP-carried surfaces named in spec §6
// alongside v2.GetValues' direct-gRPC form: GetValuesHttp (plain JSON over
// HTTP), BinaryHttpGetValues (Binary HTTP framing per internal/bhttp), and
// ObliviousGetValues (Binary HTTP further sealed under internal/crypto's
// oblivious envelope, keyed by the Key Fetcher Manager). All three funnel
// into the same Handler that serves the gRPC surface, so a UDF invoked
// through any transport observes identical partition semantics.
type HTTPRouter struct {
	handler *Handler
	keys    crypto.KeyFetcherManager
}

// NewHTTPRouter builds a router for h. keys may be nil if the deployment
// never exposes ObliviousGetValues.
func NewHTTPRouter(h *Handler, keys crypto.KeyFetcherManager) *HTTPRouter {
	return &HTTPRouter{handler: h, keys: keys}
}

// Routes returns the mux to mount under the node's HTTP listener.
func (hr *HTTPRouter) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/v2/getvalues", hr.serveGetValuesHTTP)
	r.Post("/v2/getvalues/bhttp", hr.serveBinaryHTTPGetValues)
	r.Post("/v2/getvalues/ohttp", hr.serveObliviousGetValues)
	return r
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// serveGetValuesHTTP implements v2.GetValuesHttp: the same partitioned
// request/response pair as v2.GetValues, carried as a plain JSON HTTP body.
func (hr *HTTPRouter) serveGetValuesHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, errkind.InvalidArgumentf("read request body: %v", err))
		return
	}
	var req GetValuesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errkind.InvalidArgumentf("decode getvalues request: %v", err))
		return
	}

	resp, err := hr.handler.GetValues(r.Context(), req)
	if err != nil {
		logging.Warningf("v2 getvalues http %s: %v", reqID, err)
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// serveBinaryHTTPGetValues implements v2.BinaryHttpGetValues: the request
// body is a Binary-HTTP-encoded HTTP/1 request carrying the v2 JSON body;
// the response is a Binary-HTTP response with status 200 on success or 500
// on internal failure (spec §6).
func (hr *HTTPRouter) serveBinaryHTTPGetValues(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	bReq, err := bhttp.DecodeRequest(raw)
	if err != nil {
		http.Error(w, "decode bhttp request", http.StatusBadRequest)
		return
	}

	status, content := hr.runGetValues(r, reqID, bReq.Content)

	w.Header().Set("Content-Type", "message/bhttp")
	w.Write(bhttp.EncodeResponse(bhttp.Response{
		StatusCode: status,
		Headers:    []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Content:    content,
	}))
}

// serveObliviousGetValues implements v2.ObliviousGetValues: the request
// body is a JSON-encoded crypto.ObliviousEnvelope whose plaintext is a
// Binary-HTTP-encoded request; the key id inside the envelope names which
// of this node's key pairs the Key Fetcher Manager should resolve (spec
// §6 "uses key id from the Key Fetcher Manager").
func (hr *HTTPRouter) serveObliviousGetValues(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	if hr.keys == nil {
		http.Error(w, "oblivious surface not configured", http.StatusServiceUnavailable)
		return
	}

	var env crypto.ObliviousEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "decode oblivious envelope", http.StatusBadRequest)
		return
	}

	plaintext, responseKey, err := crypto.OpenRequest(r.Context(), env, hr.keys)
	if err != nil {
		logging.Warningf("v2 getvalues ohttp %s: open envelope: %v", reqID, err)
		http.Error(w, "open oblivious envelope", http.StatusBadRequest)
		return
	}
	bReq, err := bhttp.DecodeRequest(plaintext)
	if err != nil {
		http.Error(w, "decode bhttp payload", http.StatusBadRequest)
		return
	}

	status, content := hr.runGetValues(r, reqID, bReq.Content)

	bResp := bhttp.EncodeResponse(bhttp.Response{
		StatusCode: status,
		Headers:    []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Content:    content,
	})
	sealed, err := crypto.SealResponse(responseKey, bResp)
	if err != nil {
		http.Error(w, "seal oblivious response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "message/ohttp-res")
	w.Write(sealed)
}

// runGetValues decodes a v2 JSON body, invokes Handler.GetValues, and
// returns the HTTP-equivalent status code plus the JSON body to wrap in
// whichever transport framing the caller uses.
func (hr *HTTPRouter) runGetValues(r *http.Request, reqID string, jsonBody []byte) (int, []byte) {
	var req GetValuesRequest
	if err := json.Unmarshal(jsonBody, &req); err != nil {
		content, _ := json.Marshal(errorBody(errkind.InvalidArgumentf("decode getvalues request: %v", err)))
		return http.StatusBadRequest, content
	}

	resp, err := hr.handler.GetValues(r.Context(), req)
	if err != nil {
		logging.Warningf("v2 getvalues %s: %v", reqID, err)
		content, _ := json.Marshal(errorBody(err))
		return http.StatusInternalServerError, content
	}
	content, _ := json.Marshal(resp)
	return http.StatusOK, content
}

func errorBody(err error) GetValuesResponse {
	return GetValuesResponse{
		SinglePartition: &PartitionOutput{
			Status: &Status{
				Code:    errkind.AsCode(errkind.GetKind(err)),
				Message: err.Error(),
			},
		},
	}
}

func writeJSONError(w http.ResponseWriter, httpStatus int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	body, _ := json.Marshal(errorBody(err))
	w.Write(body)
}
