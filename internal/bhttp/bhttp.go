// Package bhttp implements a "known-length" message framing modeled on
// Binary HTTP Messages (RFC 9292), scoped to exactly the shape
// v2.BinaryHttpGetValues needs to carry: one HTTP/1-style request with a
// JSON body, and one response with a status code and a JSON body. It
// differs from RFC 9292 in two places: the request control data (method,
// scheme, authority, path) is itself length-prefixed, and a response
// carries an explicit count of informational responses before the final
// status code. Messages are read back by this package's decoders; they are
// not interchangeable with other RFC 9292 implementations. No
// library in the retrieval pack implements this wire format, and it is a
// small enough framing that hand-rolling it follows the same precedent as
// internal/delta's own hand-rolled record framing, rather than reaching
// for a generic byte-buffer library.
package bhttp

import (
	"bytes"
	"io"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// framingIndicator values from RFC 9292 §3.2 (known-length variants only;
// kvfabric never streams a partial message).
const (
	framingKnownLengthRequest  = 0
	framingKnownLengthResponse = 1
)

// Field is one header field as an ordered name/value pair, matching
// RFC 9292's field-line representation (no HPACK-style indexing table:
// every field is written literally).
type Field struct {
	Name  string
	Value string
}

// Request is a decoded Binary HTTP known-length request message.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Headers   []Field
	Content   []byte
}

// Response is a decoded Binary HTTP known-length response message.
type Response struct {
	StatusCode int
	Headers    []Field
	Content    []byte
}

// EncodeRequest serializes req as a known-length Binary HTTP request.
func EncodeRequest(req Request) []byte {
	var body bytes.Buffer
	writeString(&body, req.Method)
	writeString(&body, req.Scheme)
	writeString(&body, req.Authority)
	writeString(&body, req.Path)

	var headers bytes.Buffer
	writeFields(&headers, req.Headers)

	var out bytes.Buffer
	writeVarint(&out, framingKnownLengthRequest)
	writeVarint(&out, uint64(body.Len()))
	out.Write(body.Bytes())
	writeVarint(&out, uint64(headers.Len()))
	out.Write(headers.Bytes())
	writeVarint(&out, uint64(len(req.Content)))
	out.Write(req.Content)
	writeVarint(&out, 0) // trailer section length; kvfabric never sends trailers

	return out.Bytes()
}

// DecodeRequest parses a known-length Binary HTTP request previously
// produced by EncodeRequest.
func DecodeRequest(data []byte) (Request, error) {
	r := bytes.NewReader(data)

	indicator, err := readVarint(r)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read framing indicator")
	}
	if indicator != framingKnownLengthRequest {
		return Request{}, errkind.InvalidArgumentf("bhttp: expected request framing indicator %d, got %d", framingKnownLengthRequest, indicator)
	}

	controlData, err := readLengthPrefixed(r)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read control data")
	}
	cr := bytes.NewReader(controlData)
	method, err := readString(cr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read method")
	}
	scheme, err := readString(cr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read scheme")
	}
	authority, err := readString(cr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read authority")
	}
	path, err := readString(cr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read path")
	}

	headerBytes, err := readLengthPrefixed(r)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read header section")
	}
	headers, err := readFields(bytes.NewReader(headerBytes))
	if err != nil {
		return Request{}, err
	}

	content, err := readLengthPrefixed(r)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read content")
	}

	if _, err := readLengthPrefixed(r); err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read trailer section")
	}

	return Request{
		Method:    method,
		Scheme:    scheme,
		Authority: authority,
		Path:      path,
		Headers:   headers,
		Content:   content,
	}, nil
}

// EncodeResponse serializes resp as a known-length Binary HTTP response.
// The message starts with a count of informational responses (a field of
// this package's framing, not of RFC 9292); kvfabric never sends
// informational responses, so the count is always zero.
func EncodeResponse(resp Response) []byte {
	var headers bytes.Buffer
	writeFields(&headers, resp.Headers)

	var out bytes.Buffer
	writeVarint(&out, framingKnownLengthResponse)
	writeVarint(&out, 0) // zero informational responses
	writeVarint(&out, uint64(resp.StatusCode))
	writeVarint(&out, uint64(headers.Len()))
	out.Write(headers.Bytes())
	writeVarint(&out, uint64(len(resp.Content)))
	out.Write(resp.Content)
	writeVarint(&out, 0) // trailer section length

	return out.Bytes()
}

// DecodeResponse parses a known-length Binary HTTP response previously
// produced by EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	r := bytes.NewReader(data)

	indicator, err := readVarint(r)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read framing indicator")
	}
	if indicator != framingKnownLengthResponse {
		return Response{}, errkind.InvalidArgumentf("bhttp: expected response framing indicator %d, got %d", framingKnownLengthResponse, indicator)
	}

	informational, err := readVarint(r)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read informational count")
	}
	for i := uint64(0); i < informational; i++ {
		if _, err := readVarint(r); err != nil {
			return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: skip informational status")
		}
		if _, err := readLengthPrefixed(r); err != nil {
			return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: skip informational headers")
		}
	}

	statusCode, err := readVarint(r)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read status code")
	}

	headerBytes, err := readLengthPrefixed(r)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read header section")
	}
	headers, err := readFields(bytes.NewReader(headerBytes))
	if err != nil {
		return Response{}, err
	}

	content, err := readLengthPrefixed(r)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read content")
	}

	if _, err := readLengthPrefixed(r); err != nil {
		return Response{}, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read trailer section")
	}

	return Response{StatusCode: int(statusCode), Headers: headers, Content: content}, nil
}

func writeFields(w *bytes.Buffer, fields []Field) {
	for _, f := range fields {
		writeString(w, f.Name)
		writeString(w, f.Value)
	}
}

func readFields(r *bytes.Reader) ([]Field, error) {
	var fields []Field
	for r.Len() > 0 {
		name, err := readString(r)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read field name")
		}
		value, err := readString(r)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidArgument, err, "bhttp: read field value")
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields, nil
}

func writeString(w *bytes.Buffer, s string) {
	writeVarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readLengthPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeVarint encodes v as a QUIC-style variable-length integer (RFC 9000
// §16), the integer encoding RFC 9292 itself specifies for every length
// and count field.
func writeVarint(w *bytes.Buffer, v uint64) {
	switch {
	case v < 1<<6:
		w.WriteByte(byte(v))
	case v < 1<<14:
		w.WriteByte(byte(v>>8) | 0x40)
		w.WriteByte(byte(v))
	case v < 1<<30:
		w.WriteByte(byte(v>>24) | 0x80)
		w.WriteByte(byte(v >> 16))
		w.WriteByte(byte(v >> 8))
		w.WriteByte(byte(v))
	default:
		w.WriteByte(byte(v>>56) | 0xc0)
		w.WriteByte(byte(v >> 48))
		w.WriteByte(byte(v >> 40))
		w.WriteByte(byte(v >> 32))
		w.WriteByte(byte(v >> 24))
		w.WriteByte(byte(v >> 16))
		w.WriteByte(byte(v >> 8))
		w.WriteByte(byte(v))
	}
}

func readVarint(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (first >> 6)
	v := uint64(first & 0x3f)
	for i := 1; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}
