package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/tzrikka/netduct/pkg/metrics"
	"github.com/tzrikka/netduct/pkg/proto"
)

// handleFetch executes one HTTP request on the client's behalf, and always
// emits exactly one correlated fetch response frame.
func (s *session) handleFetch(ctx context.Context, req proto.FetchRequest) {
	t := time.Now().UTC()

	resp := s.doFetch(ctx, req)

	var err error
	if resp.Error != nil {
		err = errors.New(*resp.Error)
	}
	metrics.CountFetch(t, req.URL, err)

	s.out.send(resp)
}

// doFetch validates and executes the request: method, then headers, then
// body decoding, then the round-trip itself. Any failure short-circuits
// into a response with status 0 and an error message, except a body-read
// failure, which preserves the response's status and headers.
func (s *session) doFetch(ctx context.Context, req proto.FetchRequest) proto.FetchResponse {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	// Methods share the token grammar of header field names (RFC 9110 section 9.1).
	if !httpguts.ValidHeaderFieldName(method) {
		return fetchFailure(req.ID, fmt.Sprintf("invalid method: %q", method))
	}

	headers := http.Header{}
	for k, v := range req.Headers {
		if !httpguts.ValidHeaderFieldName(k) {
			return fetchFailure(req.ID, "invalid header name "+k)
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return fetchFailure(req.ID, "invalid header value "+k)
		}
		headers.Set(k, v)
	}

	body, err := proto.DecodeBody(req.Body, req.BodyEncoding)
	if err != nil {
		return fetchFailure(req.ID, err.Error())
	}

	hr, err := http.NewRequestWithContext(ctx, method, req.URL, requestBody(body))
	if err != nil {
		return fetchFailure(req.ID, "fetch error: "+err.Error())
	}
	hr.Header = headers

	resp, err := s.httpClient.Do(hr)
	if err != nil {
		return fetchFailure(req.ID, "fetch error: "+err.Error())
	}
	defer resp.Body.Close()

	headersOut := coerceHeaders(resp.Header)
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return proto.FetchResponse{
			Type:    proto.TypeFetch,
			ID:      req.ID,
			Status:  resp.StatusCode,
			Headers: headersOut,
			Error:   strPtr("read body error: " + err.Error()),
		}
	}

	bodyOut, encoding := proto.EncodeBody(b)
	return proto.FetchResponse{
		Type:         proto.TypeFetch,
		ID:           req.ID,
		Status:       resp.StatusCode,
		Headers:      headersOut,
		Body:         bodyOut,
		BodyEncoding: encoding,
	}
}

func fetchFailure(id uint64, msg string) proto.FetchResponse {
	return proto.FetchResponse{
		Type:    proto.TypeFetch,
		ID:      id,
		Headers: map[string]string{},
		Error:   &msg,
	}
}

func requestBody(body []byte) io.Reader {
	if len(body) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

// coerceHeaders flattens a response header map into single string values:
// names are lowercased, and the last value of a repeated header wins.
func coerceHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		out[strings.ToLower(k)] = vs[len(vs)-1]
	}
	return out
}
