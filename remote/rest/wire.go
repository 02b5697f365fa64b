// Package rest is the HTTP binding of the remote client contract. Unary
// calls exchange JSON bodies; streaming calls exchange newline-delimited
// JSON frames in both directions.
package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
)

const (
	transportName = "rest"

	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"

	// StatusClientClosedRequest is returned when the caller cancelled.
	StatusClientClosedRequest = 499

	maxLineSize = 8 << 20
)

// callHeader opens every call. The adapter id travels in the URL.
type callHeader struct {
	Feature   string          `json:"feature"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// frame is one line of a streaming body. Exactly one field is set. A
// response stream ends with a done or an error frame; anything else is a
// broken connection.
type frame struct {
	Item  json.RawMessage `json:"item,omitempty"`
	Error *wireError      `json:"error,omitempty"`
	Done  bool            `json:"done,omitempty"`
}

type wireError struct {
	Kind    errspkg.Kind `json:"kind"`
	Message string       `json:"message"`
}

func newWireError(err error) *wireError {
	return &wireError{Kind: errspkg.KindOf(err), Message: err.Error()}
}

func (e *wireError) err() error {
	return errspkg.FromKind(e.Kind, transportName, e.Message)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errspkg.KindOf(err) {
	case errspkg.KindValidation:
		return http.StatusBadRequest
	case errspkg.KindUnsupported:
		return http.StatusNotImplemented
	case errspkg.KindCancelled:
		return StatusClientClosedRequest
	case errspkg.KindNotFound:
		return http.StatusNotFound
	case errspkg.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorFromResponse rebuilds the error carried by a non-200 response.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLineSize))
	if resp.StatusCode == http.StatusGatewayTimeout {
		return errspkg.Transport(transportName, "remote", context.DeadlineExceeded)
	}
	var we wireError
	if err := jsoncodec.Unmarshal(body, &we); err == nil && we.Kind != "" {
		return we.err()
	}
	return errspkg.Transport(transportName, "remote", errors.New(http.StatusText(resp.StatusCode)))
}

func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64<<10)
}

// readFrame reads one NDJSON line. It returns io.EOF at a clean end of
// input.
func readFrame(r *bufio.Reader, v any) error {
	line, err := r.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return err
	}
	if len(line) > maxLineSize {
		return errors.New("frame too large")
	}
	return jsoncodec.Unmarshal(line, v)
}
