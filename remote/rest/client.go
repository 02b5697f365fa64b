package rest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/drblury/adapterflow/adapter"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
)

// Client is a remote.Client over HTTP.
type Client struct {
	base string
	http *http.Client
}

// NewClient talks to the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/") + "/v1/adapters", http: hc}
}

func (c *Client) Name() string { return transportName }

func (c *Client) ListAdapters(ctx context.Context) ([]adapter.Info, error) {
	var infos []adapter.Info
	if err := c.get(ctx, c.base+"/", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) Describe(ctx context.Context, adapterID string) (adapter.Info, error) {
	var info adapter.Info
	err := c.get(ctx, c.base+"/"+url.PathEscape(adapterID), &info)
	return info, err
}

func (c *Client) Invoke(ctx context.Context, call remote.Call) ([]byte, error) {
	body, err := jsoncodec.Marshal(header(call))
	if err != nil {
		return nil, errspkg.Validation("payload", err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(call, "invoke"), bytes.NewReader(body))
	if err != nil {
		return nil, errspkg.Transport(transportName, "invoke", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	metadata.ToHTTPHeader(call.Metadata, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errspkg.Transport(transportName, "invoke", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errspkg.Transport(transportName, "invoke", err)
	}
	return out, nil
}

func (c *Client) Stream(ctx context.Context, call remote.Call) (remote.RawStream, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	pr, pw := io.Pipe()
	go writeRequest(ctx, cancel, pw, call)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(call, "stream"), pr)
	if err != nil {
		cancel(err)
		return nil, errspkg.Transport(transportName, "stream", err)
	}
	req.Header.Set("Content-Type", contentTypeNDJSON)
	metadata.ToHTTPHeader(call.Metadata, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel(err)
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return nil, cause
		}
		return nil, errspkg.Transport(transportName, "stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel(nil)
		return nil, errorFromResponse(resp)
	}
	return &clientStream{ctx: ctx, cancel: cancel, body: resp.Body, r: newLineReader(resp.Body)}, nil
}

// Close is a no-op; the HTTP client is owned by the caller.
func (c *Client) Close() error { return nil }

func (c *Client) url(call remote.Call, action string) string {
	return c.base + "/" + url.PathEscape(call.AdapterID) + "/" + action
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errspkg.Transport(transportName, "get", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errspkg.Transport(transportName, "get", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}
	if err := jsoncodec.Decode(resp.Body, v); err != nil {
		return errspkg.Transport(transportName, "get", err)
	}
	return nil
}

func header(call remote.Call) callHeader {
	return callHeader{Feature: call.Feature, Operation: call.Operation, Payload: call.Payload}
}

// writeRequest writes the call header and any client-stream items as NDJSON.
// A failing input aborts the whole call.
func writeRequest(ctx context.Context, cancel context.CancelCauseFunc, pw *io.PipeWriter, call remote.Call) {
	if err := jsoncodec.Encode(pw, header(call)); err != nil {
		_ = pw.CloseWithError(err)
		return
	}
	if call.Input == nil {
		_ = pw.Close()
		return
	}
	for {
		data, ok, err := call.Input.Next(ctx)
		if err != nil {
			cancel(err)
			_ = pw.CloseWithError(err)
			return
		}
		if !ok {
			_ = pw.Close()
			return
		}
		if err := jsoncodec.Encode(pw, frame{Item: data}); err != nil {
			cancel(err)
			_ = pw.CloseWithError(err)
			return
		}
	}
}

type clientStream struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	body   io.ReadCloser
	r      *bufio.Reader

	cur  []byte
	err  error
	done bool
}

func (s *clientStream) Next() bool {
	if s.done {
		return false
	}
	var f frame
	err := readFrame(s.r, &f)
	switch {
	case err != nil:
		s.finish(s.readError(err))
		return false
	case f.Error != nil:
		s.finish(f.Error.err())
		return false
	case f.Done:
		s.finish(nil)
		return false
	}
	s.cur = f.Item
	return true
}

func (s *clientStream) readError(err error) error {
	if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return errspkg.Transport(transportName, "stream", fmt.Errorf("read frame: %w", err))
}

func (s *clientStream) finish(err error) {
	s.done = true
	s.cur = nil
	s.err = err
}

func (s *clientStream) Current() []byte { return s.cur }

func (s *clientStream) Err() error { return s.err }

func (s *clientStream) Close() error {
	s.done = true
	s.cancel(nil)
	return s.body.Close()
}

var _ remote.Client = (*Client)(nil)
