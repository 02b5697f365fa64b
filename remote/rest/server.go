package rest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
)

// Server serves a Dispatcher over HTTP.
type Server struct {
	d      *remote.Dispatcher
	log    logging.ServiceLogger
	router chi.Router
}

// NewServer builds the router. Mount Handler on an existing server or call
// ListenAndServe.
func NewServer(d *remote.Dispatcher, log logging.ServiceLogger) *Server {
	s := &Server{d: d, log: logging.ForComponent(log, "rest-server")}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1/adapters", func(r chi.Router) {
		r.Get("/", s.listAdapters)
		r.Get("/{adapterID}", s.describe)
		r.Post("/{adapterID}/invoke", s.invoke)
		r.Post("/{adapterID}/stream", s.stream)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("REST server listening", logging.LogFields{"address": l.Addr().String()})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listAdapters(w http.ResponseWriter, r *http.Request) {
	infos, err := s.d.ListAdapters(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, infos)
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request) {
	info, err := s.d.Describe(r.Context(), chi.URLParam(r, "adapterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, info)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	var header callHeader
	if err := jsoncodec.Decode(r.Body, &header); err != nil {
		s.writeError(w, errspkg.Validation("body", err.Error()))
		return
	}
	out, err := s.d.Invoke(r.Context(), s.call(r, header))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	// Client-stream items keep arriving while results are written.
	_ = rc.EnableFullDuplex()

	body := newLineReader(r.Body)
	var header callHeader
	if err := readFrame(body, &header); err != nil {
		s.writeError(w, errspkg.Validation("body", "missing call header"))
		return
	}
	call := s.call(r, header)
	if op, ok := features.LookupOperation(call.Feature, call.Operation); ok && op.Kind == features.ClientStream {
		call.Input = frameSource(body)
	} else {
		// Reaching the end of the body lets the server notice a caller
		// that goes away.
		_, _ = io.Copy(io.Discard, body)
	}

	seq, err := s.d.Dispatch(ctx, call)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer seq.Cancel(nil)

	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	for {
		item, ok, err := seq.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			end := frame{Done: true}
			if err != nil {
				end = frame{Error: newWireError(err)}
			}
			_ = jsoncodec.Encode(w, end)
			_ = rc.Flush()
			return
		}
		if err := jsoncodec.Encode(w, frame{Item: item}); err != nil {
			s.log.Debug("Stream write failed", logging.LogFields{logging.FieldOperation: call.Operation, "error": err.Error()})
			return
		}
		_ = rc.Flush()
	}
}

func (s *Server) call(r *http.Request, header callHeader) remote.Call {
	return remote.Call{
		AdapterID: chi.URLParam(r, "adapterID"),
		Feature:   header.Feature,
		Operation: header.Operation,
		Payload:   header.Payload,
		Metadata:  metadata.FromHTTPHeader(r.Header),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("Remote call failed", err, nil)
	}
	data, _ := jsoncodec.Marshal(newWireError(err))
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// frameSource reads the client-stream items that follow the call header.
func frameSource(r *bufio.Reader) stream.Source[[]byte] {
	return stream.SourceFunc[[]byte](func(context.Context) ([]byte, bool, error) {
		var f frame
		err := readFrame(r, &f)
		switch {
		case errors.Is(err, io.EOF):
			return nil, false, nil
		case err != nil:
			return nil, false, errspkg.Transport(transportName, "read input", err)
		case f.Error != nil:
			return nil, false, f.Error.err()
		case f.Done:
			return nil, false, nil
		}
		return f.Item, true, nil
	})
}
