package rpcserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alessandrobrunoh/mnemosyne/internal/project"
)

// maxLineBytes bounds one framed request; a line beyond it is a protocol
// error, not an allocation.
const maxLineBytes = 16 * 1024 * 1024

// Options tune the server.
type Options struct {
	SocketPath     string
	RequestTimeout time.Duration
	MaxBatch       int

	// OnExit runs when a client sends the exit notification. The embedding
	// process decides whether that actually terminates it.
	OnExit func()
}

// Server accepts local connections and dispatches JSON-RPC requests to the
// Engine. The accept loop is single-threaded; each connection gets a reader
// goroutine whose dispatch fans out per request.
type Server struct {
	opts   Options
	engine Engine
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer builds a Server over engine.
func NewServer(opts Options, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 64
	}
	return &Server{opts: opts, engine: engine, logger: logger}
}

// ListenAndServe binds the Unix socket and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.SocketPath), 0o755); err != nil {
		return fmt.Errorf("rpcserver: socket dir: %w", err)
	}
	// Clean up any stale socket from a previous run.
	_ = os.Remove(s.opts.SocketPath)

	listener, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("rpcserver: listen on %s: %w", s.opts.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.opts.SocketPath)
	}()

	s.logger.Info("rpc server listening", slog.String("socket", s.opts.SocketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, netConn)
		}()
	}

	s.wg.Wait()
	return nil
}

// conn is the per-connection state: the lifecycle gate, the write lock that
// serializes interleaved responses, and the in-flight request table that
// $/cancelRequest consults.
type conn struct {
	srv     *Server
	netConn net.Conn

	writeMu sync.Mutex

	// stateMu is reader-biased: every non-lifecycle request checks the
	// initialized flag, only initialize/shutdown ever write it.
	stateMu     sync.RWMutex
	initialized bool
	draining    bool

	inflight sync.Map // request id (string) -> context.CancelFunc
	handlers sync.WaitGroup
}

func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	c := &conn{srv: s, netConn: netConn}
	scanner := bufio.NewScanner(netConn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			c.write(NewErrorResponse(nil, ErrCodeParseError, "invalid JSON"))
			continue
		}

		if resp, done := c.gate(&req); done {
			if resp != nil {
				c.write(*resp)
			}
			continue
		}

		// Concurrent dispatch: responses may interleave out of order, each
		// carrying its request id.
		c.handlers.Add(1)
		go func(req Request) {
			defer c.handlers.Done()
			c.dispatch(ctx, &req)
		}(req)
	}

	c.handlers.Wait()
}

// gate applies the protocol checks that must happen in receive order:
// envelope validity, method normalization, cancellation, and lifecycle
// state. Auth for restricted methods is checked later, in handle. It
// returns (response, true) when the request is fully handled or rejected
// here.
func (c *conn) gate(req *Request) (*Response, bool) {
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidRequest, "invalid request")
		return &resp, true
	}

	req.Method = normalizeMethod(req.Method)

	if req.Method == MethodCancel {
		c.cancelRequested(req)
		return nil, true
	}

	if !knownMethods[req.Method] {
		resp := NewErrorResponse(req.ID, ErrCodeMethodNotFound, "unknown method "+req.Method)
		return &resp, true
	}

	c.stateMu.RLock()
	initialized, draining := c.initialized, c.draining
	c.stateMu.RUnlock()

	switch {
	case req.Method == MethodInitialize:
		if initialized {
			resp := NewErrorResponse(req.ID, ErrCodeAlreadyInitialized, "already initialized")
			return &resp, true
		}
	case !initialized:
		resp := NewErrorResponse(req.ID, ErrCodeServerNotInitialized, "initialize must be the first request")
		return &resp, true
	case draining && req.Method != MethodExit:
		resp := NewErrorResponse(req.ID, ErrCodeShutdownInProgress, "shutdown in progress")
		return &resp, true
	}

	return nil, false
}

// cancelRequested handles a $/cancelRequest notification.
func (c *conn) cancelRequested(req *Request) {
	var params struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.ID) == 0 {
		return
	}
	if cancel, ok := c.inflight.Load(string(params.ID)); ok {
		cancel.(context.CancelFunc)()
	}
}

func (c *conn) dispatch(ctx context.Context, req *Request) {
	reqCtx, cancel := context.WithTimeout(ctx, c.srv.opts.RequestTimeout)
	defer cancel()

	if !req.IsNotification() {
		key := string(req.ID)
		c.inflight.Store(key, cancel)
		defer c.inflight.Delete(key)
	}

	result, rpcErr := c.handle(reqCtx, req)

	if req.IsNotification() {
		return
	}
	if rpcErr != nil {
		c.write(Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	c.write(NewSuccessResponse(req.ID, result))
}

// resolveProject authenticates a restricted request. A missing project and
// a wrong token are indistinguishable to the caller: both are Unauthorized,
// so probing cannot reveal which roots are tracked.
func (c *conn) resolveProject(req *Request) (*project.Project, *Error) {
	var params struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ProjectID == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "project_id required"}
	}

	p, ok := c.srv.engine.Project(params.ProjectID)
	if !ok {
		return nil, &Error{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	}
	if subtle.ConstantTimeCompare([]byte(req.AuthToken), []byte(p.AuthToken)) != 1 {
		p.Stats.AuthFailures.Add(1)
		return nil, &Error{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	}
	return p, nil
}

func (c *conn) handle(ctx context.Context, req *Request) (any, *Error) {
	var p *project.Project
	if restrictedMethods[req.Method] {
		var rpcErr *Error
		if p, rpcErr = c.resolveProject(req); rpcErr != nil {
			return nil, rpcErr
		}
	}

	switch req.Method {
	case MethodInitialize:
		return c.handleInitialize(req)
	case MethodShutdown:
		return c.handleShutdown()
	case MethodExit:
		c.handleExit()
		return nil, nil
	case MethodProjectWatch:
		return c.handleWatch(ctx, req)
	case MethodProjectUnwatch:
		return c.handleUnwatch(ctx, p)
	case MethodProjectList:
		return c.handleList()
	case MethodProjectActivity:
		return c.handleActivity(req, p)
	case MethodProjectStats:
		return c.handleStatistics(p)
	case MethodSnapshotCreate:
		return c.handleSnapshotCreate(ctx, req, p)
	case MethodSnapshotList:
		return c.handleSnapshotList(req, p)
	case MethodSnapshotGet:
		return c.handleSnapshotGet(req, p)
	case MethodSnapshotRestore:
		return c.handleSnapshotRestore(req, p)
	case MethodSymbolHistory:
		return c.handleSymbolHistory(req, p)
	case MethodSymbolTimeline:
		return c.handleSymbolTimeline(req, p)
	case MethodSymbolDiff:
		return c.handleSymbolDiff(req, p)
	case MethodSymbolSearch:
		return c.handleSymbolSearch(req, p)
	}
	return nil, &Error{Code: ErrCodeMethodNotFound, Message: "unknown method " + req.Method}
}

func (c *conn) write(resp Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data, err := json.Marshal(resp)
	if err != nil {
		c.srv.logger.Error("response marshal failed", slog.String("error", err.Error()))
		return
	}
	data = append(data, '\n')
	if _, err := c.netConn.Write(data); err != nil {
		c.srv.logger.Debug("response write failed", slog.String("error", err.Error()))
	}
}
