// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/lsprpc/jsonrpc"
	"github.com/AleutianAI/lsprpc/transport"
)

// outgoingBuffer bounds the emitter-mode outbound queue.
const outgoingBuffer = 64

// Handler serves one inbound request.
//
// The returned value is marshaled as the result (a nil value becomes JSON
// null). Returning a *jsonrpc.ResponseError propagates its code, message,
// and data verbatim; any other error becomes an InternalError response.
// The context is cancelled when the peer sends $/cancelRequest for this
// request or the connection closes; a handler that observes the
// cancellation should return ctx.Err() to produce a RequestCancelled
// response.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler serves one inbound notification. Errors are logged
// and swallowed; they never reach the wire.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// =============================================================================
// CONFIG
// =============================================================================

// Config configures a connection.
type Config struct {
	// Role selects client or server semantics. Defaults to RoleClient.
	Role Role

	// PermissiveInitialization admits requests that arrive after the
	// initialize response has been sent but before the initialized
	// notification. Some clients issue requests in that window; the
	// default (strict) gate rejects them with ServerNotInitialized.
	PermissiveInitialization bool

	// Logger receives dispatch failures and lifecycle transitions.
	// Defaults to slog.Default(). Never log to stdout on stdio servers.
	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn is a bidirectional JSON-RPC connection speaking the LSP base
// protocol.
//
// Description:
//
//	Multiplexes requests, responses, and notifications over one transport.
//	Outbound requests are correlated to responses by id through a pending
//	table. Inbound requests dispatch to registered handlers, each on its
//	own goroutine, so responses may be emitted out of arrival order while
//	each carries its original request id. Inbound notifications run on the
//	pump goroutine, preserving receive order per method (document
//	synchronization depends on it).
//
//	Handlers may be registered at any time, before or after Run; the
//	registries are read-locked maps.
//
// Thread Safety:
//
//	Safe for concurrent use. The inbound pump is the single decoder
//	consumer; Receive must not be called while Run is active.
type Conn struct {
	config Config
	logger *slog.Logger

	dec *jsonrpc.Decoder

	// Write path. Frames go to the transport when one is attached,
	// otherwise to the outgoing channel (emitter mode for test harnesses).
	writeMu  sync.Mutex
	tr       transport.Transport
	outgoing chan []byte

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[jsonrpc.ID]chan *jsonrpc.Response

	handlersMu    sync.RWMutex
	reqHandlers   map[string]Handler
	notifHandlers map[string]NotificationHandler

	// Inbound requests currently being served, keyed by id. Entries exist
	// from dispatch until the response is sent; $/cancelRequest cancels
	// through here, and a duplicate inbound id is detected through here.
	inflightMu sync.Mutex
	inflight   map[jsonrpc.ID]context.CancelFunc

	state             atomic.Int32
	initializeDone    atomic.Bool
	shutdownRequested atomic.Bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	handlerWG sync.WaitGroup
}

// NewConn creates a connection. It moves no bytes until Run attaches a
// transport or a harness drives Receive and Outgoing.
func NewConn(config Config) *Conn {
	config.ApplyDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Conn{
		config:        config,
		dec:           jsonrpc.NewDecoder(),
		outgoing:      make(chan []byte, outgoingBuffer),
		pending:       make(map[jsonrpc.ID]chan *jsonrpc.Response),
		reqHandlers:   make(map[string]Handler),
		notifHandlers: make(map[string]NotificationHandler),
		inflight:      make(map[jsonrpc.ID]context.CancelFunc),
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		done:          make(chan struct{}),
	}
	c.logger = config.Logger.With(
		slog.String("component", "lsp_conn"),
		slog.String("role", config.Role.String()),
		slog.String("conn_id", uuid.NewString()),
	)
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// ShutdownRequested reports whether a shutdown request completed before the
// connection exited. Embedders use it for the exit-code discipline: exit 0
// iff shutdown preceded exit.
func (c *Conn) ShutdownRequested() bool {
	return c.shutdownRequested.Load()
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// =============================================================================
// HANDLER REGISTRATION
// =============================================================================

// OnRequest registers a handler for an inbound request method, replacing
// any previous registration.
func (c *Conn) OnRequest(method string, handler Handler) {
	c.handlersMu.Lock()
	c.reqHandlers[method] = handler
	c.handlersMu.Unlock()
}

// OnNotification registers a handler for an inbound notification method,
// replacing any previous registration.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.handlersMu.Lock()
	c.notifHandlers[method] = handler
	c.handlersMu.Unlock()
}

func (c *Conn) requestHandler(method string) (Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.reqHandlers[method]
	return h, ok
}

func (c *Conn) notificationHandler(method string) (NotificationHandler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.notifHandlers[method]
	return h, ok
}

// =============================================================================
// OUTBOUND
// =============================================================================

// Call issues an outbound request and blocks until the correlated response
// arrives, the context is cancelled, or the connection closes.
//
// Description:
//
//	Allocates the next id from the per-connection counter, registers a
//	pending slot, sends the framed request, and suspends. A response
//	resolves the slot with its result or error; context cancellation
//	sends a best-effort $/cancelRequest to the peer and returns
//	ErrCancelled; connection close returns ErrClosed.
//
// Inputs:
//
//	ctx - Governs the wait; no timeout is imposed by the connection
//	method - Method name
//	params - Marshaled as the params field; nil omits it
//
// Outputs:
//
//	json.RawMessage - The raw result payload (possibly "null")
//	error - *jsonrpc.ResponseError from the peer, ErrCancelled, ErrClosed,
//	or a local marshal/send failure
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed() {
		return nil, ErrClosed
	}

	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %q: %w", method, err)
	}

	id := jsonrpc.NumberID(c.nextID.Add(1))
	respCh := make(chan *jsonrpc.Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	start := time.Now()
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	if err := c.send(ctx, req); err != nil {
		return nil, fmt.Errorf("send request %q: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.notifyCancel(id)
		recordRPC(c.baseCtx, method, directionOutbound, time.Since(start), false)
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-c.done:
		recordRPC(c.baseCtx, method, directionOutbound, time.Since(start), false)
		return nil, ErrClosed
	case resp := <-respCh:
		if resp.Error != nil {
			recordRPC(c.baseCtx, method, directionOutbound, time.Since(start), false)
			return nil, resp.Error
		}
		recordRPC(c.baseCtx, method, directionOutbound, time.Since(start), true)
		return resp.Result, nil
	}
}

// Notify sends an outbound notification. Fire-and-forget: it returns once
// the frame has been handed to the transport.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.closed() {
		return ErrClosed
	}
	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params for %q: %w", method, err)
	}
	return c.send(ctx, &jsonrpc.Notification{Method: method, Params: rawParams})
}

// notifyCancel tells the peer to abandon an outbound request. Best-effort.
func (c *Conn) notifyCancel(id jsonrpc.ID) {
	params, err := json.Marshal(map[string]any{"id": id})
	if err != nil {
		return
	}
	_ = c.send(c.baseCtx, &jsonrpc.Notification{Method: MethodCancelRequest, Params: params})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// send frames and emits one message. Frames are written whole: the write
// lock spans the full hand-off so concurrent messages never interleave.
func (c *Conn) send(ctx context.Context, msg jsonrpc.Message) error {
	frame, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.tr != nil {
		return c.tr.Send(ctx, frame)
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outgoing exposes the outbound frame stream when the connection is run in
// emitter mode (no transport attached). Test harnesses read this end and
// feed the peer's Receive.
func (c *Conn) Outgoing() <-chan []byte {
	return c.outgoing
}

// =============================================================================
// INBOUND
// =============================================================================

// Run pumps the transport until it terminates or the context is cancelled.
//
// Description:
//
//	Attaches the transport and consumes its incoming sequence, feeding the
//	decoder and dispatching messages. On termination the transport is
//	closed, every pending outbound request fails with ErrClosed, and the
//	state becomes Exited.
//
// Outputs:
//
//	error - The transport's terminal error, a fatal framing error, or nil
//	on clean EOF / exit
func (c *Conn) Run(ctx context.Context, tr transport.Transport) error {
	c.writeMu.Lock()
	c.tr = tr
	// Frames sent before the transport was attached were queued on the
	// outgoing channel; hand them to the transport first, in order.
	for drained := false; !drained; {
		select {
		case frame := <-c.outgoing:
			if err := tr.Send(ctx, frame); err != nil {
				c.logger.Warn("send queued frame failed", slog.String("error", err.Error()))
			}
		default:
			drained = true
		}
	}
	c.writeMu.Unlock()

	defer c.Close()
	defer tr.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case chunk, ok := <-tr.Incoming():
			if !ok {
				if err := tr.Err(); err != nil {
					c.logger.Warn("transport terminated", slog.String("error", err.Error()))
					return err
				}
				return nil
			}
			if err := c.Receive(chunk); err != nil {
				c.logger.Error("fatal framing error, closing", slog.String("error", err.Error()))
				return err
			}
		}
	}
}

// Receive feeds raw bytes to the decoder and dispatches every completed
// message. Test harnesses that wire two connections together call this
// directly instead of Run.
//
// A recoverable payload fault produces a ParseError response with a null id
// and decoding continues. A fatal framing fault resets the decoder and is
// returned; the caller should close the connection.
func (c *Conn) Receive(data []byte) error {
	chunk := data
	for {
		msgs, err := c.dec.Feed(chunk)
		for _, msg := range msgs {
			c.dispatch(msg)
		}
		if err == nil {
			return nil
		}

		var perr *jsonrpc.ProtocolError
		if errors.As(err, &perr) && !perr.Fatal() {
			c.logger.Warn("dropping malformed payload", slog.String("error", perr.Error()))
			c.reply(&jsonrpc.Response{
				Error: jsonrpc.NewError(jsonrpc.CodeParseError, perr.Error()),
			})
			chunk = nil
			continue
		}

		c.dec.Reset()
		return err
	}
}

// dispatch routes one inbound message.
func (c *Conn) dispatch(msg jsonrpc.Message) {
	if c.State() == StateExited {
		return
	}
	switch m := msg.(type) {
	case *jsonrpc.Request:
		c.dispatchRequest(m)
	case *jsonrpc.Notification:
		c.dispatchNotification(m)
	case *jsonrpc.Response:
		c.dispatchResponse(m)
	}
}

// dispatchRequest applies the lifecycle gate, then hands the request to its
// handler on a fresh goroutine so long-running handlers never block the
// pump.
func (c *Conn) dispatchRequest(req *jsonrpc.Request) {
	if respErr := c.gateRequest(req.Method); respErr != nil {
		c.reply(&jsonrpc.Response{ID: req.ID, Error: respErr})
		return
	}

	handler, ok := c.requestHandler(req.Method)
	if !ok {
		c.reply(&jsonrpc.Response{
			ID:    req.ID,
			Error: jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method %q not found", req.Method),
		})
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)

	c.inflightMu.Lock()
	if _, exists := c.inflight[req.ID]; exists {
		c.inflightMu.Unlock()
		cancel()
		c.reply(&jsonrpc.Response{
			ID:    req.ID,
			Error: jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "duplicate request id %s", req.ID),
		})
		return
	}
	c.inflight[req.ID] = cancel
	c.inflightMu.Unlock()

	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		defer func() {
			c.inflightMu.Lock()
			delete(c.inflight, req.ID)
			c.inflightMu.Unlock()
			cancel()
		}()
		c.serveRequest(ctx, req, handler)
	}()
}

// serveRequest invokes the handler and sends exactly one response carrying
// the original request id.
func (c *Conn) serveRequest(ctx context.Context, req *jsonrpc.Request, handler Handler) {
	start := time.Now()
	ctx, span := startDispatchSpan(ctx, req.Method)
	defer span.End()

	result, err := c.invoke(ctx, req, handler)

	switch {
	case err == nil:
		raw, merr := marshalResult(result)
		if merr != nil {
			c.logger.Error("marshal handler result",
				slog.String("method", req.Method),
				slog.String("error", merr.Error()),
			)
			c.reply(&jsonrpc.Response{
				ID:    req.ID,
				Error: jsonrpc.Errorf(jsonrpc.CodeInternalError, "marshal result: %v", merr),
			})
			recordRPC(c.baseCtx, req.Method, directionInbound, time.Since(start), false)
			return
		}
		// Advance state first so no request slips through the gate
		// between this response and the transition it implies.
		c.afterRequest(req.Method)
		c.reply(&jsonrpc.Response{ID: req.ID, Result: raw})
		recordRPC(c.baseCtx, req.Method, directionInbound, time.Since(start), true)

	default:
		c.reply(&jsonrpc.Response{ID: req.ID, Error: toResponseError(ctx, err)})
		recordRPC(c.baseCtx, req.Method, directionInbound, time.Since(start), false)
	}
}

// invoke runs the handler with panic containment.
func (c *Conn) invoke(ctx context.Context, req *jsonrpc.Request, handler Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				slog.String("method", req.Method),
				slog.Any("panic", r),
			)
			err = jsonrpc.Errorf(jsonrpc.CodeInternalError, "handler panic: %v", r)
		}
	}()
	return handler(ctx, req.Params)
}

// toResponseError maps a handler failure to its wire form.
func toResponseError(ctx context.Context, err error) *jsonrpc.ResponseError {
	var respErr *jsonrpc.ResponseError
	if errors.As(err, &respErr) {
		return respErr
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return jsonrpc.NewError(jsonrpc.CodeRequestCancelled, "request cancelled")
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
}

// afterRequest advances the lifecycle after a successful response on the
// server side.
func (c *Conn) afterRequest(method string) {
	if c.config.Role != RoleServer {
		return
	}
	switch method {
	case MethodInitialize:
		c.initializeDone.Store(true)
	case MethodShutdown:
		c.shutdownRequested.Store(true)
		c.setState(StateShuttingDown)
	}
}

// gateRequest applies the server-side lifecycle gate. A nil return admits
// the request.
func (c *Conn) gateRequest(method string) *jsonrpc.ResponseError {
	if c.config.Role != RoleServer {
		return nil
	}
	switch c.State() {
	case StateUninitialized:
		if method == MethodInitialize {
			if c.initializeDone.Load() {
				return jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "initialize already received")
			}
			return nil
		}
		if c.config.PermissiveInitialization && c.initializeDone.Load() {
			return nil
		}
		return jsonrpc.NewError(jsonrpc.CodeServerNotInitialized, "server not initialized")
	case StateShuttingDown:
		return jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "shutting down")
	default:
		return nil
	}
}

// dispatchNotification handles lifecycle notifications inline and routes
// the rest to registered handlers. Handlers run on the pump goroutine so
// that notifications for one method keep their receive order; unknown
// methods are dropped silently, and handler errors are logged and
// swallowed.
func (c *Conn) dispatchNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case MethodCancelRequest:
		c.cancelInbound(n.Params)
		return
	case MethodInitialized:
		if c.config.Role == RoleServer && c.State() == StateUninitialized {
			c.setState(StateInitialized)
		}
	case MethodExit:
		c.logger.Info("exit received", slog.Bool("shutdown_first", c.ShutdownRequested()))
		c.setState(StateExited)
		c.runNotificationHandler(n)
		c.Close()
		return
	default:
		if c.config.Role == RoleServer && c.State() != StateInitialized {
			// Uninitialized or shutting down: non-lifecycle notifications
			// are dropped per the gate.
			c.logger.Debug("dropping notification outside initialized state",
				slog.String("method", n.Method),
				slog.String("state", c.State().String()),
			)
			return
		}
	}
	c.runNotificationHandler(n)
}

func (c *Conn) runNotificationHandler(n *jsonrpc.Notification) {
	handler, ok := c.notificationHandler(n.Method)
	if !ok {
		return
	}
	if err := handler(c.baseCtx, n.Params); err != nil {
		c.logger.Warn("notification handler failed",
			slog.String("method", n.Method),
			slog.String("error", err.Error()),
		)
	}
}

// cancelInbound cancels the in-flight handler named by a $/cancelRequest.
func (c *Conn) cancelInbound(params json.RawMessage) {
	var p struct {
		ID jsonrpc.ID `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || !p.ID.IsValid() {
		c.logger.Warn("malformed $/cancelRequest", slog.String("params", string(params)))
		return
	}

	c.inflightMu.Lock()
	cancel, ok := c.inflight[p.ID]
	c.inflightMu.Unlock()

	if ok {
		recordCancel(c.baseCtx)
		cancel()
	}
}

// dispatchResponse resolves the pending slot for a correlated response.
// Late and duplicate responses are dropped.
func (c *Conn) dispatchResponse(resp *jsonrpc.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("dropping uncorrelated response", slog.String("id", resp.ID.String()))
		return
	}
	ch <- resp
}

// reply emits a response, logging rather than propagating send failures:
// the requester is remote, so there is nobody local to fail.
func (c *Conn) reply(resp *jsonrpc.Response) {
	if err := c.send(c.baseCtx, resp); err != nil {
		c.logger.Warn("send response failed",
			slog.String("id", resp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func marshalResult(result any) (json.RawMessage, error) {
	if result == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(result)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

func (c *Conn) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Info("lifecycle transition",
			slog.String("from", old.String()),
			slog.String("to", s.String()),
		)
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close shuts the connection down.
//
// Description:
//
//	Idempotent. Stops the pump, cancels every in-flight inbound handler,
//	fails every pending outbound request with ErrClosed, closes the
//	transport, and transitions to Exited.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateExited)
		close(c.done)
		c.baseCancel()

		c.pendingMu.Lock()
		c.pending = make(map[jsonrpc.ID]chan *jsonrpc.Response)
		c.pendingMu.Unlock()

		c.writeMu.Lock()
		tr := c.tr
		c.writeMu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
	})
	return nil
}
