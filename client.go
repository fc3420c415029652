package interviewroom

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/interview-room/metrics"
	"github.com/bt-bridge/interview-room/shared"
	"github.com/bt-bridge/interview-room/tools"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CloseAuthRejected is the close code the backend uses to reject a token.
const CloseAuthRejected = websocket.ClosePolicyViolation

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TokenSource resolves the bearer token for the room socket.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type ClientParams struct {
	Room string
	// BaseURL is the backend origin; http(s) is mapped to ws(s).
	BaseURL     string
	Tokens      TokenSource
	Config      shared.ConnectionConfig
	AudioFormat string
	Metrics     *metrics.Collector
}

// Client owns the socket of one interview room: connection lifecycle,
// reconnection, heartbeat, audio batching and inbound dispatch.
type Client struct {
	logger   shared.LoggerAdapter
	room     string
	endpoint *url.URL
	tokens   TokenSource
	cfg      shared.ConnectionConfig
	format   string
	metrics  *metrics.Collector
	dialer   *websocket.Dialer
	// schedule runs fn after d and returns a stop func; swapped in tests.
	schedule func(d time.Duration, fn func()) (stop func() bool)
	release  func(*Client)

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	gen           uint64
	attempts      int
	backoff       *backoff.ExponentialBackOff
	token         string
	heartbeat     *shared.Ticker
	stopReconnect func() bool
	// lossPending marks a dropped socket whose reconnect is not decided yet.
	lossPending bool
	released    bool
	latency     time.Duration

	writeMu   sync.Mutex
	throttler *tools.Throttler

	onConnect      listeners[struct{}]
	onDisconnect   listeners[int]
	onError        listeners[error]
	onResponse     listeners[*Response]
	onInterruption listeners[*Interruption]

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, p ClientParams) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if p.Room == "" {
		return nil, shared.ErrNoRoom
	}
	if p.Tokens == nil {
		return nil, shared.ErrNoTokenSource
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("validating connection config: %w", err)
	}
	endpoint, err := roomEndpoint(p.BaseURL, p.Room)
	if err != nil {
		return nil, err
	}
	if p.AudioFormat == "" {
		p.AudioFormat = "opus"
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c := &Client{
		logger:   logger.With(zap.String("room", p.Room)),
		room:     p.Room,
		endpoint: endpoint,
		tokens:   p.Tokens,
		cfg:      p.Config,
		format:   p.AudioFormat,
		metrics:  p.Metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: p.Config.DialTimeout,
		},
		schedule: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		backoff: newReconnectBackoff(p.Config.ReconnectDelay, p.Config.MaxReconnectDelay),
		ctx:     ctx,
		cancel: cancel,
	}
	c.throttler, err = tools.NewThrottler(
		c.logger, c.sendAudio, c.isOpen,
		p.Config.MaxBatchChunks, p.Config.MaxQueuedChunks,
		tools.ThrottlerHooks{Dropped: p.Metrics.AudioDropped, Flushed: p.Metrics.AudioFlushed},
	)
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("creating audio throttler: %w", err)
	}
	return c, nil
}

func roomEndpoint(base, room string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported backend URL scheme %q", u.Scheme)
	}
	return u.JoinPath("ws", "interview-room", room), nil
}

// newReconnectBackoff yields base*2^attempt, capped at maxDelay, without jitter.
func newReconnectBackoff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return b
}

func (c *Client) Room() string { return c.room }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency is the last heartbeat round trip, zero before the first one.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.conn != nil
}

// activeTimers counts the running heartbeat and audio flush tickers.
func (c *Client) activeTimers() int {
	c.mu.Lock()
	n := 0
	if c.heartbeat != nil {
		n++
	}
	c.mu.Unlock()
	if c.throttler.Running() {
		n++
	}
	return n
}

// Connect opens the socket. It is a no-op while connecting or open. From
// the failed state it acts as a manual retry with a fresh attempt budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return shared.ErrClientReleased
	}
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateFailed {
		c.attempts = 0
		c.backoff.Reset()
	}
	stop := c.stopReconnect
	c.stopReconnect = nil
	c.lossPending = false
	c.state = StateConnecting
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	return c.dial(ctx)
}

// connectInBackground is the implicit connect triggered by sends. It never
// overrides a failed state or a pending reconnect.
func (c *Client) connectInBackground() {
	c.mu.Lock()
	if c.released || c.state != StateClosed || c.stopReconnect != nil || c.lossPending {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	go func() {
		if err := c.dial(c.ctx); err != nil {
			c.logger.Debug("background connect failed", zap.Error(err))
		}
	}()
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("empty token")
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

// dial expects the state to be StateConnecting.
func (c *Client) dial(ctx context.Context) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.abortConnect()
			return fmt.Errorf("resolving token: %w", err)
		}
		return c.failAuth(fmt.Errorf("resolving token: %w", err))
	}

	u := *c.endpoint
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), nil)
	cancel()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return c.failAuth(fmt.Errorf("handshake rejected with status %d", resp.StatusCode))
		}
		if ctx.Err() != nil {
			c.abortConnect()
			return fmt.Errorf("dialing interview room: %w", err)
		}
		c.logger.Warn("dialing interview room failed", zap.Error(err))
		c.connectionLost(websocket.CloseAbnormalClosure, false)
		return &shared.RoomError{Room: c.room, Err: fmt.Errorf("%w: %w", shared.ErrTransientNetwork, err)}
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		_ = conn.Close()
		return shared.ErrClientReleased
	}
	if c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		_ = conn.Close()
		return &shared.RoomError{Room: c.room, Err: fmt.Errorf("%w: connect aborted while %s", shared.ErrNotConnected, state)}
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.backoff.Reset()
	c.heartbeat = shared.StartTicker(c.cfg.HeartbeatInterval, c.sendHeartbeat)
	c.throttler.Start(c.cfg.AudioFlushInterval)
	c.mu.Unlock()

	c.metrics.ConnectionOpened()
	c.logger.Info("connected to interview room")
	go c.readLoop(conn, gen)
	c.onConnect.emit(struct{}{})
	return nil
}

func (c *Client) abortConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateClosed
	}
}

// stopTimers must be called without c.mu held.
func (c *Client) stopTimers() {
	c.mu.Lock()
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()
	hb.Stop()
	if err := c.throttler.Stop(); err != nil {
		c.logger.Warn("final audio flush failed", zap.Error(err))
	}
}

// detach takes the socket away from the client so stale read loops and
// tickers can no longer act on it.
func (c *Client) detach(next State) *websocket.Conn {
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = next
	return conn
}

func (c *Client) closeConn(conn *websocket.Conn, code int, text string) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.metrics.ConnectionClosed()
}

func (c *Client) failAuth(cause error) error {
	c.mu.Lock()
	conn := c.detach(StateFailed)
	c.token = ""
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		c.metrics.ConnectionClosed()
	}
	c.stopTimers()

	err := &shared.RoomError{Room: c.room, Err: fmt.Errorf("%w: %w", shared.ErrAuthentication, cause)}
	c.metrics.AuthFailure(c.room)
	c.logger.Error("authentication rejected, not reconnecting", err)
	c.onError.emit(err)
	return err
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	var conn *websocket.Conn
	switch code {
	case CloseAuthRejected:
		conn = c.detach(StateFailed)
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		conn = c.detach(StateClosed)
	default:
		conn = c.detach(StateClosed)
		c.lossPending = true
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.metrics.ConnectionClosed()
	c.stopTimers()

	c.logger.Info("interview room socket closed", zap.Int("code", code), zap.Error(err))
	switch code {
	case CloseAuthRejected:
		_ = c.failAuth(fmt.Errorf("socket closed with code %d", code))
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		c.onDisconnect.emit(code)
	default:
		c.connectionLost(code, true)
	}
}

// connectionLost schedules the next attempt, or gives up once the attempt
// budget is spent, and then reports the disconnect. afterClose is set when
// an open socket dropped; otherwise a dial failed. The state change and the
// armed timer must land in the same c.mu section that makes the decision.
func (c *Client) connectionLost(code int, afterClose bool) {
	c.mu.Lock()
	live := !c.released
	if afterClose {
		live = live && c.lossPending && c.state == StateClosed
	} else {
		live = live && c.state == StateConnecting
	}
	c.lossPending = false
	if !live {
		c.mu.Unlock()
		if afterClose {
			c.onDisconnect.emit(code)
		}
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateFailed
		attempts := c.attempts
		c.mu.Unlock()
		c.onDisconnect.emit(code)
		err := &shared.RoomError{Room: c.room, Err: shared.ErrMaxReconnect}
		c.logger.Error("giving up on interview room", err, zap.Int("attempts", attempts))
		c.onError.emit(err)
		return
	}
	delay := c.backoff.NextBackOff()
	c.attempts++
	attempt := c.attempts
	c.state = StateClosed
	c.stopReconnect = c.schedule(delay, c.reconnect)
	c.mu.Unlock()

	c.onDisconnect.emit(code)
	c.metrics.Reconnect(c.room)
	c.logger.Info("reconnecting to interview room",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", delay),
	)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.stopReconnect = nil
	if c.released || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	if err := c.dial(c.ctx); err != nil {
		c.logger.Debug("reconnect attempt failed", zap.Error(err))
	}
}

// Disconnect closes the socket with a normal closure and keeps the client
// reusable through Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	stop := c.stopReconnect
	c.stopReconnect = nil
	c.lossPending = false
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.stopTimers()

	c.mu.Lock()
	conn := c.detach(StateClosing)
	c.mu.Unlock()
	c.closeConn(conn, websocket.CloseNormalClosure, "client disconnect")

	c.mu.Lock()
	c.state = StateClosed
	c.attempts = 0
	c.backoff.Reset()
	c.mu.Unlock()
	if conn != nil {
		c.onDisconnect.emit(websocket.CloseNormalClosure)
	}
}

// Cleanup tears the client down for good. It makes a last audio flush while
// the socket is still open, closes it normally, drops every subscription and
// releases the arena entry. Calling it again is a no-op.
func (c *Client) Cleanup() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	stop := c.stopReconnect
	c.stopReconnect = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.stopTimers()

	c.mu.Lock()
	conn := c.detach(StateClosing)
	c.mu.Unlock()
	c.closeConn(conn, websocket.CloseNormalClosure, "client cleanup")
	c.throttler.Reset()

	c.mu.Lock()
	c.state = StateClosed
	c.token = ""
	c.mu.Unlock()

	c.onConnect.clear()
	c.onDisconnect.clear()
	c.onError.clear()
	c.onResponse.clear()
	c.onInterruption.clear()
	c.cancel(shared.ErrClientReleased)
	if c.release != nil {
		c.release(c)
	}
	c.logger.Info("interview room client cleaned up")
}

func (c *Client) send(ctx context.Context, cmd Command, payload Payload) error {
	msg, err := NewMessage(cmd, payload)
	if err != nil {
		return err
	}
	data, err := msg.MarshalJSON()
	if err != nil {
		return &shared.RoomError{Room: c.room, Command: string(cmd), Err: fmt.Errorf("encoding message: %w", err)}
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return &shared.RoomError{Room: c.room, Command: string(cmd), Err: shared.ErrNotConnected}
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &shared.RoomError{Room: c.room, Command: string(cmd), Err: fmt.Errorf("%w: %w", shared.ErrTransientNetwork, err)}
	}
	c.metrics.Sent(string(cmd))
	c.logger.Trace("message sent", zap.String("command", string(cmd)))
	return nil
}

func (c *Client) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	defer cancel()
	err := c.send(ctx, CommandHeartbeat, &HeartbeatPayload{ClientTimestamp: time.Now().UnixMilli()})
	if err != nil {
		c.logger.Warn("sending heartbeat failed", zap.Error(err))
	}
}

func (c *Client) sendAudio(ctx context.Context, chunks []tools.AudioChunk) error {
	p := &AudioStreamPayload{
		AudioChunks: make([]string, len(chunks)),
		Format:      c.format,
	}
	var total time.Duration
	for i, ch := range chunks {
		p.AudioChunks[i] = base64.StdEncoding.EncodeToString(ch.Data)
		total += ch.Duration
	}
	if total > 0 {
		secs := total.Seconds()
		p.Duration = &secs
	}
	return c.send(ctx, CommandAudioStream, p)
}

func (c *Client) checkUsable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return shared.ErrClientReleased
	}
	return nil
}

// RequestNextQuestion asks the interviewer for the next question. When the
// socket is not open it starts connecting and returns ErrNotConnected.
func (c *Client) RequestNextQuestion(ctx context.Context) error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	if !c.isOpen() {
		c.connectInBackground()
		return &shared.RoomError{Room: c.room, Command: string(CommandRequestNext), Err: shared.ErrNotConnected}
	}
	return c.send(ctx, CommandRequestNext, nil)
}

// SendCompleteSolution sends an answer as COMPLETE_SOLUTION or
// PARTIAL_SOLUTION.
func (c *Client) SendCompleteSolution(ctx context.Context, payload *SolutionPayload, command Command) error {
	if command != CommandCompleteSolution && command != CommandPartialSolution {
		return fmt.Errorf("%w: %s is not a solution command", shared.ErrInvalidCommand, command)
	}
	if payload == nil {
		payload = new(SolutionPayload)
	}
	if err := c.checkUsable(); err != nil {
		return err
	}
	if !c.isOpen() {
		c.connectInBackground()
		return &shared.RoomError{Room: c.room, Command: string(command), Err: shared.ErrNotConnected}
	}
	return c.send(ctx, command, payload)
}

// SendAudioData queues chunks for the next AUDIO_STREAM batch. Chunks
// queued while disconnected are sent once the socket is open again.
func (c *Client) SendAudioData(chunks ...tools.AudioChunk) error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	c.throttler.Enqueue(chunks...)
	if !c.isOpen() {
		c.connectInBackground()
	}
	return nil
}

// FlushAudio sends queued audio now instead of waiting for the next tick.
func (c *Client) FlushAudio(ctx context.Context) error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	return c.throttler.Flush(ctx)
}

func (c *Client) OnConnect(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return c.onConnect.add(func(struct{}) { fn() })
}

// OnDisconnect receives the close code of every lost or closed socket.
func (c *Client) OnDisconnect(fn func(code int)) (unsubscribe func()) {
	return c.onDisconnect.add(fn)
}

func (c *Client) OnError(fn func(err error)) (unsubscribe func()) {
	return c.onError.add(fn)
}

func (c *Client) OnResponse(fn func(resp *Response)) (unsubscribe func()) {
	return c.onResponse.add(fn)
}

func (c *Client) OnInterruption(fn func(in *Interruption)) (unsubscribe func()) {
	return c.onInterruption.add(fn)
}
