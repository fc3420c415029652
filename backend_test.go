package interviewroom

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeRoom is an in-process interview room backend.
type fakeRoom struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu sync.Mutex
	// status, when set, is returned instead of upgrading.
	status   int
	echoBeat bool
	conns    []*websocket.Conn
	tokens   []string
	received []*Message
}

func newFakeRoom(t *testing.T) *fakeRoom {
	f := &fakeRoom{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRoom) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokens = append(f.tokens, r.URL.Query().Get("token"))
	status := f.status
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		echo := f.echoBeat
		f.mu.Unlock()
		if echo && msg.Command() == CommandHeartbeat {
			beat := msg.Payload().(*HeartbeatPayload)
			f.send(conn, CommandHeartbeatResponse, &HeartbeatPayload{
				ClientTimestamp: beat.ClientTimestamp,
				ServerTimestamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (f *fakeRoom) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeRoom) url() string { return f.srv.URL }

// conn waits for the n-th accepted socket.
func (f *fakeRoom) conn(n int) *websocket.Conn {
	var c *websocket.Conn
	require.Eventually(f.t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.conns) < n {
			return false
		}
		c = f.conns[n-1]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (f *fakeRoom) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeRoom) send(conn *websocket.Conn, cmd Command, p Payload) {
	msg, err := NewMessage(cmd, p)
	require.NoError(f.t, err)
	data, err := msg.MarshalJSON()
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fakeRoom) closeWith(conn *websocket.Conn, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}

// drop closes the socket without a close frame.
func (f *fakeRoom) drop(conn *websocket.Conn) {
	_ = conn.Close()
}

func (f *fakeRoom) messages(cmd Command) []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Message
	for _, m := range f.received {
		if m.Command() == cmd {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRoom) seenTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func testConnectionConfig() shared.ConnectionConfig {
	cfg := shared.DefaultConnectionConfig()
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectDelay = 100 * time.Millisecond
	cfg.MaxReconnectDelay = time.Second
	cfg.HeartbeatInterval = time.Hour
	cfg.AudioFlushInterval = time.Hour
	cfg.DialTimeout = 2 * time.Second
	return cfg
}

// scheduleRecorder replaces real reconnect timers. Scheduled funcs only run
// when the test fires them.
type scheduleRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (s *scheduleRecorder) schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
	return func() bool { return true }
}

func (s *scheduleRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *scheduleRecorder) fire(i int) {
	s.mu.Lock()
	fn := s.fns[i]
	s.mu.Unlock()
	fn()
}

// errorLog collects errors emitted to OnError.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}
