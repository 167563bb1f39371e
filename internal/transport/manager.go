// Package transport owns the one live socket session per user: connect,
// disconnect, and bounded reconnection, plus dispatch of inbound events to
// a registered handler. It holds no message state of its own.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"campuschat-client/internal/models"
	"campuschat-client/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrNotConnected is returned by Emit when no session is open. Callers must
// check this before applying any optimistic state change.
var ErrNotConnected = fmt.Errorf("transport: not connected")

// EventHandler receives inbound transport events. The manager holds exactly
// one handler; SetHandler replaces it, so reconnects never stack handlers.
type EventHandler interface {
	HandleMessage(msg models.Message)
	HandleMessageAck(ack protocol.AckPayload)
	HandleMessageStatus(status protocol.MessageStatusPayload)
	HandleTyping(p protocol.TypingPayload)
	HandleStopTyping(p protocol.TypingPayload)
}

// TokenFunc mints the handshake token for the given identity.
type TokenFunc func(userID, userRole string) (string, error)

// Config tunes the connection manager.
type Config struct {
	URL               string
	Token             TokenFunc
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
}

// State is an observable snapshot of the connection lifecycle.
type State struct {
	Connected    bool
	Connecting   bool
	Reconnecting bool
	LastError    string
}

type session struct {
	conn *websocket.Conn
	send chan []byte
	// done is closed by readPump on session teardown; send is never closed
	// so concurrent Emit calls cannot hit a closed channel.
	done chan struct{}
}

// Manager maintains a single websocket session. Connect failures are
// captured in State rather than returned, matching the UI contract where
// connection errors render as a banner, not an exception.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	handler    EventHandler
	sess       *session
	userID     string
	userRole   string
	connecting bool
	reconn     bool
	lastError  string
	// generation invalidates pumps and retry loops from replaced sessions.
	generation int
	manualOff  bool
}

// NewManager returns a manager with no open session.
func NewManager(cfg Config) *Manager {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Manager{cfg: cfg}
}

// SetHandler installs h as the sole receiver of inbound events, replacing
// any previous handler.
func (m *Manager) SetHandler(h EventHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connect establishes a session authenticated as userID/userRole. Any
// session already open is replaced. Transport-level failures are recorded
// in State().LastError and retried in the background up to the configured
// attempt budget; they are not returned to the caller.
func (m *Manager) Connect(userID, userRole string) {
	m.mu.Lock()
	m.userID = userID
	m.userRole = userRole
	m.manualOff = false
	m.connecting = true
	m.lastError = ""
	m.generation++
	gen := m.generation
	m.closeSessionLocked()
	m.mu.Unlock()

	installed, err := m.dial(gen)
	if err != nil {
		m.mu.Lock()
		if gen == m.generation {
			m.connecting = false
			m.lastError = "Connection failed: " + err.Error()
		}
		m.mu.Unlock()
		log.Printf("Transport: connect failed for user %s: %v", userID, err)
		go m.retryLoop(gen)
		return
	}
	if !installed {
		// Superseded by a newer Connect or a Disconnect; that call owns the
		// lifecycle state now.
		return
	}

	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()
	log.Printf("Transport: connected as user %s", userID)
}

// Disconnect tears down the session. Safe to call with no session open.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manualOff = true
	m.generation++
	m.connecting = false
	m.reconn = false
	m.closeSessionLocked()
}

// Reconnect re-establishes a session with the credentials from the last
// Connect call. The registered handler is reused as-is, never re-stacked.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	userID, userRole := m.userID, m.userRole
	m.mu.Unlock()
	if userID == "" {
		m.mu.Lock()
		m.lastError = "Reconnect failed: no previous session credentials"
		m.mu.Unlock()
		return
	}
	m.Connect(userID, userRole)
}

// Connected reports whether a session is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// State returns a snapshot of the connection lifecycle.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected:    m.sess != nil,
		Connecting:   m.connecting,
		Reconnecting: m.reconn,
		LastError:    m.lastError,
	}
}

// Emit queues an event for the server. It fails synchronously with
// ErrNotConnected when no session is open; once queued, delivery failures
// surface through the connection lifecycle, not through Emit.
func (m *Manager) Emit(eventType string, payload any) error {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", eventType, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", eventType, err)
	}

	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	select {
	case <-sess.done:
		return ErrNotConnected
	case sess.send <- raw:
		return nil
	default:
		log.Printf("Transport: send queue full, dropping %s event", eventType)
		return nil
	}
}

// dial opens the socket and installs the session if gen is still current.
// The boolean is false when the dial was superseded mid-flight and no
// session was installed.
func (m *Manager) dial(gen int) (bool, error) {
	m.mu.Lock()
	userID, userRole := m.userID, m.userRole
	m.mu.Unlock()

	token, err := m.cfg.Token(userID, userRole)
	if err != nil {
		return false, fmt.Errorf("mint token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(m.cfg.URL+"?token="+token, nil)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if gen != m.generation || m.manualOff {
		m.mu.Unlock()
		conn.Close()
		return false, nil
	}
	sess := &session{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
	m.sess = sess
	m.reconn = false
	m.lastError = ""
	m.mu.Unlock()

	go m.writePump(gen, sess)
	go m.readPump(gen, sess)
	return true, nil
}

// retryLoop re-dials after an unplanned drop, bounded by the configured
// attempt budget. After exhausting it, the manager stays disconnected with
// a persistent LastError instead of retrying forever.
func (m *Manager) retryLoop(gen int) {
	m.mu.Lock()
	if gen != m.generation || m.manualOff {
		m.mu.Unlock()
		return
	}
	m.reconn = true
	attempts := m.cfg.ReconnectAttempts
	delay := m.cfg.ReconnectDelay
	m.mu.Unlock()

	var lastErr error
	for i := 1; i <= attempts; i++ {
		time.Sleep(delay)

		m.mu.Lock()
		stale := gen != m.generation || m.manualOff
		m.mu.Unlock()
		if stale {
			return
		}

		installed, err := m.dial(gen)
		if err != nil {
			lastErr = err
			log.Printf("Transport: reconnect attempt %d/%d failed: %v", i, attempts, err)
			continue
		}
		if !installed {
			return
		}
		log.Printf("Transport: reconnected on attempt %d/%d", i, attempts)
		return
	}

	m.mu.Lock()
	if gen == m.generation {
		m.reconn = false
		m.lastError = fmt.Sprintf("Connection failed after %d attempts: %v", attempts, lastErr)
	}
	m.mu.Unlock()
	log.Printf("Transport: gave up reconnecting after %d attempts", attempts)
}

func (m *Manager) readPump(gen int, sess *session) {
	defer sess.conn.Close()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Transport: readPump error: %v", err)
			}
			break
		}
		m.dispatch(raw)
	}

	m.mu.Lock()
	current := gen == m.generation && m.sess == sess
	if current {
		m.sess = nil
	}
	planned := m.manualOff
	m.mu.Unlock()

	// Each session's done channel is closed exactly once, by its own
	// readPump, which also stops the paired writePump.
	close(sess.done)

	if current && !planned {
		go m.retryLoop(gen)
	}
}

func (m *Manager) writePump(gen int, sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case <-sess.done:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case raw := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Printf("Transport: writePump error: %v", err)
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes an inbound envelope and forwards it to the handler.
// Events arrive from a single readPump goroutine, so handler callbacks see
// them in transport delivery order.
func (m *Manager) dispatch(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Transport: invalid envelope: %v. Raw: %s", err, raw)
		return
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler == nil {
		log.Printf("Transport: no handler registered, dropping %s event", env.Type)
		return
	}

	switch env.Type {
	case protocol.EventMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			log.Printf("Transport: invalid message payload: %v", err)
			return
		}
		handler.HandleMessage(msg)

	case protocol.EventMessageAck:
		var ack protocol.AckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			log.Printf("Transport: invalid ack payload: %v", err)
			return
		}
		handler.HandleMessageAck(ack)

	case protocol.EventMessageStatus:
		var status protocol.MessageStatusPayload
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			log.Printf("Transport: invalid status payload: %v", err)
			return
		}
		handler.HandleMessageStatus(status)

	case protocol.EventTyping, protocol.EventStopTyping:
		var p protocol.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("Transport: invalid typing payload: %v", err)
			return
		}
		if env.Type == protocol.EventTyping {
			handler.HandleTyping(p)
		} else {
			handler.HandleStopTyping(p)
		}

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("Transport: invalid error payload: %v", err)
			return
		}
		log.Printf("Transport: server error: %s", p.Message)
		m.mu.Lock()
		m.lastError = p.Message
		m.mu.Unlock()

	default:
		log.Printf("Transport: unknown event type %q", env.Type)
	}
}

// closeSessionLocked closes the current session if one exists. Caller must
// hold m.mu.
func (m *Manager) closeSessionLocked() {
	if m.sess != nil {
		m.sess.conn.Close()
		m.sess = nil
	}
}
