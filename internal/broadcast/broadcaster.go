// Package broadcast implements the subscriber-facing half of the pipeline:
// a WebSocket server that accepts viewer/controller connections, requires
// each to identify itself before it receives any stream data, fans out
// frames/bundles/movement/gesture messages published by the rest of the
// pipeline, and routes control commands back to the caller-supplied
// CommandHandler.
//
// The subscriber bookkeeping (registry, per-subscriber sent/dropped
// counters, non-blocking fan-out) follows
// modules/framebus/internal/bus's bus/subscriberHolder shape, generalized
// from an in-process channel fan-out to a WebSocket fan-out.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrBroadcasterClosed  = errors.New("broadcast: broadcaster is closed")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
	ErrNoPortAvailable    = errors.New("broadcast: no listening port available within the retry budget")
)

// SubscriberStats counts messages delivered to and dropped for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// SubscriberDescriptor is the identity a subscriber declares during the
// identify handshake: its self-reported name, version, platform, and
// capability list. It is created once identify succeeds and discarded when
// the connection closes.
type SubscriberDescriptor struct {
	Name         string
	Version      string
	Platform     string
	Capabilities []string
}

// SubscriberInfo is the read-only view of a subscriber passed to a
// CommandHandler — it never exposes the underlying connection.
type SubscriberInfo struct {
	ID string
	SubscriberDescriptor
}

// CommandHandler processes one decoded InboundMessage from a subscriber and
// returns the acknowledgement to send back. The Supervisor supplies this.
type CommandHandler func(ctx context.Context, sub SubscriberInfo, cmd InboundMessage) CommandAckWire

// Config configures a Broadcaster.
type Config struct {
	Addr             string // host:port to listen on; port 0 means "pick any free port"
	IdentifyTimeout  time.Duration
	SendBuffer       int // per-subscriber outbound queue depth
	FanoutThreshold  int // subscriber count above which broadcast() batches across goroutines
	MaxPortAttempts  int // when Addr's port is taken, how many times to increment and retry
	CommandHandler   CommandHandler

	// OnSubscriberChange, when set, is called after every identified
	// subscriber connects or disconnects, with the current identified
	// count. The Supervisor uses this to stop every Sensor once the count
	// drops to zero — no subscribers means no one is consuming the stream.
	OnSubscriberChange func(count int)
}

func (c Config) withDefaults() Config {
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.FanoutThreshold <= 0 {
		c.FanoutThreshold = 8
	}
	if c.MaxPortAttempts <= 0 {
		c.MaxPortAttempts = 10
	}
	return c
}

type subscriber struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	stats      SubscriberStats
	identified atomic.Bool
	descriptor SubscriberDescriptor
	closeOnce  sync.Once
	done       chan struct{}
}

func (s *subscriber) close(code int, text string) {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		_ = s.conn.Close()
		close(s.done)
	})
}

// Broadcaster accepts WebSocket connections, requires each to identify
// itself, and fans pipeline messages out to every identified subscriber.
type Broadcaster struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	closed         bool
	totalPublished uint64

	server     *http.Server
	listener   net.Listener
	actualAddr string
}

// New constructs a Broadcaster. It does not start listening until Start.
func New(cfg Config, logger *slog.Logger) *Broadcaster {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:         cfg,
		logger:      logger,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		subscribers: make(map[string]*subscriber),
	}
}

// Start binds a listener and begins serving WebSocket connections. If the
// configured port is already taken it retries on incrementing ports up to
// MaxPortAttempts times, per the port-conflict auto-retry behavior.
func (b *Broadcaster) Start(ctx context.Context) error {
	host, portStr, err := net.SplitHostPort(b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("broadcast: invalid addr %q: %w", b.cfg.Addr, err)
	}
	port := 0
	if portStr != "" && portStr != "0" {
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return fmt.Errorf("broadcast: invalid port %q: %w", portStr, err)
		}
	}

	var ln net.Listener
	for attempt := 0; attempt <= b.cfg.MaxPortAttempts; attempt++ {
		addr := fmt.Sprintf("%s:%d", host, port+attempt)
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		if !isAddrInUse(err) {
			return fmt.Errorf("broadcast: listen %s: %w", addr, err)
		}
		b.logger.Warn("broadcast: port in use, retrying", "addr", addr, "attempt", attempt)
		ln = nil
	}
	if ln == nil {
		return ErrNoPortAvailable
	}

	b.listener = ln
	b.actualAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleWS)
	b.server = &http.Server{Handler: mux}

	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("broadcast: server exited", "error", err)
		}
	}()

	b.logger.Info("broadcast: listening", "addr", b.actualAddr)
	return nil
}

func (b *Broadcaster) notifySubscriberChange(count int) {
	if b.cfg.OnSubscriberChange != nil {
		b.cfg.OnSubscriberChange(count)
	}
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}

// Addr returns the address the broadcaster actually bound to, after any
// port-conflict retries.
func (b *Broadcaster) Addr() string { return b.actualAddr }

func (b *Broadcaster) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("broadcast: upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, b.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	// writePump must be running before identify so its own server-issued
	// identify{clientId} (handshake step 1) and the eventual welcome (step
	// 3) actually reach the wire, rather than sitting unread in sub.send.
	go b.writePump(sub)

	if !b.identify(sub) {
		sub.close(websocket.CloseProtocolError, "identify required")
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close(websocket.CloseNormalClosure, "broadcaster shutting down")
		return
	}
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	b.notifySubscriberChange(count)

	b.readPump(sub)

	b.mu.Lock()
	delete(b.subscribers, sub.id)
	count = len(b.subscribers)
	b.mu.Unlock()
	sub.close(websocket.CloseNormalClosure, "connection closed")
	b.notifySubscriberChange(count)
}

// identify runs the three-step handshake: the server announces itself with
// its own identify{clientId} first, then waits within IdentifyTimeout for the
// subscriber's identify{name,version,platform,capabilities} reply, and on
// success replies with welcome{sessionId,serverVersion,timestamp}. It does
// not register the subscriber in b.subscribers — the caller does that once
// identify succeeds.
func (b *Broadcaster) identify(sub *subscriber) bool {
	b.sendTo(sub, OutboundMessage{Type: OutIdentify, Identify: &IdentifyWire{ClientID: sub.id}})

	_ = sub.conn.SetReadDeadline(time.Now().Add(b.cfg.IdentifyTimeout))
	defer sub.conn.SetReadDeadline(time.Time{})

	_, data, err := sub.conn.ReadMessage()
	if err != nil {
		b.logger.Warn("broadcast: identify read failed", "error", err)
		return false
	}

	var msg InboundMessage
	if err := defaultCodec.Unmarshal(data, &msg); err != nil || msg.Type != InIdentify {
		b.logger.Warn("broadcast: identify malformed", "error", err, "type", msg.Type)
		return false
	}

	sub.identified.Store(true)
	sub.descriptor = SubscriberDescriptor{
		Name:         msg.Name,
		Version:      msg.Version,
		Platform:     msg.Platform,
		Capabilities: msg.Capabilities,
	}

	b.sendTo(sub, OutboundMessage{Type: OutWelcome, Welcome: &WelcomeWire{
		SessionID:     uuid.NewString(),
		ServerVersion: ServerVersion,
		TimestampMS:   time.Now().UnixMilli(),
	}})

	b.logger.Info("broadcast: client connected", "clientId", sub.id,
		"name", sub.descriptor.Name, "version", sub.descriptor.Version, "platform", sub.descriptor.Platform)
	return true
}

// readPump decodes and routes every subsequent message on sub's connection
// to the configured CommandHandler until the connection closes.
func (b *Broadcaster) readPump(sub *subscriber) {
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg InboundMessage
		if err := defaultCodec.Unmarshal(data, &msg); err != nil {
			b.sendTo(sub, OutboundMessage{Type: OutError, Error: fmt.Sprintf("malformed command: %v", err)})
			continue
		}

		ack := CommandAckWire{Command: msg.Type, Status: "ok"}
		if b.cfg.CommandHandler != nil {
			ack = b.cfg.CommandHandler(context.Background(), SubscriberInfo{ID: sub.id, SubscriberDescriptor: sub.descriptor}, msg)
		}
		b.sendTo(sub, OutboundMessage{Type: OutCommandAck, CommandAck: &ack})
	}
}

// writePump drains sub.send and writes each payload to the connection. It
// exits when sub.send is closed or sub.done fires.
func (b *Broadcaster) writePump(sub *subscriber) {
	for {
		select {
		case data, ok := <-sub.send:
			if !ok {
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sub.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (b *Broadcaster) sendTo(sub *subscriber, msg OutboundMessage) {
	data, err := defaultCodec.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast: marshal failed", "error", err)
		return
	}
	select {
	case sub.send <- data:
		atomic.AddUint64(&sub.stats.Sent, 1)
	default:
		atomic.AddUint64(&sub.stats.Dropped, 1)
	}
}

// Broadcast fans msg out to every identified subscriber. Above
// FanoutThreshold subscribers it batches the send across goroutines; at or
// below it, it sends sequentially — avoiding goroutine overhead for the
// common small-audience case.
func (b *Broadcaster) Broadcast(msg OutboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.totalPublished, 1)

	data, err := defaultCodec.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast: marshal failed", "error", err)
		return
	}

	if len(b.subscribers) <= b.cfg.FanoutThreshold {
		for _, sub := range b.subscribers {
			b.deliver(sub, data)
		}
		return
	}

	var wg sync.WaitGroup
	for _, sub := range b.subscribers {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			b.deliver(s, data)
		}(sub)
	}
	wg.Wait()
}

func (b *Broadcaster) deliver(sub *subscriber, data []byte) {
	select {
	case sub.send <- data:
		atomic.AddUint64(&sub.stats.Sent, 1)
	default:
		atomic.AddUint64(&sub.stats.Dropped, 1)
	}
}

// Stats returns the Sent/Dropped counters for one subscriber.
func (b *Broadcaster) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// SubscriberCount returns the number of currently identified subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stop closes every subscriber connection with a normal close code and
// shuts down the listener. It is idempotent.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(websocket.CloseNormalClosure, "broadcaster shutting down")
	}

	if b.server != nil {
		return b.server.Shutdown(ctx)
	}
	return nil
}
