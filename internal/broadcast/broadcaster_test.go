package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestBroadcaster(t *testing.T) (*Broadcaster, string) {
	t.Helper()
	b := New(Config{Addr: "127.0.0.1:0", IdentifyTimeout: time.Second}, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b, "ws://" + b.Addr() + "/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// readServerIdentify reads and validates the server's handshake step-1
// identify{clientId} message, returning the clientId it announced.
func readServerIdentify(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read server identify: %v", err)
	}
	var out OutboundMessage
	if err := defaultCodec.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal server identify: %v", err)
	}
	if out.Type != OutIdentify || out.Identify == nil || out.Identify.ClientID == "" {
		t.Fatalf("server identify = %+v, want a populated clientId", out)
	}
	return out.Identify.ClientID
}

// completeHandshake drains the server's step-1 identify, sends the client's
// own identify reply, and reads back the welcome message.
func completeHandshake(t *testing.T, conn *websocket.Conn) WelcomeWire {
	t.Helper()
	readServerIdentify(t, conn)

	msg, err := defaultCodec.Marshal(InboundMessage{Type: InIdentify, Name: "viewer", Version: "1.0", Platform: "test", Capabilities: []string{"frame"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var out OutboundMessage
	if err := defaultCodec.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if out.Type != OutWelcome || out.Welcome == nil {
		t.Fatalf("welcome = %+v, want a populated welcome", out)
	}
	return *out.Welcome
}

func TestIdentifyHandshakeThenWelcome(t *testing.T) {
	_, url := startTestBroadcaster(t)
	conn := dial(t, url)
	defer conn.Close()

	welcome := completeHandshake(t, conn)
	if welcome.SessionID == "" || welcome.ServerVersion == "" {
		t.Fatalf("welcome = %+v, want populated sessionId/serverVersion", welcome)
	}
}

func TestConnectionWithoutIdentifyIsClosed(t *testing.T) {
	_, url := startTestBroadcaster(t)
	conn := dial(t, url)
	defer conn.Close()

	readServerIdentify(t, conn)

	// Send a non-identify message as the reply; the server must close the
	// connection rather than register it as a subscriber.
	msg, _ := defaultCodec.Marshal(InboundMessage{Type: InSetLED, LED: "green"})
	_ = conn.WriteMessage(websocket.TextMessage, msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed for skipping identify")
	}
}

func TestBroadcastFansOutToIdentifiedSubscribers(t *testing.T) {
	b, url := startTestBroadcaster(t)
	conn := dial(t, url)
	defer conn.Close()

	completeHandshake(t, conn)

	// Give the server a moment to register the subscriber before broadcasting.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.SubscriberCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", b.SubscriberCount())
	}

	b.Broadcast(OutboundMessage{Type: OutStatus, Status: "running"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var out OutboundMessage
	if err := defaultCodec.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != OutStatus || out.Status != "running" {
		t.Fatalf("out = %+v, want status=running", out)
	}
}

func TestCommandHandlerReceivesAck(t *testing.T) {
	var gotCmd InboundMessage
	b := New(Config{
		Addr:            "127.0.0.1:0",
		IdentifyTimeout: time.Second,
		CommandHandler: func(_ context.Context, _ SubscriberInfo, cmd InboundMessage) CommandAckWire {
			gotCmd = cmd
			return CommandAckWire{Command: cmd.Type, Status: "ok"}
		},
	}, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, "ws://"+b.Addr()+"/")
	defer conn.Close()

	completeHandshake(t, conn)

	cmd, _ := defaultCodec.Marshal(InboundMessage{Type: InSetLED, LED: "red"})
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var out OutboundMessage
	if err := defaultCodec.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if out.Type != OutCommandAck || out.CommandAck == nil || out.CommandAck.Status != "ok" {
		t.Fatalf("ack = %+v, want ok commandAck", out)
	}
	if gotCmd.Type != InSetLED || gotCmd.LED != "red" {
		t.Fatalf("handler saw %+v, want setLED/red", gotCmd)
	}
}
