package overlay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/wire"
)

// WebSocket is a gorilla/websocket-backed Overlay for the demo CLI.
// Unlike pkg/agent/transport/websocket's request/response RPC framing,
// this is fire-and-forget: every frame is (sender_id || msg_type ||
// payload), one direction, no correlated response.
type WebSocket struct {
	self       identity.Id
	listenAddr string
	peerAddrs  map[identity.Id]string

	readTimeout  time.Duration
	writeTimeout time.Duration
	upgrader     gorilla.Upgrader

	mu           sync.Mutex
	handlers     map[wire.MessageType]Handler
	onConnect    []func(identity.Id)
	onDisconnect []func(identity.Id)
	outbound     map[identity.Id]*gorilla.Conn
	closed       bool

	httpServer *http.Server
}

// NewWebSocket starts an HTTP server bound to listenAddr that accepts
// inbound overlay connections, and records the dial addresses of every
// other known peer for outbound Send/Broadcast calls.
func NewWebSocket(self identity.Id, listenAddr string, peerAddrs map[identity.Id]string) (*WebSocket, error) {
	w := &WebSocket{
		self:       self,
		listenAddr: listenAddr,
		peerAddrs:  peerAddrs,
		handlers:   make(map[wire.MessageType]Handler),
		outbound:   make(map[identity.Id]*gorilla.Conn),
		upgrader: gorilla.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/overlay", w.handleUpgrade)
	w.httpServer = &http.Server{Addr: listenAddr, Handler: mux}

	ln, err := newListener(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("overlay: listen on %s: %w", listenAddr, err)
	}
	go func() {
		_ = w.httpServer.Serve(ln)
	}()

	return w, nil
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		http.Error(rw, fmt.Sprintf("overlay: upgrade failed: %v", err), http.StatusBadRequest)
		return
	}
	go w.readLoop(conn)
}

func (w *WebSocket) readLoop(conn *gorilla.Conn) {
	defer conn.Close()
	var peer identity.Id
	havePeer := false

	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if havePeer {
				w.fireDisconnect(peer)
			}
			return
		}

		sender, msgType, payload, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		if !havePeer {
			peer = sender
			havePeer = true
			w.fireConnect(peer)
		}

		w.mu.Lock()
		fn, ok := w.handlers[msgType]
		w.mu.Unlock()
		if ok {
			fn(sender, payload)
		}
	}
}

func encodeFrame(self identity.Id, msgType wire.MessageType, payload []byte) []byte {
	ww := wire.NewWriter()
	ww.Fixed(self[:])
	ww.Fixed([]byte{byte(msgType)})
	ww.Bytes(payload)
	return ww.Out()
}

func decodeFrame(raw []byte) (sender identity.Id, msgType wire.MessageType, payload []byte, err error) {
	r := wire.NewReader(raw)
	idBytes := r.Fixed(identity.Size)
	typByte := r.Fixed(1)
	payload = r.Bytes()
	if rerr := r.Err(); rerr != nil {
		return identity.Id{}, 0, nil, rerr
	}
	sender, err = identity.ParseId(idBytes)
	if err != nil {
		return identity.Id{}, 0, nil, err
	}
	if len(typByte) != 1 {
		return identity.Id{}, 0, nil, fmt.Errorf("overlay: frame missing type byte")
	}
	return sender, wire.MessageType(typByte[0]), payload, nil
}

func (w *WebSocket) dial(to identity.Id) (*gorilla.Conn, error) {
	w.mu.Lock()
	if conn, ok := w.outbound[to]; ok {
		w.mu.Unlock()
		return conn, nil
	}
	addr, ok := w.peerAddrs[to]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("overlay: no known address for peer %s", to)
	}

	conn, _, err := gorilla.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial %s: %w", to, err)
	}

	w.mu.Lock()
	w.outbound[to] = conn
	w.mu.Unlock()
	go w.readLoop(conn)
	return conn, nil
}

func (w *WebSocket) RegisterHandler(msgType wire.MessageType, fn Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[msgType] = fn
}

func (w *WebSocket) OnConnect(fn func(peer identity.Id)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onConnect = append(w.onConnect, fn)
}

func (w *WebSocket) OnDisconnect(fn func(peer identity.Id)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDisconnect = append(w.onDisconnect, fn)
}

func (w *WebSocket) Send(ctx context.Context, to identity.Id, msgType wire.MessageType, payload []byte) error {
	conn, err := w.dial(to)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return fmt.Errorf("overlay: set write deadline: %w", err)
	}
	return conn.WriteMessage(gorilla.BinaryMessage, encodeFrame(w.self, msgType, payload))
}

func (w *WebSocket) Broadcast(ctx context.Context, to []identity.Id, msgType wire.MessageType, payload []byte) error {
	var firstErr error
	for _, id := range to {
		if id == w.self {
			continue
		}
		if err := w.Send(ctx, id, msgType, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	conns := make([]*gorilla.Conn, 0, len(w.outbound))
	for _, c := range w.outbound {
		conns = append(conns, c)
	}
	w.outbound = make(map[identity.Id]*gorilla.Conn)
	w.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		_ = c.Close()
	}
	return w.httpServer.Close()
}

func (w *WebSocket) fireConnect(peer identity.Id) {
	w.mu.Lock()
	fns := append([]func(identity.Id){}, w.onConnect...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(peer)
	}
}

func (w *WebSocket) fireDisconnect(peer identity.Id) {
	w.mu.Lock()
	fns := append([]func(identity.Id){}, w.onDisconnect...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(peer)
	}
}
