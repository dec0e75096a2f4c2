package iiwa_guard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/rdk/logging"
)

// ParamSetter moves sliders on behalf of remote viewers.
type ParamSetter interface {
	SetUserDebugParameter(name string, value float64) (float64, error)
}

// viewerMsg is what browsers send over the websocket.
type viewerMsg struct {
	Type  string  `json:"type"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// viewerAck answers a set_param message.
type viewerAck struct {
	Type  string  `json:"type"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Error string  `json:"error,omitempty"`
}

// Viewer is the GUI front end: it streams frames to websocket clients and
// forwards their slider changes to the GUI session.
type Viewer struct {
	params ParamSetter
	logger logging.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[uint64]chan []byte
	latest  []byte
}

// NewViewer builds a viewer bound to params.
func NewViewer(params ParamSetter, logger logging.Logger) *Viewer {
	return &Viewer{
		params: params,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[uint64]chan []byte{},
	}
}

// Publish sends frame to every connected client. Slow clients miss frames.
func (v *Viewer) Publish(frame Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		v.logger.Warnf("viewer: cannot encode frame %d: %v", frame.Step, err)
		return
	}

	v.mu.Lock()
	v.latest = b
	for _, out := range v.clients {
		select {
		case out <- b:
		default:
		}
	}
	v.mu.Unlock()
}

// Clients returns the number of connected websocket clients.
func (v *Viewer) Clients() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.clients)
}

// Handler serves /ws and /state.
func (v *Viewer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", v.wsHandler)
	mux.HandleFunc("/state", v.stateHandler)
	return mux
}

func (v *Viewer) stateHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	v.mu.RLock()
	latest := v.latest
	v.mu.RUnlock()
	if latest == nil {
		http.Error(rw, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write(latest)
}

func (v *Viewer) wsHandler(rw http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := v.nextID.Add(1)
	out := make(chan []byte, 16)
	v.mu.Lock()
	v.clients[id] = out
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.clients, id)
		v.mu.Unlock()
	}()
	v.logger.Debugf("viewer client %d connected from %s", id, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	acks := make(chan []byte, 4)
	writeErr := make(chan error, 1)
	go func() {
		for {
			var b []byte
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case b = <-out:
			case b = <-acks:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			v.logger.Debugf("viewer client %d disconnected: %v", id, err)
			return
		}
		var in viewerMsg
		if err := json.Unmarshal(msg, &in); err != nil || in.Type != "set_param" {
			continue
		}
		ack := viewerAck{Type: "param", Name: in.Name}
		ack.Value, err = v.params.SetUserDebugParameter(in.Name, in.Value)
		if err != nil {
			ack.Error = err.Error()
		}
		b, _ := json.Marshal(ack)
		select {
		case acks <- b:
		case err := <-writeErr:
			v.logger.Debugf("viewer client %d write failed: %v", id, err)
			return
		}
	}
}

// Serve listens on addr until ctx is done.
func (v *Viewer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: v.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	v.logger.Infof("viewer listening on http://%s (websocket at /ws)", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
