/*
File Name:  Status.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

statusapi is a read-only HTTP+WS introspection surface for an Engine: a
JSON snapshot of live connections and queue depths, plus a websocket feed
of connection-lifecycle events. It never decodes or dispatches ed2k
packets; that stays entirely out of scope here, same as the engine's own
higher-level session logic.
*/

package statusapi

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ed2k-go/core"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

// Instance is a running status API bound to one Engine.
type Instance struct {
	Engine *core.Engine
	Router *mux.Router

	clientsMutex sync.Mutex
	clients      map[*websocket.Conn]struct{}
}

// wsUpgrader allows all origins: this is a local debug surface, not exposed
// to untrusted networks by default.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New creates a status API instance and chains into engine's connection
// lifecycle hooks so the websocket feed stays live. Call before engine.Start.
func New(engine *core.Engine) *Instance {
	api := &Instance{
		Engine:  engine,
		Router:  mux.NewRouter(),
		clients: make(map[*websocket.Conn]struct{}),
	}

	api.Router.HandleFunc("/status", api.handleStatus).Methods("GET")
	api.Router.HandleFunc("/status/connections", api.handleConnections).Methods("GET")
	api.Router.HandleFunc("/status/ws", api.handleWebsocket).Methods("GET")

	prevOpened := engine.Hooks.ConnectionOpened
	engine.Hooks.ConnectionOpened = func(c *core.Connection) {
		if prevOpened != nil {
			prevOpened(c)
		}
		api.broadcast(lifecycleEvent{Event: "opened", ID: c.ID, Remote: remoteOf(c)})
	}

	prevClosed := engine.Hooks.ConnectionClosed
	engine.Hooks.ConnectionClosed = func(c *core.Connection) {
		if prevClosed != nil {
			prevClosed(c)
		}
		api.broadcast(lifecycleEvent{Event: "closed", ID: c.ID, Remote: remoteOf(c)})
	}

	return api
}

// Start listens on addr and serves the status API until the listener or
// server fails. maxConnections bounds concurrent HTTP clients via
// netutil.LimitListener; 0 disables the limit. Start blocks; run it in a
// goroutine.
func (api *Instance) Start(addr string, maxConnections int, readTimeout, writeTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConnections > 0 {
		listener = netutil.LimitListener(listener, maxConnections)
	}

	server := &http.Server{
		Handler:      api.Router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return server.Serve(listener)
}

type connectionSnapshot struct {
	ID             uuid.UUID `json:"id"`
	Remote         string    `json:"remote"`
	PeerName       string    `json:"peerName,omitempty"`
	IncomingQueued int       `json:"incomingQueued"`
	ControlQueued  int       `json:"controlQueued"`
	DataQueued     int       `json:"dataQueued"`
}

type statusResponse struct {
	ConnectionCount int `json:"connectionCount"`
}

type lifecycleEvent struct {
	Event  string    `json:"event"`
	ID     uuid.UUID `json:"id"`
	Remote string    `json:"remote"`
}

func (api *Instance) handleStatus(w http.ResponseWriter, r *http.Request) {
	conns := api.Engine.Connections()
	encodeJSON(w, statusResponse{ConnectionCount: len(conns)})
}

func (api *Instance) handleConnections(w http.ResponseWriter, r *http.Request) {
	conns := api.Engine.Connections()
	out := make([]connectionSnapshot, 0, len(conns))
	for _, c := range conns {
		incoming, control, data := c.QueueDepths()
		var peerName string
		if c.Peer != nil {
			peerName = c.Peer.FormatName()
		}
		out = append(out, connectionSnapshot{
			ID:             c.ID,
			Remote:         remoteOf(c),
			PeerName:       peerName,
			IncomingQueued: incoming,
			ControlQueued:  control,
			DataQueued:     data,
		})
	}
	encodeJSON(w, out)
}

func (api *Instance) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	api.clientsMutex.Lock()
	api.clients[conn] = struct{}{}
	api.clientsMutex.Unlock()

	defer func() {
		api.clientsMutex.Lock()
		delete(api.clients, conn)
		api.clientsMutex.Unlock()
		conn.Close()
	}()

	// Drain inbound frames only to notice the client disconnecting; this feed
	// is one-directional (engine -> client).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (api *Instance) broadcast(event lifecycleEvent) {
	api.clientsMutex.Lock()
	defer api.clientsMutex.Unlock()

	for conn := range api.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(api.clients, conn)
		}
	}
}

func remoteOf(c *core.Connection) string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}

func encodeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
