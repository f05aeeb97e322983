package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/10and01/vmsim/simulator"
	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

const maxProfileDuration = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client message types
type ClientMessage struct {
	Type      string               `json:"type"`
	Algorithm string               `json:"algorithm,omitempty"`
	Config    *simulator.SimConfig `json:"config,omitempty"`
}

// Server message types
type ServerMessage struct {
	Type     string               `json:"type"`
	Running  *bool                `json:"running,omitempty"`
	RunID    string               `json:"runId,omitempty"`
	Config   *simulator.SimConfig `json:"config,omitempty"`
	Snapshot *simulator.Snapshot  `json:"snapshot,omitempty"`
	Event    simulator.Event      `json:"event,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemorySize uint64  `json:"memorySize"`
}

type server struct {
	state          *simState
	logger         *slog.Logger
	updateInterval time.Duration
}

func newRouter(s *server, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.serveStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/api/snapshot", s.serveSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/process/{pid:[0-9]+}", s.processDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", s.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", s.collectProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/{action:pause|resume|cancel|reset}", s.control).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *server) statusMessage() ServerMessage {
	running := s.state.isRunning()
	cfg := s.state.getConfig()
	return ServerMessage{
		Type:    "status",
		Running: &running,
		RunID:   s.state.current().RunID(),
		Config:  &cfg,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	msg := s.statusMessage()
	snap := s.state.snapshot()
	msg.Snapshot = &snap
	writeJSON(w, msg)
}

func (s *server) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.state.snapshot())
}

func (s *server) control(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "pause":
		s.state.pause()
	case "resume":
		s.state.resume()
	case "cancel":
		s.state.cancel()
	case "reset":
		if err := s.state.reset(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.logger.Info("control request", "action", action)
	writeJSON(w, s.statusMessage())
}

func (s *server) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemorySize: memory.RSS})
}

// processDetails serializes one process of the current run. ?field=A.B narrows the
// output to a nested field.
func (s *server) processDetails(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	procs := s.state.snapshot().Processes
	if pid >= len(procs) {
		http.Error(w, fmt.Sprintf("no process %d", pid), http.StatusNotFound)
		return
	}
	status := procs[pid]

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&status)
	serializer.SetMaxDepth(1)
	if field := r.URL.Query().Get("field"); field != "" {
		if err := serializer.SetEntryPoint(strings.Split(field, ".")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := serializer.Serialize(w); err != nil {
		s.logger.Warn("error serializing process", "pid", pid, "err", err)
	}
}

// collectProfile samples the server's CPU for ?duration= (default 1s) and returns
// the parsed profile
func (s *server) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if v := r.URL.Query().Get("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxProfileDuration {
			http.Error(w, fmt.Sprintf("invalid duration %q (must be in (0, %v])", v, maxProfileDuration),
				http.StatusBadRequest)
			return
		}
		duration = d
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, prof)
}

// safeConn wraps a WebSocket connection with a mutex to prevent concurrent writes
type safeConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (sc *safeConn) WriteJSON(v interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.Conn.WriteJSON(v)
}

// uiUpdateLoop pushes a snapshot every interval while a run is active, one more
// once it has ended, and every published event as it arrives
func (s *server) uiUpdateLoop(conn *safeConn, events <-chan simulator.Event, stop <-chan struct{}) {
	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	lastFinal := "" // run whose final snapshot was sent
	for {
		select {
		case <-stop:
			return

		case e := <-events:
			if err := conn.WriteJSON(ServerMessage{Type: "event", Event: e}); err != nil {
				s.logger.Warn("error sending event", "err", err)
				return
			}

		case <-ticker.C:
			runID := s.state.current().RunID()
			running := s.state.isRunning()
			if runID == "" || (!running && runID == lastFinal) {
				continue
			}
			if !running {
				lastFinal = runID
			}

			snap := s.state.snapshot()
			if err := conn.WriteJSON(ServerMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				s.logger.Warn("error sending snapshot", "err", err)
				return
			}
		}
	}
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading connection", "err", err)
		return
	}
	defer conn.Close()

	sc := &safeConn{Conn: conn}
	s.logger.Info("client connected", "remote", r.RemoteAddr)

	if err := sc.WriteJSON(s.statusMessage()); err != nil {
		s.logger.Warn("error sending status", "err", err)
		return
	}

	events, unsubscribe := s.state.subscribe(256)
	defer unsubscribe()
	stop := make(chan struct{})
	defer close(stop)
	go s.uiUpdateLoop(sc, events, stop)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("error reading message", "err", err)
			}
			break
		}
		s.logger.Debug("received command", "type", msg.Type)

		if err := s.dispatch(msg); err != nil {
			sc.WriteJSON(ServerMessage{Type: "error", Error: err.Error()})
			continue
		}
		sc.WriteJSON(s.statusMessage())
	}

	s.logger.Info("client disconnected", "remote", r.RemoteAddr)
}

func (s *server) dispatch(msg ClientMessage) error {
	switch msg.Type {
	case "start":
		alg := s.state.getConfig().Algorithm
		if msg.Algorithm != "" {
			var err error
			if alg, err = simulator.ParseAlgorithm(msg.Algorithm); err != nil {
				return err
			}
		}
		return s.state.start(alg)
	case "pause":
		s.state.pause()
	case "resume":
		s.state.resume()
	case "cancel":
		s.state.cancel()
	case "reset":
		return s.state.reset()
	case "config_update":
		if msg.Config == nil {
			return simulator.SimError{Message: "config_update without config"}
		}
		if err := s.state.updateConfig(*msg.Config); err != nil {
			return err
		}
		s.logger.Info("config updated", "config", *msg.Config)
	default:
		return simulator.SimError{Message: "unknown command " + msg.Type}
	}
	return nil
}
