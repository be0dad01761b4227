package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"webp-shrink/internal/config"
	"webp-shrink/internal/converter"
	"webp-shrink/internal/encoder"
	"webp-shrink/internal/extractor"
	"webp-shrink/internal/metrics"
	"webp-shrink/internal/output"
	"webp-shrink/internal/saver"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	fs         afero.Fs
	compressor encoder.Compressor
	extractor  extractor.MetadataExtractor
	saver      *saver.Saver
	observer   metrics.Observer
	registry   *prometheus.Registry
	validate   *validator.Validate

	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current batch state
	operationMutex sync.RWMutex
	isRunning      bool
	current        *converter.BatchState
	jobs           sync.WaitGroup
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ConvertRequest starts a batch. Omitted parameters fall back to the
// configured conversion defaults.
type ConvertRequest struct {
	Files        []string `json:"files" validate:"min=1,dive,required"`
	TargetSizeKB *float64 `json:"target_size_kb,omitempty"`
	MinQuality   *int     `json:"min_quality,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxQuality   *int     `json:"max_quality,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type SaveRequest struct {
	Index     int    `json:"index" validate:"gte=0"`
	Directory string `json:"directory"`
}

type SaveAllRequest struct {
	Directory string `json:"directory"`
}

type FileInfo struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	SizeKB int64  `json:"size_kb"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires the HTTP API. A nil registry disables /metrics.
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	fs afero.Fs,
	compressor encoder.Compressor,
	ext extractor.MetadataExtractor,
	reg *prometheus.Registry,
) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		log:        log,
		fs:         fs,
		compressor: compressor,
		extractor:  ext,
		saver:      saver.NewSaver(fs, log, cfg.Output.Overwrite),
		observer:   metrics.Nop{},
		registry:   reg,
		validate:   validator.New(),
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if reg != nil {
		obs, err := metrics.NewPrometheusObserver(cfg.Server.MetricsNamespace, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		s.observer = obs
		s.saver.SetObserver(obs)
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/files", s.handleListFiles).Methods("GET")
	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/results", s.handleResults).Methods("GET")
	api.HandleFunc("/results/{index:[0-9]+}/download", s.handleDownload).Methods("GET")
	api.HandleFunc("/save", s.handleSave).Methods("POST")
	api.HandleFunc("/save-all", s.handleSaveAll).Methods("POST")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down and waits for a running batch to finish.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.Wait()
	return err
}

// Wait blocks until the running batch, if any, has finished.
func (s *Server) Wait() {
	s.jobs.Wait()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	state := s.current
	s.operationMutex.RUnlock()

	data := map[string]interface{}{
		"running": running,
	}
	if state != nil {
		stats := state.Stats
		data["batch_id"] = state.ID
		data["statistics"] = map[string]interface{}{
			"summary": stats.GetSummary(),
			"files": map[string]interface{}{
				"selected":  atomic.LoadInt64(&stats.TotalFilesSelected),
				"processed": atomic.LoadInt64(&stats.TotalFilesProcessed),
				"converted": atomic.LoadInt64(&stats.FilesConverted),
				"errors":    atomic.LoadInt64(&stats.FilesWithErrors),
				"saved":     atomic.LoadInt64(&stats.FilesSaved),
			},
		}
	}

	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	files, err := converter.CollectImageFiles(s.fs, []string{path}, s.cfg.Conversion.SupportedExtensions)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to list files: %v", err), http.StatusBadRequest)
		return
	}

	infos := make([]FileInfo, 0, len(files))
	for _, f := range files {
		info, err := s.fs.Stat(f)
		if err != nil {
			continue
		}
		infos = append(infos, FileInfo{
			Path:   f,
			Name:   info.Name(),
			SizeKB: info.Size() / 1024,
		})
	}

	s.writeJSON(w, APIResponse{Success: true, Data: infos})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	params := s.paramsFor(req)
	if err := params.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Conversion already in progress", http.StatusConflict)
		return
	}
	state := converter.NewBatchState(req.Files, params)
	s.isRunning = true
	s.current = &state
	s.jobs.Add(1)
	s.operationMutex.Unlock()

	go s.runConvertAsync(state)

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Conversion started",
		Data:    map[string]string{"batch_id": state.ID},
	})
}

// paramsFor fills omitted request fields from configuration.
func (s *Server) paramsFor(req ConvertRequest) converter.Params {
	params := converter.Params{
		TargetSizeKB: s.cfg.Conversion.TargetSizeKB,
		MinQuality:   s.cfg.Conversion.MinQuality,
		MaxQuality:   s.cfg.Conversion.MaxQuality,
	}
	if req.TargetSizeKB != nil {
		params.TargetSizeKB = *req.TargetSizeKB
	}
	if req.MinQuality != nil {
		params.MinQuality = *req.MinQuality
	}
	if req.MaxQuality != nil {
		params.MaxQuality = *req.MaxQuality
	}
	return params
}

func (s *Server) runConvertAsync(state converter.BatchState) {
	defer s.jobs.Done()

	s.broadcastWSMessage("conversion_started", map[string]interface{}{
		"batch_id": state.ID,
		"files":    len(state.Files),
	})

	conv := converter.NewConverterWithProgress(s.cfg, s.fs, s.log, s.compressor, func(p converter.Progress) {
		s.broadcastWSMessage("conversion_progress", map[string]interface{}{
			"batch_id":  p.BatchID,
			"completed": p.Completed,
			"total":     p.Total,
			"percent":   p.Percent(),
			"file":      p.Outcome.OriginalName,
			"line":      output.OutcomeLine(p.Outcome),
			"success":   p.Outcome.Success(),
		})
	})
	conv.SetObserver(s.observer)

	state = conv.Convert(state)

	s.operationMutex.Lock()
	s.isRunning = false
	s.current = &state
	s.operationMutex.Unlock()

	s.broadcastWSMessage("conversion_completed", output.NewReport(state))
}

// completedBatch returns the finished batch, or an HTTP status explaining
// why there is none.
func (s *Server) completedBatch() (*converter.BatchState, int, string) {
	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()

	if s.isRunning {
		return nil, http.StatusConflict, "Conversion still in progress"
	}
	if s.current == nil || !s.current.Converted() {
		return nil, http.StatusNotFound, "No converted batch"
	}
	return s.current, http.StatusOK, ""
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	state, code, msg := s.completedBatch()
	if state == nil {
		s.writeError(w, msg, code)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: output.NewReport(*state)})
}

func (s *Server) outcomeAt(w http.ResponseWriter, index int) (converter.Outcome, *converter.BatchState, bool) {
	state, code, msg := s.completedBatch()
	if state == nil {
		s.writeError(w, msg, code)
		return converter.Outcome{}, nil, false
	}
	if index < 0 || index >= len(state.Outcomes) {
		s.writeError(w, "No such file in batch", http.StatusNotFound)
		return converter.Outcome{}, nil, false
	}
	out := state.Outcomes[index]
	if !out.Success() {
		s.writeError(w, fmt.Sprintf("%s was not converted: %s", out.OriginalName, out.Message()), http.StatusUnprocessableEntity)
		return converter.Outcome{}, nil, false
	}
	return out, state, true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, "Invalid index", http.StatusBadRequest)
		return
	}
	out, _, ok := s.outcomeAt(w, index)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", saver.OutputName(out.OriginalName)))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Result.Output)))
	if _, err := w.Write(out.Result.Output); err != nil {
		s.log.Errorf("Failed to write download: %v", err)
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	out, state, ok := s.outcomeAt(w, req.Index)
	if !ok {
		return
	}

	res, err := s.saver.SaveOne(out, saver.FixedDialog{Directory: req.Directory})
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res.Success() {
		state.Stats.IncrementFilesSaved()
	}
	s.writeJSON(w, APIResponse{Success: true, Data: res})
}

func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	var req SaveAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, code, msg := s.completedBatch()
	if state == nil {
		s.writeError(w, msg, code)
		return
	}

	dir := req.Directory
	if dir == "" {
		dir = s.cfg.Output.Directory
	}
	res, err := s.saver.SaveAll(*state, dir, saver.FixedDialog{})
	if err != nil {
		var werr *saver.WriteError
		if errors.As(err, &werr) {
			s.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: res})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "path is required", http.StatusBadRequest)
		return
	}
	if s.extractor == nil {
		s.writeError(w, "Metadata inspection is not available", http.StatusNotImplemented)
		return
	}

	md, err := s.extractor.Extract(path)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: md})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes are serialized under the write lock; gorilla connections
	// allow only one concurrent writer.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
