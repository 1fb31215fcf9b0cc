package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rjboer/GoGNSS/internal/agc"
	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/fifo"
	"github.com/rjboer/GoGNSS/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	SpectrumBins int `json:"spectrumBins"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
	minSpectrumBins = 16
	maxSpectrumBins = 1 << 16
)

func defaultConfig() Config {
	return Config{
		HistoryLimit: 500,
		SpectrumBins: 512,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.SpectrumBins == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.SpectrumBins == 0 {
		cfg.SpectrumBins = base.SpectrumBins
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.SpectrumBins < minSpectrumBins || cfg.SpectrumBins > maxSpectrumBins {
		return Config{}, fmt.Errorf("spectrum bins must be between %d and %d", minSpectrumBins, maxSpectrumBins)
	}
	return cfg, nil
}

// Sample captures the queue state seen by a consumer at one point in time.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Count     uint64    `json:"count"`
	Occupancy int       `json:"occupancy"`
	Depth     int       `json:"depth"`
	Scale     int32     `json:"scale"`
	Overflows uint64    `json:"overflows"`
	Gaps      uint64    `json:"gaps"`
	Lost      uint64    `json:"lost"`
}

// Source is the running acquisition pipeline as seen by the web API.
type Source interface {
	Status() fifo.Status
	SetScale(v int32)
}

// ErrNoSource is reported while no pipeline is attached.
var ErrNoSource = errors.New("no acquisition source attached")

// Hub collects history and fan-outs telemetry updates to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Sample
	subscribers map[chan Sample]struct{}
	config      Config
	spectrum    *dsp.Spectrum
	source      Source
	logger      logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		subscribers: make(map[chan Sample]struct{}),
		config:      cfg,
		logger:      logger.With(logging.F("subsystem", "telemetry")),
	}
}

// Attach connects the hub to a running pipeline.
func (h *Hub) Attach(src Source) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// ReportSpectrum implements Reporter and keeps the latest spectrum.
func (h *Hub) ReportSpectrum(s dsp.Spectrum) {
	h.mu.Lock()
	h.spectrum = &s
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Spectrum returns the latest spectrum, if any.
func (h *Hub) Spectrum() (dsp.Spectrum, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.spectrum == nil {
		return dsp.Spectrum{}, false
	}
	return *h.spectrum, true
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// closeSubscribers ends every live stream.
func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) attached() (Source, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.source == nil {
		return nil, ErrNoSource
	}
	return h.source, nil
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	src, err := h.attached()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, src.Status())
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s, ok := h.Spectrum()
	if !ok {
		http.Error(w, "no spectrum yet", http.StatusNotFound)
		return
	}
	bins := h.ConfigSnapshot().SpectrumBins
	if q := r.URL.Query().Get("bins"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < minSpectrumBins || n > maxSpectrumBins {
			http.Error(w, fmt.Sprintf("bins must be an integer between %d and %d", minSpectrumBins, maxSpectrumBins), http.StatusBadRequest)
			return
		}
		bins = n
	}
	if len(s.DBFS) > bins {
		s.BinHz *= float64(len(s.DBFS)) / float64(bins)
		s.DBFS = dsp.Decimate(s.DBFS, bins)
	}
	writeJSON(w, s)
}

type gainRequest struct {
	Scale int32 `json:"scale"`
}

func (h *Hub) handleGain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req gainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid gain payload: %v", err), http.StatusBadRequest)
		return
	}
	if req.Scale < agc.MinScale || req.Scale > agc.MaxScale {
		http.Error(w, fmt.Sprintf("scale must be between %d and %d", agc.MinScale, agc.MaxScale), http.StatusBadRequest)
		return
	}
	src, err := h.attached()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	src.SetScale(req.Scale)
	h.logger.Info("gain scale set over http", logging.F("scale", req.Scale), logging.F("remote", r.RemoteAddr))
	writeJSON(w, req)
}

func (h *Hub) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.ConfigSnapshot())
	case http.MethodPost:
		var incoming Config
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
			return
		}
		cfg, err := validateConfig(incoming, h.ConfigSnapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.applyConfig(cfg)
		h.mu.Unlock()
		writeJSON(w, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, _ := json.Marshal(sample)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
