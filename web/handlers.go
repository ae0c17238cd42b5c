package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"

	"go.uber.org/zap"

	"trial-capture-recorder/config"
	"trial-capture-recorder/display"
)

// Handlers manages HTTP request handlers
type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	statusFn func() map[string]interface{}
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		config: cfg,
		logger: logger,
	}
}

// SetStatusFunc installs the session status provider.
func (h *Handlers) SetStatusFunc(fn func() map[string]interface{}) {
	h.statusFn = fn
}

// HandleAPIStatus returns the live session status
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"session_id": h.config.Recording.SessionID,
		"running":    true,
	}
	if h.statusFn != nil {
		for k, v := range h.statusFn() {
			status[k] = v
		}
	}
	h.writeJSON(w, status)
}

// HandleAPIConfig returns the effective configuration
func (h *Handlers) HandleAPIConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.config)
}

// HandleHealth is a liveness probe
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// wsMessage is one websocket push to a viewer.
type wsMessage struct {
	Type     string `json:"type"`
	Progress string `json:"progress,omitempty"`
	Frame    string `json:"frame,omitempty"` // base64 JPEG
	Index    int    `json:"index,omitempty"`
}

// encodeUpdate turns a feed update into a websocket message, compressing
// the Mono8 payload to JPEG for the browser.
func encodeUpdate(update display.Update) (*wsMessage, error) {
	if update.Frame == nil {
		return &wsMessage{Type: "progress", Progress: update.Progress}, nil
	}

	img := &image.Gray{
		Pix:    update.Frame.Data,
		Stride: update.Frame.Width,
		Rect:   image.Rect(0, 0, update.Frame.Width, update.Frame.Height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}

	return &wsMessage{
		Type:     "frame",
		Progress: update.Progress,
		Frame:    base64.StdEncoding.EncodeToString(buf.Bytes()),
		Index:    update.Frame.Index,
	}, nil
}
