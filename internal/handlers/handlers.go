package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/depthhive/internal/controller"
	"github.com/Brownie44l1/depthhive/internal/frames"
	"github.com/Brownie44l1/depthhive/internal/logging"
	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Controller is the part of *controller.Controller the handlers use.
type Controller interface {
	Process(ctx context.Context, frame controller.Frame) (controller.Result, error)
	Reconfigure(settings model.Config) error
	Settings() model.Config
	Stats() controller.Stats
	Status() controller.Status
}

type Handler struct {
	ctrl   Controller
	logger *zap.Logger
}

func NewHandler(ctrl Controller, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ctrl:   ctrl,
		logger: logger,
	}
}

// Routes registers every endpoint behind the CORS middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(h.Health))
	mux.HandleFunc("/depth/image", enableCORS(h.DepthFromImage))
	mux.HandleFunc("/stats", enableCORS(h.Stats))
	mux.HandleFunc("/config", enableCORS(h.Config))
	return mux
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Hint: errors.FlattenHints(err)})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.ctrl.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"loaded": status.Loaded,
	})
}

func (h *Handler) DepthFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form (10MB max)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	orientation := 0
	if v := r.FormValue("orientation"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "orientation must be an integer number of degrees", http.StatusBadRequest)
			return
		}
		orientation = o
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := frames.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, BMP, TIFF, WebP", http.StatusBadRequest)
		return
	}

	frame := controller.NewFrame(img, orientation)
	logger := h.logger.With(zap.String(logging.FieldFrameID, frame.ID))
	logger.Debug("Received frame",
		zap.String("file", header.Filename),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	res, err := h.ctrl.Process(r.Context(), frame)
	if err == nil {
		err = res.Err
	}
	switch {
	case err == nil:
	case errors.Is(err, controller.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, controller.ErrNoEngine), errors.Is(err, controller.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		logger.Error("Depth estimation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("depth estimation failed"))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Frame-Id", res.FrameID)
	w.Header().Set("X-Inference-Ms", strconv.FormatInt(res.Stats.LastProcessingMs, 10))
	if err := frames.EncodePNG(w, res.Depth); err != nil {
		logger.Warn("Failed to write depth map", zap.Error(err))
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Stats())
}

// Config reports the active configuration on GET and changes it on PUT.
// Fields missing from a PUT body keep their current value.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	case http.MethodPut:
		settings := h.ctrl.Settings()
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, model.ErrConfiguration) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, err)
			return
		}
		if err := h.ctrl.Reconfigure(settings); err != nil {
			if errors.Is(err, model.ErrConfiguration) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		h.logger.Info("Inference configuration changed", zap.Stringer("settings", settings))
		writeJSON(w, http.StatusAccepted, h.ctrl.Status())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
