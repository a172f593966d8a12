// Package api exposes HTTP handlers for sensor reading ingestion and retrieval.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/magcollector/internal/auth"
	"example.com/magcollector/internal/domain"
	"example.com/magcollector/internal/events"
)

// maxBodyBytes bounds upload request bodies.
const maxBodyBytes = 32 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", index)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/api/v1/upload", h.upload)
	mux.HandleFunc("/api/v1/magnetics", h.uploadMagnetics)
	mux.HandleFunc("/api/v1/magnetics/latest", h.latestMagnetics)
	mux.HandleFunc("/api/v1/fetch_batch", h.fetchBatches)
	mux.HandleFunc("/api/v1/fetch", h.fetchBatch)
}

func index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "backend is running"})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeReadingsWrite) {
		return
	}

	var req events.Upload
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Upload(r.Context(), req.Input(domain.SourceAPI))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Status:            "ok",
		InsertedMagnetics: result.Write.InsertedMagnetics,
		InsertedPoses:     result.Write.InsertedPoses,
		BatchTime:         result.BatchTime,
	})
}

func (h *Handler) uploadMagnetics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeReadingsWrite) {
		return
	}

	var req events.MagneticUpload
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "records is empty")
		return
	}

	result, err := h.service.Upload(r.Context(), req.Input(domain.SourceAPI))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MagneticUploadResponse{
		Status:    "ok",
		Inserted:  result.Write.InsertedMagnetics,
		BatchTime: result.BatchTime,
	})
}

func (h *Handler) latestMagnetics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeReadingsRead, auth.ScopeReadingsWrite) {
		return
	}

	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}

	limit := domain.DefaultLatestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > domain.MaxLatestLimit {
			writeError(w, http.StatusBadRequest, "validation_failed", domain.ErrInvalidLimit.Error())
			return
		}
		limit = parsed
	}

	readings, err := h.service.LatestMagnetics(r.Context(), deviceID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]LatestMagneticView, 0, len(readings))
	for _, m := range readings {
		items = append(items, LatestMagneticView{
			DeviceID:  m.DeviceID,
			Timestamp: m.TS,
			X:         m.X,
			Y:         m.Y,
			Z:         m.Z,
			BatchTime: m.BatchTime,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) fetchBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeReadingsRead, auth.ScopeReadingsWrite) {
		return
	}

	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}

	batches, err := h.service.ListBatches(r.Context(), deviceID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]BatchView, 0, len(batches))
	for _, bt := range batches {
		items = append(items, BatchView{DeviceID: deviceID, BatchTime: bt})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) fetchBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeReadingsRead, auth.ScopeReadingsWrite) {
		return
	}

	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	batchTime, err := strconv.ParseInt(r.URL.Query().Get("batch_time"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "batch_time must be an integer")
		return
	}

	b, err := h.service.FetchBatch(r.Context(), deviceID, batchTime)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDataView(b))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrInvalidDevice),
		errors.Is(err, domain.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return false
	}
	if !claims.HasAnyScope(scopes...) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
		return false
	}
	return true
}

func requireDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing device_id parameter")
		return "", false
	}
	return deviceID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

// UploadResponse describes the response body for POST /api/v1/upload.
type UploadResponse struct {
	Status            string `json:"status"`
	InsertedMagnetics int    `json:"inserted_magnetics"`
	InsertedPoses     int    `json:"inserted_poses"`
	BatchTime         int64  `json:"batch_time"`
}

// MagneticUploadResponse describes the response body for POST /api/v1/magnetics.
type MagneticUploadResponse struct {
	Status    string `json:"status"`
	Inserted  int    `json:"inserted"`
	BatchTime int64  `json:"batch_time"`
}

// LatestMagneticView is one item of GET /api/v1/magnetics/latest.
type LatestMagneticView struct {
	DeviceID  string    `json:"device_id"`
	Timestamp int64     `json:"timestamp"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	BatchTime int64     `json:"batch_time"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchView is one item of GET /api/v1/fetch_batch.
type BatchView struct {
	DeviceID  string `json:"device_id"`
	BatchTime int64  `json:"batch_time"`
}

// MagneticView is a magnetic record inside a fetched batch.
type MagneticView struct {
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// PoseView is a pose record inside a fetched batch.
type PoseView struct {
	Timestamp int64   `json:"timestamp"`
	PosX      float64 `json:"pos_x"`
	PosY      float64 `json:"pos_y"`
	PosZ      float64 `json:"pos_z"`
	OriX      float64 `json:"ori_x"`
	OriY      float64 `json:"ori_y"`
	OriZ      float64 `json:"ori_z"`
	OriW      float64 `json:"ori_w"`
}

// BatchDataView is the response body of GET /api/v1/fetch.
type BatchDataView struct {
	DeviceID  string         `json:"device_id"`
	BatchTime int64          `json:"batch_time"`
	Magnetics []MagneticView `json:"magnetics"`
	Poses     []PoseView     `json:"poses"`
}

func toBatchDataView(b domain.Batch) BatchDataView {
	view := BatchDataView{
		DeviceID:  b.DeviceID,
		BatchTime: b.BatchTime,
		Magnetics: make([]MagneticView, 0, len(b.Magnetics)),
		Poses:     make([]PoseView, 0, len(b.Poses)),
	}
	for _, m := range b.Magnetics {
		view.Magnetics = append(view.Magnetics, MagneticView{Timestamp: m.TS, X: m.X, Y: m.Y, Z: m.Z})
	}
	for _, p := range b.Poses {
		view.Poses = append(view.Poses, PoseView{
			Timestamp: p.TS,
			PosX:      p.PosX,
			PosY:      p.PosY,
			PosZ:      p.PosZ,
			OriX:      p.OriX,
			OriY:      p.OriY,
			OriZ:      p.OriZ,
			OriW:      p.OriW,
		})
	}
	return view
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
