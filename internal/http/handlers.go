package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kanimedia/internal/assets"
	"kanimedia/internal/codec"
	"kanimedia/internal/config"
	"kanimedia/internal/gate"
	"kanimedia/internal/pipeline"
	"kanimedia/internal/transform"
)

// Service version reported by /version.
const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

// Handlers owns the HTTP surface. index and ingestor are nil when the
// asset source is remote (origin or s3); the endpoints needing them
// answer 501 in that case.
type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	index    *assets.Index
	ingestor *assets.Ingestor
}

func New(config *config.Config, logger *zap.Logger, p *pipeline.Pipeline, index *assets.Index, ingestor *assets.Ingestor) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		pipeline: p,
		index:    index,
		ingestor: ingestor,
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleAssetRoutes dispatches /asset/{id} and /asset/{id}/meta.
func (h *Handlers) HandleAssetRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/asset/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}

	assetID := parts[0]

	switch {
	case len(parts) == 1:
		h.handleRendition(w, r, assetID)
	case len(parts) == 2 && parts[1] == "meta":
		h.handleAssetMeta(w, r, assetID)
	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handlers) handleRendition(w http.ResponseWriter, r *http.Request, assetID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	spec, err := transform.ParseQuery(r.URL.Query())
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	result, err := h.pipeline.Render(r.Context(), assetID, spec)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	etag := `"` + result.ETag + `"`
	w.Header().Set("ETag", etag)

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, result.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}

func (h *Handlers) handleAssetMeta(w http.ResponseWriter, r *http.Request, assetID string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.index == nil {
		h.writeError(w, http.StatusNotImplemented, "asset metadata requires a local asset root")
		return
	}

	meta, ok := h.index.ByID(assetID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

// HandleAssets serves the listing on GET and ingests uploads on POST.
func (h *Handlers) HandleAssets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleUpload(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		h.writeError(w, http.StatusNotImplemented, "asset listing requires a local asset root")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.index.List())
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		h.writeError(w, http.StatusNotImplemented, "uploads require a local asset root")
		return
	}

	if !h.config.IsUploadPublic() {
		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != h.config.UploadToken {
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowedExts := map[string]bool{
		".tif":  true,
		".tiff": true,
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
	}

	if !allowedExts[ext] {
		h.writeError(w, http.StatusBadRequest, "invalid file extension")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	meta, err := h.ingestor.Ingest(data, header.Filename)
	if err != nil {
		if errors.Is(err, codec.ErrDecode) {
			h.writeError(w, http.StatusBadRequest, "unreadable image")
			return
		}
		h.logger.Error("Failed to ingest upload", zap.String("filename", header.Filename), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(meta)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"major": versionMajor,
		"minor": versionMinor,
		"patch": versionPatch,
	})
}

// renderError maps pipeline failures onto the response status. Client
// mistakes stay quiet; server-side failures get logged.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transform.ErrInvalid):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assets.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "asset not found")
	case errors.Is(err, gate.ErrSaturated):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "transcoder saturated, retry shortly")
	case errors.Is(err, assets.ErrUpstream):
		h.logger.Warn("Upstream fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "asset origin unavailable")
	case errors.Is(err, context.Canceled):
		// Client is gone, nothing left to answer.
	default:
		h.logger.Error("Failed to render asset", zap.String("path", r.URL.Path), zap.String("query", r.URL.RawQuery), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to process image")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// Trusts proxy-supplied headers; the service is expected to run
// behind Cloudflare or a comparable reverse proxy.
func (h *Handlers) extractIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}

	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
