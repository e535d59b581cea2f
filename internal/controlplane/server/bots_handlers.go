package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/internal/botsync"
	httpclient "github.com/betbot/botdash/pkg/sdk/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeOpError ValidationError → 400，服务端拒绝 → 502 并附带上游状态码，其余 → 502
func writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	if botsync.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqLog(r).WithError(err).Warn("upstream operation failed")
	body := map[string]any{"error": err.Error()}
	if code := httpclient.StatusCode(err); code > 0 {
		body["upstream_status"] = code
	}
	writeJSON(w, http.StatusBadGateway, body)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (s *Server) handleBotsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Bots.Snapshot())
}

func (s *Server) handleBotGet(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.cfg.Bots.Bot(urlParam(r, "code"))
	if !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

type createBotRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

func (s *Server) handleBotsCreate(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	bot, err := s.cfg.Bots.AddBot(r.Context(), req.Name, req.APIKey)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleBotDelete(w http.ResponseWriter, r *http.Request) {
	code := urlParam(r, "code")
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if err := s.cfg.Bots.DeleteBot(r.Context(), name, code); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateImageRequest struct {
	ImageData string `json:"image_data"`
}

func (s *Server) handleBotImageUpdate(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.cfg.Bots.Bot(urlParam(r, "code"))
	if !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	kind := botapi.ImageKind(urlParam(r, "type"))

	var data string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		uri, err := s.readUpload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data = uri
	} else {
		var req updateImageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		data = req.ImageData
	}

	updated, err := s.cfg.Bots.UpdateBotImage(r.Context(), bot, kind, data)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// readUpload 把 multipart 的 file 字段编码成 data URI（远程服务只接受 JSON）
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return "", fmt.Errorf("invalid upload: %v", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("file is required")
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload: %v", err)
	}
	contentType := hdr.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(raw)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported file type %s", contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

type updateTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleBotTextUpdate(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.cfg.Bots.Bot(urlParam(r, "code"))
	if !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	var req updateTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	updated, err := s.cfg.Bots.UpdateBotText(r.Context(), bot, botapi.TextKind(urlParam(r, "type")), req.Text)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Bots.Refresh(r.Context()); err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Bots.Snapshot())
}

type connectivityResponse struct {
	Success    bool   `json:"success"`
	URL        string `json:"url"`
	Timestamp  string `json:"timestamp"`
	BackendURL string `json:"backend_url"`
}

func (s *Server) connectivity(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Probe == nil {
		writeError(w, http.StatusNotImplemented, "connectivity probe not configured")
		return
	}
	res := s.cfg.Probe.Test(r.Context())
	writeJSON(w, http.StatusOK, connectivityResponse{
		Success:    res.Success,
		URL:        res.URL,
		Timestamp:  res.Timestamp.UTC().Format(time.RFC3339),
		BackendURL: s.cfg.BackendURL(),
	})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	s.connectivity(w, r)
}

func (s *Server) handleConnectivityRetry(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Probe != nil {
		s.cfg.Probe.Invalidate()
	}
	s.connectivity(w, r)
}
