// Package botapitest 提供内存版远程服务，供上层包的集成测试使用
package botapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

// Server 远程 bot 服务的内存实现
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	files     map[string]bool
	resources map[string]string // path → value, 如 /get_chatIcon/abc123
	apiKeys   map[string]string
	hits      map[string]int
	healthy   bool
	failList  bool
}

func NewServer() *Server {
	s := &Server{
		files:     map[string]bool{},
		resources: map[string]string{},
		apiKeys:   map[string]string{},
		hits:      map[string]int{},
		healthy:   true,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddFile 预置 bot 文件（name-code.html）
func (s *Server) AddFile(name string) {
	s.mu.Lock()
	s.files[name] = true
	s.mu.Unlock()
}

// SetResource 预置资源值，path 如 /get_chatIcon/abc123
func (s *Server) SetResource(path, value string) {
	s.mu.Lock()
	s.resources[path] = value
	s.mu.Unlock()
}

func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	s.mu.Unlock()
}

// FailList 列表接口返回 503
func (s *Server) FailList(fail bool) {
	s.mu.Lock()
	s.failList = fail
	s.mu.Unlock()
}

func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (s *Server) Resource(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.resources[path]
	return v, ok
}

func (s *Server) APIKey(fileID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKeys[fileID]
}

// Hits 某个路径被请求的次数
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := r.URL.Path
	s.hits[path]++

	var body map[string]string
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case path == "/health":
		if !s.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))

	case path == "/get-bots-files":
		if s.failList {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		names := make([]string, 0, len(s.files))
		for f := range s.files {
			if strings.HasSuffix(f, ".html") {
				names = append(names, f)
			}
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, map[string]string{"files": strings.Join(names, ", ")})

	case path == "/generate-html":
		if body["filename"] == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filename required"})
			return
		}
		s.files[body["filename"]+".html"] = true
		s.apiKeys[body["filename"]] = body["apiKey"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "created"})

	case strings.HasPrefix(path, "/delete-file/"):
		name := strings.TrimPrefix(path, "/delete-file/")
		if !s.files[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.files, name)
		w.WriteHeader(http.StatusNoContent)

	case path == "/chatIconSave" || path == "/botIconSave":
		s.files[body["filename"]] = true
		prefix := "/get_chatIcon/"
		if path == "/botIconSave" {
			prefix = "/get_botIcon/"
		}
		s.resources[prefix+body["bot_code"]] = body["image_data"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})

	case path == "/bgSave":
		s.resources["/get_bg/"+body["code"]] = body["image"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})

	case path == "/headerImg":
		s.resources["/header_img/"+body["code"]] = body["image"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})

	case path == "/chatboxtext":
		s.resources["/chatbox_text/"+body["code"]] = body["text"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})

	case path == "/chatgradient":
		s.resources["/chatgradient/"+body["code"]] = body["gradient"]
		writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})

	case r.Method == http.MethodGet:
		v, ok := s.resources[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasPrefix(path, "/chatbox_text/") {
			// 文本接口返回纯文本
			_, _ = w.Write([]byte(v))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"image": v})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
