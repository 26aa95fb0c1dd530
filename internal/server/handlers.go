package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabetor/speaktranslate/internal/audio"
	"github.com/iabetor/speaktranslate/internal/storage"
	"github.com/iabetor/speaktranslate/internal/translation"
	"github.com/iabetor/speaktranslate/internal/wake"
)

// maxJSONBytes 是 /api/conversation 请求体的上限。
const maxJSONBytes = 1 << 20

// uploadExtensions 把上传的 Content-Type 映射为扩展名，未列出的类型按文件名判断。
var uploadExtensions = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/aac":   ".aac",
	"audio/mpeg":  ".mp3",
	"audio/ogg":   ".ogg",
	"audio/mp4":   ".m4a",
	"video/mp4":   ".mp4",
}

var audioContentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".ogg": "audio/ogg",
}

type conversationRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type healthResponse struct {
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	TempDir     string          `json:"temp_dir"`
	AudioDir    string          `json:"audio_dir"`
	Credentials map[string]bool `json:"credentials"`
}

type commandResponse struct {
	Command string `json:"command"`
	Action  string `json:"action,omitempty"`
	State   string `json:"state"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	State  string `json:"state,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	creds := make(map[string]bool, len(s.opts.Credentials))
	for k, v := range s.opts.Credentials {
		creds[k] = v
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		TempDir:     s.deps.Uploads.ScratchDir(),
		AudioDir:    s.deps.Audio.Dir(),
		Credentials: creds,
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context())

	var req conversationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.SourceLang == "" {
		req.SourceLang = "en"
	}
	if req.TargetLang == "" {
		req.TargetLang = "en"
	}

	result, err := s.deps.Translator.Translate(r.Context(), req.Text, req.SourceLang, req.TargetLang)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, translation.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "text must not be empty")
	case errors.Is(err, translation.ErrUpstreamModel):
		log.Errorf("[server] 翻译失败: %v", err)
		writeError(w, http.StatusBadGateway, "translation model unavailable")
	default:
		log.Errorf("[server] 翻译失败: %v", err)
		writeError(w, http.StatusInternalServerError, "translation failed")
	}
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context())

	path, release, status, err := s.receiveUpload(w, r)
	defer release()
	if err != nil {
		log.Warnf("[server] 接收音频失败: %v", err)
		writeError(w, status, uploadErrorDetail(status, err))
		return
	}

	text, err := s.deps.Transcriber.Transcribe(r.Context(), path, r.FormValue("language"))
	if err != nil {
		log.Errorf("[server] 语音转写失败: %v", err)
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "unsupported audio format")
			return
		}
		writeError(w, http.StatusInternalServerError, "Audio processing failed. See server logs for details.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleVoiceCommand(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context())

	path, release, status, err := s.receiveUpload(w, r)
	defer release()
	if err != nil {
		log.Warnf("[server] 接收音频失败: %v", err)
		writeError(w, status, uploadErrorDetail(status, err))
		return
	}

	out := s.deps.Detector.Detect(r.Context(), path)
	switch out.State {
	case wake.StateMatched, wake.StateUnrecognized:
		writeJSON(w, http.StatusOK, commandResponse{Command: out.Command, Action: out.Action, State: out.State.String()})
	case wake.StateTimeout:
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Detail: "Recognition timeout", State: out.State.String()})
	default:
		log.Errorf("[server] 命令词识别失败: %v", out.Err)
		if errors.Is(out.Err, audio.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "unsupported audio format")
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Command processing failed", State: wake.StateError.String()})
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	f, err := s.deps.Audio.Open(name)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid filename")
		return
	case errors.Is(err, storage.ErrFileNotFound):
		requestLogger(r.Context()).Warnf("[server] 音频不存在: %s", name)
		writeError(w, http.StatusNotFound, "Audio file not found")
		return
	case err != nil:
		requestLogger(r.Context()).Errorf("[server] 读取音频失败: %v", err)
		writeError(w, http.StatusInternalServerError, "audio delivery failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audio delivery failed")
		return
	}
	if ct, ok := audioContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// receiveUpload 把 multipart 字段 file 写入临时文件。release 总是非 nil。
// 扩展名不受支持时在写盘前即拒绝。
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (string, func(), int, error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", noop, http.StatusRequestEntityTooLarge, err
		}
		return "", noop, http.StatusBadRequest, fmt.Errorf("[server] 缺少 file 字段: %w", err)
	}
	defer file.Close()

	ext := uploadExtension(header)
	if !audio.IsSupported(ext) {
		return "", noop, http.StatusBadRequest, &formatError{ext: ext}
	}

	path, release, err := s.deps.Uploads.TempFile(ext)
	if err != nil {
		return "", release, http.StatusInternalServerError, err
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", release, http.StatusInternalServerError, fmt.Errorf("[server] 打开临时文件失败: %w", err)
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		return "", release, http.StatusInternalServerError, fmt.Errorf("[server] 写入上传文件失败: %w", errors.Join(copyErr, closeErr))
	}
	return path, release, http.StatusOK, nil
}

// uploadExtension 优先按 Content-Type 判断扩展名，其次按文件名，都没有时视为 wav。
func uploadExtension(header *multipart.FileHeader) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(header.Header.Get("Content-Type"), ";")[0]))
	if ext, ok := uploadExtensions[ct]; ok {
		return ext
	}
	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != "" {
		return ext
	}
	return ".wav"
}

// formatError 表示上传的扩展名不受支持，错误链上带 audio.ErrUnsupportedFormat。
type formatError struct {
	ext string
}

func (e *formatError) Error() string {
	return "unsupported audio format: " + e.ext
}

func (e *formatError) Unwrap() error { return audio.ErrUnsupportedFormat }

func uploadErrorDetail(status int, err error) string {
	var fe *formatError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "audio file too large"
	case http.StatusBadRequest:
		return "invalid audio upload"
	default:
		return "Audio processing failed. See server logs for details."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
