// Package server 提供 speaktranslate 的 HTTP 接口。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/iabetor/speaktranslate/internal/logger"
	"github.com/iabetor/speaktranslate/internal/translation"
	"github.com/iabetor/speaktranslate/internal/wake"
)

// Translator 生成译文与朗读音频。
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*translation.Result, error)
}

// Transcriber 把一段音频转写为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
}

// CommandDetector 识别音频中的命令词。
type CommandDetector interface {
	Detect(ctx context.Context, audioPath string) wake.Outcome
}

// AudioStore 提供已合成的音频文件。
type AudioStore interface {
	Open(filename string) (*os.File, error)
	Dir() string
}

// Uploads 为上传的音频分配临时文件。
type Uploads interface {
	TempFile(ext string) (path string, release func(), err error)
	ScratchDir() string
}

// Deps 是 Server 的依赖，均不可为 nil。
type Deps struct {
	Translator  Translator
	Transcriber Transcriber
	Detector    CommandDetector
	Audio       AudioStore
	Uploads     Uploads
}

// Options HTTP 服务选项。
type Options struct {
	Addr           string
	MaxConnections int
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// Credentials 为 /health 报告的各项凭据是否已配置，不含密钥本身。
	Credentials map[string]bool
}

// Server 是 speaktranslate 的 HTTP 服务。
type Server struct {
	deps Deps
	opts Options
	mux  *http.ServeMux
	now  func() time.Time
}

// New 创建 HTTP 服务并注册路由。
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Translator == nil || deps.Transcriber == nil || deps.Detector == nil {
		return nil, fmt.Errorf("[server] 缺少翻译、转写或命令词依赖")
	}
	if deps.Audio == nil || deps.Uploads == nil {
		return nil, fmt.Errorf("[server] 缺少音频存储依赖")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}

	s := &Server{deps: deps, opts: opts, mux: http.NewServeMux(), now: time.Now}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/conversation", s.handleConversation)
	s.mux.HandleFunc("POST /api/speech-to-text", s.handleSpeechToText)
	s.mux.HandleFunc("POST /api/voice-command", s.handleVoiceCommand)
	s.mux.HandleFunc("GET /api/audio/{filename}", s.handleAudio)
	return s, nil
}

// Handler 返回带请求日志的根 handler。
func (s *Server) Handler() http.Handler {
	return s.withRequestLog(s.mux)
}

// Run 监听 Addr 直到 ctx 取消，然后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("[server] 监听 %s 失败: %w", s.opts.Addr, err)
	}
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上提供服务，ctx 取消后等待进行中的请求完成（最多 10 秒）。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[server] HTTP 服务已启动: %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("[server] HTTP 服务异常: %w", err)
	case <-ctx.Done():
	}

	logger.Info("[server] 正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("[server] 优雅关闭失败，强制关闭: %v", err)
		srv.Close()
	}
	return nil
}

type ctxKey struct{}

// requestLogger 返回绑定了 request_id 的日志器。
func requestLogger(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
		return l
	}
	return logger.L
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog 为每个请求分配 request_id，并记录状态码与耗时。
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		log := logger.With("request_id", id)

		ctx, cancel := context.WithTimeout(context.WithValue(r.Context(), ctxKey{}, log), s.opts.RequestTimeout)
		defer cancel()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		log.Infof("[server] %s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
