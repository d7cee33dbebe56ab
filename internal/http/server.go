// Package http exposes the session manager over a small JSON + SSE api.
package http

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/sessions"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
	"moff.io/wallet-connector/pkg/log/middleware"
)

const (
	codeBadRequest      = 4000
	codeNotFound        = 4004
	codeConflict        = 4009
	codeTooManyRequests = 4029
	codeInternal        = 5000
)

// Limiter decides whether a client may start another connect attempt.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type Server struct {
	manager *sessions.Manager
	options *connector.Options
	limiter Limiter

	addr           string
	requestTimeout time.Duration
	// 等待 walletconnect 二维码的最长时间
	pairingTimeout time.Duration
	srv            *http.Server
}

type Option func(*Server)

func WithLimiter(limiter Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// NewServer serves manager, options are used for walletconnect sessions.
func NewServer(manager *sessions.Manager, options *connector.Options, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		options:        options,
		addr:           ":8080",
		requestTimeout: time.Second * 60,
		pairingTimeout: time.Second * 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Apply(c *config.Configuration) {
	if c.HTTP.Addr != "" {
		s.addr = c.HTTP.Addr
	}
	if c.HTTP.RequestTimeout > 0 {
		s.requestTimeout = c.HTTP.RequestTimeout
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(
		middleware.NoResponseBodyLog("/sessions/:id/events"),
		middleware.SkipLog("/metrics"),
	))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	// 事件流不设超时
	router.GET("/sessions/:id/events", s.events)

	api := router.Group("/", middleware.TimeoutHTTP(s.requestTimeout))
	api.POST("/sessions/:kind", s.create)
	api.GET("/sessions/:id", s.get)
	api.GET("/sessions/:id/accounts", s.accounts)
	api.DELETE("/sessions/:id", s.close)
	return router
}

// Start serves in the background until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{Addr: s.addr, Handler: s.Handler()}
	go func() {
		log.Infof("http server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(errors.WrapAndReport(err, "http server"))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("http server shutdown:%v", err)
	}
}

type sessionView struct {
	ID        string                      `json:"id"`
	Kind      connector.Kind              `json:"kind"`
	State     sessions.State              `json:"state"`
	CreatedAt time.Time                   `json:"created_at"`
	Result    *connector.ConnectionResult `json:"result,omitempty"`
	Error     *connector.Error            `json:"error,omitempty"`
	// 仅 walletconnect
	URI    string `json:"uri,omitempty"`
	QRCode string `json:"qr_code,omitempty"`
}

func viewOf(sess *sessions.Session) *sessionView {
	v := &sessionView{
		ID:        sess.ID,
		Kind:      sess.Kind,
		State:     sess.State(),
		CreatedAt: sess.CreatedAt,
	}
	res, err := sess.Result()
	v.Result = res
	if ce, ok := connector.AsError(err); ok {
		v.Error = ce
	}
	return v
}

type qrCode struct {
	uri string
	png []byte
}

func (s *Server) create(ctx *gin.Context) {
	kind := connector.Kind(ctx.Param("kind"))
	if !s.allow(ctx) {
		return
	}
	sess, err := s.manager.Create(kind)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if kind != connector.KindWalletConnect {
		if _, err := s.manager.Connect(ctx.Request.Context(), sess, s.options); err != nil {
			s.fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"code": connector.CodeSuccess, "msg": "connected", "data": viewOf(sess)})
		return
	}

	// walletconnect 在后台等待扫码，先把二维码返回给调用方
	qr := make(chan qrCode, 1)
	done := make(chan error, 1)
	opts := withDisplayQR(s.options, func(uri string, png []byte) error {
		select {
		case qr <- qrCode{uri: uri, png: png}:
		default:
		}
		return nil
	})
	go func() {
		_, err := s.manager.Connect(context.Background(), sess, opts)
		done <- err
	}()

	timer := time.NewTimer(s.pairingTimeout)
	defer timer.Stop()
	select {
	case code := <-qr:
		v := viewOf(sess)
		v.URI = code.uri
		v.QRCode = base64.StdEncoding.EncodeToString(code.png)
		ctx.JSON(http.StatusAccepted, gin.H{"code": connector.CodeSuccess, "msg": "waiting for approval", "data": v})
	case err := <-done:
		if err != nil {
			s.fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"code": connector.CodeSuccess, "msg": "connected", "data": viewOf(sess)})
	case <-timer.C:
		s.closeQuietly(sess.ID)
		s.fail(ctx, connector.NewError(connector.CodeProviderUnavailable, "Provider error", "Pairing uri not ready"))
	case <-ctx.Request.Context().Done():
		s.closeQuietly(sess.ID)
		s.fail(ctx, ctx.Request.Context().Err())
	}
}

// withDisplayQR copies options so the callback stays per request.
func withDisplayQR(options *connector.Options, fn connector.DisplayQRCodeFn) *connector.Options {
	if options == nil {
		return nil
	}
	cp := &connector.Options{
		UseProvider: options.UseProvider,
		Providers:   make(map[string]connector.ProviderOptions, len(options.Providers)),
	}
	for k, p := range options.Providers {
		p.DisplayQR = fn
		cp.Providers[k] = p
	}
	return cp
}

func (s *Server) allow(ctx *gin.Context) bool {
	if s.limiter == nil {
		return true
	}
	ok, retryAfter, err := s.limiter.Allow(ctx.Request.Context(), ctx.ClientIP())
	if err != nil {
		// redis 不可用时放行
		log.Warnf("http - rate limit %s:%v", ctx.ClientIP(), err)
		return true
	}
	if !ok {
		ctx.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
		ctx.JSON(http.StatusTooManyRequests, gin.H{"code": codeTooManyRequests, "msg": "too many connect attempts"})
	}
	return ok
}

func (s *Server) get(ctx *gin.Context) {
	sess, ok := s.manager.Get(ctx.Param("id"))
	if !ok {
		s.fail(ctx, sessions.ErrSessionNotFound)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": connector.CodeSuccess, "msg": "ok", "data": viewOf(sess)})
}

func (s *Server) accounts(ctx *gin.Context) {
	account, err := s.manager.Accounts(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": connector.CodeSuccess, "msg": "ok", "data": account})
}

func (s *Server) close(ctx *gin.Context) {
	if err := s.manager.Close(ctx.Request.Context(), ctx.Param("id")); err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": connector.CodeSuccess, "msg": "closed"})
}

// events streams the normalized notifications of a session as server-sent
// events until the session closes or the client goes away.
func (s *Server) events(ctx *gin.Context) {
	sess, ok := s.manager.Get(ctx.Param("id"))
	if !ok {
		s.fail(ctx, sessions.ErrSessionNotFound)
		return
	}
	sub, err := sess.Connector.Subscribe(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err)
		return
	}
	defer sub.Close()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Writer.WriteHeaderNow()
	ctx.Writer.Flush()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case n, open := <-sub.Notifications():
			if !open {
				return false
			}
			ctx.SSEvent(n.Name(), n)
			return true
		case <-ctx.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) closeQuietly(id string) {
	if err := s.manager.Close(context.Background(), id); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		log.Warnf("http - close session %s:%v", id, err)
	}
}

// fail maps err onto a status and the common response body.
func (s *Server) fail(ctx *gin.Context, err error) {
	if ce, ok := connector.AsError(err); ok {
		ctx.JSON(statusOf(ce.Code), gin.H{"code": ce.Code, "msg": ce.Message, "error": ce})
		return
	}
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "msg": err.Error()})
	case errors.Is(err, sessions.ErrUnsupportedKind):
		ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": err.Error()})
	case errors.Is(err, sessions.ErrSessionBusy):
		ctx.JSON(http.StatusConflict, gin.H{"code": codeConflict, "msg": err.Error()})
	case errors.Is(err, sessions.ErrTooManyPending):
		ctx.JSON(http.StatusTooManyRequests, gin.H{"code": codeTooManyRequests, "msg": err.Error()})
	default:
		log.Error(errors.WrapAndReport(err, "http request"))
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "msg": "Server internal error"})
	}
}

func statusOf(code int) int {
	switch code {
	case connector.CodeWalletNotFound:
		return http.StatusNotFound
	case connector.CodeUnauthorized:
		return http.StatusForbidden
	case connector.CodeMissingConfiguration:
		return http.StatusInternalServerError
	case connector.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
