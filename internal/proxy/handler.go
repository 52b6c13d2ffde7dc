package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/server"
	"github.com/spendoodle/shellcache/internal/worker"
)

// SourceHeader tells clients where a response came from: cache, network or passthrough.
const SourceHeader = "X-Shellcache-Source"

const sourcePassthrough = "passthrough"

// Dispatcher hands a request to whichever worker is in control.
type Dispatcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, worker.Source, error)
}

// Handler 负责把 Fiber 请求交给 worker 处理；worker 不接管的请求直接透传到网络。
type Handler struct {
	client     *http.Client
	logger     *logrus.Logger
	dispatcher Dispatcher
	origin     *url.URL
}

// NewHandler constructs a proxy handler. origin resolves origin-form request
// targets; absolute-form targets (forward-proxy use) are taken as-is.
func NewHandler(client *http.Client, logger *logrus.Logger, dispatcher Dispatcher, origin *url.URL) *Handler {
	return &Handler{
		client:     client,
		logger:     logger,
		dispatcher: dispatcher,
		origin:     origin,
	}
}

// Handle 执行 worker 拦截或透传，并把结果流式写回客户端，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := resolveTarget(h.origin, string(c.Request().RequestURI()))
	if err != nil {
		h.logResult(c.Method(), "", "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "bad_request_target")
	}

	req, err := h.buildUpstreamRequest(ctx, c, target)
	if err != nil {
		h.logResult(c.Method(), target.String(), "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	resp, src, err := h.dispatcher.Fetch(ctx, req)
	source := string(src)
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrNotHandled):
		source = sourcePassthrough
		resp, err = h.client.Do(req)
		if err != nil {
			h.logResult(c.Method(), target.String(), source, requestID, 0, started, err)
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
	default:
		h.logResult(c.Method(), target.String(), "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "fetch_failed")
	}
	defer resp.Body.Close()

	return h.stream(c, resp, target.String(), source, requestID, started)
}

func (h *Handler) stream(
	c fiber.Ctx,
	resp *http.Response,
	target string,
	source string,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(SourceHeader, source)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(c.Method(), target, source, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(c.Method(), target, source, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, target *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	// 交给 Transport 处理压缩，缓存中始终保存解码后的内容
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	target string,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logrus.Fields{
		"action":     "proxy",
		"method":     method,
		"target":     target,
		"source":     source,
		"status":     status,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// resolveTarget turns a raw request-target into an absolute URL. Absolute-form
// targets are used unchanged; origin-form targets resolve against origin and
// can never leave it.
func resolveTarget(origin *url.URL, raw string) (*url.URL, error) {
	if raw == "" {
		raw = "/"
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("request target %q has no host", raw)
		}
		return parsed, nil
	}
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("unsupported request target %q", raw)
	}
	// "//host/path" 在 origin-form 中仍是路径
	if strings.HasPrefix(raw, "//") {
		raw = "/" + strings.TrimLeft(raw, "/")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return origin.ResolveReference(ref), nil
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
