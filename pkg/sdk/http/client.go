package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var clientLog = logrus.WithField("component", "httpclient")

// ResponseCache GET 响应的读穿缓存（persistence.Store 实现了该接口）
type ResponseCache interface {
	CacheGet(key string, maxAge time.Duration, out interface{}) bool
	CachePut(key string, v interface{}) error
	CacheDelete(key string)
}

// Options 客户端参数
type Options struct {
	// BaseURL 每次请求时解析，支持运行期切换后端
	BaseURL func() string
	// Timeout 单次请求超时，0 表示不设超时
	Timeout time.Duration
	// Cache 为 nil 时不缓存 GET
	Cache ResponseCache
	// CacheTTL GET 缓存新鲜期，<=0 时不缓存
	CacheTTL  time.Duration
	UserAgent string
}

// Client 远程服务客户端：统一响应格式与错误形状，不含业务逻辑。
// 重试由调用方通过 pkg/retry 控制，resty 自带重试保持关闭。
type Client struct {
	client  *resty.Client
	baseURL func() string
	cache   ResponseCache
	ttl     time.Duration
	ua      string
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == nil {
		opts.BaseURL = func() string { return "" }
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "botdash"
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	return &Client{
		client:  client,
		baseURL: opts.BaseURL,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		ua:      opts.UserAgent,
	}
}

// NewClientWithHost 固定 base URL 的客户端
func NewClientWithHost(host string) *Client {
	host = strings.TrimSuffix(host, "/")
	return NewClient(Options{BaseURL: func() string { return host }})
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
	// NoCache 跳过 GET 读穿缓存
	NoCache bool
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json, text/plain, */*")
	r.SetHeader("User-Agent", c.ua)
	return r
}

// URL 拼接当前 base URL 与 endpoint
func (c *Client) URL(endpoint string) string {
	base := strings.TrimSuffix(c.baseURL(), "/")
	if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

// DoRequest 发送请求并返回归一化后的响应体：
// JSON 对象原样返回，204 返回空 map，非 JSON 文本包装为 {"data": text}。
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions) (map[string]any, error) {
	method = strings.ToUpper(method)
	useCache := method == http.MethodGet && c.cache != nil && c.ttl > 0 && (opt == nil || !opt.NoCache)
	if useCache {
		var cached map[string]any
		if c.cache.CacheGet(endpoint, c.ttl, &cached) {
			clientLog.Debugf("cache hit %s", endpoint)
			return cached, nil
		}
	}

	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	url := c.URL(endpoint)
	resp, err := rc.Execute(method, url)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, url)
	}

	out, err := ParseResponse(resp)
	if err != nil {
		return nil, err
	}
	if useCache {
		if err := c.cache.CachePut(endpoint, out); err != nil {
			clientLog.WithError(err).Warnf("cache put %s", endpoint)
		}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, endpoint string) (map[string]any, error) {
	return c.DoRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (map[string]any, error) {
	return c.DoRequest(ctx, http.MethodPost, endpoint, &RequestOptions{Data: body})
}

func (c *Client) Delete(ctx context.Context, endpoint string) (map[string]any, error) {
	return c.DoRequest(ctx, http.MethodDelete, endpoint, nil)
}

// InvalidateCache 删除 endpoint 的 GET 缓存
func (c *Client) InvalidateCache(endpoint string) {
	if c.cache != nil {
		c.cache.CacheDelete(endpoint)
	}
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// ParseResponse 把 2xx 响应归一化为 map，非 2xx 返回 *HTTPError
func ParseResponse(resp *resty.Response) (map[string]any, error) {
	if !resp.IsSuccess() {
		return nil, newHTTPError(resp)
	}
	if resp.StatusCode() == http.StatusNoContent {
		return map[string]any{}, nil
	}

	b := resp.Body()
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]any{}, nil
	}

	var body any
	if err := json.Unmarshal(b, &body); err != nil {
		return map[string]any{"data": string(b)}, nil
	}
	if m, ok := body.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"data": body}, nil
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d %s, url: %s", e.StatusCode, e.Status, e.URL)
}

func newHTTPError(resp *resty.Response) *HTTPError {
	code := resp.StatusCode()
	status := strings.TrimSpace(strings.TrimPrefix(resp.Status(), strconv.Itoa(code)))
	if status == "" {
		status = http.StatusText(code)
	}
	url := ""
	if resp.Request != nil {
		url = resp.Request.URL
	}
	return &HTTPError{
		StatusCode: code,
		Status:     status,
		URL:        url,
		Body:       strings.TrimSpace(string(resp.Body())),
	}
}

// StatusCode 返回 err 链中的 HTTP 状态码，没有则返回 0
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// IsNotFound 资源不存在（404）
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsTransient 可重试：传输层错误（超时、连接拒绝等）、5xx、429。
// ctx 取消不视为可重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	code := StatusCode(err)
	if code == 0 {
		return true
	}
	return code >= 500 || code == http.StatusTooManyRequests
}

// IsRejection 服务端拒绝：除 404、429 外的 4xx
func IsRejection(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusNotFound && code != http.StatusTooManyRequests
}
