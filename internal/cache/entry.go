package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

func init() {
	gob.Register(http.Header{})
}

// Request 唯一定位一个缓存条目：方法 + 绝对 URL。只有 GET 会被缓存。
type Request struct {
	Method string
	URL    string
}

// NewRequest 从 *http.Request 提取缓存 key，非 GET 返回 ErrMethodNotCacheable。
func NewRequest(r *http.Request) (Request, error) {
	if r == nil || r.URL == nil {
		return Request{}, errors.New("request url required")
	}
	if r.Method != http.MethodGet {
		return Request{}, fmt.Errorf("%w: %s", ErrMethodNotCacheable, r.Method)
	}
	return Request{Method: http.MethodGet, URL: r.URL.String()}, nil
}

// Key 返回 "GET <url>" 形式的字符串，用作各后端的主键。
func (r Request) Key() string {
	return r.Method + " " + r.URL
}

func parseRequestKey(key string) (Request, error) {
	method, url, ok := strings.Cut(key, " ")
	if !ok || method == "" || url == "" {
		return Request{}, fmt.Errorf("malformed cache key %q", key)
	}
	return Request{Method: method, URL: url}, nil
}

// Response 是落盘的响应快照。Body 完整缓冲在内存中，便于同时交付调用方与写入缓存。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewResponse 读取并关闭 resp.Body，随后用同一份字节重新填充 resp.Body，
// 因此调用方拿到的响应与写入缓存的副本完全一致。
func NewResponse(resp *http.Response) (*Response, error) {
	if resp == nil {
		return nil, errors.New("response required")
	}
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			// 调用方仍能读到已收到的部分以及同一个错误
			resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), errReader{err}))
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	return &Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// HTTPResponse 每次调用都生成一个拥有独立 Body reader 的 *http.Response。
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// record 是磁盘与 Redis 后端共用的 gob 编码结构。
type record struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

func encodeRecord(req Request, resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	rec := record{
		Key:      req.Key(),
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: resp.StoredAt,
	}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return record{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return rec, nil
}

func (rec record) response() *Response {
	return &Response{
		Status:   rec.Status,
		Header:   rec.Header,
		Body:     rec.Body,
		StoredAt: rec.StoredAt,
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
