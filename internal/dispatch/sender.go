package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// 单次请求的连接和读取总超时
const requestTimeout = 10 * time.Second

var ErrHTTPStatus = errors.New("endpoint returned non-2xx status")

// Sender 把单条 payload 发送到配置的端点。
// 只负责一次发送，重试调度在上层。
type Sender struct {
	client *http.Client
	policy *Policy
	logger *zap.Logger
}

// NewSender 创建发送器
func NewSender(logger *zap.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: requestTimeout},
		policy: NewPolicy(),
		logger: logger,
	}
}

// Policy 暴露端点校验器，设置保存前可以先行校验
func (s *Sender) Policy() *Policy {
	return s.policy
}

// Send 发送一条 payload，2xx 之外一律视为失败
func (s *Sender) Send(ctx context.Context, payload, endpoint string, headers map[string]string, method string) error {
	if err := s.policy.ValidateEndpoint(endpoint); err != nil {
		return err
	}

	req, err := s.buildRequest(ctx, payload, endpoint, method)
	if err != nil {
		return err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", ErrHTTPStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// buildRequest POST 发 JSON body，GET 把字段并入查询串且不带 body
func (s *Sender) buildRequest(ctx context.Context, payload, endpoint, method string) (*http.Request, error) {
	if strings.EqualFold(method, http.MethodGet) {
		target, err := mergeQuery(endpoint, payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return req, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// mergeQuery 把 payload 字段编码成查询参数拼到端点后面，
// 端点已带查询串时用 & 续接
func mergeQuery(endpoint, payload string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, queryValue(v))
	}
	qs := values.Encode()
	if qs == "" {
		return endpoint, nil
	}

	if strings.Contains(endpoint, "?") {
		return endpoint + "&" + qs, nil
	}
	return endpoint + "?" + qs, nil
}

// queryValue 查询参数的字符串形式，整数值不带小数点
func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
