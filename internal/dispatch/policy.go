package dispatch

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	ErrBlockedURL        = errors.New("http endpoint blocked")
)

// sensitiveKeywords 头名里含这些关键字就按敏感头处理
var sensitiveKeywords = []string{"authorization", "token", "secret", "password", "api-key", "apikey"}

// Policy 出站端点校验。
// https 放行任意主机，http 只允许私网主机，主机判定结果按 host 缓存。
type Policy struct {
	mu    sync.RWMutex
	hosts map[string]bool
}

// NewPolicy 创建端点校验器
func NewPolicy() *Policy {
	return &Policy{hosts: make(map[string]bool)}
}

// ValidateEndpoint 在建立任何连接之前校验端点
func (p *Policy) ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "https":
		if u.Hostname() == "" {
			return fmt.Errorf("%w: empty host", ErrBlockedURL)
		}
		return nil
	case "http":
		host := u.Hostname()
		if host == "" {
			return fmt.Errorf("%w: empty host", ErrBlockedURL)
		}
		if !p.IsPrivateHost(host) {
			return fmt.Errorf("%w: %s is not a private host", ErrBlockedURL, host)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// IsPrivateHost 判断主机是否为私网地址，结果缓存避免重复解析
func (p *Policy) IsPrivateHost(host string) bool {
	p.mu.RLock()
	cached, ok := p.hosts[host]
	p.mu.RUnlock()
	if ok {
		return cached
	}

	private := resolvePrivate(host)

	p.mu.Lock()
	p.hosts[host] = private
	p.mu.Unlock()

	return private
}

func resolvePrivate(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}

	// 域名要解析后逐个检查，任何一个公网地址都视为公网主机
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if !isPrivateIP(ip) {
			return false
		}
	}
	return true
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() {
		return true
	}
	// CGNAT 100.64.0.0/10
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
		return true
	}
	return false
}

// IsSensitiveHeader 判断头名是否属于敏感凭据
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MaskHeader 敏感头的值最多保留前 4 个字符，其余打码
func MaskHeader(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + "****"
}

// MaskHeaders 返回打码后的副本，用于诊断输出和设置回显
func MaskHeaders(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveHeader(k) {
			masked[k] = MaskHeader(v)
		} else {
			masked[k] = v
		}
	}
	return masked
}
