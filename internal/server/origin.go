package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/config"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/predictor"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
)

// maxOriginBody 限制单个预取对象的大小，超出时按失败处理。
const maxOriginBody = 64 << 20

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewOriginClient 返回预取源站使用的 http.Client。
func NewOriginClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.OriginTimeout.DurationValue() > 0 {
		timeout = cfg.Global.OriginTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// OriginLoader 构建从源站 GET {origin}/{id} 读取资源的预取 Loader。
// 404 映射为 vault.ErrNotFound，其余非 2xx 状态视为失败。
func OriginLoader(client *http.Client, origin string) (predictor.Loader, error) {
	if client == nil {
		return nil, errors.New("origin client is required")
	}
	base, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid origin scheme: %s", origin)
	}

	return func(ctx context.Context, id string) ([]byte, error) {
		target := base.JoinPath(strings.Split(id, "/")...)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "tiercache-prefetch")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", id, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("fetch %s: %w", id, vault.ErrNotFound)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxOriginBody+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", id, err)
		}
		if len(data) > maxOriginBody {
			return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", id, maxOriginBody)
		}
		return data, nil
	}, nil
}
