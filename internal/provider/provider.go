// Package provider 封装外部航班数据源。
//
// 数据源集合是封闭的（见 Kind），由 Build 根据配置一次性构建，
// 不支持运行时注册。每个 Provider 只负责把 search.Request 转换为
// 标准化的 model.Offer 列表，错误隔离由调用方负责。
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"flighthunter/internal/config"
	"flighthunter/internal/geo"
	"flighthunter/internal/model"
	"flighthunter/internal/search"
)

// Provider 是单个航班数据源。
type Provider interface {
	Name() string
	Search(ctx context.Context, req search.Request) ([]model.Offer, error)
}

// Kind 标识受支持的数据源。
type Kind string

const (
	KindTequila   Kind = "tequila"
	KindSynthetic Kind = "synthetic"
)

// Limiter 在每次对外请求前获取配额。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Error 描述一次失败的 provider 调用。
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options 是 Build 的输入。
type Options struct {
	Config     config.ProvidersConfig
	Limiter    Limiter      // 可为 nil
	HTTPClient *http.Client // 可为 nil
	Directory  geo.Directory
	Logger     *slog.Logger
}

// Build 按配置构建数据源列表。
//
// 没有 Tequila API Key 时使用 synthetic 数据源代替，
// 其报价的 Source 为 "synthetic"，可与真实数据区分。
func Build(opts Options) []Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	var out []Provider
	if cfg.TequilaAPIKey != "" {
		out = append(out, NewTequila(TequilaConfig{
			BaseURL:         cfg.TequilaBaseURL,
			APIKey:          cfg.TequilaAPIKey,
			MaxCodesPerCall: cfg.MaxCodesPerCall,
		}, opts.HTTPClient, opts.Limiter, logger))
	} else {
		logger.Warn("tequila api key missing, falling back to synthetic offers")
	}

	if cfg.TequilaAPIKey == "" || cfg.SyntheticEnabled {
		out = append(out, NewSynthetic(opts.Directory, cfg.SyntheticMax))
	}
	return out
}

// Names 返回数据源名称，用于日志。
func Names(providers []Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
