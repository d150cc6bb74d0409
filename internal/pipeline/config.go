package pipeline

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shouni/go-scholar-sheet/pkg/httpclient"
	"github.com/shouni/go-scholar-sheet/pkg/scraper"
)

const (
	DefaultOutputPath    = "google_scholar.xlsx"
	DefaultSheetName     = "Diffusion"
	DefaultDebugPagePath = "debug_web_page.html"
)

// Config は1回の実行に必要な設定をまとめたものです。
// フラグ、環境変数、設定ファイルから組み立てられ、Run に渡されます。
type Config struct {
	BaseURL    string `validate:"required,url"`
	Cookie     string
	UserAgent  string `validate:"required"`
	Referer    string `validate:"omitempty,url"`
	StartIndex int    `validate:"gte=0"`
	Total      int    `validate:"gte=0"`
	PageSize   int    `validate:"gte=1"`

	Delay         time.Duration `validate:"gte=0"`
	OutputPath    string        `validate:"required"`
	SheetName     string        `validate:"required,max=31"`
	DebugPagePath string

	Timeout    time.Duration `validate:"gte=0"`
	MaxRetries uint64
}

// DefaultConfig は BaseURL 以外の既定値を設定した Config を返します。
func DefaultConfig() Config {
	return Config{
		UserAgent:     httpclient.DefaultUserAgent,
		Total:         scraper.DefaultPageSize,
		PageSize:      scraper.DefaultPageSize,
		Delay:         scraper.DefaultDelay,
		OutputPath:    DefaultOutputPath,
		SheetName:     DefaultSheetName,
		DebugPagePath: DefaultDebugPagePath,
		Timeout:       httpclient.DefaultHTTPTimeout,
	}
}

// Validate validates the Config using the validator.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// Headers は全リクエストに付与する固定ヘッダーを返します。Referer の既定値は BaseURL です。
func (c *Config) Headers() map[string]string {
	referer := c.Referer
	if referer == "" {
		referer = c.BaseURL
	}
	return map[string]string{
		"Cookie":     c.Cookie,
		"User-Agent": c.UserAgent,
		"Referer":    referer,
	}
}

// NewFetcher は設定のヘッダー・タイムアウト・リトライ回数を反映した HTTP クライアントを返します。
func (c *Config) NewFetcher() *httpclient.Client {
	return httpclient.New(
		c.Timeout,
		httpclient.WithHeaders(c.Headers()),
		httpclient.WithMaxRetries(c.MaxRetries),
	)
}
