package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shouni/go-scholar-sheet/internal/pipeline"
	"github.com/shouni/go-scholar-sheet/pkg/httpclient"
)

// --- グローバル定数 ---

const (
	appName           = "scholar-sheet"
	envPrefix         = "SCHOLAR_SHEET"
	defaultTimeoutSec = 30 // 秒
	defaultMaxRetries = 0  // 既定ではリトライしない
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	TimeoutSec int    // --timeout タイムアウト
	MaxRetries int    // --max-retries リトライ回数
	ConfigFile string // --config-file 設定ファイル
}

var Flags AppFlags

// appConfig は PersistentPreRunE で組み立てられ、各サブコマンドから参照されます。
var appConfig pipeline.Config

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	rootCmd.Short = "Google Scholar の検索結果を取得し、論文のタイトルとURLを Excel ブックに追記します"

	flags := rootCmd.PersistentFlags()
	flags.IntVar(&Flags.TimeoutSec, "timeout", defaultTimeoutSec, "HTTPリクエストのタイムアウト時間（秒）")
	flags.IntVar(&Flags.MaxRetries, "max-retries", defaultMaxRetries, "5xx/ネットワークエラー時のリトライ最大回数")
	flags.StringVar(&Flags.ConfigFile, "config-file", "", "設定ファイル (既定: ./scholar-sheet.yaml または ~/.config/scholar-sheet/scholar-sheet.yaml)")

	flags.String("url", "", "検索結果ページのURL (例: https://scholar.google.com/scholar?as_ylo=2024&q=Diffusion&hl=en&as_sdt=0,5)")
	flags.String("cookie", "", "リクエストに付与する Cookie (CAPTCHA 回避のためブラウザからコピー)")
	flags.String("user-agent", httpclient.DefaultUserAgent, "リクエストに付与する User-Agent")
	flags.String("referer", "", "リクエストに付与する Referer (既定: --url)")
	flags.Int("start", 0, "再開オフセット (中断時に表示された offset を指定)")
}

// initAppPreRunE は、clibase共通処理の後に実行される、アプリケーション固有のPersistentPreRunEです。
// NOTE: clibaseの PersistentPreRunE チェーンにより、clibase.Flags.Verbose はこの関数実行前に設定済み
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	setupLogger(clibase.Flags.Verbose)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	appConfig = cfg

	log.Debug().
		Str("url", cfg.BaseURL).
		Dur("timeout", cfg.Timeout).
		Uint64("max_retries", cfg.MaxRetries).
		Bool("cookie", cfg.Cookie != "").
		Msg("設定を読み込みました")
	return nil
}

// setupLogger は診断ログを標準エラー出力に向けます。進捗 (URL とタイトル) は標準出力に出力されます。
func setupLogger(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig は 既定値 < 設定ファイル < 環境変数 (.env を含む) < フラグ の順に設定を合成します。
func loadConfig(cmd *cobra.Command) (pipeline.Config, error) {
	v := viper.New()

	if Flags.ConfigFile != "" {
		v.SetConfigFile(Flags.ConfigFile)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", appName))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(newEnvKeyReplacer())
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return pipeline.Config{}, fmt.Errorf("フラグのバインドに失敗しました: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if Flags.ConfigFile != "" || !errors.As(err, &notFound) {
			return pipeline.Config{}, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	} else {
		log.Info().Str("path", v.ConfigFileUsed()).Msg("設定ファイルを使用します")
	}

	return configFromViper(v)
}

// newEnvKeyReplacer は page-size を SCHOLAR_SHEET_PAGE_SIZE に対応させます。
func newEnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer("-", "_")
}

// configFromViper は viper の値を pipeline.Config に詰め替えます。
// 未設定のキーは pipeline.DefaultConfig の値を使います。
func configFromViper(v *viper.Viper) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("url", &cfg.BaseURL)
	setString("cookie", &cfg.Cookie)
	setString("user-agent", &cfg.UserAgent)
	setString("referer", &cfg.Referer)
	setInt("start", &cfg.StartIndex)
	setInt("total", &cfg.Total)
	setInt("page-size", &cfg.PageSize)
	setString("output", &cfg.OutputPath)
	setString("sheet", &cfg.SheetName)
	setString("debug-page", &cfg.DebugPagePath)

	if v.IsSet("delay") {
		cfg.Delay = v.GetDuration("delay")
	}
	if v.IsSet("timeout") {
		cfg.Timeout = time.Duration(v.GetInt("timeout")) * time.Second
	}
	if v.IsSet("max-retries") {
		retries := v.GetInt("max-retries")
		if retries < 0 {
			return pipeline.Config{}, fmt.Errorf("--max-retries は0以上を指定してください: %d", retries)
		}
		cfg.MaxRetries = uint64(retries)
	}

	if cfg.BaseURL != "" {
		baseURL, err := ensureScheme(cfg.BaseURL)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("URLスキームの処理エラー: %w", err)
		}
		cfg.BaseURL = baseURL
	}
	return cfg, nil
}

// GetAppConfig は、PersistentPreRunE で組み立てた設定を返します。
func GetAppConfig() pipeline.Config {
	return appConfig
}

// --- エントリポイント ---

// Execute は、clibase.Execute を使用してルートコマンドを組み立てて実行します。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		crawlCmd,
		extractCmd,
	)
}
