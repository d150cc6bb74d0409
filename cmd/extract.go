package cmd

import (
	"context"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shouni/go-scholar-sheet/pkg/extract"
	"github.com/shouni/go-scholar-sheet/pkg/scraper"
	"github.com/shouni/go-scholar-sheet/pkg/types"
)

var inputFile string

// runExtractionPipeline は、1ページ分の取得と抽出を実行するメインロジックです。
// path が指定されていればローカルのHTMLファイルを、そうでなければ rawURL を取得して解析します。
func runExtractionPipeline(ctx context.Context, path, rawURL string, extractor *extract.Extractor) (iter.Seq2[types.Record, error], error) {
	if path != "" {
		html, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("HTMLファイルの読み込みエラー: %w", err)
		}
		return extract.Parse(html)
	}

	records, err := extractor.FetchAndExtract(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("コンテンツ抽出エラー (URL: %s): %w", rawURL, err)
	}
	return records, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "検索結果1ページ分のレコードを抽出して表示します (ブックには書き込みません)",
	Long: `--file で指定したHTML (crawl が書き出す debug_web_page.html など)、
または --url と --start から組み立てたページを取得し、抽出したレコードを表示します。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetAppConfig()

		rawURL := ""
		if inputFile == "" {
			if cfg.BaseURL == "" {
				return fmt.Errorf("--file または --url のいずれかを指定してください")
			}
			rawURL = scraper.PageURL(cfg.BaseURL, cfg.StartIndex)
			log.Info().Str("url", rawURL).Msg("ページを取得します")
		}

		extractor, err := extract.NewExtractor(cfg.NewFetcher())
		if err != nil {
			return fmt.Errorf("Extractorの初期化エラー: %w", err)
		}

		overallTimeout := cfg.Timeout * 2
		if overallTimeout <= 0 {
			overallTimeout = 60 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), overallTimeout)
		defer cancel()

		records, err := runExtractionPipeline(ctx, inputFile, rawURL, extractor)
		if err != nil {
			return err
		}

		fmt.Println("--- 抽出結果 ---")
		count := 0
		for record, err := range records {
			if err != nil {
				return fmt.Errorf("%d件目の後で抽出に失敗しました: %w", count, err)
			}
			count++
			fmt.Printf("[%d] (%s) %s\n", count, record.Kind, record.Title)
			if record.HasURL() {
				fmt.Printf("    URL: %s\n", record.URL)
			}
		}
		fmt.Println("-----------------------")
		fmt.Printf("合計: %d 件\n", count)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&inputFile, "file", "f", "", "解析するHTMLファイル")
}
