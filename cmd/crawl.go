package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/shouni/go-scholar-sheet/internal/pipeline"
	"github.com/shouni/go-scholar-sheet/pkg/scraper"
)

// printReport は実行結果の要約を出力します。
func printReport(report *scraper.Report, cfg pipeline.Config) {
	fmt.Println("--- スクレイピング結果 ---")
	fmt.Printf("取得ページ数: %d\n", len(report.Pages))
	fmt.Printf("書き込み件数: %d (タイトル取得失敗: %d)\n", report.RecordsWritten, report.Malformed)
	fmt.Printf("保存先: %s [%s]\n", cfg.OutputPath, cfg.SheetName)

	if report.Reason == scraper.ReasonAborted {
		fmt.Printf("中断: offset=%d のページで失敗しました\n", report.FailedOffset)
		if report.PartialPage {
			fmt.Println("注意: 中断したページの一部のレコードは書き込み済みです")
		}
		fmt.Printf("再開するには --start %d を指定してください\n", report.FailedOffset)
	} else {
		fmt.Printf("完了: 次のオフセットは %d です\n", report.Offset)
	}
	fmt.Println("-------------------------------")
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "検索結果のページを順に取得し、タイトルとURLをブックに追記します",
	Long: `--url の検索結果ページを --start から --total 未満まで --page-size 刻みで取得し、
各ページの論文タイトルとURLを --output のブックの --sheet シートに追記します。
ページの取得・解析に失敗した場合はその時点で中断し、書き込み済みの行を保存して
再開用のオフセットを表示します。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetAppConfig()

		// Ctrl+C で中断した場合も、それまでの行は保存する
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := pipeline.Run(ctx, cfg, os.Stdout)
		if err != nil {
			return fmt.Errorf("スクレイピングパイプラインの実行エラー: %w", err)
		}

		printReport(report, cfg)
		return nil
	},
}

func init() {
	flags := crawlCmd.Flags()
	flags.Int("total", scraper.DefaultPageSize, "取得する結果の総数 (ページ上部の About xxx results)")
	flags.Int("page-size", scraper.DefaultPageSize, "1ページあたりの結果数")
	flags.Duration("delay", scraper.DefaultDelay, "各ページのリクエスト前の待機時間")
	flags.StringP("output", "o", pipeline.DefaultOutputPath, "出力先の Excel ブック")
	flags.String("sheet", pipeline.DefaultSheetName, "書き込み先のシート名")
	flags.String("debug-page", pipeline.DefaultDebugPagePath, "直近に取得したページの書き出し先 (空文字で無効)")
}
