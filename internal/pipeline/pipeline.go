package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/shouni/go-scholar-sheet/pkg/extract"
	"github.com/shouni/go-scholar-sheet/pkg/scraper"
	"github.com/shouni/go-scholar-sheet/pkg/sheet"
)

// Run は、ブックを開き、検索結果のページを順に取得してシートに追記し、最後にブックを保存するメインの処理パイプラインです。
//
// ページ処理中のエラーによる中断は Report に記録され、error としては返しません。
// 設定エラーとブックの読み書きエラーのみを error として返します。
func Run(ctx context.Context, cfg Config, out io.Writer) (*scraper.Report, error) {
	return RunWithFetcher(ctx, cfg, cfg.NewFetcher(), out)
}

// RunWithFetcher は Run と同じ処理を、指定された Fetcher で実行します。
func RunWithFetcher(ctx context.Context, cfg Config, fetcher extract.Fetcher, out io.Writer) (*scraper.Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	book, err := sheet.Open(cfg.OutputPath, cfg.SheetName)
	if err != nil {
		return nil, err
	}
	defer book.Close()

	warnOverwrite(book, cfg.StartIndex)
	log.Info().
		Str("output", book.Path()).
		Str("sheet", book.Sheet()).
		Bool("resumed", book.Resumed()).
		Int("start", cfg.StartIndex).
		Int("total", cfg.Total).
		Msg("スクレイピングを開始します")

	s, err := scraper.New(fetcher, book, scraper.Config{
		BaseURL:       cfg.BaseURL,
		StartIndex:    cfg.StartIndex,
		Total:         cfg.Total,
		PageSize:      cfg.PageSize,
		Delay:         cfg.Delay,
		DebugPagePath: cfg.DebugPagePath,
	}, scraper.WithOutput(out))
	if err != nil {
		return nil, fmt.Errorf("Scraperの初期化エラー: %w", err)
	}

	report := s.Run(ctx)

	// 中断した場合も、それまでに書き込んだ行は保存する
	if err := book.Save(); err != nil {
		return report, err
	}
	log.Info().
		Str("output", book.Path()).
		Str("reason", string(report.Reason)).
		Int("records", report.RecordsWritten).
		Int("offset", report.Offset).
		Msg("ブックを保存しました")

	return report, nil
}

// existingRows は既存の行数を確認できるシートです。
type existingRows interface {
	DataRows() (int, error)
	Sheet() string
}

// warnOverwrite は、start 以降に既存の行がある場合 (または行数を確認できない場合) に警告します。
func warnOverwrite(book existingRows, start int) {
	rows, err := book.DataRows()
	if err != nil {
		log.Warn().Err(err).Str("sheet", book.Sheet()).Msg("既存の行数を確認できませんでした。既存の行を上書きする可能性があります")
		return
	}
	if start < rows {
		log.Warn().
			Int("start", start).
			Int("existing_rows", rows).
			Msg("再開オフセットが既存の行数より小さいため、既存の行を上書きします")
	}
}
