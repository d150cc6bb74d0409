package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shouni/go-scholar-sheet/pkg/extract"
	"github.com/shouni/go-scholar-sheet/pkg/types"
)

const (
	// DefaultPageSize は検索結果1ページあたりの件数です。
	DefaultPageSize = 10
	// DefaultDelay は各ページのリクエスト前に挟む待機時間です。
	DefaultDelay = 3 * time.Second
)

// ErrAborted は、ページ処理中のエラーによって実行が打ち切られたことを示します。
var ErrAborted = errors.New("スクレイピングを中断しました")

// State は Scraper の状態です。
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// StopReason は StateStopped に遷移した理由です。
type StopReason string

const (
	ReasonExhausted StopReason = "exhausted"
	ReasonAborted   StopReason = "aborted"
)

// Sink は抽出したレコードの書き込み先です。*sheet.Workbook がこれを満たします。
type Sink interface {
	Append(offset int, record types.Record) error
}

// SleepFunc はページ間の待機を行う関数です。コンテキストが終了した場合はそのエラーを返します。
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config はページ送りの設定です。
type Config struct {
	BaseURL       string
	StartIndex    int // 再開オフセット
	Total         int // 取得目標件数 (このオフセット未満のページまで取得)
	PageSize      int
	Delay         time.Duration
	DebugPagePath string // 直近に取得したページの書き出し先。空の場合は書き出さない
}

// Report は1回の実行結果です。
type Report struct {
	State          State
	Reason         StopReason
	Pages          []types.PageResult
	RecordsWritten int
	Malformed      int
	Offset         int // 次に書き込む行のオフセット (再開カーソル)
	FailedOffset   int // 中断したページのオフセット。中断していない場合は -1
	PartialPage    bool
	Err            error
}

// Scraper は fetch -> extract -> append をページオフセットごとに順番に実行します。
type Scraper struct {
	fetcher extract.Fetcher
	sink    Sink
	cfg     Config
	out     io.Writer
	sleep   SleepFunc

	state  State
	offset int
}

// Option は Scraper の設定を行うための関数型です。
type Option func(*Scraper)

// WithOutput は進捗 (URL とタイトル) の出力先を設定します。既定は標準出力です。
func WithOutput(w io.Writer) Option {
	return func(s *Scraper) {
		s.out = w
	}
}

// WithSleepFunc はページ間の待機処理を差し替えます。
func WithSleepFunc(fn SleepFunc) Option {
	return func(s *Scraper) {
		s.sleep = fn
	}
}

// New は Scraper を初期化します。
func New(fetcher extract.Fetcher, sink Sink, cfg Config, opts ...Option) (*Scraper, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("scraper.New: Fetcher cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("scraper.New: Sink cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scraper.New: BaseURL が指定されていません")
	}
	if cfg.StartIndex < 0 {
		return nil, fmt.Errorf("scraper.New: 再開オフセットが負の値です: %d", cfg.StartIndex)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	s := &Scraper{
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
		out:     os.Stdout,
		sleep:   sleepContext,
		state:   StateStopped,
		offset:  cfg.StartIndex,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State は現在の状態を返します。
func (s *Scraper) State() State {
	return s.state
}

// PageOffsets は今回の実行で取得するページオフセットの一覧を返します。
func (s *Scraper) PageOffsets() []int {
	return PageOffsets(s.cfg.StartIndex, s.cfg.Total, s.cfg.PageSize)
}

// Run はすべてのページを順に処理します。
// ページ処理中のエラーは実行全体を打ち切り、Report に記録されます (戻り値のエラーにはなりません)。
// 中断したページで既に書き込まれたレコードはそのまま残ります。
func (s *Scraper) Run(ctx context.Context) *Report {
	s.state = StateRunning
	report := &Report{FailedOffset: -1}

	for _, pageOffset := range s.PageOffsets() {
		result, err := s.scrapePage(ctx, pageOffset, report)
		report.Pages = append(report.Pages, result)
		if err != nil {
			s.abort(report, pageOffset, result.Records, err)
			break
		}
	}

	if report.Reason == "" {
		report.Reason = ReasonExhausted
		log.Info().
			Int("pages", len(report.Pages)).
			Int("records", report.RecordsWritten).
			Int("offset", s.offset).
			Msg("すべてのページを処理しました")
	}

	s.state = StateStopped
	report.State = s.state
	report.Offset = s.offset
	return report
}

// scrapePage は1ページ分の待機・取得・抽出・書き込みを行います。
func (s *Scraper) scrapePage(ctx context.Context, pageOffset int, report *Report) (types.PageResult, error) {
	url := PageURL(s.cfg.BaseURL, pageOffset)
	result := types.PageResult{Offset: pageOffset, URL: url}

	if err := s.sleep(ctx, s.cfg.Delay); err != nil {
		result.Error = err
		return result, err
	}

	fmt.Fprintln(s.out, url)
	log.Debug().Str("url", url).Int("offset", pageOffset).Msg("ページを取得します")

	body, err := s.fetcher.FetchBytes(ctx, url)
	if err != nil {
		result.Error = fmt.Errorf("ページの取得に失敗しました: %w", err)
		return result, result.Error
	}
	s.writeDebugPage(body)

	records, err := extract.Parse(body)
	if err != nil {
		result.Error = fmt.Errorf("ページの解析に失敗しました: %w", err)
		return result, result.Error
	}

	for record, err := range records {
		if err != nil {
			result.Error = fmt.Errorf("レコードの抽出に失敗しました: %w", err)
			return result, result.Error
		}

		fmt.Fprintln(s.out, record.Title)
		if record.Kind == types.KindMalformed {
			report.Malformed++
			log.Warn().Int("offset", s.offset).Str("url", record.URL).Msg("タイトルを取得できませんでした")
		}

		if err := s.sink.Append(s.offset, record); err != nil {
			result.Error = fmt.Errorf("offset=%d の書き込みに失敗しました: %w", s.offset, err)
			return result, result.Error
		}
		s.offset++
		result.Records++
		report.RecordsWritten++
	}
	fmt.Fprintln(s.out)

	log.Debug().Int("offset", pageOffset).Int("records", result.Records).Msg("ページを処理しました")
	return result, nil
}

func (s *Scraper) abort(report *Report, pageOffset, written int, err error) {
	report.Reason = ReasonAborted
	report.FailedOffset = pageOffset
	report.PartialPage = written > 0
	report.Err = fmt.Errorf("%w (offset=%d): %w", ErrAborted, pageOffset, err)

	log.Error().
		Err(err).
		Int("offset", pageOffset).
		Bool("partial_page", report.PartialPage).
		Msg("ページの処理中にエラーが発生したため中断します")
	fmt.Fprintln(s.out, err)
	fmt.Fprintf(s.out, "%v: resume at offset=%d\n", ErrAborted, pageOffset)
}

// writeDebugPage は直近に取得したページを確認用に書き出します。失敗しても実行は継続します。
func (s *Scraper) writeDebugPage(body []byte) {
	if s.cfg.DebugPagePath == "" {
		return
	}
	if err := os.WriteFile(s.cfg.DebugPagePath, body, 0o644); err != nil {
		log.Warn().Err(err).Str("path", s.cfg.DebugPagePath).Msg("デバッグ用ページの書き出しに失敗しました")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
