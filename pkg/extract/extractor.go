package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"

	"github.com/shouni/go-scholar-sheet/pkg/types"
)

var (
	// ErrMissingElement は、期待したページ構造 (結果コンテナ、見出し、リンク) が見つからないことを示します。
	ErrMissingElement = errors.New("期待した要素が見つかりません")
	// ErrBlockedPage は、検索結果の代わりに CAPTCHA などの確認ページが返されたことを示します。
	ErrBlockedPage = errors.New("検索結果ではなく確認ページが返されました")
)

// ----------------------------------------------------------------------
// 定数定義 (解析関連のみ)
// ----------------------------------------------------------------------
const (
	// resultSelector は検索結果1件分 (organic な学術結果) のノードです。
	resultSelector   = "div.gs_r.gs_or.gs_scl"
	resultsContainer = "#gs_res_ccl_mid, #gs_res_ccl"
	headingSelector  = "h3"
	labelSelector    = "span.gs_ct1"
	blockedSelectors = "#gs_captcha_ccl, #gs_captcha_f, form#captcha-form, form[action*='/sorry/']"
	citationLabel    = "CITATION"
)

// Extractor は、Fetcher を使ってページ取得とレコード抽出をまとめて行います。
type Extractor struct {
	fetcher Fetcher
}

// NewExtractor は、新しいExtractorのインスタンスを生成します。
func NewExtractor(fetcher Fetcher) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("extract.NewExtractor: Fetcher cannot be nil")
	}
	return &Extractor{
		fetcher: fetcher,
	}, nil
}

// FetchAndExtract は指定されたURLから検索結果ページを取得し、レコードの遅延シーケンスを返します。
func (e *Extractor) FetchAndExtract(ctx context.Context, url string) (iter.Seq2[types.Record, error], error) {
	htmlBytes, err := e.fetcher.FetchBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	return Parse(htmlBytes)
}

// Parse はHTMLを解析し、ページ上の検索結果を (Record, error) の遅延シーケンスとして返します。
// シーケンスは同じ内容に対して何度でも再実行できます。
func Parse(html []byte) (iter.Seq2[types.Record, error], error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("HTML解析に失敗しました: %w", err)
	}
	return ParseDocument(doc)
}

// ParseDocument は goquery.Document から検索結果を抽出します。
//
// 結果が1件も無い場合、確認ページであれば ErrBlockedPage、結果コンテナ自体が無ければ
// ErrMissingElement を返します。結果コンテナがあり0件の場合は空のシーケンスです。
func ParseDocument(doc *goquery.Document) (iter.Seq2[types.Record, error], error) {
	entries := doc.Find(resultSelector)
	if entries.Length() == 0 {
		if doc.Find(blockedSelectors).Length() > 0 {
			return nil, ErrBlockedPage
		}
		if doc.Find(resultsContainer).Length() == 0 {
			return nil, fmt.Errorf("検索結果コンテナ (%s): %w", resultsContainer, ErrMissingElement)
		}
	}

	return func(yield func(types.Record, error) bool) {
		for i := range entries.Length() {
			record, err := extractRecord(entries.Eq(i))
			if err != nil {
				yield(types.Record{}, fmt.Errorf("%d件目の結果: %w", i+1, err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}, nil
}

// extractRecord は結果1件分のノードから (タイトル, URL) を取り出します。
// タイトルが空でもエラーにはせず、KindMalformed として返します。
func extractRecord(entry *goquery.Selection) (types.Record, error) {
	heading := entry.Find(headingSelector).First()
	if heading.Length() == 0 {
		return types.Record{}, fmt.Errorf("見出し (%s): %w", headingSelector, ErrMissingElement)
	}

	var record types.Record
	if label := heading.Find(labelSelector).First(); label.Length() > 0 {
		record.Label = normalizeLabel(label.Text())
	}

	if record.Label == citationLabel {
		// 引用のみの結果はリンクを持たないため、見出し内の最後の span をタイトルとする
		record.Title = cleanText(heading.Find("span").Last().Text())
		record.Kind = types.KindCitation
	} else {
		link := heading.Find("a").First()
		if link.Length() == 0 {
			return types.Record{}, fmt.Errorf("見出しのリンク: %w", ErrMissingElement)
		}
		record.Title = cleanText(link.Text())
		record.URL = strings.TrimSpace(link.AttrOr("href", ""))
		record.Kind = types.KindLinked
	}

	if record.Title == "" {
		record.Kind = types.KindMalformed
	}
	return record, nil
}

// cleanText は改行やタブを含む見出しテキストを1行に整えます。
func cleanText(text string) string {
	return textUtils.NormalizeText(text)
}

// normalizeLabel は "[CITATION]" のようなラベル表記から角括弧を除きます。
func normalizeLabel(text string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(text), "[]"))
}

// Collect はシーケンスを最後まで読み出します。途中でエラーが出た場合、それまでのレコードとエラーを返します。
func Collect(seq iter.Seq2[types.Record, error]) ([]types.Record, error) {
	var records []types.Record
	for record, err := range seq {
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}
