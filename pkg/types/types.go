package types

// RecordKind は、検索結果1件がどの形で抽出されたかを表します。
type RecordKind string

const (
	// KindLinked はタイトルと外部リンクを持つ通常の結果です ([PDF]/[HTML] ラベル付きを含む)。
	KindLinked RecordKind = "linked"
	// KindCitation は [CITATION] ラベル付きの引用のみの結果で、リンクを持ちません。
	KindCitation RecordKind = "citation"
	// KindMalformed はタイトルが取得できなかった結果です。ページ構造の異常を示します。
	KindMalformed RecordKind = "malformed"
)

// Record は、検索結果ページから抽出された論文1件分の (タイトル, URL) です。
// URL が空になるのは KindCitation の場合、または KindMalformed の場合のみです。
type Record struct {
	Title string
	URL   string
	Label string // 見出しのラベル (CITATION, PDF, HTML など)。無い場合は空文字
	Kind  RecordKind
}

// HasURL は、レコードが外部リンクを持つかどうかを返します。
func (r Record) HasURL() bool {
	return r.URL != ""
}

// PageResult は、1ページ分の取得・抽出の結果、またはその処理中に発生したエラーを保持します。
type PageResult struct {
	Offset  int    // ページの先頭結果の位置 (start パラメータ)
	URL     string // 取得したURL
	Records int    // シートに書き込んだレコード数
	Error   error  // 処理中に発生したエラー
}
