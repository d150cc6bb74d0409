package sheet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/shouni/go-scholar-sheet/pkg/types"
)

const (
	titleColumn = "A"
	urlColumn   = "B"

	titleColumnWidth = 90
	urlColumnWidth   = 60

	// firstDataRow はデータの開始行です (1行目はヘッダー、excelize の行番号は 1 始まり)。
	firstDataRow = 2
)

// Header はシートの1行目に書き込まれる見出しです。
var Header = []string{"Title", "Url"}

// Workbook は、ブック内の1シートを追記専用の結果表として扱います。
// 書き込みはメモリ上のブックに対して行われ、Save を呼ぶまでファイルには反映されません。
type Workbook struct {
	file    *excelize.File
	path    string
	sheet   string
	resumed bool
}

// Open は path のブックを開き、sheetName のシートを結果表として準備します。
// ファイルが存在する場合は既存の行を保持したまま再利用し、シートが無ければ追加します。
// ファイルが存在しない場合は新しいブックを作成します。
func Open(path, sheetName string) (*Workbook, error) {
	if sheetName == "" {
		return nil, fmt.Errorf("シート名が指定されていません")
	}

	w := &Workbook{path: path, sheet: sheetName}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := w.openExisting(); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := w.createNew(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ブック (%s) の確認に失敗しました: %w", path, err)
	}

	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workbook) openExisting() error {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("ブック (%s) を開けませんでした: %w", w.path, err)
	}
	w.file = f
	w.resumed = true

	if slices.Contains(f.GetSheetList(), w.sheet) {
		return nil
	}
	if _, err := f.NewSheet(w.sheet); err != nil {
		f.Close()
		return fmt.Errorf("シート (%s) の作成に失敗しました: %w", w.sheet, err)
	}
	if err := w.setColumnWidths(); err != nil {
		f.Close()
		return err
	}
	return nil
}

func (w *Workbook) createNew() error {
	f := excelize.NewFile()
	w.file = f

	// 新規ブックの既定シートをリネームして使う
	defaultSheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(defaultSheet, w.sheet); err != nil {
		f.Close()
		return fmt.Errorf("シート名の設定に失敗しました: %w", err)
	}
	return w.setColumnWidths()
}

func (w *Workbook) setColumnWidths() error {
	if err := w.file.SetColWidth(w.sheet, titleColumn, titleColumn, titleColumnWidth); err != nil {
		return fmt.Errorf("列幅の設定に失敗しました: %w", err)
	}
	if err := w.file.SetColWidth(w.sheet, urlColumn, urlColumn, urlColumnWidth); err != nil {
		return fmt.Errorf("列幅の設定に失敗しました: %w", err)
	}
	return nil
}

func (w *Workbook) writeHeader() error {
	if err := w.file.SetSheetRow(w.sheet, titleColumn+"1", &Header); err != nil {
		return fmt.Errorf("ヘッダーの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Append はオフセット offset のレコードを行 offset+2 に書き込みます。
// URL が空のレコード (引用のみ、または異常) は Url セルを空にし、既存のリンクも削除します。
func (w *Workbook) Append(offset int, record types.Record) error {
	if offset < 0 {
		return fmt.Errorf("オフセットが負の値です: %d", offset)
	}
	row := offset + firstDataRow

	titleCell := fmt.Sprintf("%s%d", titleColumn, row)
	if err := w.file.SetCellValue(w.sheet, titleCell, record.Title); err != nil {
		return fmt.Errorf("セル %s への書き込みに失敗しました: %w", titleCell, err)
	}

	urlCell := fmt.Sprintf("%s%d", urlColumn, row)
	if !record.HasURL() {
		return w.clearCell(urlCell)
	}
	if err := w.file.SetCellValue(w.sheet, urlCell, record.URL); err != nil {
		return fmt.Errorf("セル %s への書き込みに失敗しました: %w", urlCell, err)
	}
	if err := w.file.SetCellHyperLink(w.sheet, urlCell, record.URL, "External"); err != nil {
		return fmt.Errorf("セル %s へのリンク設定に失敗しました: %w", urlCell, err)
	}
	return nil
}

// clearCell は再開時に上書きされる行の古い値とリンクを消します。
func (w *Workbook) clearCell(cell string) error {
	if err := w.file.SetCellValue(w.sheet, cell, nil); err != nil {
		return fmt.Errorf("セル %s のクリアに失敗しました: %w", cell, err)
	}
	if err := w.file.SetCellHyperLink(w.sheet, cell, "", "None"); err != nil {
		return fmt.Errorf("セル %s のリンク削除に失敗しました: %w", cell, err)
	}
	return nil
}

// DataRows はヘッダーを除いた、現在シートに存在するデータ行数を返します。
func (w *Workbook) DataRows() (int, error) {
	rows, err := w.file.GetRows(w.sheet)
	if err != nil {
		return 0, fmt.Errorf("シート (%s) の読み込みに失敗しました: %w", w.sheet, err)
	}
	if len(rows) <= 1 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

// Resumed は、既存のブックを開いたかどうかを返します。
func (w *Workbook) Resumed() bool {
	return w.resumed
}

// Path はブックの保存先を返します。
func (w *Workbook) Path() string {
	return w.path
}

// Sheet はシート名を返します。
func (w *Workbook) Sheet() string {
	return w.sheet
}

// Save はメモリ上のブックをファイルに書き出します。
func (w *Workbook) Save() error {
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("ブック (%s) の保存に失敗しました: %w", w.path, err)
	}
	return nil
}

// Close はブックが保持するリソースを解放します。
func (w *Workbook) Close() error {
	return w.file.Close()
}
