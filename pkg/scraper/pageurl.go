package scraper

import (
	"fmt"
	"regexp"
	"strings"
)

// startParam はクエリ中の start=<n> パラメータに一致します (as_ystart のような別名には一致しない)。
var startParam = regexp.MustCompile(`([?&])start=\d*`)

// PageURL は baseURL の start パラメータを offset に置き換えたURLを返します。
// start パラメータが無い場合は末尾に追加します。その他のパラメータは変更しません。
func PageURL(baseURL string, offset int) string {
	if startParam.MatchString(baseURL) {
		return startParam.ReplaceAllString(baseURL, fmt.Sprintf("${1}start=%d", offset))
	}

	sep := "&"
	switch {
	case !strings.Contains(baseURL, "?"):
		sep = "?"
	case strings.HasSuffix(baseURL, "?"), strings.HasSuffix(baseURL, "&"):
		sep = ""
	}
	return fmt.Sprintf("%s%sstart=%d", baseURL, sep, offset)
}

// PageOffsets は start から pageSize 刻みで total 未満のページオフセットを返します。
func PageOffsets(start, total, pageSize int) []int {
	if pageSize <= 0 {
		return nil
	}
	var offsets []int
	for offset := start; offset < total; offset += pageSize {
		offsets = append(offsets, offset)
	}
	return offsets
}
