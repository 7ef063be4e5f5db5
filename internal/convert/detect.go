package convert

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectFormat はファイル名と先頭バイト列から入力フォーマットを判定します。
// 拡張子を優先し（大文字小文字を区別しない）、拡張子が無いか未知の場合は
// 内容のスニッフィングにフォールバックします。副作用はありません。
func DetectFormat(filename string, head []byte) (InputFormat, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "dwg":
		return FormatDWG, nil
	case "dgn":
		return FormatDGN, nil
	case "dxf":
		return FormatDXF, nil
	case "pdf":
		return FormatPDF, nil
	case "svg":
		return FormatSVG, nil
	case "dat":
		return FormatDAT, nil
	case "gcode", "gco", "g":
		return FormatGCode, nil
	}

	if format, ok := sniffFormat(head); ok {
		return format, nil
	}

	return "", newError(CodeFormatUnrecognized,
		"ファイル形式を判別できません。対応形式: dwg, dgn, dxf, pdf, svg, dat, gcode", nil)
}

// sniffFormat はマジックバイトとテキスト内容から形式を推定します。
func sniffFormat(head []byte) (InputFormat, bool) {
	if len(head) == 0 {
		return "", false
	}

	// バイナリ形式のマジック
	if bytes.HasPrefix(head, []byte("AC10")) {
		return FormatDWG, true // DWGは "AC10xx" バージョンタグで始まる
	}
	if bytes.HasPrefix(head, []byte{0x08, 0x09, 0xFE, 0x02}) ||
		bytes.HasPrefix(head, []byte{0xD0, 0xCF, 0x11, 0xE0}) {
		return FormatDGN, true // DGN v7 / v8(複合文書)
	}

	mtype := mimetype.Detect(head)
	if mtype.Is("application/pdf") {
		return FormatPDF, true
	}
	if mtype.Is("image/svg+xml") {
		return FormatSVG, true
	}

	text := string(head)
	if strings.Contains(text, "SECTION") &&
		(strings.Contains(text, "HEADER") || strings.Contains(text, "ENTITIES")) {
		return FormatDXF, true
	}
	if looksLikeGCode(text) {
		return FormatGCode, true
	}
	if looksLikeDAT(text) {
		return FormatDAT, true
	}

	return "", false
}

func looksLikeGCode(text string) bool {
	commands := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "G") || strings.HasPrefix(line, "M") {
			commands++
			if commands >= 2 {
				return true
			}
			continue
		}
		return false
	}
	return false
}

func looksLikeDAT(text string) bool {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) < 2 {
			return false
		}
		for _, f := range fields {
			if !isNumericField(f) {
				return false
			}
		}
		rows++
		if rows >= 2 {
			return true
		}
	}
	return false
}

func isNumericField(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' && r != 'e' && r != 'E' {
			return false
		}
	}
	return true
}
