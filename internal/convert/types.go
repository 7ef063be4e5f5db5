// Package convert はCAD/ベクタ図面を3Dプリント用フォーマットへ変換する
// パイプライン（フォーマット判定・設定解決・ステージ計画・実行）を提供します。
package convert

import (
	"fmt"
	"strings"
)

// InputFormat は入力ファイルの種別です。
type InputFormat string

const (
	FormatDWG   InputFormat = "dwg"
	FormatDGN   InputFormat = "dgn"
	FormatDXF   InputFormat = "dxf"
	FormatPDF   InputFormat = "pdf"
	FormatSVG   InputFormat = "svg"
	FormatDAT   InputFormat = "dat"
	FormatGCode InputFormat = "gcode"
)

// InputFormats は検出対象の入力フォーマット一覧です。
var InputFormats = []InputFormat{
	FormatDWG, FormatDGN, FormatDXF, FormatPDF, FormatSVG, FormatDAT, FormatGCode,
}

// ConvertibleInputFormats は変換パイプラインが受け付ける入力の一覧です。
// gcode は検出はされますが変換元としては受け付けません。
var ConvertibleInputFormats = []InputFormat{
	FormatDWG, FormatDGN, FormatDXF, FormatPDF, FormatSVG, FormatDAT,
}

// OutputFormat は出力フォーマットの種別です。
type OutputFormat string

const (
	OutputSTL     OutputFormat = "stl"
	OutputOBJ     OutputFormat = "obj"
	OutputSTEP    OutputFormat = "step"
	OutputGCode   OutputFormat = "gcode"
	OutputThreeMF OutputFormat = "3mf"
)

// OutputFormats は対応する出力フォーマット一覧です。
var OutputFormats = []OutputFormat{
	OutputSTL, OutputOBJ, OutputSTEP, OutputGCode, OutputThreeMF,
}

// ParseOutputFormat は文字列を出力フォーマットに解釈します。
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputSTL:
		return OutputSTL, true
	case OutputOBJ:
		return OutputOBJ, true
	case OutputSTEP:
		return OutputSTEP, true
	case OutputGCode:
		return OutputGCode, true
	case OutputThreeMF:
		return OutputThreeMF, true
	}
	return "", false
}

// エラーコード。HTTP応答とジョブレコードの双方で使用します。
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeFormatUnrecognized = "FORMAT_UNRECOGNIZED"
	CodeSettingsJSON       = "SETTINGS_JSON_INVALID"
	CodeValidation         = "VALIDATION_ERROR"
	CodeToolUnavailable    = "TOOL_UNAVAILABLE"
	CodeStageFailed        = "STAGE_FAILED"
	CodeTimeout            = "TIMEOUT"
	CodeNotFound           = "NOT_FOUND"
	CodeNotReady           = "NOT_READY"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error は変換処理のドメインエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// FieldError は設定1フィールド分の検証エラーです。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError は設定の検証エラーをまとめて保持します。
// 最初の1件だけでなく、問題のある全フィールドを列挙します。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return fmt.Sprintf("%s: %s", CodeValidation, strings.Join(names, ", "))
}
