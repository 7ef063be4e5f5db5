package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Settings は1ジョブ分の変換設定です。解決後は変更しません。
type Settings struct {
	OutputFormat     OutputFormat `json:"output_format"`
	ExtrusionHeight  float64      `json:"extrusion_height"`
	ScaleFactor      float64      `json:"scale_factor"`
	CenterModel      bool         `json:"center_model"`
	RepairMesh       bool         `json:"repair_mesh"`
	SimplifyMesh     bool         `json:"simplify_mesh"`
	SimplifyRatio    float64      `json:"simplify_ratio"`
	LayerHeight      float64      `json:"layer_height"`
	NozzleDiameter   float64      `json:"nozzle_diameter"`
	PrintSpeed       float64      `json:"print_speed"`
	InfillPercentage int          `json:"infill_percentage"`
	SupportEnabled   bool         `json:"support_enabled"`
	BedSizeX         float64      `json:"bed_size_x"`
	BedSizeY         float64      `json:"bed_size_y"`
	BedSizeZ         float64      `json:"bed_size_z"`
}

// DefaultSettings は文書化されたデフォルト設定を返します。
func DefaultSettings() Settings {
	return Settings{
		OutputFormat:     OutputSTL,
		ExtrusionHeight:  10.0,
		ScaleFactor:      1.0,
		CenterModel:      true,
		RepairMesh:       true,
		SimplifyMesh:     false,
		SimplifyRatio:    0.5,
		LayerHeight:      0.2,
		NozzleDiameter:   0.4,
		PrintSpeed:       50.0,
		InfillPercentage: 20,
		SupportEnabled:   false,
		BedSizeX:         220,
		BedSizeY:         220,
		BedSizeZ:         250,
	}
}

// ResolveSettings は呼び出し側の上書きJSONをデフォルトに重ねて検証します。
// raw が空または "{}" の場合はデフォルトそのものを返します。
// JSONとして壊れている場合は SETTINGS_JSON_INVALID、フィールド単位の問題は
// 全件を列挙した *ValidationError を返します。
func ResolveSettings(raw []byte) (*Settings, error) {
	settings := DefaultSettings()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &settings, nil
	}

	var overrides map[string]json.RawMessage
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, newError(CodeSettingsJSON, "settings_json がJSONとして解釈できません。", err)
	}

	var fieldErrs []FieldError
	addErr := func(field, msg string) {
		fieldErrs = append(fieldErrs, FieldError{Field: field, Message: msg})
	}

	setFloat := func(field string, value json.RawMessage, check func(float64) string, dst *float64) {
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			addErr(field, "数値を指定してください。")
			return
		}
		if msg := check(v); msg != "" {
			addErr(field, msg)
			return
		}
		*dst = v
	}
	setBool := func(field string, value json.RawMessage, dst *bool) {
		var v bool
		if err := json.Unmarshal(value, &v); err != nil {
			addErr(field, "真偽値を指定してください。")
			return
		}
		*dst = v
	}
	positive := func(v float64) string {
		if v <= 0 {
			return "0より大きい値を指定してください。"
		}
		return ""
	}

	for field, value := range overrides {
		switch field {
		case "output_format":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				addErr(field, "文字列を指定してください。")
				continue
			}
			format, ok := ParseOutputFormat(s)
			if !ok {
				addErr(field, fmt.Sprintf("対応していない出力フォーマットです: %s", s))
				continue
			}
			settings.OutputFormat = format
		case "extrusion_height":
			setFloat(field, value, positive, &settings.ExtrusionHeight)
		case "scale_factor":
			setFloat(field, value, positive, &settings.ScaleFactor)
		case "center_model":
			setBool(field, value, &settings.CenterModel)
		case "repair_mesh":
			setBool(field, value, &settings.RepairMesh)
		case "simplify_mesh":
			setBool(field, value, &settings.SimplifyMesh)
		case "simplify_ratio":
			setFloat(field, value, func(v float64) string {
				if v <= 0 || v > 1 {
					return "0より大きく1以下の値を指定してください。"
				}
				return ""
			}, &settings.SimplifyRatio)
		case "layer_height":
			setFloat(field, value, positive, &settings.LayerHeight)
		case "nozzle_diameter":
			setFloat(field, value, positive, &settings.NozzleDiameter)
		case "print_speed":
			setFloat(field, value, positive, &settings.PrintSpeed)
		case "infill_percentage":
			var n json.Number
			if err := json.Unmarshal(value, &n); err != nil {
				addErr(field, "整数を指定してください。")
				continue
			}
			v, err := n.Int64()
			if err != nil {
				addErr(field, "整数を指定してください。")
				continue
			}
			if v < 0 || v > 100 {
				addErr(field, "0から100の範囲で指定してください。")
				continue
			}
			settings.InfillPercentage = int(v)
		case "support_enabled":
			setBool(field, value, &settings.SupportEnabled)
		case "bed_size_x":
			setFloat(field, value, positive, &settings.BedSizeX)
		case "bed_size_y":
			setFloat(field, value, positive, &settings.BedSizeY)
		case "bed_size_z":
			setFloat(field, value, positive, &settings.BedSizeZ)
		default:
			addErr(field, "未知のフィールドです。")
		}
	}

	if len(fieldErrs) > 0 {
		// map走査順に依存しないよう整列する
		sort.Slice(fieldErrs, func(i, j int) bool {
			return strings.Compare(fieldErrs[i].Field, fieldErrs[j].Field) < 0
		})
		return nil, &ValidationError{Fields: fieldErrs}
	}

	return &settings, nil
}
