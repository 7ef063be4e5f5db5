package convert

import (
	"errors"
	"testing"
)

func TestResolveSettingsDefaults(t *testing.T) {
	for _, raw := range []string{"", "  ", "{}"} {
		settings, err := ResolveSettings([]byte(raw))
		if err != nil {
			t.Fatalf("ResolveSettings(%q) returned error: %v", raw, err)
		}
		if *settings != DefaultSettings() {
			t.Fatalf("ResolveSettings(%q) = %+v, want defaults", raw, *settings)
		}
	}
}

func TestResolveSettingsOverrides(t *testing.T) {
	raw := `{"output_format":"gcode","extrusion_height":25.5,"support_enabled":true,"infill_percentage":80}`
	settings, err := ResolveSettings([]byte(raw))
	if err != nil {
		t.Fatalf("ResolveSettings returned error: %v", err)
	}
	if settings.OutputFormat != OutputGCode {
		t.Fatalf("OutputFormat = %s, want gcode", settings.OutputFormat)
	}
	if settings.ExtrusionHeight != 25.5 {
		t.Fatalf("ExtrusionHeight = %g, want 25.5", settings.ExtrusionHeight)
	}
	if !settings.SupportEnabled {
		t.Fatal("SupportEnabled = false, want true")
	}
	if settings.InfillPercentage != 80 {
		t.Fatalf("InfillPercentage = %d, want 80", settings.InfillPercentage)
	}
	// 指定しなかったフィールドはデフォルトのまま
	if settings.LayerHeight != 0.2 {
		t.Fatalf("LayerHeight = %g, want default 0.2", settings.LayerHeight)
	}
}

func TestResolveSettingsMalformedJSON(t *testing.T) {
	_, err := ResolveSettings([]byte(`{"output_format":`))
	var convErr *Error
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if convErr.Code != CodeSettingsJSON {
		t.Fatalf("code = %s, want %s", convErr.Code, CodeSettingsJSON)
	}
}

func TestResolveSettingsListsAllInvalidFields(t *testing.T) {
	raw := `{"infill_percentage":150,"nozzle_diameter":-1,"simplify_ratio":2,"mystery":true}`
	_, err := ResolveSettings([]byte(raw))

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	want := []string{"infill_percentage", "mystery", "nozzle_diameter", "simplify_ratio"}
	if len(validationErr.Fields) != len(want) {
		t.Fatalf("field error count = %d, want %d: %+v",
			len(validationErr.Fields), len(want), validationErr.Fields)
	}
	for i, name := range want {
		if validationErr.Fields[i].Field != name {
			t.Fatalf("fields[%d] = %s, want %s", i, validationErr.Fields[i].Field, name)
		}
	}
}

func TestResolveSettingsRejectsFractionalInfill(t *testing.T) {
	_, err := ResolveSettings([]byte(`{"infill_percentage":20.5}`))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *ValidationError for fractional infill, got %v", err)
	}
}

func TestResolveSettingsUnknownOutputFormat(t *testing.T) {
	_, err := ResolveSettings([]byte(`{"output_format":"amf"}`))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if validationErr.Fields[0].Field != "output_format" {
		t.Fatalf("field = %s, want output_format", validationErr.Fields[0].Field)
	}
}
