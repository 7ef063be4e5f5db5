package convert

import (
	"errors"
	"testing"
)

func TestDetectFormatByExtension(t *testing.T) {
	cases := []struct {
		filename string
		want     InputFormat
	}{
		{"drawing.dwg", FormatDWG},
		{"plan.DXF", FormatDXF},
		{"map.dgn", FormatDGN},
		{"doc.pdf", FormatPDF},
		{"shape.svg", FormatSVG},
		{"airfoil.dat", FormatDAT},
		{"part.gcode", FormatGCode},
		{"part.gco", FormatGCode},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.filename, nil)
		if err != nil {
			t.Fatalf("DetectFormat(%s) returned error: %v", tc.filename, err)
		}
		if got != tc.want {
			t.Fatalf("DetectFormat(%s) = %s, want %s", tc.filename, got, tc.want)
		}
	}
}

func TestDetectFormatBySniffing(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want InputFormat
	}{
		{"dwg magic", []byte("AC1032rest-of-header"), FormatDWG},
		{"dgn v7", []byte{0x08, 0x09, 0xFE, 0x02, 0x00}, FormatDGN},
		{"dgn v8", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1}, FormatDGN},
		{"pdf", []byte("%PDF-1.7\n%stuff"), FormatPDF},
		{"dxf text", []byte("0\nSECTION\n2\nENTITIES\n"), FormatDXF},
		{"gcode", []byte("G28\nG90\nG1 X0 Y0\n"), FormatGCode},
		{"dat rows", []byte("1.0 0.5\n0.9 0.47\n"), FormatDAT},
	}
	for _, tc := range cases {
		got, err := DetectFormat("upload.bin", tc.head)
		if err != nil {
			t.Fatalf("%s: DetectFormat returned error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: DetectFormat = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDetectFormatExtensionWinsOverContent(t *testing.T) {
	// 拡張子が判別できる場合は内容より優先する
	got, err := DetectFormat("model.dxf", []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("DetectFormat returned error: %v", err)
	}
	if got != FormatDXF {
		t.Fatalf("DetectFormat = %s, want dxf", got)
	}
}

func TestDetectFormatUnrecognized(t *testing.T) {
	_, err := DetectFormat("upload.bin", []byte("plain text, nothing special"))
	var convErr *Error
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if convErr.Code != CodeFormatUnrecognized {
		t.Fatalf("code = %s, want %s", convErr.Code, CodeFormatUnrecognized)
	}
}
