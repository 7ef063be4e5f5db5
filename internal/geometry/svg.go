package geometry

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadSVG はSVG文書から2Dパスを抽出します。
// 対応要素: line, polyline, polygon, rect, path（M/L/H/V/Zのみ）。
// SVGはY軸が下向きですが、押し出し形状には影響しないためそのまま扱います。
func ReadSVG(r io.Reader) ([]Path, error) {
	dec := xml.NewDecoder(r)

	var paths []Path
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("svg: parse failed: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		attrs := make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}

		switch start.Name.Local {
		case "line":
			paths = append(paths, Path{
				{svgFloat(attrs["x1"]), svgFloat(attrs["y1"])},
				{svgFloat(attrs["x2"]), svgFloat(attrs["y2"])},
			})
		case "polyline", "polygon":
			pts := parseSVGPoints(attrs["points"])
			if len(pts) >= 2 {
				if start.Name.Local == "polygon" {
					pts = append(pts, pts[0])
				}
				paths = append(paths, pts)
			}
		case "rect":
			x, y := svgFloat(attrs["x"]), svgFloat(attrs["y"])
			w, h := svgFloat(attrs["width"]), svgFloat(attrs["height"])
			if w > 0 && h > 0 {
				paths = append(paths, Path{
					{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}, {x, y},
				})
			}
		case "path":
			for _, sub := range parseSVGPathData(attrs["d"]) {
				if len(sub) >= 2 {
					paths = append(paths, sub)
				}
			}
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("svg: %w", ErrNoGeometry)
	}
	return paths, nil
}

func svgFloat(s string) float64 {
	s = strings.TrimSpace(s)
	// 単位付き座標（px等）は数値部分のみ読む
	end := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' && r != 'e' && r != 'E' {
			end = i
			break
		}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseSVGPoints(s string) Path {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n' || r == '\r'
	})
	var pts Path
	for i := 0; i+1 < len(fields); i += 2 {
		x, errX := strconv.ParseFloat(fields[i], 64)
		y, errY := strconv.ParseFloat(fields[i+1], 64)
		if errX != nil || errY != nil {
			continue
		}
		pts = append(pts, Point{x, y})
	}
	return pts
}

// parseSVGPathData はpath要素のd属性を折れ線近似で読み取ります。
// 曲線コマンド(C/Q/A等)は制御点を無視して終点のみ結びます。
func parseSVGPathData(d string) []Path {
	tokens := tokenizeSVGPath(d)

	var subpaths []Path
	var cur Path
	var pos, start Point
	cmd := byte(0)

	i := 0
	next := func() (float64, bool) {
		if i >= len(tokens) {
			return 0, false
		}
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return 0, false
		}
		i++
		return v, true
	}

	flush := func() {
		if len(cur) >= 2 {
			subpaths = append(subpaths, cur)
		}
		cur = nil
	}

	for i < len(tokens) {
		tok := tokens[i]
		if len(tok) == 1 && isSVGCommand(tok[0]) {
			cmd = tok[0]
			i++
			if cmd == 'Z' || cmd == 'z' {
				if len(cur) > 0 {
					cur = append(cur, start)
				}
				flush()
				pos = start
			}
			continue
		}

		rel := cmd >= 'a' && cmd <= 'z'
		switch cmd {
		case 'M', 'm':
			x, okX := next()
			y, okY := next()
			if !okX || !okY {
				i++
				continue
			}
			if rel {
				x, y = pos.X+x, pos.Y+y
			}
			flush()
			pos = Point{x, y}
			start = pos
			cur = Path{pos}
			// 後続の座標は暗黙のLineTo
			if cmd == 'M' {
				cmd = 'L'
			} else {
				cmd = 'l'
			}
		case 'L', 'l':
			x, okX := next()
			y, okY := next()
			if !okX || !okY {
				i++
				continue
			}
			if rel {
				x, y = pos.X+x, pos.Y+y
			}
			pos = Point{x, y}
			cur = append(cur, pos)
		case 'H', 'h':
			x, ok := next()
			if !ok {
				i++
				continue
			}
			if rel {
				x = pos.X + x
			}
			pos = Point{x, pos.Y}
			cur = append(cur, pos)
		case 'V', 'v':
			y, ok := next()
			if !ok {
				i++
				continue
			}
			if rel {
				y = pos.Y + y
			}
			pos = Point{pos.X, y}
			cur = append(cur, pos)
		case 'C', 'c':
			coords := make([]float64, 0, 6)
			for len(coords) < 6 {
				v, ok := next()
				if !ok {
					break
				}
				coords = append(coords, v)
			}
			if len(coords) == 6 {
				x, y := coords[4], coords[5]
				if rel {
					x, y = pos.X+x, pos.Y+y
				}
				pos = Point{x, y}
				cur = append(cur, pos)
			}
		case 'Q', 'q', 'S', 's':
			coords := make([]float64, 0, 4)
			for len(coords) < 4 {
				v, ok := next()
				if !ok {
					break
				}
				coords = append(coords, v)
			}
			if len(coords) == 4 {
				x, y := coords[2], coords[3]
				if rel {
					x, y = pos.X+x, pos.Y+y
				}
				pos = Point{x, y}
				cur = append(cur, pos)
			}
		default:
			i++
		}
	}
	flush()
	return subpaths
}

func isSVGCommand(b byte) bool {
	switch b {
	case 'M', 'm', 'L', 'l', 'H', 'h', 'V', 'v', 'Z', 'z', 'C', 'c', 'Q', 'q', 'S', 's', 'T', 't', 'A', 'a':
		return true
	}
	return false
}

func tokenizeSVGPath(d string) []string {
	var tokens []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}

	for i := 0; i < len(d); i++ {
		c := d[i]
		switch {
		case isSVGCommand(c):
			flush()
			tokens = append(tokens, string(c))
		case c == ' ' || c == ',' || c == '\t' || c == '\n' || c == '\r':
			flush()
		case c == '-' && buf.Len() > 0 && buf.String()[buf.Len()-1] != 'e' && buf.String()[buf.Len()-1] != 'E':
			// 区切りなしの負数
			flush()
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
		}
	}
	flush()
	return tokens
}
