package geometry

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// dxfTag はDXFのグループコードと値の組です。
type dxfTag struct {
	code  int
	value string
}

// ReadDXF はDXFのENTITIESセクションから2Dパスを抽出します。
// 対応エンティティ: LINE, LWPOLYLINE, POLYLINE(+VERTEX), CIRCLE, ARC。
func ReadDXF(r io.Reader) ([]Path, error) {
	tags, err := readDXFTags(r)
	if err != nil {
		return nil, err
	}

	var paths []Path
	inEntities := false

	for i := 0; i < len(tags); i++ {
		t := tags[i]
		if t.code != 0 {
			continue
		}
		switch t.value {
		case "SECTION":
			if i+1 < len(tags) && tags[i+1].code == 2 {
				inEntities = tags[i+1].value == "ENTITIES"
			}
		case "ENDSEC":
			inEntities = false
		}
		if !inEntities {
			continue
		}

		switch t.value {
		case "LINE":
			ent := collectEntity(tags, i)
			start := Point{ent.float(10), ent.float(20)}
			end := Point{ent.float(11), ent.float(21)}
			paths = append(paths, Path{start, end})

		case "LWPOLYLINE":
			pts, closed := lwpolylinePoints(tags, i)
			if len(pts) >= 2 {
				if closed {
					pts = append(pts, pts[0])
				}
				paths = append(paths, pts)
			}

		case "POLYLINE":
			pts, closed, next := polylinePoints(tags, i)
			if len(pts) >= 2 {
				if closed {
					pts = append(pts, pts[0])
				}
				paths = append(paths, pts)
			}
			i = next

		case "CIRCLE":
			ent := collectEntity(tags, i)
			paths = append(paths, arcPath(
				Point{ent.float(10), ent.float(20)}, ent.float(40), 0, 2*math.Pi, 64))

		case "ARC":
			ent := collectEntity(tags, i)
			start := ent.float(50) * math.Pi / 180
			end := ent.float(51) * math.Pi / 180
			if end < start {
				end += 2 * math.Pi
			}
			paths = append(paths, arcPath(
				Point{ent.float(10), ent.float(20)}, ent.float(40), start, end, 32))
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("dxf: %w", ErrNoGeometry)
	}
	return paths, nil
}

func readDXFTags(r io.Reader) ([]dxfTag, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var tags []dxfTag
	for scanner.Scan() {
		codeLine := strings.TrimSpace(scanner.Text())
		if !scanner.Scan() {
			break
		}
		code, err := strconv.Atoi(codeLine)
		if err != nil {
			// グループコードとして読めない行はスキップして同期を取り直す
			continue
		}
		tags = append(tags, dxfTag{code: code, value: strings.TrimSpace(scanner.Text())})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dxf: read failed: %w", err)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("dxf: empty document")
	}
	return tags, nil
}

// entityTags はエンティティ1つ分のタグ集合です。同じコードは最初の値を保持します。
type entityTags map[int]string

func (e entityTags) float(code int) float64 {
	v, err := strconv.ParseFloat(e[code], 64)
	if err != nil {
		return 0
	}
	return v
}

func (e entityTags) int(code int) int {
	v, err := strconv.Atoi(e[code])
	if err != nil {
		return 0
	}
	return v
}

// collectEntity は tags[start](code 0) の次から次のコード0までを集めます。
func collectEntity(tags []dxfTag, start int) entityTags {
	ent := make(entityTags)
	for i := start + 1; i < len(tags); i++ {
		if tags[i].code == 0 {
			break
		}
		if _, ok := ent[tags[i].code]; !ok {
			ent[tags[i].code] = tags[i].value
		}
	}
	return ent
}

func lwpolylinePoints(tags []dxfTag, start int) (Path, bool) {
	var pts Path
	closed := false
	var x float64
	haveX := false
	for i := start + 1; i < len(tags); i++ {
		t := tags[i]
		if t.code == 0 {
			break
		}
		switch t.code {
		case 10:
			x, _ = strconv.ParseFloat(t.value, 64)
			haveX = true
		case 20:
			if haveX {
				y, _ := strconv.ParseFloat(t.value, 64)
				pts = append(pts, Point{x, y})
				haveX = false
			}
		case 70:
			flags, _ := strconv.Atoi(t.value)
			closed = flags&1 != 0
		}
	}
	return pts, closed
}

// polylinePoints は POLYLINE から SEQEND までの VERTEX を集めます。
// 戻り値の next は読み進めたタグ位置です。
func polylinePoints(tags []dxfTag, start int) (Path, bool, int) {
	var pts Path
	closed := false

	head := collectEntity(tags, start)
	closed = head.int(70)&1 != 0

	i := start + 1
	for ; i < len(tags); i++ {
		if tags[i].code != 0 {
			continue
		}
		switch tags[i].value {
		case "VERTEX":
			v := collectEntity(tags, i)
			pts = append(pts, Point{v.float(10), v.float(20)})
		case "SEQEND":
			return pts, closed, i
		default:
			return pts, closed, i - 1
		}
	}
	return pts, closed, i - 1
}

func arcPath(center Point, radius, start, end float64, segments int) Path {
	pts := make(Path, 0, segments+1)
	for i := 0; i <= segments; i++ {
		a := start + (end-start)*float64(i)/float64(segments)
		pts = append(pts, Point{
			X: center.X + radius*math.Cos(a),
			Y: center.Y + radius*math.Sin(a),
		})
	}
	return pts
}
