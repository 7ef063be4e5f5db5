package geometry

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadDAT は座標列形式のDATファイルから2Dパスを抽出します。
// 1行につき x y [z]（空白またはカンマ区切り）、# で始まる行はコメントです。
// Z座標は押し出し前の2Dプロファイルでは無視します。
func ReadDAT(r io.Reader) ([]Path, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var pts Path
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) < 2 {
			continue
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			continue
		}
		pts = append(pts, Point{x, y})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dat: read failed: %w", err)
	}

	if len(pts) < 2 {
		return nil, fmt.Errorf("dat: %w", ErrNoGeometry)
	}

	// 始点と終点が一致しない場合は閉じる
	if !samePoint(pts[0], pts[len(pts)-1]) {
		pts = append(pts, pts[0])
	}
	return []Path{pts}, nil
}
