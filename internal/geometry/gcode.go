package geometry

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// SlicerOptions は内蔵スライサのパラメータです。
type SlicerOptions struct {
	LayerHeight float64 // mm
	PrintSpeed  float64 // mm/s
	BedSizeX    float64 // mm
	BedSizeY    float64 // mm
}

// segment2 は1層分の断面線分です。
type segment2 struct {
	a, b Point
}

// WriteGCode は内蔵スライサでG-codeを生成します。
// 層ごとに三角形と水平面の交線を求めて移動・押出コマンドを出力する
// 簡易方式で、有効なメッシュに対しては常に成功します。
func WriteGCode(w io.Writer, m *Mesh, opt SlicerOptions) error {
	if m == nil || len(m.Triangles) == 0 {
		return ErrNoGeometry
	}
	if opt.LayerHeight <= 0 {
		return fmt.Errorf("gcode: layer height must be positive: %g", opt.LayerHeight)
	}
	if opt.PrintSpeed <= 0 {
		opt.PrintSpeed = 50
	}

	min, max := m.Bounds()
	height := max[2] - min[2]
	numLayers := int(height / opt.LayerHeight)
	if numLayers < 1 {
		numLayers = 1
	}

	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "; Generated by cad-forge built-in slicer\n")
	fmt.Fprint(bw, "; Simple G-code - for complex parts use PrusaSlicer\n\n")
	fmt.Fprint(bw, "G28 ; Home all axes\n")
	fmt.Fprint(bw, "G90 ; Absolute positioning\n")
	fmt.Fprint(bw, "M82 ; Extruder absolute mode\n")
	fmt.Fprint(bw, "M104 S200 ; Set extruder temp\n")
	fmt.Fprint(bw, "M140 S60 ; Set bed temp\n")
	fmt.Fprint(bw, "M109 S200 ; Wait for extruder\n")
	fmt.Fprint(bw, "M190 S60 ; Wait for bed\n")
	fmt.Fprint(bw, "G92 E0 ; Reset extruder\n\n")

	ePos := 0.0
	feed := opt.PrintSpeed * 60 // mm/s → mm/min

	for layer := 0; layer < numLayers; layer++ {
		z := min[2] + float64(layer+1)*opt.LayerHeight
		sectionZ := z - opt.LayerHeight/2

		fmt.Fprintf(bw, "; Layer %d/%d\n", layer+1, numLayers)
		fmt.Fprintf(bw, "G1 Z%.3f F3000\n", z)

		for _, seg := range crossSection(m, sectionZ) {
			fmt.Fprintf(bw, "G0 X%.3f Y%.3f F6000\n", seg.a.X, seg.a.Y)
			dx := seg.b.X - seg.a.X
			dy := seg.b.Y - seg.a.Y
			ePos += math.Sqrt(dx*dx+dy*dy) * 0.05
			fmt.Fprintf(bw, "G1 X%.3f Y%.3f E%.4f F%.0f\n", seg.b.X, seg.b.Y, ePos, feed)
		}
	}

	fmt.Fprint(bw, "\nM104 S0 ; Turn off extruder\n")
	fmt.Fprint(bw, "M140 S0 ; Turn off bed\n")
	fmt.Fprint(bw, "G28 X Y ; Home X and Y\n")
	fmt.Fprint(bw, "M84 ; Disable motors\n")
	return bw.Flush()
}

// crossSection は高さzの水平面と各三角形の交線を返します。
func crossSection(m *Mesh, z float64) []segment2 {
	var segs []segment2
	for _, t := range m.Triangles {
		pts := trianglePlaneIntersection(
			m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]], z)
		if len(pts) == 2 {
			segs = append(segs, segment2{pts[0], pts[1]})
		}
	}
	return segs
}

func trianglePlaneIntersection(a, b, c Vec3, z float64) []Point {
	edges := [3][2]Vec3{{a, b}, {b, c}, {c, a}}
	var pts []Point
	for _, e := range edges {
		p0, p1 := e[0], e[1]
		d0, d1 := p0[2]-z, p1[2]-z
		if (d0 > 0 && d1 > 0) || (d0 < 0 && d1 < 0) {
			continue
		}
		if d0 == d1 {
			continue // 辺が面内に平行。両端は他の辺から拾う
		}
		t := d0 / (d0 - d1)
		pts = append(pts, Point{
			X: p0[0] + t*(p1[0]-p0[0]),
			Y: p0[1] + t*(p1[1]-p0[1]),
		})
		if len(pts) == 2 {
			break
		}
	}
	if len(pts) == 2 && samePoint(pts[0], pts[1]) {
		return nil
	}
	return pts
}
