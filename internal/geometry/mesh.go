package geometry

import (
	"fmt"
	"math"
)

// Vec3 は3D座標です。
type Vec3 [3]float64

// Triangle はメッシュ頂点配列への3インデックスです。
type Triangle [3]int

// Mesh は三角形メッシュです。
type Mesh struct {
	Vertices  []Vec3
	Triangles []Triangle
}

// ExtrudeProfile は2D外形をZ方向に height だけ押し出してメッシュ化します。
func ExtrudeProfile(p *Profile, height float64) (*Mesh, error) {
	if p == nil || len(p.Outline) < 3 {
		return nil, ErrNoGeometry
	}
	if height <= 0 {
		return nil, fmt.Errorf("extrusion height must be positive: %g", height)
	}

	outline := p.Outline
	n := len(outline)

	tris, err := earClip(outline)
	if err != nil {
		return nil, err
	}

	mesh := &Mesh{}
	// 底面(z=0)と上面(z=height)の頂点。底面 i、上面 n+i。
	for _, pt := range outline {
		mesh.Vertices = append(mesh.Vertices, Vec3{pt.X, pt.Y, 0})
	}
	for _, pt := range outline {
		mesh.Vertices = append(mesh.Vertices, Vec3{pt.X, pt.Y, height})
	}

	// 底面は下向きになるよう反転、上面はそのまま。
	for _, t := range tris {
		mesh.Triangles = append(mesh.Triangles, Triangle{t[0], t[2], t[1]})
		mesh.Triangles = append(mesh.Triangles, Triangle{n + t[0], n + t[1], n + t[2]})
	}

	// 側面。
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		mesh.Triangles = append(mesh.Triangles,
			Triangle{i, j, n + j},
			Triangle{i, n + j, n + i},
		)
	}

	return mesh, nil
}

// earClip は単純多角形（反時計回り）を三角形分割します。
func earClip(outline Path) ([]Triangle, error) {
	n := len(outline)
	if n < 3 {
		return nil, ErrNoGeometry
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	var tris []Triangle
	guard := 0
	for len(idx) > 3 {
		guard++
		if guard > n*n {
			// 自己交差などで耳が見つからない場合は扇状分割にフォールバック
			return fanTriangulate(n), nil
		}

		clipped := false
		for i := 0; i < len(idx); i++ {
			prev := idx[(i-1+len(idx))%len(idx)]
			cur := idx[i]
			next := idx[(i+1)%len(idx)]

			if !isEar(outline, idx, prev, cur, next) {
				continue
			}
			tris = append(tris, Triangle{prev, cur, next})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			return fanTriangulate(n), nil
		}
	}
	tris = append(tris, Triangle{idx[0], idx[1], idx[2]})
	return tris, nil
}

func fanTriangulate(n int) []Triangle {
	tris := make([]Triangle, 0, n-2)
	for i := 1; i < n-1; i++ {
		tris = append(tris, Triangle{0, i, i + 1})
	}
	return tris
}

func isEar(outline Path, idx []int, prev, cur, next int) bool {
	a, b, c := outline[prev], outline[cur], outline[next]
	if cross(a, b, c) <= 0 {
		return false
	}
	for _, k := range idx {
		if k == prev || k == cur || k == next {
			continue
		}
		if pointInTriangle(outline[k], a, b, c) {
			return false
		}
	}
	return true
}

func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func pointInTriangle(p, a, b, c Point) bool {
	d1 := cross(a, b, p)
	d2 := cross(b, c, p)
	d3 := cross(c, a, p)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

// Bounds はメッシュのAABBを返します。
func (m *Mesh) Bounds() (min, max Vec3) {
	if len(m.Vertices) == 0 {
		return
	}
	min = m.Vertices[0]
	max = m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for i := 0; i < 3; i++ {
			min[i] = math.Min(min[i], v[i])
			max[i] = math.Max(max[i], v[i])
		}
	}
	return
}

// Centroid は頂点重心を返します。
func (m *Mesh) Centroid() Vec3 {
	var c Vec3
	if len(m.Vertices) == 0 {
		return c
	}
	for _, v := range m.Vertices {
		c[0] += v[0]
		c[1] += v[1]
		c[2] += v[2]
	}
	inv := 1 / float64(len(m.Vertices))
	return Vec3{c[0] * inv, c[1] * inv, c[2] * inv}
}

// Translate は全頂点を平行移動します。
func (m *Mesh) Translate(d Vec3) {
	for i := range m.Vertices {
		m.Vertices[i][0] += d[0]
		m.Vertices[i][1] += d[1]
		m.Vertices[i][2] += d[2]
	}
}

// Scale は原点基準で一様スケールします。
func (m *Mesh) Scale(f float64) {
	for i := range m.Vertices {
		m.Vertices[i][0] *= f
		m.Vertices[i][1] *= f
		m.Vertices[i][2] *= f
	}
}

// Repair は重複頂点の融合と退化・重複三角形の除去を行います。
// 除去した三角形数を返します。
func (m *Mesh) Repair() int {
	const weldEps = 1e-9

	// 頂点の融合
	remap := make([]int, len(m.Vertices))
	var kept []Vec3
	index := make(map[[3]int64]int)
	for i, v := range m.Vertices {
		key := [3]int64{
			int64(math.Round(v[0] / weldEps)),
			int64(math.Round(v[1] / weldEps)),
			int64(math.Round(v[2] / weldEps)),
		}
		if j, ok := index[key]; ok {
			remap[i] = j
			continue
		}
		index[key] = len(kept)
		remap[i] = len(kept)
		kept = append(kept, v)
	}

	seen := make(map[[3]int]struct{}, len(m.Triangles))
	var tris []Triangle
	removed := 0
	for _, t := range m.Triangles {
		a, b, c := remap[t[0]], remap[t[1]], remap[t[2]]
		if a == b || b == c || a == c {
			removed++
			continue
		}
		key := canonicalTriKey(a, b, c)
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		tris = append(tris, Triangle{a, b, c})
	}

	m.Vertices = kept
	m.Triangles = tris
	return removed
}

func canonicalTriKey(a, b, c int) [3]int {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}
	return [3]int{a, b, c}
}

// Simplify は頂点クラスタリングで三角形数を ratio 倍程度まで削減した
// 新しいメッシュを返します。厳密な到達は保証しません。
func (m *Mesh) Simplify(ratio float64) *Mesh {
	if ratio <= 0 || ratio >= 1 || len(m.Triangles) == 0 {
		return m
	}

	min, max := m.Bounds()
	diag := math.Sqrt(
		(max[0]-min[0])*(max[0]-min[0]) +
			(max[1]-min[1])*(max[1]-min[1]) +
			(max[2]-min[2])*(max[2]-min[2]))
	if diag == 0 {
		return m
	}

	// 格子の分解能を三角形数と比率から見積もる
	cells := math.Cbrt(float64(len(m.Triangles)) * ratio)
	if cells < 2 {
		cells = 2
	}
	cellSize := diag / cells

	remap := make([]int, len(m.Vertices))
	cluster := make(map[[3]int64]int)
	var verts []Vec3
	for i, v := range m.Vertices {
		key := [3]int64{
			int64(math.Floor((v[0] - min[0]) / cellSize)),
			int64(math.Floor((v[1] - min[1]) / cellSize)),
			int64(math.Floor((v[2] - min[2]) / cellSize)),
		}
		if j, ok := cluster[key]; ok {
			remap[i] = j
			continue
		}
		cluster[key] = len(verts)
		remap[i] = len(verts)
		verts = append(verts, v)
	}

	out := &Mesh{Vertices: verts}
	seen := make(map[[3]int]struct{})
	for _, t := range m.Triangles {
		a, b, c := remap[t[0]], remap[t[1]], remap[t[2]]
		if a == b || b == c || a == c {
			continue
		}
		key := canonicalTriKey(a, b, c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Triangles = append(out.Triangles, Triangle{a, b, c})
	}

	if len(out.Triangles) == 0 {
		return m
	}
	return out
}

// normal は三角形の単位法線を返します。
func (m *Mesh) normal(t Triangle) Vec3 {
	a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
	u := Vec3{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := Vec3{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := Vec3{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
	length := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if length == 0 {
		return Vec3{0, 0, 1}
	}
	return Vec3{n[0] / length, n[1] / length, n[2] / length}
}
