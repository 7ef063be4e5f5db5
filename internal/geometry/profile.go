// Package geometry は2Dプロファイルの構築、メッシュ生成・後処理、
// および各種3Dフォーマットの書き出しを提供します。
package geometry

import (
	"errors"
	"math"
)

// Point は2D座標です。
type Point struct {
	X, Y float64
}

// Path は2D座標列です。先頭と末尾が一致する場合は閉路とみなします。
type Path []Point

// Profile は押し出しの元になる閉じた外形ポリゴンです。
// Outline は反時計回りで、先頭と末尾の点は重複しません。
type Profile struct {
	Outline Path
}

// ErrNoGeometry は入力から有効な外形を構築できなかったことを表します。
var ErrNoGeometry = errors.New("no usable 2d geometry")

const joinEpsilon = 1e-6

// PathsToProfile はパスの集合から押し出し用の外形を構築します。
// 端点同士を貪欲に連結して閉路を作り、面積最大の閉路を採用します。
// 閉路が得られない場合は全点のバウンディングボックスにフォールバックします。
func PathsToProfile(paths []Path) (*Profile, error) {
	var usable []Path
	for _, p := range paths {
		if len(p) >= 2 {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoGeometry
	}

	loops := chainLoops(usable)

	var best Path
	bestArea := 0.0
	for _, loop := range loops {
		a := math.Abs(signedArea(loop))
		if a > bestArea {
			bestArea = a
			best = loop
		}
	}

	if best == nil || bestArea < joinEpsilon {
		box := boundingBoxPath(usable)
		if box == nil {
			return nil, ErrNoGeometry
		}
		best = box
	}

	best = dedupeAdjacent(best)
	if len(best) < 3 {
		return nil, ErrNoGeometry
	}
	if signedArea(best) < 0 {
		reversePath(best)
	}
	return &Profile{Outline: best}, nil
}

// chainLoops は端点の一致で連結した閉路の一覧を返します。
func chainLoops(paths []Path) []Path {
	used := make([]bool, len(paths))
	var loops []Path

	for i := range paths {
		if used[i] {
			continue
		}
		used[i] = true
		chain := append(Path(nil), paths[i]...)

		for {
			if samePoint(chain[0], chain[len(chain)-1]) {
				loops = append(loops, chain[:len(chain)-1])
				break
			}

			extended := false
			for j := range paths {
				if used[j] {
					continue
				}
				next := paths[j]
				switch {
				case samePoint(chain[len(chain)-1], next[0]):
					chain = append(chain, next[1:]...)
				case samePoint(chain[len(chain)-1], next[len(next)-1]):
					for k := len(next) - 2; k >= 0; k-- {
						chain = append(chain, next[k])
					}
				default:
					continue
				}
				used[j] = true
				extended = true
				break
			}
			if !extended {
				break
			}
		}
	}
	return loops
}

func samePoint(a, b Point) bool {
	return math.Abs(a.X-b.X) < joinEpsilon && math.Abs(a.Y-b.Y) < joinEpsilon
}

// signedArea は閉路の符号付き面積を返します（反時計回りで正）。
func signedArea(p Path) float64 {
	if len(p) < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(p); i++ {
		j := (i + 1) % len(p)
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return sum / 2
}

func reversePath(p Path) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}

func dedupeAdjacent(p Path) Path {
	if len(p) == 0 {
		return p
	}
	out := Path{p[0]}
	for _, pt := range p[1:] {
		if !samePoint(out[len(out)-1], pt) {
			out = append(out, pt)
		}
	}
	if len(out) > 1 && samePoint(out[0], out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

func boundingBoxPath(paths []Path) Path {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	seen := false
	for _, p := range paths {
		for _, pt := range p {
			seen = true
			minX = math.Min(minX, pt.X)
			minY = math.Min(minY, pt.Y)
			maxX = math.Max(maxX, pt.X)
			maxY = math.Max(maxY, pt.Y)
		}
	}
	if !seen || maxX-minX < joinEpsilon || maxY-minY < joinEpsilon {
		return nil
	}
	return Path{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}
}
