// Package tools は外部変換ツールの検出（プローブ）と実行を提供します。
package tools

import (
	"os"
	"os/exec"
	"sync"
)

// Capability は外部ツール1つに対応する能力名を表します。
type Capability string

const (
	CapOdaConverter Capability = "oda_converter"
	CapInkscape     Capability = "inkscape"
	CapFreecad      Capability = "freecad"
	CapOpenscad     Capability = "openscad"
	CapPrusaSlicer  Capability = "prusaslicer"
)

// Capabilities は現在のホストで確認できた能力の集合です。
type Capabilities map[Capability]bool

// Has は指定した能力が利用可能かを返します。
func (c Capabilities) Has(cap Capability) bool {
	return c[cap]
}

// Descriptor は外部ツール1つの探索方法を表します。
type Descriptor struct {
	Capability Capability
	Names      []string // 実行ファイル名の候補（宣言順に探索）
	Override   string   // 設定による明示パス（空なら未指定）
}

// DefaultDescriptors は既知の外部ツールの探索定義を返します。
// overrides には設定で明示されたパスを渡します（nil可）。
func DefaultDescriptors(overrides map[Capability]string) []Descriptor {
	descs := []Descriptor{
		{Capability: CapOdaConverter, Names: []string{"ODAFileConverter", "TeighaFileConverter", "odafileconverter"}},
		{Capability: CapInkscape, Names: []string{"inkscape"}},
		{Capability: CapFreecad, Names: []string{"freecadcmd", "FreeCADCmd", "freecad", "FreeCAD"}},
		{Capability: CapOpenscad, Names: []string{"openscad", "OpenSCAD"}},
		{Capability: CapPrusaSlicer, Names: []string{"prusa-slicer", "prusaslicer", "PrusaSlicer", "slic3r"}},
	}
	for i := range descs {
		if p, ok := overrides[descs[i].Capability]; ok {
			descs[i].Override = p
		}
	}
	return descs
}

// Probe は外部ツールの存在確認結果をプロセス生存期間キャッシュします。
type Probe struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	paths       map[Capability]string

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// NewProbe は実OS依存でプローブを作成し、初回の探索を実行します。
func NewProbe(descriptors []Descriptor) *Probe {
	p := &Probe{
		descriptors: descriptors,
		lookPath:    exec.LookPath,
		stat:        os.Stat,
	}
	p.Refresh()
	return p
}

// NewProbeForTests は探索関数を差し替え可能なプローブを作成します。
func NewProbeForTests(
	descriptors []Descriptor,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
) *Probe {
	p := &Probe{
		descriptors: descriptors,
		lookPath:    lookPath,
		stat:        stat,
	}
	p.Refresh()
	return p
}

// Refresh は全ツールの存在確認をやり直します。
// 各ツールの確認は独立しており、1つの失敗が他を妨げることはありません。
func (p *Probe) Refresh() {
	paths := make(map[Capability]string, len(p.descriptors))
	for _, d := range p.descriptors {
		if path, ok := p.locate(d); ok {
			paths[d.Capability] = path
		}
	}

	p.mu.Lock()
	p.paths = paths
	p.mu.Unlock()
}

func (p *Probe) locate(d Descriptor) (string, bool) {
	if d.Override != "" {
		if info, err := p.stat(d.Override); err == nil && !info.IsDir() {
			return d.Override, true
		}
		// 明示パスが無効でも名前探索にフォールバックする
	}
	for _, name := range d.Names {
		if path, err := p.lookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// Capabilities は全ツールの能力セットを返します。
// 未検出のツールも false として含まれます。
func (p *Probe) Capabilities() Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(Capabilities, len(p.descriptors))
	for _, d := range p.descriptors {
		_, ok := p.paths[d.Capability]
		caps[d.Capability] = ok
	}
	return caps
}

// Path は能力に対応する実行ファイルのパスを返します。
func (p *Probe) Path(c Capability) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	path, ok := p.paths[c]
	return path, ok
}
