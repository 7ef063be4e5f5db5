package geometry

import (
	"archive/zip"
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteSTL はバイナリSTLを書き出します。
func WriteSTL(w io.Writer, m *Mesh) error {
	if m == nil || len(m.Triangles) == 0 {
		return ErrNoGeometry
	}

	header := make([]byte, 80)
	copy(header, []byte("cad-forge binary stl"))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("stl: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Triangles))); err != nil {
		return fmt.Errorf("stl: write count: %w", err)
	}

	buf := make([]byte, 50)
	for _, t := range m.Triangles {
		n := m.normal(t)
		putFloat32(buf[0:], n)
		putFloat32(buf[12:], m.Vertices[t[0]])
		putFloat32(buf[24:], m.Vertices[t[1]])
		putFloat32(buf[36:], m.Vertices[t[2]])
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("stl: write triangle: %w", err)
		}
	}
	return nil
}

func putFloat32(b []byte, v Vec3) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(v[0])))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(v[1])))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(v[2])))
}

// ReadSTLTriangleCount はバイナリSTLの三角形数を読み取ります。
func ReadSTLTriangleCount(r io.Reader) (int, error) {
	header := make([]byte, 80)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("stl: read header: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, fmt.Errorf("stl: read count: %w", err)
	}
	return int(count), nil
}

// WriteOBJ はWavefront OBJを書き出します。
func WriteOBJ(w io.Writer, m *Mesh) error {
	if m == nil || len(m.Triangles) == 0 {
		return ErrNoGeometry
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# exported by cad-forge")
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %g %g %g\n", v[0], v[1], v[2])
	}
	for _, t := range m.Triangles {
		// OBJの頂点インデックスは1始まり
		fmt.Fprintf(bw, "f %d %d %d\n", t[0]+1, t[1]+1, t[2]+1)
	}
	return bw.Flush()
}

const (
	threeMFContentTypes = `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="model" ContentType="application/vnd.ms-package.3dmanufacturing-3dmodel+xml"/>
</Types>
`
	threeMFRels = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Target="/3D/3dmodel.model" Id="rel-1" Type="http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"/>
</Relationships>
`
)

// Write3MF は3MFパッケージ（zip）を書き出します。
func Write3MF(w io.Writer, m *Mesh) error {
	if m == nil || len(m.Triangles) == 0 {
		return ErrNoGeometry
	}

	zw := zip.NewWriter(w)

	files := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", threeMFContentTypes},
		{"_rels/.rels", threeMFRels},
	}
	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("3mf: create %s: %w", f.name, err)
		}
		if _, err := io.WriteString(fw, f.body); err != nil {
			return fmt.Errorf("3mf: write %s: %w", f.name, err)
		}
	}

	fw, err := zw.Create("3D/3dmodel.model")
	if err != nil {
		return fmt.Errorf("3mf: create model: %w", err)
	}
	if err := write3MFModel(fw, m); err != nil {
		return err
	}

	return zw.Close()
}

func write3MFModel(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, `<?xml version="1.0" encoding="UTF-8"?>
<model unit="millimeter" xml:lang="en-US" xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
 <resources>
  <object id="1" type="model">
   <mesh>
    <vertices>
`)
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "     <vertex x=\"%g\" y=\"%g\" z=\"%g\"/>\n", v[0], v[1], v[2])
	}
	fmt.Fprint(bw, `    </vertices>
    <triangles>
`)
	for _, t := range m.Triangles {
		fmt.Fprintf(bw, "     <triangle v1=\"%d\" v2=\"%d\" v3=\"%d\"/>\n", t[0], t[1], t[2])
	}
	fmt.Fprint(bw, `    </triangles>
   </mesh>
  </object>
 </resources>
 <build>
  <item objectid="1"/>
 </build>
</model>
`)
	return bw.Flush()
}
