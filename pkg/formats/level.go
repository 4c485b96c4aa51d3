// Package formats reads and writes compiled level files.
//
// A level file is a little-endian header and lump directory followed by the
// lumps themselves, back to back in directory order:
//
//	planes, textures, nodes, leaves, triangles, vertices, spawns
//
// Nodes are stored in pre-order with the root at index 0.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Level format errors.
var (
	ErrInvalidLevelMagic       = errors.New("invalid level magic: expected 'LKDB'")
	ErrUnsupportedLevelVersion = errors.New("unsupported level version")
	ErrTruncatedLevelData      = errors.New("truncated level data")
	ErrBadLumpSize             = errors.New("lump length is not a whole number of records")
	ErrCorruptLevel            = errors.New("corrupt level")
)

// Level file constants.
const (
	LevelMagic   = "LKDB"
	LevelVersion = 1

	// MaxLeafTriangles is the triangle capacity of a leaf record.
	MaxLeafTriangles = 64
	// TextureNameSize is the size of a texture record including the
	// terminating NUL.
	TextureNameSize = 64

	// HeaderSize covers the header and the lump directory.
	HeaderSize = 8 + int(LumpCount)*8

	// PlaceholderRadius is the sphere radius of the node written for levels
	// whose tree is a single leaf.
	PlaceholderRadius float32 = 99999.999
)

// Record sizes in bytes.
const (
	PlaneRecordSize    = 16
	TextureRecordSize  = TextureNameSize
	NodeRecordSize     = 28
	LeafRecordSize     = (MaxLeafTriangles + 1) * 4
	TriangleRecordSize = 16
	VertexRecordSize   = 32
	SpawnRecordSize    = 28
)

// Lump identifies a section of the level file. Lumps are stored in this
// order.
type Lump int

// Lump order.
const (
	LumpPlanes Lump = iota
	LumpTextures
	LumpNodes
	LumpLeaves
	LumpTriangles
	LumpVertices
	LumpSpawns
	LumpCount
)

var lumpNames = [LumpCount]string{"planes", "textures", "nodes", "leaves", "triangles", "vertices", "spawns"}

var recordSizes = [LumpCount]int{
	PlaneRecordSize,
	TextureRecordSize,
	NodeRecordSize,
	LeafRecordSize,
	TriangleRecordSize,
	VertexRecordSize,
	SpawnRecordSize,
}

// String returns the lump name.
func (l Lump) String() string {
	if l < 0 || l >= LumpCount {
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
	return lumpNames[l]
}

// RecordSize returns the size of one record of the lump.
func (l Lump) RecordSize() int {
	return recordSizes[l]
}

// LevelHeader starts every level file.
type LevelHeader struct {
	Magic   [4]byte
	Version uint32
}

// LumpEntry locates a lump in the file.
type LumpEntry struct {
	Offset uint32
	Length uint32
}

// End returns the offset just past the lump.
func (e LumpEntry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Length)
}

// PlaneRecord is a splitting plane: Normal·p + D = 0.
type PlaneRecord struct {
	Normal [3]float32
	D      float32
}

// TextureRecord is a NUL padded material path.
type TextureRecord struct {
	Name [TextureNameSize]byte
}

// NodeRecord is an internal tree node. Children >= 0 index the node lump;
// negative children reference leaf -(child+1).
type NodeRecord struct {
	Plane    int32
	Origin   [3]float32
	Radius   float32
	Children [2]int32 // front, back
}

// LeafRecord lists the triangles of one leaf.
type LeafRecord struct {
	Triangles [MaxLeafTriangles]int32
	Count     int32
}

// TriangleRecord references three vertex records and a texture.
type TriangleRecord struct {
	Texture  int32
	Vertices [3]int32
}

// VertexRecord is one triangle corner.
type VertexRecord struct {
	Position [3]float32
	Normal   [3]float32
	U, V     float32
}

// SpawnRecord is a player start.
type SpawnRecord struct {
	Origin   [3]float32
	Rotation [4]float32 // quaternion x, y, z, w
}

// IsLeafRef reports whether a node child references the leaf lump.
func IsLeafRef(child int32) bool {
	return child < 0
}

// LeafRef encodes leaf index i as a node child.
func LeafRef(i int) int32 {
	return int32(-(i + 1))
}

// LeafIndex decodes a leaf reference created by LeafRef.
func LeafIndex(child int32) int {
	return -int(child) - 1
}

// Level is a parsed level file.
type Level struct {
	Header    LevelHeader
	Directory [LumpCount]LumpEntry
	Planes    []PlaneRecord
	Textures  []TextureRecord
	Nodes     []NodeRecord
	Leaves    []LeafRecord
	Triangles []TriangleRecord
	Vertices  []VertexRecord
	Spawns    []SpawnRecord

	size int
}

// Size returns the size of the parsed file in bytes.
func (l *Level) Size() int {
	return l.size
}

// TextureName returns the material path of texture i.
func (l *Level) TextureName(i int) string {
	name := l.Textures[i].Name[:]
	if n := bytes.IndexByte(name, 0); n >= 0 {
		name = name[:n]
	}
	return string(name)
}

// LeafTriangles returns the used part of leaf i's triangle list.
func (l *Level) LeafTriangles(i int) []int32 {
	leaf := &l.Leaves[i]
	n := min(max(int(leaf.Count), 0), MaxLeafTriangles)
	return leaf.Triangles[:n]
}

// ParseLevel parses a level file from raw bytes. The header is validated
// before any directory entry is trusted.
func ParseLevel(data []byte) (*Level, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedLevelData, len(data), HeaderSize)
	}

	r := bytes.NewReader(data)
	level := &Level{size: len(data)}

	if err := binary.Read(r, binary.LittleEndian, &level.Header); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncatedLevelData)
	}
	if string(level.Header.Magic[:]) != LevelMagic {
		return nil, ErrInvalidLevelMagic
	}
	if level.Header.Version != LevelVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLevelVersion, level.Header.Version)
	}

	if err := binary.Read(r, binary.LittleEndian, &level.Directory); err != nil {
		return nil, fmt.Errorf("%w: reading directory", ErrTruncatedLevelData)
	}

	var err error
	if level.Planes, err = readLump[PlaneRecord](data, level.Directory, LumpPlanes); err != nil {
		return nil, err
	}
	if level.Textures, err = readLump[TextureRecord](data, level.Directory, LumpTextures); err != nil {
		return nil, err
	}
	if level.Nodes, err = readLump[NodeRecord](data, level.Directory, LumpNodes); err != nil {
		return nil, err
	}
	if level.Leaves, err = readLump[LeafRecord](data, level.Directory, LumpLeaves); err != nil {
		return nil, err
	}
	if level.Triangles, err = readLump[TriangleRecord](data, level.Directory, LumpTriangles); err != nil {
		return nil, err
	}
	if level.Vertices, err = readLump[VertexRecord](data, level.Directory, LumpVertices); err != nil {
		return nil, err
	}
	if level.Spawns, err = readLump[SpawnRecord](data, level.Directory, LumpSpawns); err != nil {
		return nil, err
	}

	return level, nil
}

// ParseLevelFile parses a level file from disk.
func ParseLevelFile(path string) (*Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading level file: %w", err)
	}
	return ParseLevel(data)
}

func readLump[T any](data []byte, dir [LumpCount]LumpEntry, lump Lump) ([]T, error) {
	entry := dir[lump]
	if entry.End() > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %s lump ends at %d, file has %d bytes", ErrTruncatedLevelData, lump, entry.End(), len(data))
	}

	size := lump.RecordSize()
	if int(entry.Length)%size != 0 {
		return nil, fmt.Errorf("%w: %s lump has %d bytes, record size %d", ErrBadLumpSize, lump, entry.Length, size)
	}

	records := make([]T, int(entry.Length)/size)
	r := bytes.NewReader(data[entry.Offset:entry.End()])
	if err := binary.Read(r, binary.LittleEndian, records); err != nil {
		return nil, fmt.Errorf("%w: reading %s lump", ErrTruncatedLevelData, lump)
	}
	return records, nil
}

// Validate checks the structural invariants of a level: the directory
// partitions the file and every cross reference is in range.
func (l *Level) Validate() error {
	offset := uint64(HeaderSize)
	for lump := LumpPlanes; lump < LumpCount; lump++ {
		entry := l.Directory[lump]
		if uint64(entry.Offset) != offset {
			return fmt.Errorf("%w: %s lump starts at %d, expected %d", ErrCorruptLevel, lump, entry.Offset, offset)
		}
		offset = entry.End()
	}
	if offset != uint64(l.size) {
		return fmt.Errorf("%w: lumps end at %d, file has %d bytes", ErrCorruptLevel, offset, l.size)
	}

	if len(l.Nodes) == 0 || len(l.Planes) == 0 || len(l.Leaves) == 0 {
		return fmt.Errorf("%w: level needs at least one node, plane and leaf", ErrCorruptLevel)
	}

	for i, node := range l.Nodes {
		if node.Plane < 0 || int(node.Plane) >= len(l.Planes) {
			return fmt.Errorf("%w: node %d references plane %d", ErrCorruptLevel, i, node.Plane)
		}
		for _, child := range node.Children {
			if err := l.checkChild(i, child); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
		}
	}

	for i, leaf := range l.Leaves {
		if leaf.Count < 0 || leaf.Count > MaxLeafTriangles {
			return fmt.Errorf("%w: leaf %d has %d triangles", ErrCorruptLevel, i, leaf.Count)
		}
		for _, tri := range l.LeafTriangles(i) {
			if tri < 0 || int(tri) >= len(l.Triangles) {
				return fmt.Errorf("%w: leaf %d references triangle %d", ErrCorruptLevel, i, tri)
			}
		}
	}

	for i, tri := range l.Triangles {
		if tri.Texture < 0 || int(tri.Texture) >= len(l.Textures) {
			return fmt.Errorf("%w: triangle %d references texture %d", ErrCorruptLevel, i, tri.Texture)
		}
		for _, v := range tri.Vertices {
			if v < 0 || int(v) >= len(l.Vertices) {
				return fmt.Errorf("%w: triangle %d references vertex %d", ErrCorruptLevel, i, v)
			}
		}
	}

	return nil
}

// checkChild validates a child of node parent. Nodes are stored in
// pre-order, so a child node always follows its parent.
func (l *Level) checkChild(parent int, child int32) error {
	if IsLeafRef(child) {
		if LeafIndex(child) >= len(l.Leaves) {
			return fmt.Errorf("%w: leaf reference %d out of range", ErrCorruptLevel, child)
		}
		return nil
	}
	if int(child) <= parent || int(child) >= len(l.Nodes) {
		return fmt.Errorf("%w: node reference %d out of range", ErrCorruptLevel, child)
	}
	return nil
}
