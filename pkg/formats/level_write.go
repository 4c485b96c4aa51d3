package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/Faultbox/levelc/pkg/kdtree"
	"github.com/Faultbox/levelc/pkg/math"
	"github.com/Faultbox/levelc/pkg/mesh"
)

// Level write errors.
var (
	ErrNoLeaves           = errors.New("level has no leaves")
	ErrLeafOverflow       = errors.New("leaf exceeds record capacity")
	ErrTextureNameTooLong = errors.New("texture name too long")
	ErrLevelTooLarge      = errors.New("level exceeds 32-bit offsets")
)

// levelEncoder accumulates the lumps of one level.
type levelEncoder struct {
	store *mesh.Store

	planes    []PlaneRecord
	textures  []TextureRecord
	nodes     []NodeRecord
	leaves    []LeafRecord
	triangles []TriangleRecord
	vertices  []VertexRecord
	spawns    []SpawnRecord

	textureNames []string
}

// EncodeLevel serializes a built tree and the geometry it was built from.
// The output depends only on its inputs.
func EncodeLevel(tree *kdtree.Tree, store *mesh.Store) ([]byte, error) {
	enc := &levelEncoder{store: store}

	if err := enc.addTriangles(); err != nil {
		return nil, err
	}
	if tree.Root != nil {
		if _, err := enc.addNode(tree.Root); err != nil {
			return nil, err
		}
	}
	enc.addSpawns()

	if len(enc.leaves) == 0 {
		return nil, ErrNoLeaves
	}
	if len(enc.nodes) == 0 {
		enc.addPlaceholderNode()
	}

	return enc.bytes()
}

// WriteLevelFile encodes a level and writes it to path. The destination is
// replaced atomically; on failure it is left untouched.
func WriteLevelFile(path string, tree *kdtree.Tree, store *mesh.Store) error {
	data, err := EncodeLevel(tree, store)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// addTriangles emits one triangle record per store triangle and one vertex
// record per corner.
func (e *levelEncoder) addTriangles() error {
	for i, tri := range e.store.Triangles {
		tex, err := e.addTexture(tri.Material)
		if err != nil {
			return fmt.Errorf("triangle %d: %w", i, err)
		}

		rec := TriangleRecord{Texture: tex}
		for j := 0; j < 3; j++ {
			tc := e.store.TexCoords[tri.TexCoords[j]]
			rec.Vertices[j] = int32(len(e.vertices))
			e.vertices = append(e.vertices, VertexRecord{
				Position: e.store.Positions[tri.Vertices[j]].Array(),
				Normal:   e.store.Normals[tri.Normals[j]].Array(),
				U:        tc.X,
				V:        tc.Y,
			})
		}
		e.triangles = append(e.triangles, rec)
	}
	return nil
}

// addTexture returns the index of path in the texture lump, appending it on
// first use.
func (e *levelEncoder) addTexture(path string) (int32, error) {
	for i, name := range e.textureNames {
		if name == path {
			return int32(i), nil
		}
	}
	if len(path) >= TextureNameSize {
		return 0, fmt.Errorf("%w: %q is %d bytes, limit %d", ErrTextureNameTooLong, path, len(path), TextureNameSize-1)
	}

	var rec TextureRecord
	copy(rec.Name[:], path)
	e.textures = append(e.textures, rec)
	e.textureNames = append(e.textureNames, path)
	return int32(len(e.textures) - 1), nil
}

// addNode flattens the subtree at n in pre-order and returns its child
// reference. A node's slot is reserved before its children are visited.
// A nil n is an empty half-space and becomes an empty leaf.
func (e *levelEncoder) addNode(n *kdtree.Node) (int32, error) {
	if n == nil {
		return e.addLeaf(nil)
	}
	if n.IsLeaf() {
		return e.addLeaf(n.Triangles)
	}

	e.planes = append(e.planes, planeRecord(n.Plane))
	cur := len(e.nodes)
	e.nodes = append(e.nodes, NodeRecord{
		Plane:  int32(len(e.planes) - 1),
		Origin: n.Sphere.Center.Array(),
		Radius: n.Sphere.Radius,
	})

	front, err := e.addNode(n.Front)
	if err != nil {
		return 0, err
	}
	back, err := e.addNode(n.Back)
	if err != nil {
		return 0, err
	}

	e.nodes[cur].Children = [2]int32{front, back}
	return int32(cur), nil
}

func (e *levelEncoder) addLeaf(tris []int) (int32, error) {
	if len(tris) > MaxLeafTriangles {
		return 0, fmt.Errorf("%w: %d triangles, capacity %d", ErrLeafOverflow, len(tris), MaxLeafTriangles)
	}

	var rec LeafRecord
	for i, tri := range tris {
		rec.Triangles[i] = int32(tri)
	}
	rec.Count = int32(len(tris))

	e.leaves = append(e.leaves, rec)
	return LeafRef(len(e.leaves) - 1), nil
}

func (e *levelEncoder) addSpawns() {
	for _, sp := range e.store.Spawns {
		e.spawns = append(e.spawns, SpawnRecord{
			Origin:   sp.Origin.Array(),
			Rotation: sp.Rotation.Array(),
		})
	}
}

// addPlaceholderNode keeps the "at least one node and one plane" layout for
// trees that are a single leaf. Both children point at leaf 0.
func (e *levelEncoder) addPlaceholderNode() {
	e.planes = append(e.planes, planeRecord(math.Plane{Normal: math.Vec3{Y: -1}}))
	e.nodes = append(e.nodes, NodeRecord{
		Plane:    int32(len(e.planes) - 1),
		Radius:   PlaceholderRadius,
		Children: [2]int32{LeafRef(0), LeafRef(0)},
	})
}

func planeRecord(p math.Plane) PlaneRecord {
	return PlaneRecord{Normal: p.Normal.Array(), D: p.D}
}

// directory lays the lumps out back to back after the header.
func (e *levelEncoder) directory() ([LumpCount]LumpEntry, error) {
	return layoutLumps([LumpCount]int{
		len(e.planes),
		len(e.textures),
		len(e.nodes),
		len(e.leaves),
		len(e.triangles),
		len(e.vertices),
		len(e.spawns),
	})
}

// layoutLumps computes directory entries from record counts. Offsets are
// 32-bit, so the whole file must stay below 4 GiB.
func layoutLumps(counts [LumpCount]int) ([LumpCount]LumpEntry, error) {
	var dir [LumpCount]LumpEntry
	offset := uint64(HeaderSize)
	for lump := LumpPlanes; lump < LumpCount; lump++ {
		length := uint64(counts[lump]) * uint64(lump.RecordSize())
		if offset+length > gomath.MaxUint32 {
			return dir, fmt.Errorf("%w: %s lump ends past %d bytes", ErrLevelTooLarge, lump, uint64(gomath.MaxUint32))
		}
		dir[lump] = LumpEntry{Offset: uint32(offset), Length: uint32(length)}
		offset += length
	}
	return dir, nil
}

func (e *levelEncoder) bytes() ([]byte, error) {
	dir, err := e.directory()
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	buf.Grow(int(dir[LumpSpawns].End()))

	header := LevelHeader{Version: LevelVersion}
	copy(header.Magic[:], LevelMagic)

	for _, v := range []any{
		header,
		dir,
		e.planes,
		e.textures,
		e.nodes,
		e.leaves,
		e.triangles,
		e.vertices,
		e.spawns,
	} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("encoding level: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// WriteFile writes data to a temporary file next to path and renames it into
// place once it is complete.
func WriteFile(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	_, err = f.Write(data)
	err = multierr.Combine(err, f.Sync(), f.Close())
	if err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err = os.Chmod(tmp, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
