// Package kdtree partitions the triangles of a level into a KD/BSP hybrid
// tree. Splitting planes are axis aligned, cycle through x, y and z with
// depth and sit at the median corner coordinate of the triangles being
// split. Triangles straddling a plane are referenced from both children.
package kdtree

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/levelc/pkg/math"
	"github.com/Faultbox/levelc/pkg/mesh"
)

// DefaultLeafCapacity matches the triangle capacity of a leaf record in the
// level file format.
const DefaultLeafCapacity = 64

// maxStalls is the number of consecutive splits (one per axis) a triangle set
// may pass through without shrinking before it is declared non-separable.
const maxStalls = 3

// Build errors.
var (
	ErrNonSeparable   = errors.New("unable to compile polygon soup")
	ErrInvalidOptions = errors.New("invalid build options")
)

// SoupError reports a triangle set that no splitting plane could reduce.
type SoupError struct {
	Triangles int
	Depth     int
	Axis      math.Axis
}

func (e *SoupError) Error() string {
	return fmt.Sprintf("%v: %d triangles at depth %d cannot be separated along %s",
		ErrNonSeparable, e.Triangles, e.Depth, e.Axis)
}

func (e *SoupError) Unwrap() error {
	return ErrNonSeparable
}

// Options controls tree construction.
type Options struct {
	// LeafCapacity is the largest triangle count stored in a leaf.
	LeafCapacity int
	// Epsilon is the plane thickness used when classifying triangles.
	Epsilon float32
	// ForceLeaves turns non-separable triangle sets into oversized leaves
	// instead of failing the build. Such trees are not serializable.
	ForceLeaves bool
}

// DefaultOptions returns the options used by the level compiler.
func DefaultOptions() Options {
	return Options{
		LeafCapacity: DefaultLeafCapacity,
		Epsilon:      DefaultEpsilon,
	}
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center math.Vec3
	Radius float32
}

// Contains reports whether p lies inside the sphere, allowing for tolerance.
func (s Sphere) Contains(p math.Vec3, tolerance float32) bool {
	return s.Center.Distance(p) <= s.Radius+tolerance
}

// Node is either an internal split node or a leaf. Internal nodes own their
// children exclusively; a nil child is an empty half-space.
type Node struct {
	Plane  math.Plane
	Axis   math.Axis
	Sphere Sphere
	Front  *Node
	Back   *Node

	// Leaf data.
	Leaf      bool
	Forced    bool // leaf created from a non-separable set, may exceed capacity
	Triangles []int
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Leaf
}

// Stats summarizes a build.
type Stats struct {
	Nodes            int // internal nodes
	Leaves           int
	ForcedLeaves     int
	SplitTriangles   int // straddling triangles duplicated into both children
	MaxDepth         int
	MaxLeafTriangles int
}

// Tree is the result of a build.
type Tree struct {
	Root    *Node
	Stats   Stats
	Options Options
}

// Walk visits every node in pre-order, front before back.
func (t *Tree) Walk(fn func(n *Node, depth int)) {
	walk(t.Root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	walk(n.Front, depth+1, fn)
	walk(n.Back, depth+1, fn)
}

// builder carries the per-build state through the recursion.
type builder struct {
	store *mesh.Store
	opts  Options
	stats Stats
}

// Build partitions every triangle of store. Zero-valued options fall back to
// their defaults. A store without triangles yields a tree with a nil root.
func Build(store *mesh.Store, opts Options) (*Tree, error) {
	if opts.LeafCapacity == 0 {
		opts.LeafCapacity = DefaultLeafCapacity
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.LeafCapacity < 1 || opts.Epsilon < 0 {
		return nil, fmt.Errorf("%w: leaf capacity %d, epsilon %v", ErrInvalidOptions, opts.LeafCapacity, opts.Epsilon)
	}

	tree := &Tree{Options: opts}
	if len(store.Triangles) == 0 {
		return tree, nil
	}

	all := make([]int, len(store.Triangles))
	for i := range all {
		all[i] = i
	}

	b := &builder{store: store, opts: opts}
	root, err := b.build(all, math.AxisX, 0, 0)
	if err != nil {
		return nil, err
	}

	tree.Root = root
	tree.Stats = b.stats
	return tree, nil
}

func (b *builder) build(tris []int, axis math.Axis, depth, stalls int) (*Node, error) {
	node := &Node{Axis: axis, Sphere: b.boundingSphere(tris)}
	b.stats.MaxDepth = max(b.stats.MaxDepth, depth)

	if len(tris) <= b.opts.LeafCapacity {
		return b.leaf(node, tris, false), nil
	}

	node.Plane = b.splittingPlane(tris, axis)

	var front, back []int
	straddling := 0
	for _, tri := range tris {
		switch side := Classify(b.store, tri, node.Plane, b.opts.Epsilon); {
		case side.Straddles():
			front = append(front, tri)
			back = append(back, tri)
			straddling++
		case side == Front:
			front = append(front, tri)
		default:
			back = append(back, tri)
		}
	}

	if straddling == len(tris) || stalls >= maxStalls {
		if b.opts.ForceLeaves {
			return b.leaf(node, tris, true), nil
		}
		return nil, &SoupError{Triangles: len(tris), Depth: depth, Axis: axis}
	}

	b.stats.Nodes++
	b.stats.SplitTriangles += straddling

	next := axis.Next()
	var err error
	if len(front) > 0 {
		if node.Front, err = b.build(front, next, depth+1, stallCount(front, tris, stalls)); err != nil {
			return nil, err
		}
	}
	if len(back) > 0 {
		if node.Back, err = b.build(back, next, depth+1, stallCount(back, tris, stalls)); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// stallCount returns the stall counter for a child list. Children are subsets
// of their parent, so an equal length means the split made no progress.
func stallCount(child, parent []int, stalls int) int {
	if len(child) == len(parent) {
		return stalls + 1
	}
	return 0
}

func (b *builder) leaf(node *Node, tris []int, forced bool) *Node {
	node.Leaf = true
	node.Forced = forced
	node.Triangles = slices.Clone(tris)

	b.stats.Leaves++
	if forced {
		b.stats.ForcedLeaves++
	}
	b.stats.MaxLeafTriangles = max(b.stats.MaxLeafTriangles, len(tris))
	return node
}

// boundingSphere returns the sphere around the axis-aligned box of all
// corners. It is not the minimal sphere.
func (b *builder) boundingSphere(tris []int) Sphere {
	lo := b.store.Corner(tris[0], 0)
	hi := lo
	for _, tri := range tris {
		for i := 0; i < 3; i++ {
			p := b.store.Corner(tri, i)
			lo = lo.Min(p)
			hi = hi.Max(p)
		}
	}

	half := hi.Sub(lo).Scale(0.5)
	return Sphere{Center: lo.Add(half), Radius: half.Length()}
}

// splittingPlane places an axis-aligned plane at the median corner coordinate.
func (b *builder) splittingPlane(tris []int, axis math.Axis) math.Plane {
	coords := make([]float32, 0, len(tris)*3)
	for _, tri := range tris {
		for i := 0; i < 3; i++ {
			coords = append(coords, b.store.Corner(tri, i).Component(axis))
		}
	}
	slices.Sort(coords)

	split := coords[len(coords)/2]
	n := axis.Unit()
	return math.NewPlaneFromPoint(n.Scale(split), n)
}
