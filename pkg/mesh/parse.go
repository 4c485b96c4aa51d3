package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	gomath "math"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/levelc/pkg/math"
)

// Parse errors. Every error returned by Parse is a *LineError wrapping one
// of these.
var (
	ErrMissingField    = errors.New("missing field")
	ErrBadNumber       = errors.New("invalid number")
	ErrBadIndex        = errors.New("index out of range")
	ErrNotTriangulated = errors.New("face has more than three corners")
	ErrDegenerate      = errors.New("degenerate triangle")
)

// maxLineLength bounds a single source line.
const maxLineLength = 1 << 20

// LineError describes a problem on a specific source line.
type LineError struct {
	Line      int
	Directive string
	Err       error
}

func (e *LineError) Error() string {
	if e.Directive == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Directive, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// parser holds the state of a single Parse call.
type parser struct {
	store     *Store
	material  string
	line      int
	faceLines []int
}

// Parse reads a mesh description from r. On any structural error the whole
// load is aborted and no Store is returned.
func Parse(r io.Reader) (*Store, error) {
	p := &parser{store: &Store{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		p.line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := p.parseLine(fields[0], fields[1:]); err != nil {
			return nil, &LineError{Line: p.line, Directive: fields[0], Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		// The scanner stops on the line it could not read.
		return nil, &LineError{Line: p.line + 1, Err: fmt.Errorf("reading mesh: %w", err)}
	}

	p.store.computePlanes()
	for i, t := range p.store.Triangles {
		if !t.Plane.IsValid() {
			p.store.Warnings = append(p.store.Warnings, &LineError{
				Line:      p.faceLines[i],
				Directive: "f",
				Err:       fmt.Errorf("%w: triangle %d", ErrDegenerate, i),
			})
		}
	}

	return p.store, nil
}

// ParseFile parses a mesh description from disk.
func ParseFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mesh: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (p *parser) parseLine(directive string, args []string) error {
	switch directive {
	case "v":
		v, err := parseVec3(args, 3)
		if err != nil {
			return err
		}
		p.store.Positions = append(p.store.Positions, v)
	case "vn":
		v, err := parseVec3(args, 3)
		if err != nil {
			return err
		}
		p.store.Normals = append(p.store.Normals, v)
	case "vt":
		v, err := parseVec3(args, 2)
		if err != nil {
			return err
		}
		p.store.TexCoords = append(p.store.TexCoords, v)
	case "usemtl":
		if len(args) < 1 {
			return ErrMissingField
		}
		p.material = args[0]
	case "spawn":
		p.parseSpawn(args)
	case "f":
		return p.parseFace(args)
	}
	return nil
}

// parseSpawn never fails the load. Malformed lines are recorded as warnings.
func (p *parser) parseSpawn(args []string) {
	origin, err := parseVec3(args, 3)
	if err != nil {
		p.warn("spawn", err)
		return
	}

	rotation := math.QuatIdentity()
	if len(args) > 3 {
		yaw, err := parseFloat(args[3])
		if err != nil {
			p.warn("spawn", err)
			return
		}
		rotation = math.QuatFromYaw(yaw)
	}

	p.store.Spawns = append(p.store.Spawns, SpawnPoint{Origin: origin, Rotation: rotation})
}

func (p *parser) parseFace(args []string) error {
	if len(args) < 3 {
		return ErrMissingField
	}
	if len(args) > 3 {
		return ErrNotTriangulated
	}

	tri := Triangle{Material: p.material}
	for i, corner := range args {
		parts := strings.Split(corner, "/")
		if len(parts) != 3 {
			return fmt.Errorf("%w: corner %q needs vertex/texcoord/normal", ErrMissingField, corner)
		}

		var err error
		if tri.Vertices[i], err = parseIndex(parts[0], len(p.store.Positions)); err != nil {
			return fmt.Errorf("corner %d vertex: %w", i+1, err)
		}
		if tri.TexCoords[i], err = parseIndex(parts[1], len(p.store.TexCoords)); err != nil {
			return fmt.Errorf("corner %d texcoord: %w", i+1, err)
		}
		if tri.Normals[i], err = parseIndex(parts[2], len(p.store.Normals)); err != nil {
			return fmt.Errorf("corner %d normal: %w", i+1, err)
		}
	}

	p.store.Triangles = append(p.store.Triangles, tri)
	p.faceLines = append(p.faceLines, p.line)
	return nil
}

func (p *parser) warn(directive string, err error) {
	p.store.Warnings = append(p.store.Warnings, &LineError{Line: p.line, Directive: directive, Err: err})
}

// parseVec3 parses up to three floats. The first required fields must be
// present; missing optional fields are zero.
func parseVec3(args []string, required int) (math.Vec3, error) {
	if len(args) < required {
		return math.Vec3{}, fmt.Errorf("%w: need %d values, got %d", ErrMissingField, required, len(args))
	}

	var c [3]float32
	for i := 0; i < 3 && i < len(args); i++ {
		f, err := parseFloat(args[i])
		if err != nil {
			return math.Vec3{}, err
		}
		c[i] = f
	}
	return math.Vec3FromArray(c), nil
}

// parseFloat accepts finite numbers only. NaN and infinities are rejected.
func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil || gomath.IsNaN(f) || gomath.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	return float32(f), nil
}

// parseIndex converts a 1-based source index into a 0-based index below n.
func parseIndex(s string, n int) (int, error) {
	if s == "" {
		return 0, ErrMissingField
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	if i < 1 || i > n {
		return 0, fmt.Errorf("%w: %d (have %d)", ErrBadIndex, i, n)
	}
	return i - 1, nil
}
