package filestore

import (
	"fmt"
	"strings"
)

// ObjectPath addresses an object independently of any backend's native
// path syntax. A path is an ordered sequence of non-empty segments plus
// two flags: whether the path was constructed as rooted (absolute) and
// whether it denotes a directory prefix (conceptually ends with a
// separator).
//
// ObjectPath is a value type. Mutating operations return a new path and
// never modify the receiver, so paths can be copied and shared freely.
type ObjectPath struct {
	parts    []string
	absolute bool
	dir      bool
}

// EmptyPath returns the empty (root) path.
func EmptyPath() ObjectPath {
	return ObjectPath{}
}

// NewObjectPath parses s into an ObjectPath.
//
// A leading separator marks the path as absolute, a trailing separator
// marks it as a directory prefix and empty segments are dropped. Paths
// carrying a windows drive designator or UNC prefix are rejected with
// an InvalidPath error.
func NewObjectPath(s string) (ObjectPath, error) {
	if hasWindowsPrefix(s) {
		return ObjectPath{}, NewPathError(KindInvalidPath, ObjectPath{}, fmt.Sprintf("path %q must not include a windows prefix", s), nil)
	}

	var p ObjectPath

	if strings.HasPrefix(s, "/") {
		p.absolute = true
		s = strings.TrimPrefix(s, "/")
	}

	if strings.HasSuffix(s, "/") {
		p.dir = true
		s = strings.TrimSuffix(s, "/")
	}

	if s != "" {
		for _, part := range strings.Split(s, "/") {
			if part == "" {
				continue
			}

			p.parts = append(p.parts, part)
		}
	}

	return p, nil
}

func hasWindowsPrefix(s string) bool {
	if strings.HasPrefix(s, `\\`) {
		return true
	}

	if len(s) >= 2 && s[1] == ':' {
		c := s[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}

	return false
}

// IsEmpty reports whether the path has no segments.
func (p ObjectPath) IsEmpty() bool {
	return len(p.parts) == 0
}

// IsAbsolute reports whether the path was constructed as rooted.
func (p ObjectPath) IsAbsolute() bool {
	return p.absolute
}

// IsDirPrefix reports whether the path denotes a directory prefix.
func (p ObjectPath) IsDirPrefix() bool {
	return p.dir
}

// Parts returns a copy of the path's segments.
func (p ObjectPath) Parts() []string {
	parts := make([]string, len(p.parts))
	copy(parts, p.parts)

	return parts
}

// Len returns the number of segments.
func (p ObjectPath) Len() int {
	return len(p.parts)
}

func (p ObjectPath) clone() ObjectPath {
	parts := make([]string, len(p.parts))
	copy(parts, p.parts)
	p.parts = parts

	return p
}

// PushPart appends a segment. The result is no longer a directory
// prefix.
func (p ObjectPath) PushPart(part string) ObjectPath {
	q := p.clone()
	q.parts = append(q.parts, part)
	q.dir = false

	return q
}

// PopPart removes the last segment. Removing the final segment degrades
// to the empty path.
func (p ObjectPath) PopPart() ObjectPath {
	q := p.clone()
	if len(q.parts) > 0 {
		q.parts = q.parts[:len(q.parts)-1]
	}

	if len(q.parts) == 0 {
		q.dir = false
	}

	return q
}

// ShiftPart removes and returns the first segment, typically used to
// peel off a bucket or container name. Shifting the empty path returns
// an empty segment and the path unchanged.
func (p ObjectPath) ShiftPart() (string, ObjectPath) {
	if len(p.parts) == 0 {
		return "", p
	}

	q := p.clone()
	first := q.parts[0]
	q.parts = q.parts[1:]

	return first, q
}

// UnshiftPart inserts a segment at the front. It is the inverse of
// ShiftPart.
func (p ObjectPath) UnshiftPart(part string) ObjectPath {
	q := ObjectPath{absolute: p.absolute, dir: p.dir}
	q.parts = make([]string, 0, len(p.parts)+1)
	q.parts = append(q.parts, part)
	q.parts = append(q.parts, p.parts...)

	return q
}

// AsDir returns the path marked as a directory prefix.
func (p ObjectPath) AsDir() ObjectPath {
	q := p.clone()
	q.dir = true

	return q
}

// Join appends other's segments to p. The result takes its directory
// flag from other unless other is empty.
func (p ObjectPath) Join(other ObjectPath) ObjectPath {
	q := p.clone()
	q.parts = append(q.parts, other.parts...)

	if other.IsEmpty() {
		q.dir = p.dir || other.dir
	} else {
		q.dir = other.dir
	}

	return q
}

// StartsWith reports whether p begins with prefix.
//
// All but the last prefix segment must match positionally. The last
// prefix segment of a directory prefix must match exactly, while for a
// non-directory prefix a partial segment match is enough ("dir/sm"
// matches "dir/small.txt"). A directory prefix never matches the
// directory entry itself, mirroring plain string prefix matching on the
// separated form.
func (p ObjectPath) StartsWith(prefix ObjectPath) bool {
	if prefix.IsEmpty() {
		return true
	}

	n := len(prefix.parts)
	if len(p.parts) < n {
		return false
	}

	for i := 0; i < n-1; i++ {
		if p.parts[i] != prefix.parts[i] {
			return false
		}
	}

	if prefix.dir {
		if p.parts[n-1] != prefix.parts[n-1] {
			return false
		}

		if len(p.parts) == n {
			return p.dir
		}

		return true
	}

	return strings.HasPrefix(p.parts[n-1], prefix.parts[n-1])
}

// Equal reports whether both paths have the same segments and flags.
func (p ObjectPath) Equal(other ObjectPath) bool {
	if p.absolute != other.absolute || p.dir != other.dir || len(p.parts) != len(other.parts) {
		return false
	}

	for i, part := range p.parts {
		if other.parts[i] != part {
			return false
		}
	}

	return true
}

// String renders the path in separated form. The result round-trips
// through NewObjectPath.
func (p ObjectPath) String() string {
	s := strings.Join(p.parts, "/")

	if p.absolute {
		s = "/" + s
	}

	if p.dir && len(p.parts) > 0 {
		s += "/"
	}

	return s
}

// StoragePath implements ObjectReference.
func (p ObjectPath) StoragePath() (ObjectPath, error) {
	return p, nil
}
