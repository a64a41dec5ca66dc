package filestore

// ObjectType describes the kind of entry an Object represents.
type ObjectType int

const (
	// ObjectFile is a regular file holding data.
	ObjectFile ObjectType = iota
	// ObjectDirectory is a directory or a cloud storage folder prefix.
	ObjectDirectory
	// ObjectSymlink is a symbolic link.
	ObjectSymlink
	// ObjectUnknown is an entry whose type could not be determined.
	ObjectUnknown
)

func (t ObjectType) String() string {
	switch t {
	case ObjectFile:
		return "file"
	case ObjectDirectory:
		return "directory"
	case ObjectSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// BackendType identifies a concrete backend variant.
type BackendType int

const (
	// BackendLocal is the local file system backend.
	BackendLocal BackendType = iota
	// BackendB2 is the Backblaze B2 backend.
	BackendB2
	// BackendS3 is the Amazon S3 backend.
	BackendS3
)

func (t BackendType) String() string {
	switch t {
	case BackendLocal:
		return "local"
	case BackendB2:
		return "b2"
	case BackendS3:
		return "s3"
	default:
		return "invalid"
	}
}

// ObjectInternals is an opaque backend-private handle attached to an
// Object. It is only ever used to re-enter the operations of the
// backend that produced it, typically to skip a redundant lookup, and
// must never be inspected generically.
type ObjectInternals interface {
	// BackendType returns the backend variant the handle belongs to.
	BackendType() BackendType
}

// Object is a point-in-time metadata snapshot of one addressable entry
// as reported by a backend. Objects are immutable and are not cached;
// they have no lifecycle beyond the call that produced them.
type Object struct {
	// Path addresses the entry.
	Path ObjectPath
	// Type is the kind of entry.
	Type ObjectType
	// Size is the entry's size in bytes. It is only meaningful for
	// ObjectFile entries.
	Size int64
	// Internals is the backend-private handle, if any.
	Internals ObjectInternals
}

// IsFile reports whether the object is a regular file.
func (o Object) IsFile() bool {
	return o.Type == ObjectFile
}

// IsDirectory reports whether the object is a directory.
func (o Object) IsDirectory() bool {
	return o.Type == ObjectDirectory
}

// StoragePath implements ObjectReference.
func (o Object) StoragePath() (ObjectPath, error) {
	return o.Path, nil
}

// ObjectReference is anything a backend operation accepts as the target
// of a file-level request: either a plain ObjectPath or a previously
// obtained Object, whose embedded backend-private handle lets the
// backend skip a redundant lookup.
type ObjectReference interface {
	// StoragePath resolves the reference to the path it addresses.
	StoragePath() (ObjectPath, error)
}
