package filestore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// LocalBackend stores objects on a file system rooted at a base
// directory. It is backed by afero, so tests can run it against an
// in-memory file system via WithFs.
type LocalBackend struct {
	fs      afero.Fs
	handles *Limited[struct{}]
	limiter *rate.Limiter
	opts    options
	logger  *Logger
}

// ConnectLocal creates a FileStore over the directory at root. The
// directory must already exist. Pass an empty root together with WithFs
// to operate on a file system as-is.
func ConnectLocal(_ context.Context, root string, optFns ...Option) (*FileStore, error) {
	opts := applyOptions(optFns)

	base := opts.baseFs
	if base == nil {
		base = afero.NewOsFs()
	}

	if root != "" {
		base = afero.NewBasePathFs(base, root)
	}

	fi, err := base.Stat("/")
	if err != nil {
		return nil, NewError(KindInvalidSettings, "the storage root could not be opened", err)
	}

	if !fi.IsDir() {
		return nil, NewError(KindInvalidSettings, "the storage root must be a directory", nil)
	}

	var limiter *rate.Limiter
	if opts.ioLimit > 0 {
		limiter = rate.NewLimiter(opts.ioLimit, opts.initialBufferSize)
	}

	backend := &LocalBackend{
		fs:      base,
		handles: NewLimited(struct{}{}, opts.maxOpenHandles, nil),
		limiter: limiter,
		opts:    opts,
		logger:  opts.logger.WithBackend(BackendLocal),
	}

	return New(backend), nil
}

// BackendType implements Backend.
func (b *LocalBackend) BackendType() BackendType {
	return BackendLocal
}

type localInternals struct{}

func (localInternals) BackendType() BackendType {
	return BackendLocal
}

func fsPath(path ObjectPath) string {
	return "/" + strings.Join(path.Parts(), "/")
}

// localObject builds the metadata snapshot for path from a stat result.
// A nil info yields an ObjectUnknown snapshot.
func localObject(path ObjectPath, fi os.FileInfo) Object {
	obj := Object{Path: path, Type: ObjectUnknown, Internals: localInternals{}}

	if fi == nil {
		return obj
	}

	switch {
	case fi.IsDir():
		obj.Type = ObjectDirectory
	case fi.Mode()&os.ModeSymlink != 0:
		obj.Type = ObjectSymlink
	default:
		obj.Type = ObjectFile
		obj.Size = fi.Size()
	}

	return obj
}

// lstat stats without following symlinks where the file system supports
// it, so links show up as links rather than their targets.
func (b *LocalBackend) lstat(name string) (os.FileInfo, error) {
	if lstater, ok := b.fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(name)
		return fi, err
	}

	return b.fs.Stat(name)
}

type localEntry struct {
	path ObjectPath
	info os.FileInfo
}

// dirStream lazily lists one directory. The directory handle is only
// taken from the permit pool for the duration of the read, so deep
// trees never pin more than one permit per pull.
type dirStream struct {
	backend *LocalBackend
	dir     ObjectPath
	entries []localEntry
	loaded  bool
}

func (s *dirStream) Next(ctx context.Context) (localEntry, error) {
	if !s.loaded {
		guard, err := s.backend.handles.Take(ctx)
		if err != nil {
			return localEntry{}, err
		}

		infos, err := afero.ReadDir(s.backend.fs, fsPath(s.dir))
		guard.Release()
		s.backend.logger.LogFSCall(ctx, "readdir", s.dir.String(), err)

		if err != nil {
			return localEntry{}, translateFSError(err, s.dir)
		}

		s.entries = make([]localEntry, 0, len(infos))
		for _, fi := range infos {
			s.entries = append(s.entries, localEntry{path: s.dir.PushPart(fi.Name()), info: fi})
		}

		s.loaded = true
	}

	if len(s.entries) == 0 {
		return localEntry{}, io.EOF
	}

	entry := s.entries[0]
	s.entries = s.entries[1:]

	return entry, nil
}

// localLister walks the tree breadth-first from a starting directory,
// pushing a sub-stream for every directory it yields and filtering the
// results against the requested prefix.
type localLister struct {
	backend *LocalBackend
	prefix  ObjectPath
	merged  *MergedStreams[localEntry]
}

func (b *LocalBackend) newLister(prefix ObjectPath) *localLister {
	start := prefix
	if !start.IsEmpty() && !start.IsDirPrefix() {
		// A partial file name prefix lists the containing directory.
		start = start.PopPart()
	}

	merged := NewMergedStreams[localEntry]()
	merged.Push(&dirStream{backend: b, dir: start})

	return &localLister{backend: b, prefix: prefix, merged: merged}
}

// canReachPrefix reports whether anything beneath dir can still match
// prefix, letting the lister skip subtrees off the prefix's spine.
func canReachPrefix(dir, prefix ObjectPath) bool {
	parts, want := dir.Parts(), prefix.Parts()

	for i, part := range parts {
		if i >= len(want) {
			return true
		}

		if part == want[i] {
			continue
		}

		if i == len(want)-1 && !prefix.IsDirPrefix() && strings.HasPrefix(part, want[i]) {
			continue
		}

		return false
	}

	return true
}

func (l *localLister) Next(ctx context.Context) (Object, error) {
	for {
		entry, err := l.merged.Next(ctx)
		if err != nil {
			return Object{}, err
		}

		if entry.info.IsDir() && canReachPrefix(entry.path, l.prefix) {
			l.merged.Push(&dirStream{backend: l.backend, dir: entry.path.AsDir()})
		}

		if !entry.path.StartsWith(l.prefix) {
			continue
		}

		return localObject(entry.path, entry.info), nil
	}
}

// ListObjects implements Backend.
func (b *LocalBackend) ListObjects(_ context.Context, prefix ObjectPath) (ObjectStream, error) {
	return b.newLister(prefix), nil
}

// ListDirectory implements Backend.
func (b *LocalBackend) ListDirectory(_ context.Context, dir ObjectPath) (ObjectStream, error) {
	var stream Stream[localEntry] = &dirStream{backend: b, dir: dir}

	return MapStream(stream, func(entry localEntry) (Object, error) {
		return localObject(entry.path, entry.info), nil
	}), nil
}

// GetObject implements Backend.
func (b *LocalBackend) GetObject(ctx context.Context, path ObjectPath) (Object, error) {
	fi, err := b.lstat(fsPath(path))
	b.logger.LogFSCall(ctx, "lstat", path.String(), err)

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, NewNotFound(path, err)
		}

		// The entry exists but could not be inspected; report it as an
		// unknown object rather than failing the lookup.
		return localObject(path, nil), nil
	}

	return localObject(path, fi), nil
}

// GetFileStream implements Backend.
func (b *LocalBackend) GetFileStream(ctx context.Context, ref ObjectReference) (DataStream, error) {
	path, err := ref.StoragePath()
	if err != nil {
		return nil, err
	}

	obj, err := b.GetObject(ctx, path)
	if err != nil {
		return nil, err
	}

	if !obj.IsFile() {
		return nil, NewNotFound(path, nil)
	}

	guard, err := b.handles.Take(ctx)
	if err != nil {
		return nil, err
	}

	file, err := b.fs.Open(fsPath(path))
	b.logger.LogFSCall(ctx, "open", path.String(), err)

	if err != nil {
		guard.Release()
		return nil, translateFSError(err, path)
	}

	return NewReaderStream(file, func(o *ReaderStreamOptions) {
		o.InitialBufferSize = b.opts.initialBufferSize
		o.MinimumBufferSize = b.opts.minimumBufferSize
		o.Limiter = b.limiter
		o.Translate = func(err error) error { return translateFSError(err, path) }
		o.OnClose = guard.Release
	}), nil
}

// DeleteObject implements Backend.
func (b *LocalBackend) DeleteObject(ctx context.Context, ref ObjectReference) error {
	path, err := ref.StoragePath()
	if err != nil {
		return err
	}

	fi, err := b.lstat(fsPath(path))
	if err != nil {
		err = translateFSError(err, path)
		b.logger.LogDelete(ctx, path, err)

		return err
	}

	if fi.IsDir() {
		err = b.deleteDirectory(ctx, path)
	} else {
		err = translateFSError(b.fs.Remove(fsPath(path)), path)
	}

	b.logger.LogDelete(ctx, path, err)

	return err
}

// deleteDirectory removes a directory tree bottom-up: files first, then
// the directories ordered deepest-first, then the directory itself.
func (b *LocalBackend) deleteDirectory(ctx context.Context, path ObjectPath) error {
	objects, err := CollectStream[Object](ctx, b.newLister(path.AsDir()))
	if err != nil {
		return err
	}

	var dirs []ObjectPath

	for _, obj := range objects {
		if obj.IsDirectory() {
			dirs = append(dirs, obj.Path)
			continue
		}

		if err := b.fs.Remove(fsPath(obj.Path)); err != nil {
			return translateFSError(err, obj.Path)
		}
	}

	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Len() > dirs[j].Len()
	})

	for _, dir := range dirs {
		if err := b.fs.Remove(fsPath(dir)); err != nil {
			return translateFSError(err, dir)
		}
	}

	return translateFSError(b.fs.Remove(fsPath(path)), path)
}

// WriteFileFromStream implements Backend.
func (b *LocalBackend) WriteFileFromStream(ctx context.Context, path ObjectPath, stream Stream[[]byte]) error {
	written, err := b.writeFile(ctx, path, stream)
	b.logger.LogWrite(ctx, path, written, err)

	return err
}

func (b *LocalBackend) writeFile(ctx context.Context, path ObjectPath, stream Stream[[]byte]) (int64, error) {
	// Whatever occupies the target path is removed first so a file can
	// replace a directory and vice versa.
	fi, err := b.lstat(fsPath(path))

	switch {
	case err == nil && fi.IsDir():
		if derr := b.deleteDirectory(ctx, path); derr != nil {
			return 0, NewTargetError(derr)
		}
	case err == nil:
		if derr := b.fs.Remove(fsPath(path)); derr != nil {
			return 0, NewTargetError(translateFSError(derr, path))
		}
	case !errors.Is(err, fs.ErrNotExist):
		return 0, NewTargetError(translateFSError(err, path))
	}

	guard, err := b.handles.Take(ctx)
	if err != nil {
		return 0, NewTargetError(err)
	}
	defer guard.Release()

	file, err := b.fs.Create(fsPath(path))
	if err != nil {
		return 0, NewTargetError(translateFSError(err, path))
	}

	var written int64

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			_ = file.Close()
			return written, NewSourceError(err)
		}

		n, err := file.Write(chunk)
		written += int64(n)

		if err != nil {
			_ = file.Close()
			return written, NewTargetError(translateFSError(err, path))
		}
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return written, NewTargetError(translateFSError(err, path))
	}

	if err := file.Close(); err != nil {
		return written, NewTargetError(translateFSError(err, path))
	}

	return written, nil
}
