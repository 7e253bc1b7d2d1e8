package fsfacade

import (
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/convofs/convofs/internal/handler"
)

// noWritePermMask strips every write-permission bit from a reported
// mode: the mount is read-only regardless of what the underlying file
// allows, so clients that check permissions before opening don't get
// the wrong idea.
const noWritePermMask = ^uint32(syscall.S_IWUSR | syscall.S_IWGRP | syscall.S_IWOTH)

// FileSystem adapts a Facade to go-fuse's pathfs.FileSystem interface.
// Every operation works in terms of the path inside the mount; the
// Facade is the only place that knows how to turn that into an
// underlying path and a handler.
type FileSystem struct {
	pathfs.FileSystem
	facade *Facade
}

// NewFileSystem wraps facade for use with pathfs.NewPathNodeFs.
func NewFileSystem(facade *Facade) *FileSystem {
	return &FileSystem{
		FileSystem: pathfs.NewDefaultFileSystem(),
		facade:     facade,
	}
}

// GetAttr first asks the handler cache, so a currently-converting file
// reports its grown estimated size; if nothing is cached it falls back
// to lstat on the underlying file directly.
func (fs *FileSystem) GetAttr(name string, _ *fuse.Context) (*fuse.Attr, fuse.Status) {
	fsPath := "/" + name

	if info, ok := fs.facade.StatByFilename(fsPath); ok {
		attr := &fuse.Attr{
			Size:  uint64(info.Size),
			Mode:  uint32(info.Mode.Perm()) & noWritePermMask,
			Mtime: uint64(info.ModTime.Unix()),
		}
		if info.Mode.IsDir() {
			attr.Mode |= fuse.S_IFDIR
		} else {
			attr.Mode |= fuse.S_IFREG
		}
		return attr, fuse.OK
	}

	underlying := fs.facade.underlyingPath(fsPath)
	fi, err := os.Lstat(underlying)
	if err != nil {
		return nil, fuse.ToStatus(err)
	}
	attr := &fuse.Attr{}
	attr.FromStat(toSyscallStat(fi))
	attr.Mode &= noWritePermMask | fuse.S_IFDIR | fuse.S_IFREG | fuse.S_IFLNK
	return attr, fuse.OK
}

// OpenDir forwards directly to the underlying directory: directory
// listings themselves are never convolved, only the files inside them.
func (fs *FileSystem) OpenDir(name string, _ *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	underlying := fs.facade.underlyingPath("/" + name)
	entries, err := os.ReadDir(underlying)
	if err != nil {
		return nil, fuse.ToStatus(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := fuse.S_IFREG
		if e.IsDir() {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name(), Mode: uint32(mode)})
	}
	return out, fuse.OK
}

// Readlink forwards to the underlying symlink; convolved files are
// never themselves symlinks.
func (fs *FileSystem) Readlink(name string, _ *fuse.Context) (string, fuse.Status) {
	target, err := os.Readlink(fs.facade.underlyingPath("/" + name))
	if err != nil {
		return "", fuse.ToStatus(err)
	}
	return target, fuse.OK
}

// Open mints (or reuses) a handler for name and wraps it in a nodefs.File
// opened with FOPEN_DIRECT_IO, so the kernel passes short reads (which a
// convolving handler returns inside its header) through to the reader.
func (fs *FileSystem) Open(name string, _ uint32, _ *fuse.Context) (nodefs.File, fuse.Status) {
	fsPath := "/" + name
	h, err := fs.facade.GetOrCreateHandler(fsPath)
	if err != nil {
		slog.Warn("fsfacade: open failed", "file", fsPath, "err", err)
		return nil, fuse.ToStatus(err)
	}
	return &nodefs.WithFlags{
		File: &convolvedFile{
			File:   nodefs.NewDefaultFile(),
			facade: fs.facade,
			fsPath: fsPath,
			h:      h,
		},
		FuseFlags: fuse.FOPEN_DIRECT_IO,
	}, fuse.OK
}

// convolvedFile is the nodefs.File that Open hands back (wrapped to
// carry its open flags); it exists
// solely to remember which handler and path a given file descriptor
// maps to so Release can unpin the right cache entry.
type convolvedFile struct {
	nodefs.File
	facade *Facade
	fsPath string
	h      handler.FileHandler
}

func (f *convolvedFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := f.h.Read(dest, off)
	if err != nil {
		slog.Warn("fsfacade: read failed", "file", f.fsPath, "offset", off, "err", err)
		return nil, fuse.EIO
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *convolvedFile) Release() {
	f.facade.ReleaseHandler(f.fsPath, f.h)
}

// GetAttr implements the fgetattr half of attribute lookups: once a
// file is open, its handler's live view of the size is always used
// rather than re-resolving through the cache by path.
func (f *convolvedFile) GetAttr(out *fuse.Attr) fuse.Status {
	info, err := f.h.Stat()
	if err != nil {
		return fuse.ToStatus(err)
	}
	out.Size = uint64(info.Size)
	out.Mode = (uint32(info.Mode.Perm()) & noWritePermMask) | fuse.S_IFREG
	out.Mtime = uint64(info.ModTime.Unix())
	return fuse.OK
}

func toSyscallStat(fi os.FileInfo) *syscall.Stat_t {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st
	}
	return &syscall.Stat_t{}
}

// Mount builds the go-fuse node filesystem and server for facade,
// rooted at mountPoint with the given generic FUSE mount options
// (passed through verbatim, as "-o opt" on the command line allows).
func Mount(facade *Facade, mountPoint string, debugFuse bool, mountOptions []string) (*fuse.Server, error) {
	nfs := pathfs.NewPathNodeFs(NewFileSystem(facade), nil)
	opts := &nodefs.Options{
		EntryTimeout:    0,
		AttrTimeout:     0,
		NegativeTimeout: 0,
	}
	conn := nodefs.NewFileSystemConnector(nfs.Root(), opts)

	mountOpts := fuse.MountOptions{
		Debug:      debugFuse,
		Name:       "convofs",
		FsName:     filepath.Base(facade.UnderlyingDir()),
		Options:    mountOptions,
		AllowOther: false,
	}
	server, err := fuse.NewServer(conn.RawFS(), mountPoint, &mountOpts)
	if err != nil {
		return nil, err
	}
	return server, nil
}
