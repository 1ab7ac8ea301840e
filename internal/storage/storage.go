// Package storage is the narrow contract schedsync needs from the shared
// folder: list, read, atomic write, exclusive create, delete and rename of
// flat files in one directory.
//
// Dir implements the contract over an afero filesystem so the same code
// runs against the real shared folder (afero.NewOsFs) and an in-memory
// filesystem in tests (afero.NewMemMapFs).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrIO is matched by every error returned from a Provider.
//
//	if errors.Is(err, storage.ErrIO) {
//	    // folder unreachable, permission denied, ...
//	}
var ErrIO = errors.New("storage I/O failure")

// ErrExist is returned by Create when the target already exists.
var ErrExist = fs.ErrExist

// ErrNotExist is returned when a named file does not exist.
var ErrNotExist = fs.ErrNotExist

// Error records a failed storage operation.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is makes every storage error match ErrIO.
func (e *Error) Is(target error) bool { return target == ErrIO }

// FileInfo describes one file in the folder.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Provider is the folder contract. Names are flat (no separators).
// Every method checks ctx before touching the folder.
type Provider interface {
	// List returns the regular files in the folder, sorted by name.
	List(ctx context.Context) ([]FileInfo, error)

	// Stat describes one file.
	Stat(ctx context.Context, name string) (FileInfo, error)

	// Read returns the full contents of a file.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces a file atomically: readers see the old or the new
	// contents, never a partial write.
	Write(ctx context.Context, name string, data []byte) error

	// Create writes a new file and fails with ErrExist if it is present.
	Create(ctx context.Context, name string, data []byte) error

	// Delete removes a file. Deleting a missing file returns ErrNotExist.
	Delete(ctx context.Context, name string) error

	// Rename moves a file within the folder, replacing the target.
	Rename(ctx context.Context, oldName, newName string) error

	// Path returns the location of the folder, for logging and watching.
	Path() string
}

// tempPrefix marks in-flight writes. Names starting with a dot are never
// classified as schedsync files.
const tempPrefix = ".tmp-"

// Dir is a Provider over one directory of an afero filesystem.
type Dir struct {
	fs   afero.Fs
	root string
}

var _ Provider = (*Dir)(nil)

// NewDir returns a provider rooted at root within fsys.
func NewDir(fsys afero.Fs, root string) *Dir {
	return &Dir{fs: fsys, root: root}
}

// NewOSDir returns a provider over a directory of the host filesystem.
func NewOSDir(root string) *Dir {
	return NewDir(afero.NewOsFs(), root)
}

// Path implements Provider.Path.
func (d *Dir) Path() string { return d.root }

func (d *Dir) join(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return path.Join(d.root, name), nil
}

func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Name: name, Err: err}
}

// List implements Provider.List.
func (d *Dir) List(ctx context.Context) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(d.fs, d.root)
	if err != nil {
		return nil, wrap("list", d.root, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat implements Provider.Stat.
func (d *Dir) Stat(ctx context.Context, name string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	p, err := d.join(name)
	if err != nil {
		return FileInfo{}, wrap("stat", name, err)
	}
	info, err := d.fs.Stat(p)
	if err != nil {
		return FileInfo{}, wrap("stat", name, err)
	}
	return FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Read implements Provider.Read.
func (d *Dir) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.join(name)
	if err != nil {
		return nil, wrap("read", name, err)
	}
	data, err := afero.ReadFile(d.fs, p)
	if err != nil {
		return nil, wrap("read", name, err)
	}
	return data, nil
}

// Write implements Provider.Write by writing a temporary sibling and
// renaming it over the target.
func (d *Dir) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.join(name)
	if err != nil {
		return wrap("write", name, err)
	}
	if err := d.fs.MkdirAll(d.root, 0755); err != nil {
		return wrap("write", name, err)
	}

	tmp := path.Join(d.root, tempPrefix+uuid.NewString())
	if err := writeSynced(d.fs, tmp, data); err != nil {
		_ = d.fs.Remove(tmp)
		return wrap("write", name, err)
	}
	if err := d.fs.Rename(tmp, p); err != nil {
		_ = d.fs.Remove(tmp)
		return wrap("write", name, err)
	}
	return nil
}

func writeSynced(fsys afero.Fs, name string, data []byte) error {
	f, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Create implements Provider.Create. On the OS filesystem the file is
// written under a temporary name and hard-linked into place, which fails
// atomically when the target exists. Elsewhere, or when the folder does not
// support hard links, the existence check and the rename are separate steps
// and two creators racing on the same name can both succeed.
func (d *Dir) Create(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.join(name)
	if err != nil {
		return wrap("create", name, err)
	}

	if _, ok := d.fs.(*afero.OsFs); ok {
		err := d.createLinked(p, data)
		if !errors.Is(err, errNoLink) {
			return wrap("create", name, err)
		}
	}

	if _, err := d.fs.Stat(p); err == nil {
		return wrap("create", name, ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return wrap("create", name, err)
	}
	return d.Write(ctx, name, data)
}

var errNoLink = errors.New("hard links not supported")

func (d *Dir) createLinked(p string, data []byte) error {
	if err := d.fs.MkdirAll(d.root, 0755); err != nil {
		return err
	}
	tmp := path.Join(d.root, tempPrefix+uuid.NewString())
	if err := writeSynced(d.fs, tmp, data); err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}
	defer func() { _ = d.fs.Remove(tmp) }()

	if err := os.Link(tmp, p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExist
		}
		return fmt.Errorf("%w: %v", errNoLink, err)
	}
	return nil
}

// Delete implements Provider.Delete.
func (d *Dir) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.join(name)
	if err != nil {
		return wrap("delete", name, err)
	}
	if _, err := d.fs.Stat(p); err != nil {
		return wrap("delete", name, err)
	}
	return wrap("delete", name, d.fs.Remove(p))
}

// Rename implements Provider.Rename.
func (d *Dir) Rename(ctx context.Context, oldName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := d.join(oldName)
	if err != nil {
		return wrap("rename", oldName, err)
	}
	to, err := d.join(newName)
	if err != nil {
		return wrap("rename", newName, err)
	}
	return wrap("rename", oldName, d.fs.Rename(from, to))
}
