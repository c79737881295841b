// Package pager implements the paged file and buffer pool abstractions used
// for efficient io operations in our database.
package pager

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"raptordb/pkg/config"

	"github.com/ncw/directio"
)

// Pagesize is the size of an individual page (ie the maximum number of bytes
// that the page can hold).
const Pagesize int64 = config.Pagesize

// FileHandle identifies an open paged file.
type FileHandle int32

// Errors surfaced by the file manager.
var (
	ErrFileExists       = errors.New("file already exists")
	ErrFileNotFound     = errors.New("file not found")
	ErrHandleNotOpen    = errors.New("file handle not open")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrPageOutOfRange   = errors.New("page out of range")
)

type fileEntry struct {
	file *os.File
	path string
}

// openDataFile opens a paged file with O_DIRECT, falling back to a
// buffered open on filesystems that don't support it.
func openDataFile(path string, flag int) (*os.File, error) {
	file, err := directio.OpenFile(path, flag, 0666)
	if err == nil {
		return file, nil
	}
	if os.IsNotExist(err) || os.IsPermission(err) {
		return nil, err
	}
	return os.OpenFile(path, flag, 0666)
}

// FileManager maps file handles to open paged files and performs raw
// page-granular io against them.
type FileManager struct {
	openFiles    map[FileHandle]*fileEntry
	pathToHandle map[string]FileHandle
	nextHandle   FileHandle
	maxOpenFiles int
}

// NewFileManager constructs a FileManager with the default open-file bound.
func NewFileManager() *FileManager {
	return NewFileManagerWithMaxFiles(config.MaxOpenFiles)
}

// NewFileManagerWithMaxFiles constructs a FileManager that keeps at most
// maxOpenFiles files open at once.
func NewFileManagerWithMaxFiles(maxOpenFiles int) *FileManager {
	return &FileManager{
		openFiles:    make(map[FileHandle]*fileEntry),
		pathToHandle: make(map[string]FileHandle),
		maxOpenFiles: maxOpenFiles,
	}
}

// CreateFile creates a new empty paged file, erroring if one already exists
// at the path. Parent directories are created as needed.
func (fm *FileManager) CreateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return ErrFileExists
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return err
		}
	}
	file, err := openDataFile(path, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return err
	}
	return file.Close()
}

// OpenFile opens an existing paged file, returning a handle for it.
// Opening the same path twice yields the same handle.
func (fm *FileManager) OpenFile(path string) (FileHandle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	if handle, ok := fm.pathToHandle[abs]; ok {
		return handle, nil
	}
	if len(fm.openFiles) >= fm.maxOpenFiles {
		return 0, ErrTooManyOpenFiles
	}
	if _, err := os.Stat(abs); err != nil {
		return 0, ErrFileNotFound
	}
	file, err := openDataFile(abs, os.O_RDWR)
	if err != nil {
		return 0, err
	}
	handle := fm.nextHandle
	fm.nextHandle++
	fm.openFiles[handle] = &fileEntry{file: file, path: abs}
	fm.pathToHandle[abs] = handle
	return handle, nil
}

// CloseFile closes the file behind the given handle.
func (fm *FileManager) CloseFile(handle FileHandle) error {
	entry, ok := fm.openFiles[handle]
	if !ok {
		return ErrHandleNotOpen
	}
	delete(fm.openFiles, handle)
	delete(fm.pathToHandle, entry.path)
	return entry.file.Close()
}

// RemoveFile deletes the file at path, closing it first if open.
func (fm *FileManager) RemoveFile(path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		if handle, ok := fm.pathToHandle[abs]; ok {
			if err := fm.CloseFile(handle); err != nil {
				return err
			}
		}
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return err
	}
	return nil
}

// IsOpen reports whether the handle refers to an open file.
func (fm *FileManager) IsOpen(handle FileHandle) bool {
	_, ok := fm.openFiles[handle]
	return ok
}

// Path returns the path behind an open handle.
func (fm *FileManager) Path(handle FileHandle) (string, error) {
	entry, ok := fm.openFiles[handle]
	if !ok {
		return "", ErrHandleNotOpen
	}
	return entry.path, nil
}

// PageCount returns the number of pages currently stored in the file.
func (fm *FileManager) PageCount(handle FileHandle) (int64, error) {
	entry, ok := fm.openFiles[handle]
	if !ok {
		return 0, ErrHandleNotOpen
	}
	info, err := entry.file.Stat()
	if err != nil {
		return 0, err
	}
	return (info.Size() + Pagesize - 1) / Pagesize, nil
}

// ReadPage reads the page at pagenum into buf (which must be exactly one
// page long). Bytes past the end of the file read as zero.
func (fm *FileManager) ReadPage(handle FileHandle, pagenum int64, buf []byte) error {
	if int64(len(buf)) != Pagesize {
		return errors.New("read buffer is not page-sized")
	}
	entry, ok := fm.openFiles[handle]
	if !ok {
		return ErrHandleNotOpen
	}
	if pagenum < 0 {
		return ErrPageOutOfRange
	}
	n, err := entry.file.ReadAt(buf, pagenum*Pagesize)
	if err != nil && err != io.EOF {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf (exactly one page) at pagenum, extending the file
// when writing past its current end.
func (fm *FileManager) WritePage(handle FileHandle, pagenum int64, buf []byte) error {
	if int64(len(buf)) != Pagesize {
		return errors.New("write buffer is not page-sized")
	}
	entry, ok := fm.openFiles[handle]
	if !ok {
		return ErrHandleNotOpen
	}
	if pagenum < 0 {
		return ErrPageOutOfRange
	}
	_, err := entry.file.WriteAt(buf, pagenum*Pagesize)
	return err
}

// SyncAll flushes OS buffers for every open file.
func (fm *FileManager) SyncAll() (err error) {
	for _, entry := range fm.openFiles {
		if curErr := entry.file.Sync(); err == nil {
			err = curErr
		}
	}
	return err
}
