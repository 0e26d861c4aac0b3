// Package pagefile implements the §4.1 File contract: a random-access byte
// container extended in page-sized chunks. It is the lowest layer of the
// storage engine; everything above it (pkg/pagecache and up) treats it as
// an opaque "read a page / write a byte range / extend / size" primitive.
//
// Grounded on pkg/storage/engine.go's ReadAt/WriteAt-based page I/O and
// pkg/storage/mmap.go's open/truncate-to-grow sequencing, adapted away from
// syscall.Mmap: the page cache above already owns the in-memory
// representation of each page, so a second OS-level mapping here would
// double-buffer the same bytes instead of serving the cache's eviction
// contract (see DESIGN.md).
package pagefile

import (
	"fmt"
	"os"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
)

// OpenMode selects how Open behaves when the target path does/doesn't
// exist, mirroring spec.md §4.1.
type OpenMode int

const (
	// CreateNew fails if the file already exists.
	CreateNew OpenMode = iota
	// CreateAlways truncates any existing file.
	CreateAlways
	// OpenExisting fails if the file is absent.
	OpenExisting
	// OpenAlways opens the file, creating it if absent.
	OpenAlways
)

// initialPages is the number of pages a freshly created database file is
// extended to up front (spec.md §4.1: "extended to 8 pages").
const initialPages = 8

// File is a page-addressable random-access file with durable writes.
type File struct {
	f    *os.File
	size int64 // current file size in bytes, always a multiple of page.Size
}

// Open opens or creates path according to mode. On first creation the file
// is extended to 8 pages; initializing page 0's header and the key-cache
// seed block is the caller's responsibility (pkg/cheesebase), not this
// layer's — File only guarantees the bytes exist and read back as zero.
func Open(path string, mode OpenMode) (*File, error) {
	var flag int
	switch mode {
	case CreateNew:
		flag = os.O_RDWR | os.O_CREATE | os.O_EXCL
	case CreateAlways:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case OpenExisting:
		flag = os.O_RDWR
	case OpenAlways:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, cberr.New(cberr.FileError, "pagefile.Open", fmt.Errorf("invalid open mode %d", mode))
	}

	existedBefore := false
	if mode == OpenAlways {
		if _, err := os.Stat(path); err == nil {
			existedBefore = true
		}
	}

	osFile, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, cberr.New(cberr.FileError, "pagefile.Open", err)
	}

	info, err := osFile.Stat()
	if err != nil {
		osFile.Close()
		return nil, cberr.New(cberr.FileError, "pagefile.Open", err)
	}

	f := &File{f: osFile, size: info.Size()}

	freshFile := mode == CreateNew || mode == CreateAlways || (mode == OpenAlways && !existedBefore)
	if freshFile {
		if err := f.extendLocked(initialPages * page.Size); err != nil {
			osFile.Close()
			return nil, err
		}
	}

	return f, nil
}

// Size returns the current length of the file in bytes.
func (f *File) Size() int64 { return f.size }

// ReadPage reads the full contents of page number pageNr. It fails with
// Corrupt if pageNr lies beyond the current end of file.
func (f *File) ReadPage(pageNr uint64) ([]byte, error) {
	offset := int64(pageNr) * page.Size
	if offset+page.Size > f.size {
		return nil, cberr.New(cberr.Corrupt, "pagefile.ReadPage", fmt.Errorf("page %d beyond eof (size %d)", pageNr, f.size))
	}
	buf := make([]byte, page.Size)
	if _, err := f.f.ReadAt(buf, offset); err != nil {
		return nil, cberr.New(cberr.FileError, "pagefile.ReadPage", err)
	}
	return buf, nil
}

// Write durably writes data at the given absolute address. The write must
// not cross a page boundary it wasn't already extended to cover; callers
// extend the file first via Extend.
func (f *File) Write(addr page.Addr, data []byte) error {
	end := int64(addr) + int64(len(data))
	if end > f.size {
		return cberr.New(cberr.FileError, "pagefile.Write", fmt.Errorf("write at %s len %d exceeds file size %d", addr, len(data), f.size))
	}
	if _, err := f.f.WriteAt(data, int64(addr)); err != nil {
		return cberr.New(cberr.FileError, "pagefile.Write", err)
	}
	return f.f.Sync()
}

// Extend grows the file to at least newSize bytes, rounded up to a whole
// number of pages. The new bytes read back as zero, since Truncate
// zero-fills the extension.
func (f *File) Extend(newSize int64) error {
	return f.extendLocked(newSize)
}

func (f *File) extendLocked(newSize int64) error {
	if newSize <= f.size {
		return nil
	}
	rounded := ((newSize + page.Size - 1) / page.Size) * page.Size
	if err := f.f.Truncate(rounded); err != nil {
		return cberr.New(cberr.FileError, "pagefile.Extend", err)
	}
	f.size = rounded
	return nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	if err := f.f.Sync(); err != nil {
		return cberr.New(cberr.FileError, "pagefile.Close", err)
	}
	if err := f.f.Close(); err != nil {
		return cberr.New(cberr.FileError, "pagefile.Close", err)
	}
	return nil
}
