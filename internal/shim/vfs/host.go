package vfs

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/warpgrid/internal/logging"
)

// ErrInvalidHandle is returned by Read/Stat/Close for an unknown handle.
var ErrInvalidHandle = errors.New("invalid handle")

// ErrNotAVirtualPath signals the guest to fall through to its real
// filesystem, per spec.md §4.8/§7.
var ErrNotAVirtualPath = errors.New("not a virtual path")

type openFileKind int

const (
	kindRegular openFileKind = iota
	kindNull
	kindRandom
)

// openFile is the per-handle state for one open virtual file. Two handles
// open on the same path are fully independent: each has its own cursor.
type openFile struct {
	content []byte
	cursor  int
	kind    openFileKind
}

// Stat reports size and file/directory flags for a virtual path, per
// spec.md §4.8's stat_virtual contract.
type Stat struct {
	Size        uint64
	IsFile      bool
	IsDirectory bool
}

// Host is the per-guest-instance filesystem intercept: a monotonic handle
// table over an immutable, shared VirtualFileMap. Grounded on
// original_source/filesystem/host.rs's FilesystemHost.
type Host struct {
	fileMap *VirtualFileMap

	mu         sync.Mutex
	open       map[uint64]*openFile
	nextHandle uint64
}

// NewHost creates a Host backed by the given shared VirtualFileMap.
func NewHost(fileMap *VirtualFileMap) *Host {
	return &Host{fileMap: fileMap, open: make(map[uint64]*openFile), nextHandle: 1}
}

func (h *Host) allocateHandle() uint64 {
	handle := h.nextHandle
	h.nextHandle++
	return handle
}

// OpenVirtual looks up path in the file map. A match allocates a handle
// and buffers the content (Regular) or records the special kind (Null,
// Random, empty buffer either way). NotFound returns ErrNotAVirtualPath,
// the signal for the guest to try its real filesystem path instead.
func (h *Host) OpenVirtual(path string) (uint64, error) {
	content := h.fileMap.Lookup(path)

	h.mu.Lock()
	defer h.mu.Unlock()

	switch content.Kind {
	case Found:
		handle := h.allocateHandle()
		h.open[handle] = &openFile{content: content.Bytes, kind: kindRegular}
		logging.Op().Debug("filesystem shim opened regular virtual file", "path", path, "handle", handle, "size", len(content.Bytes))
		return handle, nil
	case DevNull:
		handle := h.allocateHandle()
		h.open[handle] = &openFile{kind: kindNull}
		logging.Op().Debug("filesystem shim opened /dev/null", "path", path, "handle", handle)
		return handle, nil
	case DevUrandom:
		handle := h.allocateHandle()
		h.open[handle] = &openFile{kind: kindRandom}
		logging.Op().Debug("filesystem shim opened /dev/urandom", "path", path, "handle", handle)
		return handle, nil
	default:
		logging.Op().Debug("filesystem shim path not virtual, falling through", "path", path)
		return 0, fmt.Errorf("%w: %s", ErrNotAVirtualPath, path)
	}
}

// ReadVirtual reads up to len bytes from handle. Regular files advance a
// cursor and return a shorter slice near EOF; Null always returns empty;
// Random allocates and fills len fresh bytes from crypto/rand on every
// call -- no buffering, matching spec.md §4.8's "never buffered" note.
func (h *Host) ReadVirtual(handle uint64, length int) ([]byte, error) {
	h.mu.Lock()
	f, ok := h.open[handle]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}

	switch f.kind {
	case kindNull:
		return []byte{}, nil
	case kindRandom:
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("dev/urandom read: %w", err)
		}
		return buf, nil
	default:
		h.mu.Lock()
		defer h.mu.Unlock()
		remaining := len(f.content) - f.cursor
		if remaining < 0 {
			remaining = 0
		}
		toRead := length
		if toRead > remaining {
			toRead = remaining
		}
		data := f.content[f.cursor : f.cursor+toRead]
		f.cursor += toRead
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
}

// StatVirtual reports size/is_file/is_directory for path without opening
// it. Size is the buffer length for Regular content, zero for the special
// kinds; is_directory is always false.
func (h *Host) StatVirtual(path string) (Stat, error) {
	content := h.fileMap.Lookup(path)
	switch content.Kind {
	case Found:
		return Stat{Size: uint64(len(content.Bytes)), IsFile: true}, nil
	case DevNull, DevUrandom:
		return Stat{}, nil
	default:
		return Stat{}, fmt.Errorf("%w: %s", ErrNotAVirtualPath, path)
	}
}

// CloseVirtual removes handle from the table.
func (h *Host) CloseVirtual(handle uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.open[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	delete(h.open, handle)
	return nil
}
