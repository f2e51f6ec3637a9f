package vfs

import (
	"bytes"
	"errors"
	"testing"
)

func defaultHost() *Host {
	return NewHost(WithDefaults())
}

func TestOpenKnownPathReturnsHandle(t *testing.T) {
	h := defaultHost()
	handle, err := h.OpenVirtual("/etc/resolv.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == 0 {
		t.Fatal("expected nonzero handle")
	}
}

func TestOpenUnknownPathReturnsNotAVirtualPath(t *testing.T) {
	h := defaultHost()
	_, err := h.OpenVirtual("/tmp/real-file.txt")
	if !errors.Is(err, ErrNotAVirtualPath) {
		t.Fatalf("expected ErrNotAVirtualPath, got %v", err)
	}
}

func TestReadRegularFileAdvancesCursor(t *testing.T) {
	h := NewHost(NewBuilder().WithStaticFile("/f", []byte("hello world")).Build())
	handle, err := h.OpenVirtual("/f")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	first, err := h.ReadVirtual(handle, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(first) != "hello" {
		t.Fatalf("expected 'hello', got %q", first)
	}

	second, err := h.ReadVirtual(handle, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(second) != " world" {
		t.Fatalf("expected ' world', got %q", second)
	}

	third, err := h.ReadVirtual(handle, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(third) != 0 {
		t.Fatalf("expected empty read at EOF, got %q", third)
	}
}

func TestReadDevNullAlwaysEmpty(t *testing.T) {
	h := defaultHost()
	handle, err := h.OpenVirtual("/dev/null")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := h.ReadVirtual(handle, 64)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty, got %d bytes", len(data))
	}
}

// §8 scenario 5: random source freshness and length.
func TestReadDevUrandomFreshnessAndLength(t *testing.T) {
	h := defaultHost()
	handle, err := h.OpenVirtual("/dev/urandom")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	a, err := h.ReadVirtual(handle, 32)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b, err := h.ReadVirtual(handle, 32)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("expected 32-byte reads, got %d and %d", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected two successive reads to differ")
	}

	big, err := h.ReadVirtual(handle, 256)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Equal(big, make([]byte, 256)) {
		t.Fatal("expected 256-byte read to not be all zero")
	}
}

func TestReadInvalidHandle(t *testing.T) {
	h := defaultHost()
	if _, err := h.ReadVirtual(999, 1); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestStatVirtualRegular(t *testing.T) {
	h := NewHost(NewBuilder().WithStaticFile("/f", []byte("hello")).Build())
	stat, err := h.StatVirtual("/f")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size != 5 || !stat.IsFile || stat.IsDirectory {
		t.Fatalf("unexpected stat: %+v", stat)
	}
}

func TestStatVirtualSpecialKindsAreNotFiles(t *testing.T) {
	h := defaultHost()
	stat, err := h.StatVirtual("/dev/null")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size != 0 || stat.IsFile || stat.IsDirectory {
		t.Fatalf("unexpected stat: %+v", stat)
	}
}

func TestStatVirtualNotFoundPropagates(t *testing.T) {
	h := defaultHost()
	if _, err := h.StatVirtual("/nope"); !errors.Is(err, ErrNotAVirtualPath) {
		t.Fatalf("expected ErrNotAVirtualPath, got %v", err)
	}
}

func TestCloseVirtualRemovesHandle(t *testing.T) {
	h := defaultHost()
	handle, _ := h.OpenVirtual("/dev/null")
	if err := h.CloseVirtual(handle); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.ReadVirtual(handle, 1); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle after close, got %v", err)
	}
}

func TestCloseVirtualUnknownHandleIsError(t *testing.T) {
	h := defaultHost()
	if err := h.CloseVirtual(42); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestTwoHandlesOnSamePathAreIndependent(t *testing.T) {
	h := NewHost(NewBuilder().WithStaticFile("/f", []byte("abcdef")).Build())
	h1, _ := h.OpenVirtual("/f")
	h2, _ := h.OpenVirtual("/f")

	if _, err := h.ReadVirtual(h1, 3); err != nil {
		t.Fatalf("read h1: %v", err)
	}
	second, err := h.ReadVirtual(h2, 6)
	if err != nil {
		t.Fatalf("read h2: %v", err)
	}
	if string(second) != "abcdef" {
		t.Fatalf("expected h2's cursor to be independent, got %q", second)
	}
}

func TestHandlesAreMonotonic(t *testing.T) {
	h := defaultHost()
	h1, _ := h.OpenVirtual("/dev/null")
	h2, _ := h.OpenVirtual("/dev/null")
	if h2 <= h1 {
		t.Fatalf("expected monotonic handles, got %d then %d", h1, h2)
	}
}
