// Package vfs implements the virtual filesystem shim: an immutable
// catalog of synthetic paths (§4.7) plus the per-instance handle table
// that serves reads against it (§4.8).
package vfs

import (
	"strings"
)

// contentProvider generates bytes for a registered virtual path. Each
// variant handles a distinct category, mirroring
// original_source/filesystem.rs's ContentProvider enum.
type contentProvider struct {
	kind     providerKind
	static   []byte
	prefixed map[string][]byte
}

type providerKind int

const (
	providerStatic providerKind = iota
	providerDevNull
	providerDevUrandom
	providerPrefixed
)

// Content is the outcome of a VirtualFileMap lookup, per spec.md §4.7.
type Content struct {
	Kind  ContentKind
	Bytes []byte
}

// ContentKind distinguishes the four lookup outcomes.
type ContentKind int

const (
	NotFound ContentKind = iota
	Found
	DevNull
	DevUrandom
)

// VirtualFileMap is an immutable exact-path + prefix-path catalog of
// virtual content providers. Once built via Builder.Build, no method
// mutates it -- it is safe to share across every guest instance.
type VirtualFileMap struct {
	exact    map[string]contentProvider
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix   string
	provider contentProvider
}

// Builder accumulates virtual path registrations; Build() consumes it
// into an immutable VirtualFileMap.
type Builder struct {
	exact    map[string]contentProvider
	prefixes []prefixEntry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{exact: make(map[string]contentProvider)}
}

// WithDevNull registers /dev/null: empty reads, writes ignored.
func (b *Builder) WithDevNull() *Builder {
	b.exact["/dev/null"] = contentProvider{kind: providerDevNull}
	return b
}

// WithDevUrandom registers /dev/urandom: fresh random bytes on every read.
func (b *Builder) WithDevUrandom() *Builder {
	b.exact["/dev/urandom"] = contentProvider{kind: providerDevUrandom}
	return b
}

// WithStaticFile registers an arbitrary exact path with fixed content.
func (b *Builder) WithStaticFile(path string, content []byte) *Builder {
	b.exact[path] = contentProvider{kind: providerStatic, static: content}
	return b
}

// WithResolvConf registers /etc/resolv.conf with the given content.
func (b *Builder) WithResolvConf(content string) *Builder {
	return b.WithStaticFile("/etc/resolv.conf", []byte(content))
}

// WithEtcHosts registers /etc/hosts with the given content.
func (b *Builder) WithEtcHosts(content string) *Builder {
	return b.WithStaticFile("/etc/hosts", []byte(content))
}

// WithPrefixTable registers a prefix directory (which must end in "/")
// whose sub-paths map to static content, e.g. /proc/self/ or
// /usr/share/zoneinfo/.
func (b *Builder) WithPrefixTable(prefix string, entries map[string][]byte) *Builder {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	b.prefixes = append(b.prefixes, prefixEntry{
		prefix:   prefix,
		provider: contentProvider{kind: providerPrefixed, prefixed: entries},
	})
	return b
}

// WithProcSelf registers the /proc/self/ prefix with synthetic
// process-metadata sub-paths.
func (b *Builder) WithProcSelf(entries map[string][]byte) *Builder {
	return b.WithPrefixTable("/proc/self/", entries)
}

// WithTimezoneData registers the /usr/share/zoneinfo/ prefix with
// per-zone-name TZif-like payloads.
func (b *Builder) WithTimezoneData(zones map[string][]byte) *Builder {
	return b.WithPrefixTable("/usr/share/zoneinfo/", zones)
}

// Build consumes the builder and returns an immutable VirtualFileMap.
func (b *Builder) Build() *VirtualFileMap {
	exact := make(map[string]contentProvider, len(b.exact))
	for k, v := range b.exact {
		exact[k] = v
	}
	prefixes := make([]prefixEntry, len(b.prefixes))
	copy(prefixes, b.prefixes)
	return &VirtualFileMap{exact: exact, prefixes: prefixes}
}

// WithDefaults returns the standard catalog: /dev/null, /dev/urandom,
// /etc/resolv.conf, /etc/hosts, /proc/self/ process metadata, and
// /usr/share/zoneinfo/ placeholder TZif data for four common zones --
// ported from original_source/filesystem.rs's with_defaults().
func WithDefaults() *VirtualFileMap {
	return NewBuilder().
		WithDevNull().
		WithDevUrandom().
		WithResolvConf("nameserver 127.0.0.1\n").
		WithEtcHosts("127.0.0.1 localhost\n::1 localhost\n").
		WithProcSelf(map[string][]byte{
			"status":  []byte("Name:\twarpgrid-guest\nState:\tR (running)\nPid:\t1\nUid:\t0\t0\t0\t0\n"),
			"cmdline": []byte("warpgrid-guest\x00"),
		}).
		WithTimezoneData(map[string][]byte{
			"UTC":           placeholderTZif("UTC"),
			"US/Eastern":    placeholderTZif("US/Eastern"),
			"US/Pacific":    placeholderTZif("US/Pacific"),
			"Europe/London": placeholderTZif("Europe/London"),
		}).
		Build()
}

// placeholderTZif builds a recognizable, but not spec-valid, TZif payload:
// magic + version byte + 15 reserved bytes + the zone name. Matches
// original_source/filesystem.rs's make_placeholder_tzif -- real tzdata
// embedding is left to whatever out-of-scope localtime() consumer needs it.
func placeholderTZif(zoneName string) []byte {
	data := make([]byte, 0, 4+1+15+len(zoneName))
	data = append(data, "TZif"...)
	data = append(data, '2')
	data = append(data, make([]byte, 15)...)
	data = append(data, zoneName...)
	return data
}

// Merge returns a new VirtualFileMap with extra's exact-path and
// prefix-path entries layered over base's -- an overlapping path in extra
// wins. Used to add operator-supplied paths on top of WithDefaults()
// without losing the standard catalog.
func Merge(base, extra *VirtualFileMap) *VirtualFileMap {
	exact := make(map[string]contentProvider, len(base.exact)+len(extra.exact))
	for k, v := range base.exact {
		exact[k] = v
	}
	for k, v := range extra.exact {
		exact[k] = v
	}
	prefixes := make([]prefixEntry, 0, len(base.prefixes)+len(extra.prefixes))
	// Lookup takes the first matching prefix, so extra's go first.
	prefixes = append(prefixes, extra.prefixes...)
	prefixes = append(prefixes, base.prefixes...)
	return &VirtualFileMap{exact: exact, prefixes: prefixes}
}

// Lookup canonicalizes path and resolves it against the catalog: exact
// matches first, then prefix matches in registration order (the first
// registered matching prefix wins, even when a later one is longer --
// spec.md does not require prefix-overlap handling).
func (m *VirtualFileMap) Lookup(path string) Content {
	canonical := Canonicalize(path)

	if p, ok := m.exact[canonical]; ok {
		return readProvider(p, "")
	}

	for _, entry := range m.prefixes {
		if sub, ok := strings.CutPrefix(canonical, entry.prefix); ok {
			return readProvider(entry.provider, sub)
		}
	}

	return Content{Kind: NotFound}
}

// Contains reports whether path matches any registered entry, without
// materializing content.
func (m *VirtualFileMap) Contains(path string) bool {
	canonical := Canonicalize(path)

	if _, ok := m.exact[canonical]; ok {
		return true
	}
	for _, entry := range m.prefixes {
		sub, ok := strings.CutPrefix(canonical, entry.prefix)
		if !ok {
			continue
		}
		if entry.provider.kind == providerPrefixed {
			_, found := entry.provider.prefixed[sub]
			return found
		}
		return true
	}
	return false
}

func readProvider(p contentProvider, subPath string) Content {
	switch p.kind {
	case providerDevNull:
		return Content{Kind: DevNull}
	case providerDevUrandom:
		return Content{Kind: DevUrandom}
	case providerStatic:
		return Content{Kind: Found, Bytes: p.static}
	case providerPrefixed:
		data, ok := p.prefixed[subPath]
		if !ok {
			return Content{Kind: NotFound}
		}
		return Content{Kind: Found, Bytes: data}
	default:
		return Content{Kind: NotFound}
	}
}

// Canonicalize resolves "." and ".." components the way
// original_source/filesystem.rs's canonicalize_path does: split on "/",
// drop empty components and ".", pop one component on ".." (a pop from
// empty is a no-op), then rejoin with a leading "/". This is mandatory on
// every lookup so that e.g. "/etc/../etc/hosts" cannot bypass the
// registered "/etc/hosts" entry via traversal syntax. Idempotent:
// Canonicalize(Canonicalize(p)) == Canonicalize(p).
func Canonicalize(path string) string {
	var components []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			// skip
		case "..":
			if len(components) > 0 {
				components = components[:len(components)-1]
			}
		default:
			components = append(components, part)
		}
	}
	if len(components) == 0 {
		return "/"
	}
	return "/" + strings.Join(components, "/")
}
