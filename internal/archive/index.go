// Package archive indexes uploaded project bundles: it locates the project
// descriptor and builds case-insensitive lookups over the audio payloads.
package archive

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// DescriptorExt is the extension of the compressed project document.
const DescriptorExt = ".als"

var (
	ErrDescriptorNotFound = errors.New("no project descriptor found in archive")
	ErrNotArchive         = errors.New("file is not a readable zip archive")
	ErrEntryTooLarge      = errors.New("archive entry exceeds read limit")
)

// AudioExtensions is the allowlist of audio containers indexed as samples.
var AudioExtensions = []string{".wav", ".mp3", ".aif", ".aiff", ".flac", ".ogg", ".m4a"}

// IsAudio reports whether p carries an allowlisted audio extension.
func IsAudio(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, a := range AudioExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// NormalizePath converts authoring-tool paths to forward-slash form.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}

// Entry is an opaque locator for one archive member.
type Entry struct {
	Path           string
	Name           string
	Size           int64
	CompressedSize int64

	file *zip.File
}

// Open streams the decompressed entry.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("archive entry %s is detached", e.Path)
	}
	return e.file.Open()
}

// ReadAll decompresses at most limit bytes of the entry and fails with
// ErrEntryTooLarge when the stream carries more.
func (e *Entry) ReadAll(limit int64) ([]byte, error) {
	if limit < 0 {
		return nil, fmt.Errorf("read %s: negative limit %d", e.Path, limit)
	}
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Path, err)
	}
	if int64(len(data)) == limit {
		var extra [1]byte
		n, err := io.ReadFull(rc, extra[:])
		switch {
		case n > 0 || errors.Is(err, zip.ErrFormat):
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, e.Path, limit)
		case err != nil && err != io.EOF:
			return nil, fmt.Errorf("read %s: %w", e.Path, err)
		}
	}
	return data, nil
}

// Index is the traversal result for one archive. Entries are visited in
// lexicographic path order so results do not depend on the zip writer.
type Index struct {
	descriptor  *Entry
	projectRoot string
	audio       []*Entry
	byName      map[string][]*Entry
	byPath      map[string]*Entry
	closer      io.Closer
}

// Open indexes the archive stored at filename. The returned index keeps the
// file open until Close.
func Open(filename string) (*Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	ix, err := New(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ix.closer = f
	return ix, nil
}

// New indexes an archive readable through r.
func New(r io.ReaderAt, size int64) (*Index, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		p := NormalizePath(f.Name)
		if strings.HasPrefix(p, "__MACOSX/") || strings.HasPrefix(path.Base(p), "._") {
			continue
		}
		// Sizes that do not fit an int64 come from forged zip64 headers.
		if f.UncompressedSize64 >= math.MaxInt64 || f.CompressedSize64 >= math.MaxInt64 {
			continue
		}
		files = append(files, f)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return NormalizePath(files[i].Name) < NormalizePath(files[j].Name)
	})

	ix := &Index{
		byName: make(map[string][]*Entry),
		byPath: make(map[string]*Entry),
	}

	var backup *Entry
	for _, f := range files {
		p := NormalizePath(f.Name)
		e := &Entry{
			Path:           p,
			Name:           path.Base(p),
			Size:           int64(f.UncompressedSize64),
			CompressedSize: int64(f.CompressedSize64),
			file:           f,
		}
		switch {
		case strings.EqualFold(path.Ext(p), DescriptorExt):
			// Live keeps autosaves under "Backup/"; only fall back to them.
			if isBackup(p) {
				if backup == nil {
					backup = e
				}
			} else if ix.descriptor == nil {
				ix.descriptor = e
			}
		case IsAudio(p):
			ix.audio = append(ix.audio, e)
			nameKey := strings.ToLower(e.Name)
			ix.byName[nameKey] = append(ix.byName[nameKey], e)
			pathKey := strings.ToLower(p)
			if _, ok := ix.byPath[pathKey]; !ok {
				ix.byPath[pathKey] = e
			}
		}
	}

	if ix.descriptor == nil {
		ix.descriptor = backup
	}
	if ix.descriptor == nil {
		return nil, ErrDescriptorNotFound
	}
	if dir := path.Dir(ix.descriptor.Path); dir != "." {
		ix.projectRoot = dir + "/"
	}
	return ix, nil
}

func isBackup(p string) bool {
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if strings.EqualFold(seg, "Backup") {
			return true
		}
	}
	return false
}

// Descriptor returns the selected project descriptor entry.
func (ix *Index) Descriptor() *Entry {
	return ix.descriptor
}

// ProjectRoot is the folder containing the descriptor, with a trailing
// slash, or "" when the descriptor sits at the archive root.
func (ix *Index) ProjectRoot() string {
	return ix.projectRoot
}

// ProjectName is the descriptor's base filename without its extension.
func (ix *Index) ProjectName() string {
	name := ix.descriptor.Name
	return name[:len(name)-len(path.Ext(name))]
}

// AudioEntries returns every indexed audio entry in traversal order.
func (ix *Index) AudioEntries() []*Entry {
	out := make([]*Entry, len(ix.audio))
	copy(out, ix.audio)
	return out
}

// LookupName finds an audio entry by bare filename, ignoring case. When
// several entries share the name, the first in traversal order wins.
func (ix *Index) LookupName(name string) (*Entry, bool) {
	entries := ix.byName[strings.ToLower(name)]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0], true
}

// EntriesNamed returns every audio entry whose filename matches name,
// ignoring case, in traversal order.
func (ix *Index) EntriesNamed(name string) []*Entry {
	entries := ix.byName[strings.ToLower(name)]
	out := make([]*Entry, len(entries))
	copy(out, entries)
	return out
}

// LookupPath finds an audio entry by full archive path, ignoring case.
func (ix *Index) LookupPath(p string) (*Entry, bool) {
	e, ok := ix.byPath[strings.ToLower(NormalizePath(p))]
	return e, ok
}

// Close releases the underlying file when the index owns one.
func (ix *Index) Close() error {
	if ix.closer == nil {
		return nil
	}
	err := ix.closer.Close()
	ix.closer = nil
	return err
}
