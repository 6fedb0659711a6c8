package archive_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/trackfeedback/api/internal/archive"
	"github.com/trackfeedback/api/internal/testsupport"
)

func newIndex(t *testing.T, data []byte) *archive.Index {
	t.Helper()
	ix, err := archive.New(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	return ix
}

func TestIndexLocatesDescriptorAndAudio(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "My Song Project/My Song.als", Data: []byte("x")},
		testsupport.File{Path: "My Song Project/Samples/Kick.wav", Data: testsupport.Payload(10)},
		testsupport.File{Path: "My Song Project/Samples/Imported/Snare.AIF", Data: testsupport.Payload(5)},
		testsupport.File{Path: "My Song Project/Ableton Project Info/cover.png", Data: testsupport.Payload(3)},
		testsupport.File{Path: "__MACOSX/My Song Project/Samples/._Kick.wav", Data: testsupport.Payload(1)},
	)
	ix := newIndex(t, data)

	if got := ix.Descriptor().Path; got != "My Song Project/My Song.als" {
		t.Errorf("descriptor = %q", got)
	}
	if got := ix.ProjectRoot(); got != "My Song Project/" {
		t.Errorf("project root = %q", got)
	}
	if got := ix.ProjectName(); got != "My Song" {
		t.Errorf("project name = %q", got)
	}

	audio := ix.AudioEntries()
	if len(audio) != 2 {
		t.Fatalf("audio entries = %d, want 2", len(audio))
	}
	if audio[0].Path != "My Song Project/Samples/Imported/Snare.AIF" {
		t.Errorf("entries not in lexicographic order: %q first", audio[0].Path)
	}

	if e, ok := ix.LookupName("KICK.WAV"); !ok || e.Size != 10 {
		t.Errorf("LookupName(KICK.WAV) = %+v, %v", e, ok)
	}
	if _, ok := ix.LookupPath(`my song project\samples\kick.wav`); !ok {
		t.Error("LookupPath should normalize separators and case")
	}
	if _, ok := ix.LookupName("cover.png"); ok {
		t.Error("non-audio entries must not be indexed")
	}
}

func TestIndexReadAll(t *testing.T) {
	payload := testsupport.Payload(2048)
	data := testsupport.Zip(t,
		testsupport.File{Path: "a.als", Data: []byte("x")},
		testsupport.File{Path: "loop.flac", Data: payload},
	)
	ix := newIndex(t, data)
	e, ok := ix.LookupName("loop.flac")
	if !ok {
		t.Fatal("loop.flac not indexed")
	}
	got, err := e.ReadAll(e.Size)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
	if _, err := e.ReadAll(100); !errors.Is(err, archive.ErrEntryTooLarge) {
		t.Errorf("err = %v, want ErrEntryTooLarge", err)
	}
	if _, err := e.ReadAll(-1); err == nil {
		t.Error("expected error for negative limit")
	}
	if ix.ProjectRoot() != "" {
		t.Errorf("root descriptor should have empty project root, got %q", ix.ProjectRoot())
	}
}

func TestIndexSkipsUnrepresentableSizes(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "Set.als", Data: []byte("x")},
		testsupport.File{Path: "Samples/bomb.wav", Data: testsupport.Payload(64 << 10), DeclaredSize: math.MaxUint64},
		testsupport.File{Path: "Samples/kick.wav", Data: testsupport.Payload(16)},
	)
	ix := newIndex(t, data)
	if _, ok := ix.LookupName("bomb.wav"); ok {
		t.Error("entry declaring more than MaxInt64 bytes must not be indexed")
	}
	if _, ok := ix.LookupPath("Samples/bomb.wav"); ok {
		t.Error("path lookup reached the unrepresentable entry")
	}
	entries := ix.AudioEntries()
	if len(entries) != 1 || entries[0].Name != "kick.wav" {
		t.Errorf("audio entries = %+v", entries)
	}
}

func TestReadAllStopsAtDeclaredSize(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "Set.als", Data: []byte("x")},
		testsupport.File{Path: "loop.wav", Data: testsupport.Payload(64 << 10), DeclaredSize: 1 << 10},
	)
	ix := newIndex(t, data)
	e, ok := ix.LookupName("loop.wav")
	if !ok {
		t.Fatal("loop.wav not indexed")
	}
	if e.Size != 1<<10 {
		t.Fatalf("size = %d", e.Size)
	}
	if _, err := e.ReadAll(e.Size); !errors.Is(err, archive.ErrEntryTooLarge) {
		t.Errorf("err = %v, want ErrEntryTooLarge", err)
	}
}

func TestIndexEntriesNamed(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "p.als", Data: []byte("x")},
		testsupport.File{Path: "b/Hit.wav", Data: testsupport.Payload(2)},
		testsupport.File{Path: "a/hit.WAV", Data: testsupport.Payload(1)},
	)
	ix := newIndex(t, data)
	named := ix.EntriesNamed("HIT.wav")
	if len(named) != 2 || named[0].Path != "a/hit.WAV" || named[1].Path != "b/Hit.wav" {
		t.Errorf("EntriesNamed = %+v", named)
	}
	if got := ix.EntriesNamed("none.wav"); len(got) != 0 {
		t.Errorf("EntriesNamed(none) = %+v", got)
	}
}

func TestIndexPrefersNonBackupDescriptor(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "Song Project/Backup/Song [2024-01-01 101010].als", Data: []byte("x")},
		testsupport.File{Path: "Song Project/Song.als", Data: []byte("y")},
	)
	ix := newIndex(t, data)
	if got := ix.Descriptor().Path; got != "Song Project/Song.als" {
		t.Errorf("descriptor = %q", got)
	}
}

func TestIndexMultipleDescriptorsPicksFirst(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "b/Second.als", Data: []byte("x")},
		testsupport.File{Path: "a/First.ALS", Data: []byte("y")},
	)
	ix := newIndex(t, data)
	if got := ix.Descriptor().Path; got != "a/First.ALS" {
		t.Errorf("descriptor = %q", got)
	}
}

func TestIndexFilenameCollisionFirstWins(t *testing.T) {
	data := testsupport.Zip(t,
		testsupport.File{Path: "p.als", Data: []byte("x")},
		testsupport.File{Path: "z/hit.wav", Data: testsupport.Payload(2)},
		testsupport.File{Path: "a/hit.wav", Data: testsupport.Payload(1)},
	)
	ix := newIndex(t, data)
	e, _ := ix.LookupName("hit.wav")
	if e.Path != "a/hit.wav" {
		t.Errorf("collision resolved to %q", e.Path)
	}
	if _, ok := ix.LookupPath("z/hit.wav"); !ok {
		t.Error("path lookup must still reach the shadowed entry")
	}
}

func TestIndexErrors(t *testing.T) {
	noDesc := testsupport.Zip(t, testsupport.File{Path: "kick.wav", Data: testsupport.Payload(4)})
	if _, err := archive.New(bytes.NewReader(noDesc), int64(len(noDesc))); !errors.Is(err, archive.ErrDescriptorNotFound) {
		t.Errorf("err = %v, want ErrDescriptorNotFound", err)
	}
	junk := []byte("definitely not a zip")
	if _, err := archive.New(bytes.NewReader(junk), int64(len(junk))); !errors.Is(err, archive.ErrNotArchive) {
		t.Errorf("err = %v, want ErrNotArchive", err)
	}
}

func TestOpenFromDisk(t *testing.T) {
	data := testsupport.Zip(t, testsupport.File{Path: "Set.als", Data: []byte("x")})
	name := filepath.Join(t.TempDir(), "set.zip")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatal(err)
	}
	ix, err := archive.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestIsAudio(t *testing.T) {
	for _, p := range []string{"a.wav", "B.MP3", "c.aif", "d.aiff", "e.flac", "f.ogg", "g.m4a"} {
		if !archive.IsAudio(p) {
			t.Errorf("IsAudio(%q) = false", p)
		}
	}
	for _, p := range []string{"a.als", "b.txt", "wav", ""} {
		if archive.IsAudio(p) {
			t.Errorf("IsAudio(%q) = true", p)
		}
	}
}
