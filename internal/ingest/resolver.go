package ingest

import (
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/trackfeedback/api/internal/archive"
	"github.com/trackfeedback/api/internal/descriptor"
)

// Sample is one audio asset of a bundle. Fields below the line are owned by
// the Materializer and only touched under its lock.
type Sample struct {
	ID           string
	DisplayName  string
	DeclaredPath string
	ArchivePath  string
	// TrackName is the first track that referenced the sample; empty for
	// assets no track references.
	TrackName string
	Size      int64

	loaded bool
	data   []byte
	handle *Handle
	// entry is set while the sample is lazy; source is the entry it was
	// resolved to and is used to go lazy again on eviction.
	entry    *archive.Entry
	source   *archive.Entry
	lastUsed uint64
}

// ResolvedTrack pairs a descriptor track with its resolved samples, in
// reference order. The same sample appears twice when referenced twice.
type ResolvedTrack struct {
	Track   descriptor.Track
	Samples []*Sample
}

// Resolution is the resolver output. Samples holds each archive entry once:
// referenced samples in first-reference order, then unreferenced ones.
type Resolution struct {
	Tracks   []ResolvedTrack
	Samples  []*Sample
	Warnings []string
}

// Resolve matches every declared sample reference against the archive index.
// Lookup order: bare filename, normalized path, project root + normalized path.
// A filename shared by several entries is not a match on its own; the path
// steps pick among them and the first entry is used when neither does.
// Unresolvable references become warnings and are dropped.
func Resolve(p *descriptor.Project, ix *archive.Index) *Resolution {
	res := &Resolution{}
	claimed := make(map[*archive.Entry]*Sample)

	for _, t := range p.Tracks {
		rt := ResolvedTrack{Track: t, Samples: []*Sample{}}
		for _, ref := range t.SampleRefs {
			e, ok := lookup(ix, ref)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("sample not found: %s", displayName(ref)))
				continue
			}
			s, ok := claimed[e]
			if !ok {
				s = newSample(e, ref, t.Name)
				claimed[e] = s
				res.Samples = append(res.Samples, s)
			}
			rt.Samples = append(rt.Samples, s)
		}
		res.Tracks = append(res.Tracks, rt)
	}

	for _, e := range ix.AudioEntries() {
		if _, ok := claimed[e]; ok {
			continue
		}
		s := newSample(e, e.Path, "")
		claimed[e] = s
		res.Samples = append(res.Samples, s)
	}
	return res
}

func lookup(ix *archive.Index, ref string) (*archive.Entry, bool) {
	norm := archive.NormalizePath(ref)
	named := ix.EntriesNamed(path.Base(norm))
	if len(named) == 1 {
		return named[0], true
	}
	if e, ok := ix.LookupPath(norm); ok {
		return e, true
	}
	if root := ix.ProjectRoot(); root != "" {
		if e, ok := ix.LookupPath(root + norm); ok {
			return e, true
		}
	}
	if len(named) > 0 {
		return named[0], true
	}
	return nil, false
}

func displayName(ref string) string {
	return path.Base(archive.NormalizePath(ref))
}

func newSample(e *archive.Entry, declared, track string) *Sample {
	return &Sample{
		ID:           uuid.NewString(),
		DisplayName:  e.Name,
		DeclaredPath: declared,
		ArchivePath:  e.Path,
		TrackName:    track,
		Size:         e.Size,
		entry:        e,
		source:       e,
	}
}
