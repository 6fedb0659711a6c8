// Package testsupport builds project bundles in memory for tests.
package testsupport

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"html"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Track describes one track of a generated Live set.
type Track struct {
	Name    string
	Kind    string // audio, midi or return
	Color   int
	Samples []string // RelativePath values
	Names   []string // FileRefs carrying only a Name value
	Plugins []string
	Muted   bool
	Solo    bool
}

// Project describes a generated Live set. Zero Tempo or Numerator omits the
// corresponding nodes.
type Project struct {
	Creator     string
	Tempo       float64
	Numerator   int
	Denominator int
	Tracks      []Track
	Locators    map[string]float64
	LengthBeats float64
}

// File is one archive member. A non-zero DeclaredSize is written to the
// headers in place of the real uncompressed size; sizes of 4 GiB and above
// produce zip64 records.
type File struct {
	Path         string
	Data         []byte
	DeclaredSize uint64
}

// LiveSetXML renders p as a Live set document.
func LiveSetXML(p Project) string {
	var b strings.Builder
	creator := p.Creator
	if creator == "" {
		creator = "Ableton Live 11.3.4"
	}
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, "<Ableton MajorVersion=\"5\" MinorVersion=\"11.0_433\" Creator=\"%s\">\n<LiveSet>\n<Tracks>\n", html.EscapeString(creator))
	for i, t := range p.Tracks {
		writeTrack(&b, i, t)
	}
	b.WriteString("</Tracks>\n<MasterTrack>\n<Name><EffectiveName Value=\"Master\"/></Name>\n<Color Value=\"13\"/>\n<DeviceChain>\n<Mixer>\n")
	if p.Tempo > 0 {
		fmt.Fprintf(&b, "<Tempo><LomId Value=\"0\"/><Manual Value=\"%g\"/></Tempo>\n", p.Tempo)
	}
	if p.Numerator > 0 {
		fmt.Fprintf(&b, "<TimeSignature><Numerator Value=\"%d\"/><Denominator Value=\"%d\"/></TimeSignature>\n", p.Numerator, p.Denominator)
	}
	b.WriteString("</Mixer>\n</DeviceChain>\n</MasterTrack>\n")
	if len(p.Locators) > 0 {
		b.WriteString("<Locators><Locators>\n")
		for name, at := range p.Locators {
			fmt.Fprintf(&b, "<Locator><Name Value=\"%s\"/><Time Value=\"%g\"/></Locator>\n", html.EscapeString(name), at)
		}
		b.WriteString("</Locators></Locators>\n")
	}
	if p.LengthBeats > 0 {
		fmt.Fprintf(&b, "<CurrentEnd Value=\"%g\"/>\n", p.LengthBeats)
	}
	b.WriteString("</LiveSet>\n</Ableton>\n")
	return b.String()
}

func writeTrack(b *strings.Builder, id int, t Track) {
	elem := "AudioTrack"
	switch t.Kind {
	case "midi":
		elem = "MidiTrack"
	case "return":
		elem = "ReturnTrack"
	}
	fmt.Fprintf(b, "<%s Id=\"%d\">\n", elem, id)
	fmt.Fprintf(b, "<Name><EffectiveName Value=\"%s\"/><UserName Value=\"\"/></Name>\n", html.EscapeString(t.Name))
	fmt.Fprintf(b, "<Color Value=\"%d\"/>\n", t.Color)
	b.WriteString("<DeviceChain>\n<Mixer>\n")
	fmt.Fprintf(b, "<Speaker><Manual Value=\"%t\"/></Speaker>\n<Solo Value=\"%t\"/>\n", !t.Muted, t.Solo)
	b.WriteString("</Mixer>\n<MainSequencer><Sample><ArrangerAutomation><Events>\n")
	for _, s := range t.Samples {
		fmt.Fprintf(b, "<AudioClip><SampleRef><FileRef><RelativePath Value=\"%s\"/><Name Value=\"%s\"/></FileRef></SampleRef></AudioClip>\n",
			html.EscapeString(s), html.EscapeString(lastSegment(s)))
	}
	for _, n := range t.Names {
		fmt.Fprintf(b, "<AudioClip><SampleRef><FileRef><Name Value=\"%s\"/></FileRef></SampleRef></AudioClip>\n", html.EscapeString(n))
	}
	b.WriteString("</Events></ArrangerAutomation></Sample></MainSequencer>\n<DeviceChain><Devices>\n")
	for _, p := range t.Plugins {
		fmt.Fprintf(b, "<PluginDevice><PluginDesc><VstPluginInfo><PluginName Value=\"%s\"/></VstPluginInfo></PluginDesc></PluginDevice>\n", html.EscapeString(p))
	}
	b.WriteString("</Devices></DeviceChain>\n</DeviceChain>\n")
	fmt.Fprintf(b, "</%s>\n", elem)
}

func lastSegment(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Gzip compresses a descriptor document the way Live writes it.
func Gzip(tb testing.TB, doc string) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(doc)); err != nil {
		tb.Fatalf("gzip descriptor: %v", err)
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("gzip descriptor: %v", err)
	}
	return buf.Bytes()
}

// Zip packs files into a zip archive. Members whose name ends in ".wav" are
// stored, everything else is deflated. Members with a DeclaredSize are always
// deflated.
func Zip(tb testing.TB, files ...File) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		if f.DeclaredSize != 0 {
			writeDeclared(tb, zw, f)
			continue
		}
		method := zip.Deflate
		if strings.HasSuffix(strings.ToLower(f.Path), ".wav") {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Path, Method: method})
		if err != nil {
			tb.Fatalf("create %s: %v", f.Path, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			tb.Fatalf("write %s: %v", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func writeDeclared(tb testing.TB, zw *zip.Writer, f File) {
	tb.Helper()
	var body bytes.Buffer
	fw, err := flate.NewWriter(&body, flate.BestCompression)
	if err != nil {
		tb.Fatalf("deflate %s: %v", f.Path, err)
	}
	if _, err := fw.Write(f.Data); err != nil {
		tb.Fatalf("deflate %s: %v", f.Path, err)
	}
	if err := fw.Close(); err != nil {
		tb.Fatalf("deflate %s: %v", f.Path, err)
	}
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               f.Path,
		Method:             zip.Deflate,
		CRC32:              crc32.ChecksumIEEE(f.Data),
		CompressedSize64:   uint64(body.Len()),
		UncompressedSize64: f.DeclaredSize,
	})
	if err != nil {
		tb.Fatalf("create %s: %v", f.Path, err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		tb.Fatalf("write %s: %v", f.Path, err)
	}
}

// Bundle builds a complete project archive with the descriptor at
// "<folder>/<name>.als" followed by the given audio files.
func Bundle(tb testing.TB, folder, name string, p Project, audio ...File) []byte {
	tb.Helper()
	descPath := name + ".als"
	if folder != "" {
		descPath = folder + "/" + descPath
	}
	files := append([]File{{Path: descPath, Data: Gzip(tb, LiveSetXML(p))}}, audio...)
	return Zip(tb, files...)
}

// Payload returns n bytes of filler audio data.
func Payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
