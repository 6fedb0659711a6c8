// Package descriptor decodes compressed Live set documents into a project
// summary: tempo, time signature, tracks with their sample references and
// effect chains.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

var (
	ErrCorrupted    = errors.New("corrupted project descriptor")
	ErrMalformedXML = errors.New("malformed project descriptor XML")
)

const (
	DefaultTempo       = 120.0
	DefaultNumerator   = 4
	DefaultDenominator = 4

	unknownPlugin = "Unknown Plugin"
)

// Kind is the track category in the project document.
type Kind string

const (
	KindAudio  Kind = "audio"
	KindMIDI   Kind = "midi"
	KindReturn Kind = "return"
	KindMaster Kind = "master"
)

type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Numerator, ts.Denominator)
}

// Track is one track of the project.
type Track struct {
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	Color      int      `json:"color"`
	SampleRefs []string `json:"sampleReferences"`
	Plugins    []string `json:"plugins"`
	Muted      bool     `json:"muted"`
	Solo       bool     `json:"solo"`
}

type Locator struct {
	Name string  `json:"name"`
	Time float64 `json:"time"`
}

// Project is the decoded descriptor. It is never mutated after Decode
// returns.
type Project struct {
	CreatorVersion string        `json:"creatorVersion"`
	Tempo          float64       `json:"tempo"`
	TimeSignature  TimeSignature `json:"timeSignature"`
	// Tracks holds audio tracks followed by MIDI tracks, each in document
	// order. These are the tracks that carry samples and get rendered.
	Tracks      []Track   `json:"tracks"`
	Returns     []Track   `json:"returns"`
	Master      *Track    `json:"master,omitempty"`
	Locators    []Locator `json:"locators"`
	LengthBeats float64   `json:"lengthBeats"`
}

// DurationSeconds converts the arrangement length to seconds at the project
// tempo. It is zero when the document records no length.
func (p *Project) DurationSeconds() float64 {
	if p.LengthBeats <= 0 || p.Tempo <= 0 {
		return 0
	}
	return p.LengthBeats * 60 / p.Tempo
}

// Plugins returns every distinct plugin name across all tracks.
func (p *Project) Plugins() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t Track) {
		for _, name := range t.Plugins {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	for _, t := range p.Tracks {
		add(t)
	}
	for _, t := range p.Returns {
		add(t)
	}
	if p.Master != nil {
		add(*p.Master)
	}
	return out
}

// Decode decompresses raw descriptor bytes and parses the document.
func Decode(raw []byte) (*Project, error) {
	doc, err := Decompress(raw)
	if err != nil {
		return nil, err
	}
	return Parse(doc)
}

// Decompress inflates a descriptor. Live writes gzip; zlib-wrapped and bare
// DEFLATE streams are accepted too. Uncompressed documents are rejected.
func Decompress(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrCorrupted)
	}
	if plain := bytes.TrimLeft(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")), " \t\r\n"); len(plain) > 0 && plain[0] == '<' {
		return nil, fmt.Errorf("%w: document is not compressed", ErrCorrupted)
	}

	var (
		r   io.ReadCloser
		err error
	)
	switch {
	case raw[0] == 0x1f && raw[1] == 0x8b:
		r, err = gzip.NewReader(bytes.NewReader(raw))
	case isZlibHeader(raw[0], raw[1]):
		r, err = zlib.NewReader(bytes.NewReader(raw))
	default:
		r = flate.NewReader(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer r.Close()

	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorrupted)
	}
	return doc, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// Parse decodes an inflated Live set document.
func Parse(doc []byte) (*Project, error) {
	root, err := parseTree(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}
	// Documents without the Ableton wrapper are read from the top element.
	ableton := root.find("Ableton")

	p := &Project{
		CreatorVersion: firstNonEmpty(ableton.attr("Creator"), ableton.attr("MajorVersion"), "Unknown"),
		Tempo:          parseFloat(root.find("Tempo", "Manual").value(), DefaultTempo),
		TimeSignature: TimeSignature{
			Numerator:   DefaultNumerator,
			Denominator: DefaultDenominator,
		},
	}
	if p.Tempo <= 0 {
		p.Tempo = DefaultTempo
	}
	if ts := root.find("TimeSignature"); ts != nil {
		p.TimeSignature.Numerator = parsePositiveInt(ts.find("Numerator").value(), DefaultNumerator)
		p.TimeSignature.Denominator = parsePositiveInt(ts.find("Denominator").value(), DefaultDenominator)
	}

	for _, n := range root.findAll("Tracks", "AudioTrack") {
		p.Tracks = append(p.Tracks, parseTrack(n, KindAudio))
	}
	for _, n := range root.findAll("Tracks", "MidiTrack") {
		p.Tracks = append(p.Tracks, parseTrack(n, KindMIDI))
	}
	for _, n := range root.findAll("Tracks", "ReturnTrack") {
		p.Returns = append(p.Returns, parseTrack(n, KindReturn))
	}
	if n := root.find("MasterTrack"); n != nil {
		master := parseTrack(n, KindMaster)
		p.Master = &master
	}

	for _, n := range root.findAll("Locators", "Locators", "Locator") {
		p.Locators = append(p.Locators, Locator{
			Name: firstNonEmpty(n.find("Name").value(), "Marker"),
			Time: parseFloat(n.find("Time").value(), 0),
		})
	}

	end := root.find("ArrangementCurrentEnd")
	if end == nil {
		end = root.find("CurrentEnd")
	}
	p.LengthBeats = parseFloat(end.value(), 0)
	return p, nil
}

var pluginDevices = []string{"PluginDevice", "AuPluginDevice", "Vst3PluginDevice"}

// nativeDevices are Live's built-in effects, reported by element name.
var nativeDevices = []string{
	"Eq8", "Compressor2", "GlueCompressor", "Limiter", "Gate", "AutoFilter", "Chorus2",
	"Delay", "PingPongDelay", "FilterDelay", "Reverb", "Saturator", "Overdrive",
	"Redux", "Erosion", "Vinyl", "Amp", "Cabinet", "Pedal", "DrumBuss", "Echo", "Phaser",
	"Flanger", "FrequencyShifter", "RingMod", "Vocoder", "Corpus", "Resonators",
	"InstrumentGroupDevice", "DrumGroupDevice", "MidiArpeggiator", "MidiChord",
	"MidiNoteLength", "MidiPitcher", "MidiRandom", "MidiScale", "MidiVelocity",
}

func parseTrack(n *node, kind Kind) Track {
	t := Track{
		Name:       firstNonEmpty(n.find("Name", "EffectiveName").value(), defaultTrackName(kind)),
		Kind:       kind,
		Color:      parseInt(n.find("Color").value(), 0),
		SampleRefs: []string{},
		Plugins:    []string{},
	}

	for _, ref := range n.findAll("SampleRef", "FileRef") {
		if rel := ref.find("RelativePath").value(); rel != "" {
			t.SampleRefs = append(t.SampleRefs, rel)
		} else if name := ref.find("Name").value(); name != "" {
			t.SampleRefs = append(t.SampleRefs, name)
		}
	}

	if chain := n.find("DeviceChain"); chain != nil {
		seen := make(map[string]bool)
		add := func(name string) {
			if name == "" || name == unknownPlugin || seen[name] {
				return
			}
			seen[name] = true
			t.Plugins = append(t.Plugins, name)
		}
		for _, dev := range chain.findAny(pluginDevices...) {
			add(firstNonEmpty(
				dev.find("PluginDesc", "VstPluginInfo", "PluginName").value(),
				dev.find("PluginDesc", "AuPluginInfo", "Name").value(),
				dev.find("PluginDesc", "Vst3PluginInfo", "Name").value(),
				unknownPlugin,
			))
		}
		for _, dev := range chain.findAny(nativeDevices...) {
			add(dev.name)
		}
	}

	t.Muted = n.find("DeviceChain", "Mixer", "Speaker", "Manual").value() == "false"
	t.Solo = n.find("DeviceChain", "Mixer", "Solo").value() == "true"
	return t
}

func defaultTrackName(kind Kind) string {
	switch kind {
	case KindAudio:
		return "Audio Track"
	case KindMIDI:
		return "MIDI Track"
	case KindReturn:
		return "Return Track"
	default:
		return "Master"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseFloat returns def for anything that is not a finite number.
func parseFloat(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func parseInt(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func parsePositiveInt(s string, def int) int {
	if v := parseInt(s, def); v > 0 {
		return v
	}
	return def
}
