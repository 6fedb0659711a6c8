package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/trackfeedback/api/internal/testsupport"
)

func TestDecodeDefaults(t *testing.T) {
	raw := testsupport.Gzip(t, testsupport.LiveSetXML(testsupport.Project{
		Tracks: []testsupport.Track{{Name: "Kick"}},
	}))
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Tempo != 120 {
		t.Errorf("tempo = %v, want 120", p.Tempo)
	}
	if p.TimeSignature != (TimeSignature{4, 4}) {
		t.Errorf("time signature = %s, want 4/4", p.TimeSignature)
	}
	if p.CreatorVersion != "Ableton Live 11.3.4" {
		t.Errorf("creator = %q", p.CreatorVersion)
	}
}

func TestDecodeExplicitValues(t *testing.T) {
	raw := testsupport.Gzip(t, testsupport.LiveSetXML(testsupport.Project{
		Creator:     "Ableton Live 12.0.5",
		Tempo:       128.5,
		Numerator:   7,
		Denominator: 8,
		LengthBeats: 257,
		Locators:    map[string]float64{"Drop": 64},
		Tracks: []testsupport.Track{
			{Name: "Pad", Kind: "midi", Color: 11, Plugins: []string{"Serum", "Unknown Plugin", "Serum"}},
			{Name: "Kick", Color: 3, Samples: []string{"Samples/Kick.wav", "Samples/Kick.wav"}, Muted: true},
			{Name: "Vox", Names: []string{"vox take 3.aif"}, Solo: true},
			{Name: "Reverb Bus", Kind: "return"},
		},
	}))
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Tempo != 128.5 || p.TimeSignature != (TimeSignature{7, 8}) {
		t.Errorf("tempo/ts = %v %s", p.Tempo, p.TimeSignature)
	}
	if p.CreatorVersion != "Ableton Live 12.0.5" {
		t.Errorf("creator = %q", p.CreatorVersion)
	}

	// audio tracks first, then midi, each in document order
	var names []string
	for _, tr := range p.Tracks {
		names = append(names, tr.Name)
	}
	if !reflect.DeepEqual(names, []string{"Kick", "Vox", "Pad"}) {
		t.Errorf("track order = %v", names)
	}

	kick := p.Tracks[0]
	if kick.Kind != KindAudio || kick.Color != 3 || !kick.Muted || kick.Solo {
		t.Errorf("kick = %+v", kick)
	}
	if !reflect.DeepEqual(kick.SampleRefs, []string{"Samples/Kick.wav", "Samples/Kick.wav"}) {
		t.Errorf("kick refs = %v", kick.SampleRefs)
	}
	vox := p.Tracks[1]
	if !reflect.DeepEqual(vox.SampleRefs, []string{"vox take 3.aif"}) || !vox.Solo {
		t.Errorf("vox = %+v", vox)
	}
	pad := p.Tracks[2]
	if pad.Kind != KindMIDI || !reflect.DeepEqual(pad.Plugins, []string{"Serum"}) {
		t.Errorf("pad = %+v", pad)
	}

	if len(p.Returns) != 1 || p.Returns[0].Name != "Reverb Bus" || p.Returns[0].Kind != KindReturn {
		t.Errorf("returns = %+v", p.Returns)
	}
	if p.Master == nil || p.Master.Kind != KindMaster {
		t.Errorf("master = %+v", p.Master)
	}
	if len(p.Locators) != 1 || p.Locators[0] != (Locator{"Drop", 64}) {
		t.Errorf("locators = %+v", p.Locators)
	}
	if p.LengthBeats != 257 {
		t.Errorf("length = %v", p.LengthBeats)
	}
	if got, want := p.DurationSeconds(), 257*60/128.5; got != want {
		t.Errorf("duration = %v, want %v", got, want)
	}
	if got := p.Plugins(); !reflect.DeepEqual(got, []string{"Serum"}) {
		t.Errorf("plugins = %v", got)
	}
}

func TestDecompressFormats(t *testing.T) {
	doc := []byte(testsupport.LiveSetXML(testsupport.Project{Tempo: 90}))

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(doc)
	zw.Close()

	var f bytes.Buffer
	fw, _ := flate.NewWriter(&f, flate.DefaultCompression)
	fw.Write(doc)
	fw.Close()

	for name, raw := range map[string][]byte{
		"gzip": testsupport.Gzip(t, string(doc)),
		"zlib": z.Bytes(),
		"raw":  f.Bytes(),
	} {
		p, err := Decode(raw)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if p.Tempo != 90 {
			t.Errorf("%s: tempo = %v", name, p.Tempo)
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]struct {
		raw  []byte
		want error
	}{
		"uncompressed": {[]byte(testsupport.LiveSetXML(testsupport.Project{})), ErrCorrupted},
		"garbage":      {[]byte{0xff, 0xfe, 0x00, 0x13, 0x37, 0x42}, ErrCorrupted},
		"truncated":    {testsupport.Gzip(t, testsupport.LiveSetXML(testsupport.Project{}))[:20], ErrCorrupted},
		"empty":        {nil, ErrCorrupted},
		"bad xml":      {testsupport.Gzip(t, "<Ableton><LiveSet></Ableton>"), ErrMalformedXML},
		"no element":   {testsupport.Gzip(t, "<?xml version=\"1.0\"?>"), ErrMalformedXML},
	}
	for name, tc := range cases {
		if _, err := Decode(tc.raw); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", name, err, tc.want)
		}
	}
	if ErrCorrupted.Error() != "corrupted project descriptor" {
		t.Errorf("unexpected message %q", ErrCorrupted.Error())
	}
}

func TestDecodeNonFiniteNumbersUseDefaults(t *testing.T) {
	doc := `<Ableton Creator="Ableton Live 11.3"><LiveSet>
<Tracks><AudioTrack><Name><EffectiveName Value="Kick"/></Name></AudioTrack></Tracks>
<MasterTrack><DeviceChain><Mixer><Tempo><Manual Value="NaN"/></Tempo></Mixer></DeviceChain></MasterTrack>
<Locators><Locators><Locator><Name Value="Drop"/><Time Value="+Inf"/></Locator></Locators></Locators>
<CurrentEnd Value="-Inf"/>
</LiveSet></Ableton>`
	p, err := Decode(testsupport.Gzip(t, doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Tempo != DefaultTempo {
		t.Errorf("tempo = %v, want %v", p.Tempo, DefaultTempo)
	}
	if p.LengthBeats != 0 || p.DurationSeconds() != 0 {
		t.Errorf("length = %v, duration = %v", p.LengthBeats, p.DurationSeconds())
	}
	if len(p.Locators) != 1 || p.Locators[0].Time != 0 {
		t.Errorf("locators = %+v", p.Locators)
	}
	if _, err := json.Marshal(p); err != nil {
		t.Errorf("project does not encode: %v", err)
	}
}

func TestDecodeWithoutAbletonRoot(t *testing.T) {
	doc := `<LiveSet>
<Tracks><AudioTrack><Name><EffectiveName Value="Bass"/></Name></AudioTrack></Tracks>
<MasterTrack><DeviceChain><Mixer><Tempo><Manual Value="96"/></Tempo></Mixer></DeviceChain></MasterTrack>
</LiveSet>`
	p, err := Decode(testsupport.Gzip(t, doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.CreatorVersion != "Unknown" {
		t.Errorf("creator = %q, want Unknown", p.CreatorVersion)
	}
	if p.Tempo != 96 {
		t.Errorf("tempo = %v", p.Tempo)
	}
	if len(p.Tracks) != 1 || p.Tracks[0].Name != "Bass" {
		t.Errorf("tracks = %+v", p.Tracks)
	}
}

func TestColorHex(t *testing.T) {
	if got := ColorHex(0); got != "#FF94A6" {
		t.Errorf("ColorHex(0) = %s", got)
	}
	if got := ColorHex(29); got != "#3C3C3C" {
		t.Errorf("ColorHex(29) = %s", got)
	}
	for _, idx := range []int{-1, 30, 144} {
		if got := ColorHex(idx); got != "#808080" {
			t.Errorf("ColorHex(%d) = %s", idx, got)
		}
	}
}

func TestFindChildCombinator(t *testing.T) {
	root, err := parseTree([]byte(`<A><Tempo><X><Manual Value="1"/></X><Manual Value="2"/></Tempo></A>`))
	if err != nil {
		t.Fatal(err)
	}
	if got := root.find("Tempo", "Manual").value(); got != "2" {
		t.Errorf("Tempo > Manual = %q, want 2", got)
	}
	if got := len(root.findAll("Manual")); got != 2 {
		t.Errorf("findAll(Manual) = %d", got)
	}
	if root.find("Missing") != nil || root.find("Missing").value() != "" {
		t.Error("missing nodes should read as empty")
	}
}
