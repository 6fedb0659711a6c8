package stem

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want Type
	}{
		{"Kick", Drums},
		{"DRUM BUS", Drums},
		{"Percussion Loop", Drums},
		{"Sub Bass", Bass},
		{"Lead Vocal", Vocals},
		{"Vox Chops", Vocals},
		{"Warm Pad", Synths},
		{"Keys", Synths},
		{"Synth Lead", Synths},
		{"Guitar", Melody},
		{"Piano", Melody},
		{"Main Melody", Melody},
		{"Riser FX", FX},
		{"Atmosphere", FX},
		{"Field Recording", Other},
		{"", Other},
		// priority: drums are checked before bass
		{"Bass Drum", Drums},
	}
	for _, tc := range cases {
		if got := Classify(tc.name); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	valid := make(map[Type]bool)
	for _, typ := range Types() {
		valid[typ] = true
	}
	if len(valid) != 8 {
		t.Fatalf("expected 8 categories, got %d", len(valid))
	}
	inputs := []string{"", " ", "\x00", "日本語", "KICKBASS", "ambient texture 04"}
	for _, in := range inputs {
		if got := Classify(in); !valid[got] {
			t.Errorf("Classify(%q) returned undefined category %d", in, got)
		}
	}
}

func TestParseTypeRoundTrip(t *testing.T) {
	for _, typ := range Types() {
		parsed, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%s): %v", typ, err)
		}
		if parsed != typ {
			t.Errorf("ParseType(%s) = %s", typ, parsed)
		}
	}
	if got, err := ParseType("effects"); err != nil || got != FX {
		t.Errorf("ParseType(effects) = %s, %v", got, err)
	}
	if _, err := ParseType("banjo"); err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestTypeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Type Type `json:"stemType"`
	}{Vocals})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"stemType":"VOCALS"}` {
		t.Errorf("unexpected JSON %s", data)
	}
}

func TestFrequenciesNeverEmpty(t *testing.T) {
	for _, typ := range Types() {
		if len(Frequencies(typ)) == 0 {
			t.Errorf("no frequencies for %s", typ)
		}
	}
}
