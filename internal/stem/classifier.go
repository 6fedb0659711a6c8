// Package stem assigns semantic stem categories to project tracks.
package stem

import (
	"fmt"
	"strings"
)

// Type is the semantic category of a rendered stem.
type Type uint8

const (
	Other Type = iota
	Master
	Drums
	Bass
	Vocals
	Synths
	Melody
	FX
)

var typeNames = [...]string{
	Other:  "OTHER",
	Master: "MASTER",
	Drums:  "DRUMS",
	Bass:   "BASS",
	Vocals: "VOCALS",
	Synths: "SYNTHS",
	Melody: "MELODY",
	FX:     "FX",
}

// Types lists every category in declaration order.
func Types() []Type {
	return []Type{Other, Master, Drums, Bass, Vocals, Synths, Melody, FX}
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[Other]
}

// MarshalText encodes the type as its upper-case tag.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the upper-case tag produced by MarshalText.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType converts a stored tag back into a Type. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == upper {
			return Type(i), nil
		}
	}
	// Tags emitted by the external render worker.
	switch upper {
	case "EFFECTS":
		return FX, nil
	case "HARMONY":
		return Synths, nil
	}
	return Other, fmt.Errorf("unknown stem type %q", s)
}

type rule struct {
	stemType Type
	keywords []string
}

// rules are evaluated in order; the first rule with a matching keyword wins.
var rules = []rule{
	{Drums, []string{"kick", "drum", "perc"}},
	{Bass, []string{"bass"}},
	{Vocals, []string{"vocal", "vox"}},
	{Synths, []string{"synth", "pad", "key"}},
	{Melody, []string{"lead", "melody", "guitar", "piano"}},
	{FX, []string{"fx", "effect", "atmosphere"}},
}

// Classify maps a track display name to a stem category. It never fails;
// names matching no keyword are Other.
func Classify(trackName string) Type {
	lower := strings.ToLower(trackName)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.stemType
			}
		}
	}
	return Other
}

// Frequencies returns the placeholder tone content used for a stem category.
func Frequencies(t Type) []float64 {
	switch t {
	case Master:
		return []float64{110, 220, 440}
	case Drums:
		return []float64{60, 120}
	case Bass:
		return []float64{110}
	case Synths:
		return []float64{440}
	case Vocals:
		return []float64{330}
	case Melody:
		return []float64{550}
	case FX:
		return []float64{800}
	default:
		return []float64{250}
	}
}
