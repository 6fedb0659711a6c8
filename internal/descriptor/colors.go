package descriptor

// palette maps Live's track colour indices to display colours.
var palette = [...]string{
	"#FF94A6", "#FFA529", "#CC9927", "#F7F47C", "#BFFB00", "#1AFF2F",
	"#25FFA8", "#5CFFE8", "#8BC5FF", "#5480E4", "#92A7FF", "#D86CE4",
	"#E553A0", "#FFFFFF", "#FF3636", "#F66C03", "#99724B", "#FFF034",
	"#87FF67", "#3DC300", "#00BFAF", "#19E9FF", "#10A4EE", "#007DC0",
	"#886CE4", "#B677C6", "#FF39D4", "#D0D0D0", "#B3B3B3", "#3C3C3C",
}

const fallbackColor = "#808080"

// ColorHex returns the display colour for a track colour index.
func ColorHex(index int) string {
	if index < 0 || index >= len(palette) {
		return fallbackColor
	}
	return palette[index]
}
