package decode

// colorNames maps family-B color codes to canonical color names.
// Codes 8-14 are the flashing variants of 1-7.
var colorNames = map[int]string{
	0:  "off",
	1:  "red",
	2:  "purple",
	3:  "yellow",
	4:  "green",
	5:  "cyan",
	6:  "blue",
	7:  "white",
	8:  "red_f",
	9:  "purple_f",
	10: "yellow_f",
	11: "green_f",
	12: "cyan_f",
	13: "blue_f",
	14: "white_f",
}

// ColorName returns the canonical name for a family-B color code.
// Unknown codes map to "unknown".
func ColorName(code int) string {
	if name, ok := colorNames[code]; ok {
		return name
	}
	return "unknown"
}
