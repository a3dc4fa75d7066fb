package pdfdocx

import (
	"fmt"
	"math"
	"strings"
)

// fontFamilies maps fragments of PDF base font names to the family written to
// documents. Longer fragments come before the shorter ones they contain.
var fontFamilies = []struct {
	fragment string
	family   string
}{
	{"timesnewroman", "Times New Roman"},
	{"times", "Times New Roman"},
	{"helveticaneue", "Arial"},
	{"helvetica", "Arial"},
	{"helv", "Arial"},
	{"arial", "Arial"},
	{"couriernew", "Courier New"},
	{"courier", "Courier New"},
	{"consolas", "Consolas"},
	{"garamond", "Garamond"},
	{"bookantiqua", "Book Antiqua"},
	{"bookman", "Bookman Old Style"},
	{"palatino", "Palatino Linotype"},
	{"century", "Century Schoolbook"},
	{"candara", "Candara"},
	{"constantia", "Constantia"},
	{"corbel", "Corbel"},
	{"calibri", "Calibri"},
	{"cambria", "Cambria"},
	{"georgia", "Georgia"},
	{"verdana", "Verdana"},
	{"tahoma", "Tahoma"},
	{"franklin", "Franklin Gothic"},
	{"gillsans", "Gill Sans"},
	{"lucida", "Lucida Sans"},
	{"simsun", "SimSun"},
	{"songti", "SimSun"},
	{"stsong", "STSong"},
	{"simhei", "SimHei"},
	{"stxihei", "STXihei"},
	{"heiti", "SimHei"},
	{"stkaiti", "STKaiti"},
	{"kaiti", "KaiTi"},
	{"fangsong", "FangSong"},
	{"microsoftyahei", "Microsoft YaHei"},
	{"msyh", "Microsoft YaHei"},
	{"yahei", "Microsoft YaHei"},
	{"msmincho", "MS Mincho"},
	{"mincho", "MS Mincho"},
	{"malgungothic", "Malgun Gothic"},
	{"msgothic", "MS Gothic"},
	{"meiryo", "Meiryo"},
	{"batang", "Batang"},
	{"gulim", "Gulim"},
}

// mapFont returns the document font family for a PDF base font name such as
// "ABCDEF+TimesNewRomanPS-BoldMT". Unknown names fall back on their generic
// class; names without one map to "" and keep the document default.
func mapFont(name string) string {
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', ',':
			return -1
		}
		return r
	}, strings.ToLower(name))
	if key == "" {
		return ""
	}

	for _, f := range fontFamilies {
		if strings.Contains(key, f.fragment) {
			return f.family
		}
	}

	switch {
	case containsAny(key, "mono", "typewriter", "console"):
		return "Courier New"
	case containsAny(key, "sans", "gothic", "grotesk"):
		return "Arial"
	case containsAny(key, "serif", "roman", "ming", "song"):
		return "Times New Roman"
	}
	return ""
}

func containsAny(s string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// textFormat is the character formatting written for a piece of text beyond
// bold, italic and monospace.
type textFormat struct {
	Family     string // Mapped font family, "" for the document default
	HalfPoints int    // Font size in half points, 0 when unknown
	Color      string // Hex RGB such as "C00000", "" for black
}

// runFormat derives the written formatting of a run.
func runFormat(r Run) textFormat {
	f := textFormat{
		Family:     mapFont(r.FontName),
		HalfPoints: int(math.Round(r.FontSize * 2)),
	}
	if r.Monospace && f.Family == "" {
		f.Family = "Courier New"
	}
	if c := r.Color; c.A > 0 && (c.R != 0 || c.G != 0 || c.B != 0) {
		f.Color = fmt.Sprintf("%02X%02X%02X", min(c.R, 255), min(c.G, 255), min(c.B, 255))
	}
	return f
}
