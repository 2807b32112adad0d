package raster

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"seehuhn.de/go/postscript"
)

// Glyph outlines come from the Go Regular font regardless of the font the
// page asks for; PDF widths still drive text advance so layout is kept.
var fallbackFont *sfnt.Font

func init() {
	f, err := sfnt.Parse(goregular.TTF)
	if err != nil {
		panic("raster: parse embedded font: " + err.Error())
	}
	fallbackFont = f
}

// pdfFont holds what the renderer needs from a PDF font dictionary: how to
// split strings into codes, how wide each code is and which rune it shows.
type pdfFont struct {
	twoByte      bool
	firstChar    int
	widths       []float64
	cidWidths    map[int]float64
	defaultWidth float64
	encoding     *[256]rune
	toUnicode    map[int]rune
}

func (r resolver) loadFont(o types.Object) *pdfFont {
	d := r.dict(o)
	f := &pdfFont{}
	if d == nil {
		f.encoding = baseEncoding("StandardEncoding")
		return f
	}

	subtype, _ := r.name(d["Subtype"])
	if subtype == "Type0" {
		f.twoByte = true
		f.defaultWidth = 1000
		if desc := r.array(d["DescendantFonts"]); len(desc) > 0 {
			dd := r.dict(desc[0])
			if dw, ok := r.number(dd["DW"]); ok {
				f.defaultWidth = dw
			}
			f.cidWidths = r.cidWidths(r.array(dd["W"]))
		}
	} else {
		fc, _ := r.number(d["FirstChar"])
		f.firstChar = int(fc)
		f.widths = r.numbers(d["Widths"])
		f.encoding = r.simpleEncoding(d["Encoding"])
	}

	if tu, found := d.Find("ToUnicode"); found {
		if data, err := r.streamData(tu); err == nil {
			f.toUnicode = parseToUnicode(data)
		}
	}
	return f
}

// cidWidths parses a CIDFont /W array: "c [w1 w2 ...]" or "cfirst clast w".
func (r resolver) cidWidths(w types.Array) map[int]float64 {
	m := map[int]float64{}
	for i := 0; i+1 < len(w); {
		first, ok := r.number(w[i])
		if !ok {
			break
		}
		if arr := r.array(w[i+1]); arr != nil {
			for j, v := range arr {
				if n, ok := r.number(v); ok {
					m[int(first)+j] = n
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(w) {
			break
		}
		last, ok1 := r.number(w[i+1])
		width, ok2 := r.number(w[i+2])
		if !ok1 || !ok2 {
			break
		}
		for c := int(first); c <= int(last) && c-int(first) < 1<<16; c++ {
			m[c] = width
		}
		i += 3
	}
	return m
}

func (r resolver) simpleEncoding(o types.Object) *[256]rune {
	base := "StandardEncoding"
	var diffs types.Array
	switch v := r.deref(o).(type) {
	case types.Name:
		base = string(v)
	case types.Dict:
		if b, ok := r.name(v["BaseEncoding"]); ok {
			base = b
		}
		diffs = r.array(v["Differences"])
	}

	enc := baseEncoding(base)
	code := 0
	for _, item := range diffs {
		if n, ok := r.number(item); ok {
			code = int(n)
			continue
		}
		if gn, ok := r.name(item); ok && code >= 0 && code < 256 {
			enc[code] = glyphRune(gn)
			code++
		}
	}
	return enc
}

func baseEncoding(base string) *[256]rune {
	var enc [256]rune
	cm := charmap.Windows1252
	if base == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	for i := 0; i < 256; i++ {
		enc[i] = cm.DecodeByte(byte(i))
	}
	if base == "StandardEncoding" {
		enc['\''] = '’'
		enc['`'] = '‘'
	}
	return &enc
}

// codes splits a shown string into character codes.
func (f *pdfFont) codes(s []byte) []int {
	if !f.twoByte {
		out := make([]int, len(s))
		for i, b := range s {
			out[i] = int(b)
		}
		return out
	}
	out := make([]int, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, int(s[i])<<8|int(s[i+1]))
	}
	return out
}

// runeFor returns the character shown for code, or 0 if unknown.
func (f *pdfFont) runeFor(code int) rune {
	if r, ok := f.toUnicode[code]; ok {
		return r
	}
	if f.twoByte || f.encoding == nil || code > 255 {
		return 0
	}
	return f.encoding[code]
}

// width returns the advance of code in glyph space (1/1000 em), or false
// when the font does not say.
func (f *pdfFont) width(code int) (float64, bool) {
	if f.twoByte {
		if w, ok := f.cidWidths[code]; ok {
			return w, true
		}
		return f.defaultWidth, true
	}
	if i := code - f.firstChar; i >= 0 && i < len(f.widths) && f.widths[i] > 0 {
		return f.widths[i], true
	}
	return 0, false
}

// parseToUnicode reads the bfchar and bfrange sections of a ToUnicode CMap.
// Malformed CMaps yield an empty map.
func parseToUnicode(data []byte) map[int]rune {
	m := map[int]rune{}
	raw, err := postscript.ReadCMap(bytes.NewReader(data))
	if err != nil {
		return m
	}
	info, ok := raw["CodeMap"].(*postscript.CMapInfo)
	if !ok {
		return m
	}
	for _, c := range info.BfChars {
		if dst, ok := c.Dst.(postscript.String); ok {
			m[codeOf(c.Src)] = firstRune(dst)
		}
	}
	for _, r := range info.BfRanges {
		from, to := codeOf(r.Low), codeOf(r.High)
		switch dst := r.Dst.(type) {
		case postscript.String:
			base := firstRune(dst)
			for c := from; c <= to && c-from < 1<<16; c++ {
				m[c] = base + rune(c-from)
			}
		case postscript.Array:
			for j, d := range dst {
				if b, ok := d.(postscript.String); ok && from+j <= to {
					m[from+j] = firstRune(b)
				}
			}
		}
	}
	return m
}

func codeOf(b []byte) int {
	c := 0
	for _, v := range b {
		c = c<<8 | int(v)
	}
	return c
}

var utf16be = xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)

func firstRune(b []byte) rune {
	if len(b) == 1 {
		return rune(b[0])
	}
	s, err := utf16be.NewDecoder().Bytes(b)
	if err != nil || len(s) == 0 {
		return 0
	}
	r, _ := utf8.DecodeRune(s)
	return r
}

// glyphRune maps an Adobe glyph name to a rune.
func glyphRune(n string) rune {
	if r, ok := glyphNames[n]; ok {
		return r
	}
	if len(n) == 1 {
		return rune(n[0])
	}
	if strings.HasPrefix(n, "uni") && len(n) >= 7 {
		if v, err := strconv.ParseUint(n[3:7], 16, 32); err == nil {
			return rune(v)
		}
	}
	if strings.HasPrefix(n, "u") && len(n) >= 5 && len(n) <= 7 {
		if v, err := strconv.ParseUint(n[1:], 16, 32); err == nil {
			return rune(v)
		}
	}
	return 0
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "parenleft": '(', "parenright": ')',
	"asterisk": '*', "plus": '+', "comma": ',', "hyphen": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=', "greater": '>', "question": '?',
	"at": '@', "bracketleft": '[', "backslash": '\\', "bracketright": ']', "asciicircum": '^',
	"underscore": '_', "grave": '`', "braceleft": '{', "bar": '|', "braceright": '}',
	"asciitilde": '~', "bullet": '•', "endash": '–', "emdash": '—',
	"quoteleft": '‘', "quoteright": '’', "quotedblleft": '“', "quotedblright": '”',
	"quotesinglbase": '‚', "quotedblbase": '„', "ellipsis": '…',
	"fi": 'ﬁ', "fl": 'ﬂ', "degree": '°', "copyright": '©', "registered": '®',
	"trademark": '™', "Euro": '€', "dagger": '†', "daggerdbl": '‡',
	"section": '§', "paragraph": '¶', "periodcentered": '·', "minus": '−',
	"multiply": '×', "divide": '÷', "nbspace": '\u00a0', "sterling": '£',
	"yen": '¥', "cent": '¢', "germandbls": 'ß',
}
