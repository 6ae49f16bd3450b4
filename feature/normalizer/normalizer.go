package normalizer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Normalize parses untrusted descriptor bytes into a CanonicalRecord.
// It is a pure function of its inputs: no I/O, no shared state. Unexpected
// extra elements are ignored; missing optional fields resolve to Unknown
// sentinels; malformed nesting and missing required fields fail with
// MalformedStructure, badly typed values with FieldTypeMismatch.
func Normalize(raw []byte, kind SchemaKind) (*CanonicalRecord, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("empty document")
	}

	// Undeclared non-UTF8 input falls back to Latin-1, the encoding the
	// game shipped descriptor files in before it switched to UTF-8.
	if !utf8.Valid(raw) {
		raw = latin1ToUTF8(raw)
	}

	switch kind {
	case KindModDescriptor:
		return normalizeModDesc(raw)
	case KindSavegameDescriptor:
		return normalizeSavegame(raw)
	case KindMapDescriptor:
		return normalizeMap(raw)
	default:
		return nil, malformed("unsupported schema kind %q", kind)
	}
}

// decode unmarshals into v with a charset fallback for declared non-UTF8
// encodings. Any decoder error maps to MalformedStructure.
func decode(raw []byte, v any) error {
	d := xml.NewDecoder(bytes.NewReader(raw))
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		// Whatever the declaration claims, fall back to Latin-1: every
		// byte is a valid code point, so decoding cannot fail.
		return &latin1Reader{r: input}, nil
	}
	if err := d.Decode(v); err != nil {
		return malformed("parse xml: %v", err)
	}
	return nil
}

type localizedText struct {
	En   string `xml:"en"`
	Text string `xml:",chardata"`
}

// value prefers the english localization, falling back to bare text.
func (t localizedText) value() string {
	if s := strings.TrimSpace(t.En); s != "" {
		return s
	}
	return strings.TrimSpace(t.Text)
}

type modDescXML struct {
	XMLName xml.Name      `xml:"modDesc"`
	Author  string        `xml:"author"`
	Version string        `xml:"version"`
	Title   localizedText `xml:"title"`
}

func normalizeModDesc(raw []byte) (*CanonicalRecord, error) {
	var doc modDescXML
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}

	title := doc.Title.value()
	if title == "" {
		return nil, malformed("mod descriptor missing required title")
	}
	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, malformed("mod descriptor missing required version")
	}

	rec := newRecord(KindModDescriptor)
	rec.Title = KnownField(title)
	rec.Version = KnownField(version)
	if author := strings.TrimSpace(doc.Author); author != "" {
		rec.Author = KnownField(author)
	}
	return rec, nil
}

type savegameXML struct {
	XMLName  xml.Name `xml:"careerSavegame"`
	Settings struct {
		SavegameName string `xml:"savegameName"`
		MapTitle     string `xml:"mapTitle"`
		SaveDate     string `xml:"saveDate"`
	} `xml:"settings"`
	Statistics struct {
		Money    string `xml:"money"`
		PlayTime string `xml:"playTime"`
	} `xml:"statistics"`
	Mods []struct {
		ModName string `xml:"modName,attr"`
		Version string `xml:"version,attr"`
	} `xml:"mod"`
}

func normalizeSavegame(raw []byte) (*CanonicalRecord, error) {
	var doc savegameXML
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}

	mapTitle := strings.TrimSpace(doc.Settings.MapTitle)
	if mapTitle == "" {
		return nil, malformed("savegame descriptor missing required mapTitle")
	}

	rec := newRecord(KindSavegameDescriptor)
	rec.MapName = KnownField(mapTitle)

	if name := strings.TrimSpace(doc.Settings.SavegameName); name != "" {
		rec.SavegameName = KnownField(name)
	}
	if date := strings.TrimSpace(doc.Settings.SaveDate); date != "" {
		parsed, err := parseIngameDate(date)
		if err != nil {
			return nil, typeMismatch("saveDate", err)
		}
		rec.IngameDate = Field{Value: parsed, Literal: date, Known: true}
	}
	if money := strings.TrimSpace(doc.Statistics.Money); money != "" {
		val, err := strconv.ParseInt(money, 10, 64)
		if err != nil {
			return nil, typeMismatch("money", err)
		}
		rec.Money = NumberField{Value: val, Literal: money, Known: true}
	}
	if pt := strings.TrimSpace(doc.Statistics.PlayTime); pt != "" {
		if _, err := strconv.ParseFloat(pt, 64); err != nil {
			return nil, typeMismatch("playTime", err)
		}
		rec.PlayTime = KnownField(pt)
	}

	for _, m := range doc.Mods {
		name := strings.TrimSpace(m.ModName)
		if name == "" {
			continue
		}
		rec.Dependencies = append(rec.Dependencies, ModDependency{
			Name:    name,
			Version: strings.TrimSpace(m.Version),
		})
	}

	return rec, nil
}

type mapXML struct {
	XMLName xml.Name      `xml:"map"`
	Name    string        `xml:"name,attr"`
	Width   string        `xml:"width,attr"`
	Height  string        `xml:"height,attr"`
	Title   localizedText `xml:"title"`
	Author  string        `xml:"author"`
	Version string        `xml:"version"`
}

func normalizeMap(raw []byte) (*CanonicalRecord, error) {
	var doc mapXML
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(doc.Name)
	if name == "" {
		return nil, malformed("map descriptor missing required name attribute")
	}

	rec := newRecord(KindMapDescriptor)
	rec.MapName = KnownField(name)

	if title := doc.Title.value(); title != "" {
		rec.Title = KnownField(title)
	}
	if author := strings.TrimSpace(doc.Author); author != "" {
		rec.Author = KnownField(author)
	}
	if version := strings.TrimSpace(doc.Version); version != "" {
		rec.Version = KnownField(version)
	}
	if w := strings.TrimSpace(doc.Width); w != "" {
		val, err := strconv.ParseInt(w, 10, 64)
		if err != nil {
			return nil, typeMismatch("width", err)
		}
		rec.Size = NumberField{Value: val, Literal: w, Known: true}
	}
	if h := strings.TrimSpace(doc.Height); h != "" {
		if _, err := strconv.ParseInt(h, 10, 64); err != nil {
			return nil, typeMismatch("height", err)
		}
	}

	return rec, nil
}

// newRecord returns a record with every optional field set to the Unknown
// sentinel, so absence is always explicit.
func newRecord(kind SchemaKind) *CanonicalRecord {
	return &CanonicalRecord{
		Kind:         kind,
		Title:        UnknownField(),
		Author:       UnknownField(),
		Version:      UnknownField(),
		Category:     UnknownField(),
		DownloadURL:  UnknownField(),
		Released:     UnknownField(),
		MapName:      UnknownField(),
		SavegameName: UnknownField(),
		IngameDate:   UnknownField(),
		PlayTime:     UnknownField(),
	}
}

// parseIngameDate normalizes the save date to ISO form. The game writes
// either ISO dates or the dd.mm.yyyy form used on ModHub.
func parseIngameDate(literal string) (string, error) {
	for _, layout := range []string{"2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, literal); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", literal)
}

// latin1ToUTF8 transcodes Latin-1 bytes, where every byte maps directly to
// the code point of the same value.
func latin1ToUTF8(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/8)
	for _, b := range raw {
		out = utf8.AppendRune(out, rune(b))
	}
	return out
}

// latin1Reader transcodes a Latin-1 stream to UTF-8. A source byte can grow
// into two output bytes, so output that does not fit the caller's buffer is
// held back for the next call; Read never reports more than len(p) bytes.
type latin1Reader struct {
	r    io.Reader
	rest []byte
	err  error
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	if len(l.rest) == 0 && l.err == nil {
		buf := make([]byte, max(len(p)/2, 1))
		var n int
		n, l.err = l.r.Read(buf)
		l.rest = latin1ToUTF8(buf[:n])
	}
	n := copy(p, l.rest)
	l.rest = l.rest[n:]
	if len(l.rest) > 0 {
		// Hold the source error until the buffered output is drained.
		return n, nil
	}
	return n, l.err
}
