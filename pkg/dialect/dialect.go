// Package dialect describes the vendor variants of the LX200 command set:
// which commands exist, how replies are shaped, how errors and status
// strings decode. Descriptors are immutable data; no I/O happens here.
package dialect

import (
	"fmt"
	"strings"
	"unicode"
)

type Dialect int

const (
	AutoDetect Dialect = iota
	Meade
	EQMac
	TenMicrons
	Gemini
	AvalonStarGO
	AvalonStarGO2
	AstroPhysics
	OnStep
	AGotino
	ZwoAM
	PegasusNyx
	OpenAstroTech
	TeenAstro
	Generic
)

func (d Dialect) String() string {
	switch d {
	case AutoDetect:
		return "AutoDetect"
	case Meade:
		return "Meade"
	case EQMac:
		return "EQMac"
	case TenMicrons:
		return "10Micron"
	case Gemini:
		return "Gemini"
	case AvalonStarGO:
		return "AvalonStarGO"
	case AvalonStarGO2:
		return "AvalonStarGO2"
	case AstroPhysics:
		return "AstroPhysics"
	case OnStep:
		return "OnStep"
	case AGotino:
		return "aGotino"
	case ZwoAM:
		return "ZWO AM"
	case PegasusNyx:
		return "PegasusNYX"
	case OpenAstroTech:
		return "OpenAstroTech"
	case TeenAstro:
		return "TeenAstro"
	case Generic:
		return "Generic"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// All lists every concrete dialect, in detection-neutral order.
func All() []Dialect {
	return []Dialect{Meade, EQMac, TenMicrons, Gemini, AvalonStarGO, AvalonStarGO2, AstroPhysics,
		OnStep, AGotino, ZwoAM, PegasusNyx, OpenAstroTech, TeenAstro, Generic}
}

// Parse accepts a dialect name as printed by String, case and punctuation
// insensitive. "auto" and "" select AutoDetect.
func Parse(s string) (Dialect, error) {
	key := normalize(s)
	if key == "" || key == "auto" || key == "autodetect" {
		return AutoDetect, nil
	}
	for _, d := range All() {
		if normalize(d.String()) == key {
			return d, nil
		}
	}
	switch key {
	case "tenmicrons", "tenmicron":
		return TenMicrons, nil
	case "zwo", "zwoam", "asi":
		return ZwoAM, nil
	case "nyx":
		return PegasusNyx, nil
	case "oat":
		return OpenAstroTech, nil
	case "ap":
		return AstroPhysics, nil
	}
	return AutoDetect, fmt.Errorf("unknown dialect %q", s)
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// Descriptor returns the immutable descriptor of d. AutoDetect has none.
func (d Dialect) Descriptor() *Descriptor {
	return descriptors[d]
}

type identity struct {
	match   func(product string) bool
	dialect Dialect
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

func contains(p string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, p) }
}

// identities is ordered most specific first.
var identities = []identity{
	{prefix("On-Step"), OnStep},
	{func(s string) bool { return len(s) > 2 && s[:2] == "AM" && s[2] >= '0' && s[2] <= '9' }, ZwoAM},
	{prefix("NYX"), PegasusNyx},
	{prefix("TeenAstro"), TeenAstro},
	{prefix("OpenAstroTracker"), OpenAstroTech},
	{prefix("OpenAstroMount"), OpenAstroTech},
	{prefix("aGotino"), AGotino},
	{prefix("EQMac"), EQMac},
	{prefix("10micron"), TenMicrons},
	{prefix("Losmandy"), Gemini},
	{prefix("Gemini"), Gemini},
	{prefix("StarGO2"), AvalonStarGO2},
	{prefix("Avalon"), AvalonStarGO},
	{prefix("StarGO"), AvalonStarGO},
	{prefix("Astro-Physics"), AstroPhysics},
	{prefix("LX"), Meade},
	{contains("Autostar"), Meade},
}

// Identify matches a product string (the :GVP# reply) against the
// identification table.
func Identify(product string) (Dialect, bool) {
	product = strings.TrimSpace(strings.TrimSuffix(product, "#"))
	for _, id := range identities {
		if id.match(product) {
			return id.dialect, true
		}
	}
	return AutoDetect, false
}
