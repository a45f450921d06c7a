// Package catalog resolves which solar images exist for a day, keeps them
// cached on disk one directory per day, and serves decoded images from
// memory with at most one in-flight load per key.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// ErrInvalidSelection is returned for an unknown image set or resolution.
var ErrInvalidSelection = errors.New("invalid image selection")

// ImageSet identifies an instrument channel or composite.
type ImageSet string

// Unless noted otherwise, image sets come in pfss variants and skip 3072.
const (
	Set0094        ImageSet = "0094" // no 256 resolution
	Set0131        ImageSet = "0131"
	Set0171        ImageSet = "0171"
	Set0193        ImageSet = "0193"
	Set0211        ImageSet = "0211"
	Set0304        ImageSet = "0304"
	Set0335        ImageSet = "0335"
	Set1600        ImageSet = "1600"
	Set1700        ImageSet = "1700"
	Set4500        ImageSet = "4500" // no pfss
	SetHMI171      ImageSet = "HMI171"
	SetHMIB        ImageSet = "HMIB"
	SetHMII        ImageSet = "HMII"        // no pfss
	SetHMID        ImageSet = "HMID"        // no pfss
	SetHMIBC       ImageSet = "HMIBC"       // no pfss, has 3072
	SetHMIIF       ImageSet = "HMIIF"       // no pfss, has 3072
	SetHMIIC       ImageSet = "HMIIC"       // no pfss, has 3072
	Set094335193   ImageSet = "094335193"   // composite of 0094, 0335, 0193
	Set304211171   ImageSet = "304211171"   // composite of 0304, 0211, 0171
	Set211193171   ImageSet = "211193171"   // composite of 0211, 0193, 0171; has 3072
	Set211193171n  ImageSet = "211193171n"  // dimmed corona; no pfss, has 3072
	Set211193171rg ImageSet = "211193171rg" // no pfss, has 3072
)

var imageSets = []struct {
	set  ImageSet
	name string
}{
	{Set0094, "AIA 94 Å"},
	{Set0131, "AIA 131 Å"},
	{Set0171, "AIA 171 Å"},
	{Set0193, "AIA 193 Å"},
	{Set0211, "AIA 211 Å"},
	{Set0304, "AIA 304 Å"},
	{Set0335, "AIA 335 Å"},
	{Set1600, "AIA 1600 Å"},
	{Set1700, "AIA 1700 Å"},
	{Set4500, "AIA 4500 Å"},
	{SetHMI171, "AIA 171 Å & HMIB"},
	{SetHMIB, "HMI Magnetogram"},
	{SetHMII, "HMI Intensitygram"},
	{SetHMID, "HMI Dopplergram"},
	{SetHMIBC, "HMI Colorized Magnetogram"},
	{SetHMIIF, "HMI Intensitygram - Flattened"},
	{SetHMIIC, "HMI Intensitygram - Colored"},
	{Set094335193, "AIA 94 Å, 335 Å, 193 Å"},
	{Set304211171, "AIA 304 Å, 211 Å, 171 Å"},
	{Set211193171, "AIA 211 Å, 193 Å, 171 Å"},
	{Set211193171n, "AIA 211 Å, 193 Å, 171 Å n"},
	{Set211193171rg, "AIA 211 Å, 193 Å, 171 Å rg"},
}

// ImageSets returns every known image set in display order.
func ImageSets() []ImageSet {
	out := make([]ImageSet, len(imageSets))
	for i, s := range imageSets {
		out[i] = s.set
	}
	return out
}

// Name returns the human readable name, or the raw code when unknown.
func (s ImageSet) Name() string {
	for _, is := range imageSets {
		if is.set == s {
			return is.name
		}
	}
	return string(s)
}

// Valid reports whether s is a known image set.
func (s ImageSet) Valid() bool {
	for _, is := range imageSets {
		if is.set == s {
			return true
		}
	}
	return false
}

// ParseImageSet accepts a set code, case-insensitively for the HMI sets.
func ParseImageSet(s string) (ImageSet, error) {
	for _, is := range imageSets {
		if strings.EqualFold(string(is.set), s) {
			return is.set, nil
		}
	}
	return "", fmt.Errorf("%w: unknown image set %q", ErrInvalidSelection, s)
}

// Resolution is the pixel width of an image.
type Resolution string

const (
	Res256  Resolution = "256"
	Res512  Resolution = "512"
	Res1024 Resolution = "1024"
	Res2048 Resolution = "2048"
	Res3072 Resolution = "3072"
	Res4096 Resolution = "4096"
)

var resolutions = []Resolution{Res256, Res512, Res1024, Res2048, Res3072, Res4096}

// Resolutions returns every known resolution, ascending.
func Resolutions() []Resolution {
	return append([]Resolution(nil), resolutions...)
}

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	for _, known := range resolutions {
		if r == known {
			return true
		}
	}
	return false
}

// ParseResolution accepts "1024" as well as "1024px".
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.TrimSuffix(strings.ToLower(s), "px"))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidSelection, s)
	}
	return r, nil
}

// Selection is the (image set, resolution, pfss) triple that, together with
// a day, determines which filenames are relevant.
type Selection struct {
	ImageSet   ImageSet   `json:"imageSet" yaml:"image_set"`
	Resolution Resolution `json:"resolution" yaml:"resolution"`
	PFSS       bool       `json:"pfss" yaml:"pfss"`
}

// Validate checks both enums.
func (s Selection) Validate() error {
	if !s.ImageSet.Valid() {
		return fmt.Errorf("%w: unknown image set %q", ErrInvalidSelection, s.ImageSet)
	}
	if !s.Resolution.Valid() {
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidSelection, s.Resolution)
	}
	return nil
}

func (s Selection) String() string {
	pfss := ""
	if s.PFSS {
		pfss = " pfss"
	}
	return fmt.Sprintf("%s@%s%s", s.ImageSet, s.Resolution, pfss)
}

// CacheState tracks an image key in the manager's memory cache.
type CacheState int

const (
	Uninitiated CacheState = iota
	Awaiting
	Cached
)

func (s CacheState) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Cached:
		return "cached"
	default:
		return "uninitiated"
	}
}

// keyTimeFmt is the fixed-width timestamp prefix of every key.
const keyTimeFmt = "20060102_150405"

// Image describes one remote image file. Equality and ordering use Key
// alone: the key starts with a fixed-width timestamp, so lexical order is
// chronological order.
type Image struct {
	Key        string     `json:"key"`
	Day        time.Time  `json:"day"`
	ImageSet   ImageSet   `json:"imageSet"`
	Resolution Resolution `json:"resolution"`
	PFSS       bool       `json:"pfss"`
	RemoteURL  string     `json:"remoteURL"`
}

// Less orders images by key.
func (i Image) Less(o Image) bool {
	return i.Key < o.Key
}

// Timestamp parses the capture time from the key.
func (i Image) Timestamp() (time.Time, error) {
	if len(i.Key) < len(keyTimeFmt) {
		return time.Time{}, fmt.Errorf("%w: key %q too short for timestamp", core.ErrContent, i.Key)
	}
	t, err := time.Parse(keyTimeFmt, i.Key[:len(keyTimeFmt)])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: key %q: %w", core.ErrContent, i.Key, err)
	}
	return t, nil
}

// SortDescending orders images newest first.
func SortDescending(images []Image) {
	sort.Slice(images, func(a, b int) bool {
		return images[b].Less(images[a])
	})
}

// NamePattern matches the whole filename
// <yyyyMMdd>_<HHMMSS>_<resolution>_<imageSet>[pfss].jpg for day.
func NamePattern(day time.Time, sel Selection) *regexp.Regexp {
	pfss := ""
	if sel.PFSS {
		pfss = "pfss"
	}
	return regexp.MustCompile(fmt.Sprintf(`^%s_\d{6}_%s_%s%s\.jpg$`,
		core.DayKey(day),
		regexp.QuoteMeta(string(sel.Resolution)),
		regexp.QuoteMeta(string(sel.ImageSet)),
		pfss,
	))
}

var keyPattern = regexp.MustCompile(`^(\d{8})_\d{6}_(\d+)_([0-9A-Za-z]+?)(pfss)?\.jpg$`)

// ParseKey recovers the descriptor fields encoded in a filename. The
// returned image has no RemoteURL.
func ParseKey(key string) (Image, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return Image{}, fmt.Errorf("%w: malformed image key %q", ErrInvalidSelection, key)
	}
	day, err := core.ParseDayKey(m[1])
	if err != nil {
		return Image{}, fmt.Errorf("%w: image key %q: %w", ErrInvalidSelection, key, err)
	}
	img := Image{
		Key:        key,
		Day:        day,
		ImageSet:   ImageSet(m[3]),
		Resolution: Resolution(m[2]),
		PFSS:       m[4] != "",
	}
	sel := Selection{ImageSet: img.ImageSet, Resolution: img.Resolution, PFSS: img.PFSS}
	if err := sel.Validate(); err != nil {
		return Image{}, err
	}
	return img, nil
}
