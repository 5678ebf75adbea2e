// Package answer normalizes the correct-answer encodings found in the
// upstream question store. Question banks from different vintages carry the
// answer as a letter ("B"), a numeric string ("1"), a number (1), or under an
// alternate field name; everything downstream consumes only the canonical
// index/letter pair produced here.
package answer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Canonical is the normalized representation of a correct answer.
// Index is 0-3 and Letter "A"-"D" when known; Index -1 and an empty Letter
// mean the answer could not be determined. An unknown canonical is never an
// error: scoring treats such a question as always-incorrect.
type Canonical struct {
	Index  int    `json:"index"`
	Letter string `json:"letter"`
}

// Unknown is the canonical value for an undecodable answer.
var Unknown = Canonical{Index: -1}

func (c Canonical) Known() bool { return c.Index >= 0 && c.Index <= 3 && c.Letter != "" }

// Raw is one decoded shape of a correct-answer field. Branching on the raw
// shape happens only in this package.
type Raw interface{ isRaw() }

type LetterAnswer struct{ Letter string }
type IndexAnswer struct{ Index int }
type UnknownAnswer struct{}

func (LetterAnswer) isRaw()  {}
func (IndexAnswer) isRaw()   {}
func (UnknownAnswer) isRaw() {}

// Decode classifies a raw correct-answer value. Resolution order: explicit
// letter match, numeric string 0-3, numeric value 0-3, otherwise unknown.
func Decode(v any) Raw {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if len(s) == 1 {
			up := strings.ToUpper(s)
			if up[0] >= 'A' && up[0] <= 'D' {
				return LetterAnswer{Letter: up}
			}
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 3 {
			return IndexAnswer{Index: n}
		}
	case int:
		if x >= 0 && x <= 3 {
			return IndexAnswer{Index: x}
		}
	case float64:
		if x == math.Trunc(x) && x >= 0 && x <= 3 {
			return IndexAnswer{Index: int(x)}
		}
	case json.Number:
		if n, err := x.Int64(); err == nil && n >= 0 && n <= 3 {
			return IndexAnswer{Index: int(n)}
		}
	}
	return UnknownAnswer{}
}

// Normalize resolves one raw value to the canonical pair. It returns Unknown
// (not an error) when nothing matches, and is idempotent: normalizing an
// already-canonical letter or index yields the same pair.
func Normalize(v any) Canonical {
	switch r := Decode(v).(type) {
	case LetterAnswer:
		return Canonical{Index: int(r.Letter[0] - 'A'), Letter: r.Letter}
	case IndexAnswer:
		return Canonical{Index: r.Index, Letter: IndexToLetter(r.Index)}
	}
	return Unknown
}

// NormalizeFields tries candidate values in precedence order and returns the
// first that resolves. Callers pass the primary field first, then the
// alternate field names ("answer", "answerIndex").
func NormalizeFields(values ...any) Canonical {
	for _, v := range values {
		if v == nil {
			continue
		}
		if c := Normalize(v); c.Known() {
			return c
		}
	}
	return Unknown
}

// IndexToLetter maps 0-3 to "A"-"D"; out-of-range yields "".
func IndexToLetter(i int) string {
	if i < 0 || i > 3 {
		return ""
	}
	return string(rune('A' + i))
}

// LetterToIndex maps "A"-"D" (either case) to 0-3.
func LetterToIndex(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || s[0] < 'A' || s[0] > 'D' {
		return -1, false
	}
	return int(s[0] - 'A'), true
}
