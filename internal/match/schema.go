package match

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rule maps column labels matching Pattern onto Identifier.
type Rule struct {
	Pattern         *regexp.Regexp
	Identifier      Identifier
	RequiresHashing bool
}

// DefaultRules is evaluated in order against every column label. A later match
// overwrites an earlier one, so "First Initial" resolves to FirstInitial rather
// than FirstName.
var DefaultRules = []Rule{
	{regexp.MustCompile(`(?i)email`), Email, true},
	{regexp.MustCompile(`(?i)phone`), Phone, true},
	{regexp.MustCompile(`(?i)gender`), Gender, true},
	{regexp.MustCompile(`(?i)year`), BirthYear, true},
	{regexp.MustCompile(`(?i)month`), BirthMonth, true},
	{regexp.MustCompile(`(?i)day`), BirthDay, true},
	{regexp.MustCompile(`(?i)last`), LastName, true},
	{regexp.MustCompile(`(?i)first`), FirstName, true},
	{regexp.MustCompile(`(?i)initial`), FirstInitial, true},
	{regexp.MustCompile(`(?i)city`), City, true},
	{regexp.MustCompile(`(?i)state`), State, true},
	{regexp.MustCompile(`(?i)postal|zip`), Zip, true},
	{regexp.MustCompile(`(?i)country`), Country, true},
	{regexp.MustCompile(`(?i)madid`), MobileAdID, false},
	{regexp.MustCompile(`(?i)external`), ExternalID, true},
}

// Mapping is the resolved assignment of one column.
type Mapping struct {
	Column          string
	Identifier      Identifier
	RequiresHashing bool
}

// Schema is the immutable result of resolving the first row.
type Schema struct {
	// Mappings are in column order of the first row.
	Mappings []Mapping

	// Applicable lists the combinations computable from Mappings, in recipe
	// order. Hashed[i] reports whether Applicable[i] is hashed when hashing is
	// enabled for the run.
	Applicable []Combination
	Hashed     []bool
}

// Empty reports whether no column matched any identifier.
func (s *Schema) Empty() bool { return len(s.Mappings) == 0 }

// Tags returns the API tags of the applicable combinations.
func (s *Schema) Tags() []string {
	out := make([]string, len(s.Applicable))
	for i, c := range s.Applicable {
		out[i] = c.Tag
	}
	return out
}

// String renders the column assignments as label=identifier pairs.
func (s *Schema) String() string {
	parts := make([]string, len(s.Mappings))
	for i, m := range s.Mappings {
		parts[i] = fmt.Sprintf("%s=%s", m.Column, m.Identifier)
	}
	return strings.Join(parts, ", ")
}

// Config customizes a Resolver. Zero values fall back to DefaultRules and
// Combinations.
type Config struct {
	Rules        []Rule
	Combinations []Combination

	// ColumnMap assigns identifiers to column labels and takes precedence
	// over pattern rules. Labels are compared case-insensitively after
	// trimming; values are identifier names.
	ColumnMap map[string]string
}

// Resolver builds a Schema from the column labels of the first row.
type Resolver struct {
	rules     []Rule
	combos    []Combination
	overrides map[string]Identifier
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	r := &Resolver{
		rules:     cfg.Rules,
		combos:    cfg.Combinations,
		overrides: make(map[string]Identifier, len(cfg.ColumnMap)),
	}
	if len(r.rules) == 0 {
		r.rules = DefaultRules
	}
	if len(r.combos) == 0 {
		r.combos = Combinations
	}
	for label, name := range cfg.ColumnMap {
		id, err := ParseIdentifier(name)
		if err != nil {
			return nil, fmt.Errorf("column_map[%q]: %w", label, err)
		}
		r.overrides[overrideKey(label)] = id
	}
	return r, nil
}

// Resolve maps columns onto identifiers and computes the applicable
// combinations. Unmatched columns are ignored; an empty Schema is not an error.
func (r *Resolver) Resolve(columns []string) *Schema {
	s := &Schema{}
	for _, col := range columns {
		m, ok := r.mapColumn(col)
		if !ok {
			continue
		}
		s.Mappings = append(s.Mappings, m)
	}

	// The last column mapped to an identifier owns it, including its hashing flag.
	owner := make(map[Identifier]Mapping, len(s.Mappings))
	for _, m := range s.Mappings {
		owner[m.Identifier] = m
	}

	for _, c := range r.combos {
		hashed := false
		complete := true
		for _, id := range c.Components {
			m, ok := owner[id]
			if !ok {
				complete = false
				break
			}
			hashed = hashed || m.RequiresHashing
		}
		if complete {
			s.Applicable = append(s.Applicable, c)
			s.Hashed = append(s.Hashed, hashed)
		}
	}
	return s
}

func (r *Resolver) mapColumn(col string) (Mapping, bool) {
	if id, ok := r.overrides[overrideKey(col)]; ok {
		return Mapping{Column: col, Identifier: id, RequiresHashing: r.hashingFor(id)}, true
	}

	folded := FoldLabel(col)
	var (
		m     Mapping
		found bool
	)
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(folded) {
			m = Mapping{Column: col, Identifier: rule.Identifier, RequiresHashing: rule.RequiresHashing}
			found = true
		}
	}
	return m, found
}

func overrideKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// hashingFor reports the hashing flag of the first rule for id; identifiers
// without a rule are hashed.
func (r *Resolver) hashingFor(id Identifier) bool {
	for _, rule := range r.rules {
		if rule.Identifier == id {
			return rule.RequiresHashing
		}
	}
	return true
}

// FoldLabel strips combining marks so that accented labels such as "Émail" or
// "Státe" are matched on their base letters.
func FoldLabel(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
