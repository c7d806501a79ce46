// Package match maps query-result column labels onto the identifier fields the
// audience API understands, and decides which identifier combinations a run can
// compute.
//
// Resolution happens once per run, from the first row:
//
//  1. Every column label is folded (diacritics removed) and tested against the
//     ordered rule list. Every matching rule overwrites the previous one for that
//     label, so the last matching rule wins.
//  2. Explicit column overrides from configuration are applied on top.
//  3. A combination applies when all of its component identifiers are mapped by
//     at least one column.
//
// The resulting Schema is immutable and shared by every subsequent row.
package match

import (
	"fmt"
	"strings"
)

// Identifier names one user field known to the audience API.
type Identifier int

// The identifier set is fixed; the order defines the slot layout of
// IdentifierSet.
const (
	Email Identifier = iota
	Phone
	Gender
	BirthYear
	BirthMonth
	BirthDay
	LastName
	FirstName
	FirstInitial
	City
	State
	Zip
	Country
	MobileAdID
	ExternalID

	numIdentifiers
)

var identifierNames = [numIdentifiers]string{
	Email:        "email",
	Phone:        "phone",
	Gender:       "gender",
	BirthYear:    "birth-year",
	BirthMonth:   "birth-month",
	BirthDay:     "birth-day",
	LastName:     "last-name",
	FirstName:    "first-name",
	FirstInitial: "first-initial",
	City:         "city",
	State:        "state",
	Zip:          "zip",
	Country:      "country",
	MobileAdID:   "mobile-ad-id",
	ExternalID:   "external-id",
}

// String returns the canonical kebab-case name, e.g. "birth-year".
func (id Identifier) String() string {
	if id < 0 || id >= numIdentifiers {
		return fmt.Sprintf("identifier(%d)", int(id))
	}
	return identifierNames[id]
}

// Identifiers returns all identifiers in slot order.
func Identifiers() []Identifier {
	out := make([]Identifier, numIdentifiers)
	for i := range out {
		out[i] = Identifier(i)
	}
	return out
}

// ParseIdentifier accepts the canonical name as well as the camelCase and
// snake_case spellings used by older configs ("birthYear", "birth_year").
func ParseIdentifier(s string) (Identifier, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	for i, name := range identifierNames {
		if strings.ReplaceAll(name, "-", "") == key {
			return Identifier(i), nil
		}
	}
	switch key {
	case "madid":
		return MobileAdID, nil
	case "externid":
		return ExternalID, nil
	case "birthdayofmonth", "dobd":
		return BirthDay, nil
	}
	return 0, fmt.Errorf("match: unknown identifier %q", s)
}

// IdentifierSet holds one optional value per identifier. The zero value has
// every slot absent.
type IdentifierSet struct {
	vals    [numIdentifiers]string
	present [numIdentifiers]bool
}

// Set stores v in the slot for id, marking it present.
func (s *IdentifierSet) Set(id Identifier, v string) {
	s.vals[id] = v
	s.present[id] = true
}

// Get returns the slot value and whether it is present.
func (s *IdentifierSet) Get(id Identifier) (string, bool) {
	return s.vals[id], s.present[id]
}

// Clear marks the slot for id absent.
func (s *IdentifierSet) Clear(id Identifier) {
	s.vals[id] = ""
	s.present[id] = false
}

// Reset clears every slot so the set can be reused for the next row.
func (s *IdentifierSet) Reset() {
	*s = IdentifierSet{}
}
