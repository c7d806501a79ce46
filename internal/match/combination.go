package match

import "strings"

// Separator joins the components of a composite key.
const Separator = "_"

// Combination is a recipe that turns an IdentifierSet into one composite key,
// tagged with the schema name the audience API expects for it.
type Combination struct {
	Tag        string
	Components []Identifier
}

// Compose joins the components in recipe order. A missing component
// contributes an empty segment so the positional shape is preserved.
func (c Combination) Compose(set *IdentifierSet) string {
	if len(c.Components) == 1 {
		v, _ := set.Get(c.Components[0])
		return v
	}
	var b strings.Builder
	for i, id := range c.Components {
		if i > 0 {
			b.WriteString(Separator)
		}
		v, _ := set.Get(id)
		b.WriteString(v)
	}
	return b.String()
}

// Combinations is the ordered recipe list used when a config does not supply
// its own.
var Combinations = []Combination{
	{Tag: "EMAIL_SHA256", Components: []Identifier{Email}},
	{Tag: "PHONE_SHA256", Components: []Identifier{Phone}},
	{Tag: "MADID", Components: []Identifier{MobileAdID}},
	{Tag: "EXTERN_ID", Components: []Identifier{ExternalID}},
	{Tag: "LN_FN_ZIP", Components: []Identifier{LastName, FirstName, Zip}},
	{Tag: "LN_FI_ZIP", Components: []Identifier{LastName, FirstInitial, Zip}},
	{Tag: "LN_FN_CT_ST", Components: []Identifier{LastName, FirstName, City, State}},
	{Tag: "LN_FI_CT_ST", Components: []Identifier{LastName, FirstInitial, City, State}},
	{Tag: "LN_FN_DOBY_DOBM_DOBD", Components: []Identifier{LastName, FirstName, BirthYear, BirthMonth, BirthDay}},
	{Tag: "LN_FN_GEN_COUNTRY", Components: []Identifier{LastName, FirstName, Gender, Country}},
}
