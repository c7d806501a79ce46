package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"testing"

	"audiencesync/internal/match"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func rowOf(line int, kv ...any) *Row {
	r := &Row{}
	r.Reset(line)
	for i := 0; i < len(kv); i += 2 {
		col := kv[i].(string)
		switch v := kv[i+1].(type) {
		case nil:
			r.Set(col, Value{})
		case string:
			r.Set(col, Value{S: v, Valid: true})
		}
	}
	return r
}

func resolve(t *testing.T, columns ...string) *match.Schema {
	t.Helper()
	r, err := match.NewResolver(match.Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r.Resolve(columns)
}

func TestHash_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Hash(" Alice@Example.com ")
	b := Hash("alice@example.com")
	if a != b {
		t.Fatalf("Hash mismatch: %s != %s", a, b)
	}
	if a != sha("alice@example.com") {
		t.Fatalf("Hash = %s; want sha256 of normalized input", a)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  MiXeD  ":      "mixed",
		"\tJOHN\n":       "john",
		"":               "",
		"ÉLODIE":         "élodie",
		"already-normal": "already-normal",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q; want %q", in, got, want)
		}
	}
}

/*
TestTransform_EmailOnly covers the single-combination case: the record holds
one hashed value per row and other mapped columns (Zip) do not contribute.
*/
func TestTransform_EmailOnly(t *testing.T) {
	schema := resolve(t, "Email", "Zip")
	tr := New(schema, Options{Hashing: true})

	rec, ok := tr.Transform(rowOf(1, "Email", "A@B.com", "Zip", "90210"))
	if !ok {
		t.Fatal("Transform returned ok=false")
	}
	if want := (Record{sha("a@b.com")}); !reflect.DeepEqual(rec, want) {
		t.Fatalf("rec = %v; want %v", rec, want)
	}
}

func TestTransform_CompositeWithoutHashing(t *testing.T) {
	schema := resolve(t, "Last Name", "First Name", "Zip", "Email")
	tr := New(schema, Options{Hashing: false})

	rec, ok := tr.Transform(rowOf(1,
		"Last Name", " Doe ",
		"First Name", "JOHN",
		"Zip", "30008",
		"Email", "J@Doe.com",
	))
	if !ok {
		t.Fatal("Transform returned ok=false")
	}
	want := Record{"j@doe.com", "doe_john_30008"}
	if !reflect.DeepEqual(rec, want) {
		t.Fatalf("rec = %v; want %v", rec, want)
	}
}

func TestTransform_MissingComponentKeepsShape(t *testing.T) {
	schema := resolve(t, "Last Name", "First Name", "Zip")
	tr := New(schema, Options{Hashing: true})

	rec, _ := tr.Transform(rowOf(1, "Last Name", "Doe", "First Name", nil, "Zip", "30008"))
	if want := (Record{sha("doe__30008")}); !reflect.DeepEqual(rec, want) {
		t.Fatalf("rec = %v; want %v", rec, want)
	}
}

func TestTransform_AllComponentsMissingIsEmptyNotHashed(t *testing.T) {
	schema := resolve(t, "Email")
	tr := New(schema, Options{Hashing: true})

	rec, ok := tr.Transform(rowOf(1, "Email", nil))
	if !ok || !reflect.DeepEqual(rec, Record{""}) {
		t.Fatalf("rec = %v ok=%v; want [\"\"] true", rec, ok)
	}
}

func TestTransform_MadIDNotHashed(t *testing.T) {
	schema := resolve(t, "madid")
	tr := New(schema, Options{Hashing: true})

	rec, _ := tr.Transform(rowOf(1, "madid", "ABCD-1234"))
	if !reflect.DeepEqual(rec, Record{"abcd-1234"}) {
		t.Fatalf("rec = %v; want plain normalized madid", rec)
	}
}

/*
TestTransform_SchemaFixedAfterFirstRow feeds a second row with a different
column set: only columns from the resolved schema are read, and a column the
schema does not know about is ignored even if it would have matched a rule.
*/
func TestTransform_SchemaFixedAfterFirstRow(t *testing.T) {
	schema := resolve(t, "Email")
	tr := New(schema, Options{Hashing: false})

	rec, ok := tr.Transform(rowOf(2, "Phone", "555", "Work Email", "x@y.z"))
	if !ok || !reflect.DeepEqual(rec, Record{""}) {
		t.Fatalf("rec = %v; want the Email column only (absent)", rec)
	}
	if got := schema.Tags(); !reflect.DeepEqual(got, []string{"EMAIL_SHA256"}) {
		t.Fatalf("schema tags changed: %v", got)
	}
}

func TestTransform_LaterColumnWins(t *testing.T) {
	schema := resolve(t, "Email", "Work Email")
	tr := New(schema, Options{Hashing: false})

	rec, _ := tr.Transform(rowOf(1, "Email", "home@x.com", "Work Email", "work@x.com"))
	if !reflect.DeepEqual(rec, Record{"work@x.com"}) {
		t.Fatalf("rec = %v; want the later column", rec)
	}
}

func TestTransform_EmptySchemaYieldsNothing(t *testing.T) {
	schema := resolve(t, "Revenue")
	tr := New(schema, Options{Hashing: true})

	if rec, ok := tr.Transform(rowOf(1, "Revenue", "10")); ok {
		t.Fatalf("rec = %v; want no record", rec)
	}
	if s := tr.Stats(); s.Rows != 1 || s.Records != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTransform_Dedupe(t *testing.T) {
	schema := resolve(t, "Email")
	tr := New(schema, Options{Hashing: true, Dedupe: true})

	inputs := []string{"a@b.com", " A@B.com", "c@d.com"}
	var kept int
	for i, in := range inputs {
		if _, ok := tr.Transform(rowOf(i+1, "Email", in)); ok {
			kept++
		}
	}
	s := tr.Stats()
	if kept != 2 || s.Duplicates != 1 || s.Records != 2 || s.Rows != 3 {
		t.Fatalf("kept=%d stats=%+v; want 2 kept, 1 duplicate", kept, s)
	}
}

func TestDedupSet_SeparatorMatters(t *testing.T) {
	d := newDedupSet()
	if !d.add(Record{"ab", "c"}) || !d.add(Record{"a", "bc"}) {
		t.Fatal("distinct records collided")
	}
	if d.add(Record{"ab", "c"}) {
		t.Fatal("repeat not detected")
	}
}
