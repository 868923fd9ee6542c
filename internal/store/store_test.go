package store

import (
	"testing"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0.25, -1.5, 0, 3.140625}
	lit, err := encodeVectorLiteral(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if lit[0] != '[' || lit[len(lit)-1] != ']' {
		t.Fatalf("literal not bracketed: %q", lit)
	}
	out, err := decodeVectorLiteral(lit)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestEncodeVectorLiteralRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}

func TestDecodeVectorLiteralErrors(t *testing.T) {
	t.Parallel()
	if _, err := decodeVectorLiteral(""); err == nil {
		t.Fatalf("expected error for empty literal")
	}
	if _, err := decodeVectorLiteral("[1,banana]"); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
}

func TestTableFor(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"policy_docs":     "policy_items",
		"thesis_segments": "thesis_segments",
	}
	for collection, want := range cases {
		got, err := tableFor(collection)
		if err != nil {
			t.Fatalf("%s: %v", collection, err)
		}
		if got != want {
			t.Fatalf("%s -> %s, want %s", collection, got, want)
		}
	}
	if _, err := tableFor("secrets"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}
