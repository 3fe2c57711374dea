package fingerprint_test

import (
	"testing"

	"typstd/internal/fingerprint"
)

func TestOfMatchesOfString(t *testing.T) {
	if fingerprint.Of([]byte("= Heading")) != fingerprint.OfString("= Heading") {
		t.Fatal("byte and string fingerprints differ for identical content")
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := fingerprint.OfString("#let x = 1")
	b := fingerprint.OfString("#let y = 2")
	c := fingerprint.OfString("<intro>")

	first := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"a.typ": a, "b.typ": b, "c.typ": c,
	})
	second := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"c.typ": c, "a.typ": a, "b.typ": b,
	})
	if first != second {
		t.Errorf("aggregate depends on member order: %s != %s", first, second)
	}
}

func TestAggregateSensitiveToIdentity(t *testing.T) {
	a := fingerprint.OfString("#let x = 1")
	b := fingerprint.OfString("#let y = 2")

	swapped := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"a.typ": b, "b.typ": a,
	})
	straight := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"a.typ": a, "b.typ": b,
	})
	if swapped == straight {
		t.Error("swapping contents between files did not change the aggregate")
	}
}

func TestAggregateSensitiveToContent(t *testing.T) {
	before := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"a.typ": fingerprint.OfString("@foo"),
	})
	after := fingerprint.Aggregate(map[string]fingerprint.Fingerprint{
		"a.typ": fingerprint.OfString("@bar"),
	})
	if before == after {
		t.Error("content change did not change the aggregate")
	}
}
