package emailhash_test

import (
	"strings"
	"testing"

	"github.com/dalemusser/climatrak/internal/app/system/emailhash"
)

var testKey = []byte("test-email-hash-key-0123456789ab")

func TestHash_NormalizesCaseAndWhitespace(t *testing.T) {
	h := emailhash.MustNew(testKey)

	a := h.Hash("Foo@X.com ")
	b := h.Hash("foo@x.com")
	if a != b {
		t.Errorf("expected equal hashes, got %q and %q", a, b)
	}
}

func TestHash_Deterministic(t *testing.T) {
	h := emailhash.MustNew(testKey)
	if h.Hash("u1@x.com") != h.Hash("u1@x.com") {
		t.Error("hash not deterministic")
	}
}

func TestHash_DistinctEmails(t *testing.T) {
	h := emailhash.MustNew(testKey)
	if h.Hash("u1@x.com") == h.Hash("u2@x.com") {
		t.Error("distinct emails produced the same hash")
	}
}

func TestHash_KeyChangesDigest(t *testing.T) {
	a := emailhash.MustNew(testKey).Hash("u1@x.com")
	b := emailhash.MustNew([]byte("another-key-for-email-hashing-00")).Hash("u1@x.com")
	if a == b {
		t.Error("different keys produced the same hash")
	}
}

func TestHash_DoesNotContainPlaintext(t *testing.T) {
	h := emailhash.MustNew(testKey)
	got := h.Hash("someone@example.com")
	if strings.Contains(got, "someone") || strings.Contains(got, "example") {
		t.Errorf("hash contains plaintext: %q", got)
	}
	if len(got) != 64 {
		t.Errorf("hash length: got %d, want 64", len(got))
	}
}

func TestHash_EmptyInput(t *testing.T) {
	h := emailhash.MustNew(testKey)
	if h.Hash("") != h.Hash("   ") {
		t.Error("empty and whitespace-only inputs should normalize to the same hash")
	}
}

func TestNew_RejectsShortKey(t *testing.T) {
	if _, err := emailhash.New([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestHashUsername_SeparatedFromEmail(t *testing.T) {
	h := emailhash.MustNew(testKey)

	if h.HashUsername("bob") == h.Hash("bob") {
		t.Error("username digest equals email digest for the same input")
	}
	if h.HashUsername("Bob") != h.HashUsername("bob") {
		t.Error("username digest should ignore case")
	}
	if h.HashUsername("bob") == h.HashUsername("alice") {
		t.Error("distinct usernames collide")
	}
}
