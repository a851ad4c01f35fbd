package security

import (
	"context"
	"strings"
	"testing"
)

func TestAppKeyCipher_SealOpenRoundTrip(t *testing.T) {
	c, err := NewAppKeyCipherFromString("relay-app-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	ctx := context.Background()

	stored, err := c.Seal(ctx, "whsec-bot-1")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(stored) || strings.Contains(stored, "whsec-bot-1") {
		t.Fatalf("expected sealed value without plaintext, got %q", stored)
	}
	again, _ := c.Seal(ctx, "whsec-bot-1")
	if again == stored {
		t.Fatalf("expected a fresh nonce per seal")
	}

	plain, err := c.Open(ctx, stored)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "whsec-bot-1" {
		t.Fatalf("expected round trip, got %q", plain)
	}
}

func TestAppKeyCipher_PassesThroughEmptyAndLegacyValues(t *testing.T) {
	c, _ := NewAppKeyCipherFromString("relay-app-key")
	ctx := context.Background()

	if out, err := c.Seal(ctx, ""); err != nil || out != "" {
		t.Fatalf("expected empty secret to stay empty, got %q/%v", out, err)
	}
	if out, err := c.Open(ctx, "legacy-plaintext"); err != nil || out != "legacy-plaintext" {
		t.Fatalf("expected legacy value passthrough, got %q/%v", out, err)
	}
	stored, _ := c.Seal(ctx, "s")
	if twice, _ := c.Seal(ctx, stored); twice != stored {
		t.Fatalf("expected sealed value not to be sealed twice")
	}
}

func TestAppKeyCipher_RejectsForeignKeys(t *testing.T) {
	ctx := context.Background()
	first, _ := NewAppKeyCipherFromString("key-one")
	stored, err := first.Seal(ctx, "secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	other, _ := NewAppKeyCipherFromString("key-two")
	if _, err := other.Open(ctx, stored); err == nil {
		t.Fatalf("expected different key material to fail")
	}
	rotated, _ := NewAppKeyCipherFromString("key-one", WithKeyID("app-key"), WithVersion(2))
	if _, err := rotated.Open(ctx, stored); err == nil || !strings.Contains(err.Error(), "v1") {
		t.Fatalf("expected version mismatch error, got %v", err)
	}
	if _, err := first.Open(ctx, sealedPrefix+"{not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewAppKeyCipher_RequiresKey(t *testing.T) {
	if _, err := NewAppKeyCipher([]byte("   ")); err == nil {
		t.Fatalf("expected key material required")
	}
	var nilCipher *AppKeyCipher
	if _, err := nilCipher.Seal(context.Background(), "x"); err == nil {
		t.Fatalf("expected nil cipher error")
	}
}
