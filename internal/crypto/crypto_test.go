package crypto

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestDeriveLocalKeyDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0xab}, 32)

	k1, err := DeriveLocalKey(master, "default", 1)
	if err != nil {
		t.Fatalf("DeriveLocalKey: %v", err)
	}
	k2, err := DeriveLocalKey(master, "default", 1)
	if err != nil {
		t.Fatalf("DeriveLocalKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("same inputs must derive the same key")
	}
	if len(k1) != KeySize {
		t.Fatalf("key size = %d, want %d", len(k1), KeySize)
	}
}

func TestDeriveLocalKeyRejectsShortMaster(t *testing.T) {
	if _, err := DeriveLocalKey([]byte("short"), "default", 1); err == nil {
		t.Fatal("expected error for short master key")
	}
}

func TestDeriveLocalKeyDomainSeparation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		master := rapid.SliceOfN(rapid.Byte(), 32, 64).Draw(rt, "master")
		profileA := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "profileA")
		profileB := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "profileB")
		version := rapid.IntRange(1, 5).Draw(rt, "version")

		kA, err := DeriveLocalKey(master, profileA, version)
		if err != nil {
			rt.Fatalf("DeriveLocalKey: %v", err)
		}
		kB, err := DeriveLocalKey(master, profileB, version)
		if err != nil {
			rt.Fatalf("DeriveLocalKey: %v", err)
		}
		if profileA != profileB && bytes.Equal(kA, kB) {
			rt.Fatal("distinct profiles must derive distinct keys")
		}
		if profileA == profileB && !bytes.Equal(kA, kB) {
			rt.Fatal("equal profiles must derive equal keys")
		}

		kNext, err := DeriveLocalKey(master, profileA, version+1)
		if err != nil {
			rt.Fatalf("DeriveLocalKey: %v", err)
		}
		if bytes.Equal(kA, kNext) {
			rt.Fatal("rotating the version must change the key")
		}
	})
}
