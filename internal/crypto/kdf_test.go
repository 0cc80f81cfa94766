package crypto

import (
	"bytes"
	"testing"
)

var testParams = Params{Time: 1, MemoryKiB: 64, Threads: 1}

func newTestDeriver(t *testing.T) *KeyDeriver {
	t.Helper()
	d, err := NewKeyDeriver(testParams)
	if err != nil {
		t.Fatalf("NewKeyDeriver: %v", err)
	}
	return d
}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestGenerateSalt(t *testing.T) {
	t.Parallel()

	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	s2, _ := GenerateSalt()
	if len(s1) != SaltLen || len(s2) != SaltLen {
		t.Fatalf("salt lengths %d/%d, want %d", len(s1), len(s2), SaltLen)
	}
	if bytes.Equal(s1, s2) {
		t.Fatalf("salts must be random")
	}
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []Params{
		{Time: 0, MemoryKiB: 64, Threads: 1},
		{Time: 1, MemoryKiB: 64, Threads: 0},
		{Time: 1, MemoryKiB: 8, Threads: 4},
	}
	for _, p := range bad {
		if _, err := NewKeyDeriver(p); err == nil {
			t.Fatalf("NewKeyDeriver(%+v): want error", p)
		}
	}
}

func TestDerive_DeterministicAndIndependent(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	authSalt, _ := GenerateSalt()
	keySalt, _ := GenerateSalt()
	pw := "test_password_123"

	a1, m1 := d.Derive(pw, authSalt, keySalt)
	a2, m2 := d.Derive(pw, authSalt, keySalt)

	if len(a1) != SecretLen || len(m1) != SecretLen {
		t.Fatalf("secret lengths %d/%d", len(a1), len(m1))
	}
	if !bytes.Equal(a1, a2) || !bytes.Equal(m1, m2) {
		t.Fatalf("Derive not deterministic")
	}
	if bytes.Equal(a1, m1) {
		t.Fatalf("auth secret must differ from master secret")
	}

	a3, m3 := d.Derive("other", authSalt, keySalt)
	if bytes.Equal(a1, a3) || bytes.Equal(m1, m3) {
		t.Fatalf("Derive must change with password")
	}
}

func TestDerive_SwappedSaltsSwapSecrets(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	s1 := bytes.Repeat([]byte{1}, SaltLen)
	s2 := bytes.Repeat([]byte{2}, SaltLen)
	a, m := d.Derive("pw", s1, s2)
	a2, m2 := d.Derive("pw", s2, s1)
	if !bytes.Equal(a, m2) || !bytes.Equal(m, a2) {
		t.Fatalf("the same KDF must be applied per salt")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	authSalt, _ := GenerateSalt()
	keySalt, _ := GenerateSalt()
	pw := "correct horse battery staple9"
	auth, master := d.Derive(pw, authSalt, keySalt)

	if !d.Verify(auth, pw, authSalt) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if d.Verify(auth, "wrong-password", authSalt) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if d.Verify(auth, pw, keySalt) {
		t.Fatalf("Verify: expected false for wrong salt")
	}
	if d.Verify(master, pw, authSalt) {
		t.Fatalf("Verify: master secret must never verify as auth secret")
	}
	if d.Verify(nil, pw, authSalt) {
		t.Fatalf("Verify: expected false for empty stored secret")
	}
}

func TestDeriveMaster_MatchesDerive(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	authSalt, _ := GenerateSalt()
	keySalt, _ := GenerateSalt()
	_, master := d.Derive("pw", authSalt, keySalt)
	if !bytes.Equal(master, d.DeriveMaster("pw", keySalt)) {
		t.Fatalf("DeriveMaster must equal the master half of Derive")
	}
}

func TestDeriveAuth_MatchesDerive(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	authSalt, _ := GenerateSalt()
	keySalt, _ := GenerateSalt()
	auth, _ := d.Derive("pw", authSalt, keySalt)
	got := d.DeriveAuth("pw", authSalt)
	if !bytes.Equal(auth, got) {
		t.Fatalf("DeriveAuth must equal the auth half of Derive")
	}
	if !d.Verify(got, "pw", authSalt) {
		t.Fatalf("Verify must accept the output of DeriveAuth")
	}
}
