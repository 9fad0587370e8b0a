package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "secret123", hash)
}

func TestCheckPassword_Correct(t *testing.T) {
	hash, err := HashPassword("mypassword")
	assert.NoError(t, err)
	assert.True(t, CheckPassword("mypassword", hash))
}

func TestCheckPassword_Wrong(t *testing.T) {
	hash, err := HashPassword("mypassword")
	assert.NoError(t, err)
	assert.False(t, CheckPassword("wrongpassword", hash))
}

// Property: HashPassword always produces a hash that CheckPassword verifies.
func TestPropertyHashAndCheck(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// bcrypt has a max input length of 72 bytes
		password := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "password")
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if !CheckPassword(password, hash) {
			t.Fatalf("CheckPassword failed for password %q", password)
		}
	})
}

// TestValidStatus verifies the three presence values and rejects unknowns.
func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusOnline))
	assert.True(t, ValidStatus(StatusAway))
	assert.True(t, ValidStatus(StatusOffline))
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("online"))
	assert.False(t, ValidStatus("BUSY"))
}

// Property: ValidStatus accepts exactly the three defined values.
func TestPropertyValidStatus(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.StringMatching(`[A-Z]{1,10}`).Draw(t, "status")
		got := ValidStatus(status)
		want := status == StatusOnline || status == StatusAway || status == StatusOffline
		if got != want {
			t.Fatalf("ValidStatus(%q) = %v, want %v", status, got, want)
		}
	})
}

// Property: Wrong password never validates.
func TestPropertyWrongPasswordNeverValidates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		correct := rapid.StringMatching(`[a-zA-Z0-9]{6,30}`).Draw(t, "correct")
		wrong := rapid.StringMatching(`[a-zA-Z0-9]{6,30}`).Draw(t, "wrong")

		if correct == wrong {
			return // skip trivial case
		}

		hash, err := HashPassword(correct)
		assert.NoError(t, err)
		assert.False(t, CheckPassword(wrong, hash),
			"wrong password %q should not match hash of %q", wrong, correct)
	})
}
