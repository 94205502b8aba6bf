package integrity

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizePlaceholders(t *testing.T) {
	got := Canonicalize(Fields{
		StationID:   "CP1",
		ConnectorID: null.IntFrom(1),
		IDTag:       null.StringFrom("TAG1"),
		Timestamp:   null.StringFrom("2024-01-01T00:00:00Z"),
	})
	assert.Equal(t, "CP1|1|TAG1|-|2024-01-01T00:00:00Z|-|-", got)
}

func TestCanonicalizeIgnoresPairOrder(t *testing.T) {
	a := Fields{StationID: "CP1", Values: map[string]string{}}
	a.Values["a"] = "1"
	a.Values["b"] = "2"

	b := Fields{StationID: "CP1", Values: map[string]string{}}
	b.Values["b"] = "2"
	b.Values["a"] = "1"

	assert.Equal(t, Canonicalize(a), Canonicalize(b))
	assert.Equal(t, "CP1|-|-|-|-|-|a=1;b=2", Canonicalize(a))
	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashMatchesOperatorClientFormat(t *testing.T) {
	f := Fields{
		StationID:   "CP1",
		ConnectorID: null.IntFrom(2),
		IDTag:       null.StringFrom("TAG"),
		Timestamp:   null.StringFrom("2024-05-01T10:00:00Z"),
	}
	sum := sha256.Sum256([]byte("CP1|2|TAG|-|2024-05-01T10:00:00Z|-|-"))
	assert.Equal(t, fmt.Sprintf("%x", sum), Hash(f))
}

type countingRecorder struct{ n int }

func (c *countingRecorder) IntegrityMismatch(string) { c.n++ }

func TestAuthenticatorModes(t *testing.T) {
	f := Fields{StationID: "CP1", ConnectorID: null.IntFrom(1)}
	good := Hash(f)

	t.Run("off ignores everything", func(t *testing.T) {
		a := NewAuthenticator(ModeOff, nil, nil)
		assert.NoError(t, a.Check(f, "bogus"))
	})

	t.Run("log proceeds on mismatch", func(t *testing.T) {
		rec := &countingRecorder{}
		a := NewAuthenticator(ModeLog, rec, nil)
		assert.NoError(t, a.Check(f, good))
		assert.NoError(t, a.Check(f, ""))
		assert.NoError(t, a.Check(f, "bogus"))
		assert.Equal(t, 1, rec.n)
	})

	t.Run("enforce rejects", func(t *testing.T) {
		rec := &countingRecorder{}
		a := NewAuthenticator(ModeEnforce, rec, nil)
		assert.NoError(t, a.Check(f, good))
		assert.NoError(t, a.Check(f, " "+fmt.Sprintf("%X", sha256.Sum256([]byte(Canonicalize(f))))+" "))
		assert.ErrorIs(t, a.Check(f, ""), ErrHashMissing)
		assert.ErrorIs(t, a.Check(f, "bogus"), ErrHashMismatch)
		assert.Equal(t, 1, rec.n)
	})
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeLog, m)

	m, err = ParseMode(" Enforce ")
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, m)

	_, err = ParseMode("strict")
	assert.Error(t, err)
}
