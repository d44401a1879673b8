package cyxhash

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStability(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	require.Equal(t, Hash(data), Hash(data))
}

func TestHashMatchesParallelForLargeInput(t *testing.T) {
	data := make([]byte, 9*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	require.Equal(t, HashParallel(data), Hash(data))
}

func TestContentAddressing(t *testing.T) {
	a := []byte("alpha")
	b := []byte("beta")

	require.True(t, Hash(a).Equal(Hash(bytes.Clone(a))))
	require.False(t, Hash(a).Equal(Hash(b)))
}

func TestURIRoundTrip(t *testing.T) {
	id := Hash([]byte("round trip me"))
	uri := id.URI()
	require.Contains(t, uri, URIScheme)

	parsed, err := ParseURI(uri)
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestHexRoundTrip(t *testing.T) {
	id := Hash([]byte("hex me"))
	parsed, err := ParseHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseURIRejectsMissingScheme(t *testing.T) {
	_, err := ParseURI("not-a-uri")
	require.Error(t, err)
}

func TestParseHexRejectsWrongLength(t *testing.T) {
	_, err := ParseHex("deadbeef")
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	data := []byte("verify me")
	id := Hash(data)
	require.True(t, Verify(id, data))
	require.False(t, Verify(id, []byte("tampered")))
}
