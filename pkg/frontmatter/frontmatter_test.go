package frontmatter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseRenderRoundTrip(t *testing.T) {
	n := Note{
		Header: Header{
			UUID:      uuid.New(),
			Modified:  42,
			ShareWith: []string{"bob"},
		},
		Body: "# Title\n\nSome text.\n",
	}

	raw, err := Render(n)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, n.Header.UUID, parsed.Header.UUID)
	require.Equal(t, n.Header.Modified, parsed.Header.Modified)
	require.Equal(t, n.Header.ShareWith, parsed.Header.ShareWith)
	require.Equal(t, n.Body, parsed.Body)
}

func TestParseRejectsMissingOpeningDelimiter(t *testing.T) {
	_, err := Parse([]byte("uuid: abc\n---\nbody"))
	require.ErrorIs(t, err, ErrMalformedFrontmatter)
}

func TestParseRejectsUnclosedHeader(t *testing.T) {
	_, err := Parse([]byte("---\nuuid: abc\nbody"))
	require.ErrorIs(t, err, ErrMalformedFrontmatter)
}

func TestNewHeaderProducesRandomUUID(t *testing.T) {
	a := NewHeader()
	b := NewHeader()

	require.NotEqual(t, a.UUID, b.UUID)
}

func TestTouchAdvancesModified(t *testing.T) {
	h := Header{Modified: 5}
	touched := Touch(h)

	require.Greater(t, touched.Modified, h.Modified)
}
