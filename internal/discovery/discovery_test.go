package discovery

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

func TestExpandURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"https://search.test/images?q=black+hole&tbm=isch",
		ExpandURL("https://search.test/images?q={term}&tbm=isch", "black hole"))
	assert.Equal(t,
		"https://search.test/a%2Fb",
		ExpandURL("https://search.test/{term}", "a/b"))
	assert.Equal(t,
		"https://search.test/images?page=2&q=sun",
		ExpandURL("https://search.test/images?page=2", "sun"))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://host.test/results/page.html")
	require.NoError(t, err)

	assert.Equal(t, "https://host.test/results/img/a.jpg", Resolve(base, "img/a.jpg"))
	assert.Equal(t, "https://host.test/b.jpg", Resolve(base, "/b.jpg"))
	assert.Equal(t, "https://cdn.test/c.jpg", Resolve(base, " https://cdn.test/c.jpg "))
	assert.Equal(t, "", Resolve(base, "   "))
	assert.Equal(t, "d.jpg", Resolve(nil, "d.jpg"))
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	in := []string{"a", "", "b", "a", "c", "b", "d"}
	assert.Equal(t, []string{"a", "b", "c", "d"}, Dedupe(in, 0))
	assert.Equal(t, []string{"a", "b"}, Dedupe(in, 2))
	assert.Empty(t, Dedupe(nil, 0))
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	gen := &sequentialIDs{}
	var got []harvest.Candidate
	for c := range Candidates([]string{"u1", "u2", "u3"}, gen) {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, harvest.Candidate{SourceURL: "u1", ProposedID: "id-1"}, got[0])
	assert.Equal(t, "id-3", got[2].ProposedID)

	for c := range Candidates([]string{"u1", "u2"}, gen) {
		assert.Equal(t, "id-4", c.ProposedID)
		break
	}
	assert.Equal(t, 4, gen.n)

	for c := range Candidates([]string{"u1"}, failingIDs{}) {
		assert.Empty(t, c.ProposedID)
	}
}

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("no entropy") }
