package headless

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)

	_, err = New(Config{SearchURL: "https://search.test/?q={term}", Scrolls: -1}, nil, nil)
	require.Error(t, err)

	d, err := New(Config{SearchURL: "https://search.test/?q={term}"}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	assert.Equal(t, DefaultItemSelector, d.cfg.ItemSelector)
	assert.Equal(t, DefaultItemJSONField, d.cfg.ItemJSONField)
	assert.Equal(t, DefaultItemAttribute, d.cfg.ItemAttribute)
	assert.Equal(t, DefaultWaitTimeout, d.cfg.WaitTimeout)
	assert.Equal(t, DefaultNavigationTimeout, d.cfg.NavigationTimeout)
	assert.Equal(t, DefaultScrollPause, d.cfg.ScrollPause)
	assert.Equal(t, "body", d.waitSelector())
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{
		ItemSelector:  "img.result",
		ItemAttribute: "src",
		WaitTimeout:   time.Second,
		SettleDelay:   -time.Second,
	})
	assert.Equal(t, "img.result", cfg.ItemSelector)
	assert.Equal(t, "src", cfg.ItemAttribute)
	assert.Empty(t, cfg.ItemJSONField)
	assert.Equal(t, time.Second, cfg.WaitTimeout)
	assert.Zero(t, cfg.SettleDelay)
}

func TestExtractScriptQuotesArguments(t *testing.T) {
	t.Parallel()

	script := ExtractScript(`div[class="rg_meta notranslate"]`, "data-src")
	assert.Contains(t, script, `document.querySelectorAll("div[class=\"rg_meta notranslate\"]")`)
	assert.Contains(t, script, `var attr = "data-src";`)
}

func TestParseItemsWithJSONField(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://search.test/images")
	require.NoError(t, err)

	values := []string{
		`{"ou":"https://img.test/a.jpg","ow":640}`,
		`{"ou":"/relative.png"}`,
		`not json`,
		`{"tu":"https://thumb.test/x"}`,
		`{"ou":42}`,
	}
	got := ParseItems(values, "ou", base, nil)
	assert.Equal(t, []string{"https://img.test/a.jpg", "https://search.test/relative.png"}, got)
}

func TestParseItemsPlainAttributes(t *testing.T) {
	t.Parallel()

	got := ParseItems([]string{"https://img.test/a.jpg", "", "  "}, "", nil, zap.NewNop())
	assert.Equal(t, []string{"https://img.test/a.jpg"}, got)
}

func TestDiscoverCanceledContextFailsTerm(t *testing.T) {
	t.Parallel()

	d, err := New(Config{SearchURL: "http://127.0.0.1:0/?q={term}"}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq, err := d.Discover(ctx, "sun")
	require.Error(t, err)
	assert.Nil(t, seq)
	assert.ErrorIs(t, err, context.Canceled)
}
