package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/page/pagetest"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractor() *Extractor {
	return &Extractor{Tuning: tuning.Default(), Sleep: poll.NoSleep}
}

func TestRunExtractsThroughMonaco(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("header.twig", "<header>{{ store.name }}</header>")
	p.AddFile("index.html", "<html></html>\r\n")

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)

	assert.True(t, res.IsSupportedPage)
	assert.Equal(t, "https://webstore.tebex.io/templates", res.PageURL)
	assert.Equal(t, map[string]string{
		"header.twig": "<header>{{ store.name }}</header>",
		"index.html":  "<html></html>\n",
	}, res.Files)
	assert.Equal(t, "monaco-editor", res.Sources["header.twig"])
	assert.Equal(t, 2, res.DetectedFileCount)
	assert.Equal(t, 2, res.ExtractedFileCount)
	assert.Empty(t, res.MissingFiles)
	assert.Empty(t, res.Errors)
}

func TestRunRecordsMissingTargets(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")

	res, err := newExtractor().Run(context.Background(), p, []string{"/styles.css", "checkout.html", "notes.txt"})
	require.NoError(t, err)

	assert.Equal(t, []string{"checkout.html", "styles.css"}, res.MissingFiles)
	assert.Equal(t, reasonNoNode, res.Errors["styles.css"])
	assert.Equal(t, reasonNoNode, res.Errors["checkout.html"])
	assert.Equal(t, 3, res.DetectedFileCount)
	assert.Equal(t, 1, res.ExtractedFileCount)
}

func TestRunWaitsForStaleEditor(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.ReadLag = 2
	p.AddFile("header.twig", "<header></header>")
	p.AddFile("index.html", "<main></main>")

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, "<header></header>", res.Files["header.twig"])
	assert.Equal(t, "<main></main>", res.Files["index.html"], "content shown for the previous file is not accepted")
}

func TestRunRescuesActiveFile(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	// The editor stays blank for every poll of the schedule.
	p.ReadLag = tuning.Default().ExtractPoll.Attempts
	p.AddFile("index.html", "<main></main>")

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, "<main></main>", res.Files["index.html"])
	assert.NotContains(t, res.Errors, "index.html")
	assert.Empty(t, res.MissingFiles)
}

func TestRunNoContent(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.Widget = ""
	p.AddFile("main.js", "const a = 1;")

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, reasonNoContent, res.Errors["main.js"])
	assert.Equal(t, []string{"main.js"}, res.MissingFiles)
}

func TestRunUsesMonacoModelNames(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")
	p.ExtraSurfaces = map[page.Kind][]page.Instance{
		page.KindMonacoModel: {{ID: 7000, Value: "{{ x }}", Names: []string{"inmemory://model/partials/extra.twig"}}},
	}

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DetectedFileCount)
	assert.Equal(t, reasonNoNode, res.Errors["model/partials/extra.twig"])
	assert.Equal(t, []string{"model/partials/extra.twig"}, res.MissingFiles)
}

func TestRunNestedDefaultFindsFlatNode(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("tiered.html", "<div>{{ tier.name }}</div>")

	res, err := newExtractor().Run(context.Background(), p, []string{"category/tiered.html"})
	require.NoError(t, err)
	assert.Equal(t, "<div>{{ tier.name }}</div>", res.Files["category/tiered.html"])
	assert.Equal(t, "<div>{{ tier.name }}</div>", res.Files["tiered.html"])
	assert.Empty(t, res.MissingFiles)
}

func TestRunUnsupportedHost(t *testing.T) {
	p := pagetest.New("example.com")
	p.AddFile("index.html", "<html></html>")

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.False(t, res.IsSupportedPage)
	assert.Equal(t, tuning.UnsupportedPageMessage, res.ErrorMessage)
	assert.Equal(t, []string{"Location"}, p.Calls)
}

func TestRunBridgeErrorBecomesReason(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")
	p.Errors = map[string]error{"Click": errors.New("element detached")}

	res, err := newExtractor().Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, "element detached", res.Errors["index.html"])
}

func TestRunCanceled(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Extractor{Tuning: tuning.Default(), Sleep: poll.NoSleep}).Run(ctx, p, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractTab(t *testing.T) {
	t.Run("top frame with files wins", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		top.AddFile("index.html", "<html></html>")
		inner := pagetest.New("webstore.tebex.io")
		inner.AddFile("index.html", "<html><body>longer</body></html>")

		res, err := newExtractor().ExtractTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top, inner}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", res.Files["index.html"])
		assert.Empty(t, inner.Calls)
	})

	t.Run("unsupported top frame short-circuits", func(t *testing.T) {
		top := pagetest.New("example.com")
		inner := pagetest.New("webstore.tebex.io")
		inner.AddFile("index.html", "<html></html>")

		res, err := newExtractor().ExtractTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top, inner}}, nil)
		require.NoError(t, err)
		assert.False(t, res.IsSupportedPage)
		assert.Empty(t, inner.Calls)
	})

	t.Run("empty top frame merges all frames", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		short := pagetest.New("webstore.tebex.io")
		short.AddFile("header.twig", "<header></header>")
		short.AddFile("footer.twig", "<footer></footer>")
		long := pagetest.New("webstore.tebex.io")
		long.Widget = page.KindTextarea
		long.AddFile("header.twig", "<header>store</header>")
		other := pagetest.New("example.com")

		tab := &pagetest.FakeTab{Pages: []page.Page{top, short, long, other}}
		res, err := newExtractor().ExtractTab(context.Background(), tab, []string{"main.js"})
		require.NoError(t, err)

		assert.True(t, res.IsSupportedPage)
		assert.Equal(t, "<header>store</header>", res.Files["header.twig"])
		assert.Equal(t, "textarea", res.Sources["header.twig"])
		assert.Equal(t, "<footer></footer>", res.Files["footer.twig"])
		assert.Equal(t, "monaco-editor", res.Sources["footer.twig"])
		assert.Equal(t, []string{"main.js"}, res.MissingFiles)
		assert.Equal(t, reasonNoNode, res.Errors["main.js"])
		assert.Equal(t, 3, res.DetectedFileCount)
		assert.Equal(t, 2, res.ExtractedFileCount)
	})

	t.Run("all frames empty keeps top result", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		other := pagetest.New("example.com")

		res, err := newExtractor().ExtractTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top, other}}, nil)
		require.NoError(t, err)
		assert.True(t, res.IsSupportedPage)
		assert.Empty(t, res.Files)
		assert.Empty(t, res.ErrorMessage)
	})

	t.Run("script error in top frame", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		top.Errors = map[string]error{"Location": errors.New("frame detached")}

		res, err := newExtractor().ExtractTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top}}, nil)
		require.NoError(t, err)
		assert.False(t, res.IsSupportedPage)
		assert.Equal(t, "Extraction script error: failed to read page location: frame detached", res.ErrorMessage)
	})

	t.Run("tab error", func(t *testing.T) {
		_, err := newExtractor().ExtractTab(context.Background(), &pagetest.FakeTab{Err: errors.New("no session")}, nil)
		assert.Error(t, err)
	})
}
