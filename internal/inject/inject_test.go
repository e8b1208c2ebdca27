package inject

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/page/pagetest"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInjector() *Injector {
	return &Injector{Tuning: tuning.Default(), Sleep: poll.NoSleep, Timeout: time.Minute}
}

func count(calls []string, op string) int {
	return lo.Count(calls, op)
}

func TestRunUploadsAndSaves(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	header := p.AddFile("header.twig", "<header></header>")
	index := p.AddFile("index.html", "<html></html>")

	res, err := newInjector().Run(context.Background(), p, map[string]string{
		"/index.html": "<html>new</html>\r\n",
		"header.twig": "<header>{{ store.name }}</header>",
		"notes.txt":   "ignored",
	})
	require.NoError(t, err)

	assert.True(t, res.IsSupportedPage)
	assert.Equal(t, 2, res.TotalRequested)
	assert.Equal(t, 2, res.MatchedCount)
	assert.Equal(t, 2, res.UploadedCount)
	assert.Equal(t, []UploadedFile{
		{File: "header.twig", WriteMethod: "monaco", SaveMethod: SaveShortcut},
		{File: "index.html", WriteMethod: "monaco", SaveMethod: SaveShortcut},
	}, res.UploadedFiles)
	assert.Empty(t, res.FailedFiles)

	assert.Equal(t, "<header>{{ store.name }}</header>", header.Content)
	assert.Equal(t, "<html>new</html>\n", index.Content)
	assert.False(t, header.Dirty)
	assert.False(t, index.Dirty)
	assert.Equal(t, []string{"header.twig", "index.html"}, p.Saves)

	assert.Equal(t, 1, p.GuardInstall)
	assert.Equal(t, 1, p.GuardRestore)
	assert.False(t, p.GuardActive())
}

func TestRunRetriesBlockedPrompt(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	// Without a dirty marker the orchestrator cannot tell that index.html
	// needs saving until the page asks to confirm the switch.
	p.DirtyMarker = false
	p.PromptOnDirtySwitch = true
	p.AddFile("header.twig", "<header></header>")
	p.AddFile("index.html", "<html></html>").Dirty = true
	p.Open("index.html")

	res, err := newInjector().Run(context.Background(), p, map[string]string{"header.twig": "{{ h }}"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.UploadedCount)
	assert.GreaterOrEqual(t, res.BlockedSwitchPrompts, 1)
	assert.Equal(t, []string{"index.html", "header.twig"}, p.Saves)
	assert.Equal(t, "header.twig", p.Active())
}

func TestRunSavesDirtyFileBeforeSwitching(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.PromptOnDirtySwitch = true
	p.AddFile("header.twig", "<header></header>")
	p.AddFile("index.html", "<html></html>").Dirty = true
	p.Open("index.html")

	res, err := newInjector().Run(context.Background(), p, map[string]string{"header.twig": "{{ h }}"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.UploadedCount)
	assert.Zero(t, res.BlockedSwitchPrompts)
	assert.Equal(t, []string{"index.html", "header.twig"}, p.Saves)
}

func TestRunStillBlockedAfterSave(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.DirtyMarker = false
	p.PromptOnDirtySwitch = true
	p.SaveOnShortcut = false
	p.AddFile("header.twig", "<header></header>")
	p.AddFile("index.html", "<html></html>").Dirty = true
	p.Open("index.html")

	res, err := newInjector().Run(context.Background(), p, map[string]string{"header.twig": "{{ h }}"})
	require.NoError(t, err)

	require.Len(t, res.FailedFiles, 1)
	assert.Equal(t, "Switch to header.twig still blocked by unsaved changes after save retry.", res.FailedFiles[0].Reason)
	assert.Equal(t, 2, res.BlockedSwitchPrompts)
	assert.Equal(t, 1, res.MatchedCount)
	assert.Equal(t, "index.html", p.Active())
}

func TestRunResolutionFailures(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("a/package.html", "<p>a</p>")
	p.AddFile("b/package.html", "<p>b</p>")

	res, err := newInjector().Run(context.Background(), p, map[string]string{
		"package.html":   "<p>x</p>",
		"c/package.html": "<p>x</p>",
		"missing.css":    "a{}",
	})
	require.NoError(t, err)

	assert.Zero(t, res.MatchedCount)
	assert.Zero(t, res.UploadedCount)
	reasons := lo.SliceToMap(res.FailedFiles, func(f FailedFile) (string, string) { return f.File, f.Reason })
	assert.Equal(t, "Ambiguous filename for c/package.html. Multiple directories contain package.html.", reasons["c/package.html"])
	assert.Equal(t, "No matching file entry found for missing.css.", reasons["missing.css"])
	assert.Equal(t, "Ambiguous path match for package.html. Multiple directories matched.", reasons["package.html"])
	assert.Equal(t, 6, count(p.Calls, "Scan"), "every unresolved file is looked up twice")
	assert.Zero(t, count(p.Calls, "Click"))
}

func TestRunSaveOutcomes(t *testing.T) {
	t.Run("persistently dirty", func(t *testing.T) {
		p := pagetest.New("webstore.tebex.io")
		p.SaveOnShortcut = false
		p.AddFile("index.html", "<html></html>")

		res, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
		require.NoError(t, err)
		require.Len(t, res.FailedFiles, 1)
		assert.Equal(t, "Save did not clear dirty state for index.html.", res.FailedFiles[0].Reason)
		assert.Equal(t, 2*tuning.Default().SaveAttempts, count(p.Calls, "DispatchShortcut"))
	})

	t.Run("idle controls without dirty marker", func(t *testing.T) {
		p := pagetest.New("webstore.tebex.io")
		p.HideActive = true
		p.SaveOnShortcut = false
		p.SaveButton = true
		p.SaveButtonWorks = true
		p.DisableIdleSave = true
		f := p.AddFile("index.html", "<html></html>")

		res, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
		require.NoError(t, err)
		require.Len(t, res.UploadedFiles, 1)
		assert.Equal(t, SaveButton, res.UploadedFiles[0].SaveMethod)
		assert.False(t, f.Dirty)
		assert.Equal(t, tuning.Default().SaveIdleAttempt+1, count(p.Calls, "Activate"))
	})

	t.Run("unknown state exhausts attempts", func(t *testing.T) {
		p := pagetest.New("webstore.tebex.io")
		p.HideActive = true
		p.AddFile("index.html", "<html></html>")

		res, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
		require.NoError(t, err)
		require.Len(t, res.UploadedFiles, 1)
		assert.Equal(t, SaveShortcutRetry, res.UploadedFiles[0].SaveMethod)
		assert.Equal(t, 2*tuning.Default().SaveAttempts, count(p.Calls, "DispatchShortcut"))
	})
}

func TestRunSwitchNotConfirmed(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")
	p.Open("index.html")
	inert := page.Node{Tag: "li", Attrs: map[string]string{"role": "treeitem", "data-path": "cms/page.html"}, Text: "page.html", Visible: true}
	p.AddElement(pagetest.Element{Node: inert})

	res, err := newInjector().Run(context.Background(), p, map[string]string{"cms/page.html": "<p>x</p>"})
	require.NoError(t, err)
	require.Len(t, res.FailedFiles, 1)
	assert.Equal(t, reasonNotConfirmed, res.FailedFiles[0].Reason)
	assert.Equal(t, "<html></html>", p.File("index.html").Content, "nothing is written into the wrong file")
}

func TestRunNoWritableEditor(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.Widget = ""
	p.AddFile("index.html", "<html></html>")

	res, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
	require.NoError(t, err)
	require.Len(t, res.FailedFiles, 1)
	assert.Equal(t, reasonNoWriter, res.FailedFiles[0].Reason)
}

func TestRunUnsupportedHost(t *testing.T) {
	p := pagetest.New("example.com")
	res, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
	require.NoError(t, err)
	assert.False(t, res.IsSupportedPage)
	assert.Equal(t, tuning.UnsupportedPageMessage, res.ErrorMessage)
	assert.Zero(t, p.GuardInstall)
}

func TestRunRestoresGuardOnError(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("index.html", "<html></html>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newInjector().Run(ctx, p, map[string]string{"index.html": "<p>x</p>"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.GuardInstall)
	assert.Equal(t, 1, p.GuardRestore)
	assert.False(t, p.GuardActive())
}

func TestRunGuardInstallFailure(t *testing.T) {
	p := pagetest.New("webstore.tebex.io")
	p.Errors = map[string]error{"InstallConfirmGuard": errors.New("confirm is read-only")}

	_, err := newInjector().Run(context.Background(), p, map[string]string{"index.html": "<p>x</p>"})
	assert.Error(t, err)
	assert.Zero(t, p.GuardRestore)
}

func TestRankSaveControls(t *testing.T) {
	controls := []page.Node{
		{ID: 1, Tag: "a", Text: "Save draft", Visible: true},
		{ID: 2, Tag: "button", Text: "Save", Disabled: true, Visible: true},
		{ID: 3, Tag: "button", Attrs: map[string]string{"type": "submit"}, Text: "Save and publish", Visible: true},
		{ID: 4, Tag: "button", Text: "Save", Visible: true},
	}
	ranked := RankSaveControls(controls, tuning.Default().SaveControlScore, 3)
	ids := lo.Map(ranked, func(n page.Node, _ int) page.NodeID { return n.ID })
	assert.Equal(t, []page.NodeID{3, 4, 1}, ids)
}

func TestInjectTab(t *testing.T) {
	t.Run("falls back to the frame that uploads", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		inner := pagetest.New("webstore.tebex.io")
		f := inner.AddFile("index.html", "<html></html>")

		res, err := newInjector().InjectTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top, inner}}, map[string]string{"index.html": "<p>x</p>"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.UploadedCount)
		assert.Equal(t, "<p>x</p>", f.Content)
	})

	t.Run("keeps top result when nothing uploads", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		other := pagetest.New("example.com")

		res, err := newInjector().InjectTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top, other}}, map[string]string{"index.html": "<p>x</p>"})
		require.NoError(t, err)
		assert.True(t, res.IsSupportedPage)
		assert.Zero(t, res.UploadedCount)
		require.Len(t, res.FailedFiles, 1)
	})

	t.Run("script error", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		top.Errors = map[string]error{"Location": errors.New("frame detached")}

		res, err := newInjector().InjectTab(context.Background(), &pagetest.FakeTab{Pages: []page.Page{top}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Upload script error: failed to read page location: frame detached", res.ErrorMessage)
	})

	t.Run("timeout", func(t *testing.T) {
		top := pagetest.New("webstore.tebex.io")
		top.AddFile("index.html", "<html></html>")
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, err := newInjector().InjectTab(ctx, &pagetest.FakeTab{Pages: []page.Page{top}}, map[string]string{"index.html": "<p>x</p>"})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, top.GuardActive())
	})
}
