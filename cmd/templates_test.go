package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/kernel-go-sdk/option"
	"github.com/kernel/tplsync/internal/archive"
	"github.com/kernel/tplsync/internal/config"
	"github.com/kernel/tplsync/internal/inject"
	"github.com/kernel/tplsync/internal/nodeindex"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/page/pagetest"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/store"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outBuf bytes.Buffer

func setupStdoutCapture(t *testing.T) {
	t.Helper()
	outBuf.Reset()
	pterm.SetDefaultOutput(&outBuf)
	pterm.DisableStyling()
	t.Cleanup(func() {
		pterm.SetDefaultOutput(os.Stdout)
		pterm.EnableStyling()
	})
}

// captureStdout redirects os.Stdout for JSON output and returns a reader for it.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(func() {
		os.Stdout = oldStdout
	})
	return func() string {
		w.Close()
		var stdoutBuf bytes.Buffer
		_, _ = io.Copy(&stdoutBuf, r)
		return stdoutBuf.String()
	}
}

type FakeBrowsersService struct {
	GetFunc        func(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (*kernel.BrowserGetResponse, error)
	NewFunc        func(ctx context.Context, body kernel.BrowserNewParams, opts ...option.RequestOption) (*kernel.BrowserNewResponse, error)
	DeleteByIDFunc func(ctx context.Context, id string, opts ...option.RequestOption) error
}

func (f *FakeBrowsersService) Get(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (*kernel.BrowserGetResponse, error) {
	if f.GetFunc != nil {
		return f.GetFunc(ctx, id, query, opts...)
	}
	return &kernel.BrowserGetResponse{SessionID: id}, nil
}

func (f *FakeBrowsersService) New(ctx context.Context, body kernel.BrowserNewParams, opts ...option.RequestOption) (*kernel.BrowserNewResponse, error) {
	if f.NewFunc != nil {
		return f.NewFunc(ctx, body, opts...)
	}
	return &kernel.BrowserNewResponse{SessionID: "new-session"}, nil
}

func (f *FakeBrowsersService) DeleteByID(ctx context.Context, id string, opts ...option.RequestOption) error {
	if f.DeleteByIDFunc != nil {
		return f.DeleteByIDFunc(ctx, id, opts...)
	}
	return nil
}

type FakePlaywrightService struct {
	ExecuteFunc func(ctx context.Context, id string, body kernel.BrowserPlaywrightExecuteParams, opts ...option.RequestOption) (*kernel.BrowserPlaywrightExecuteResponse, error)
	Codes       []string
}

func (f *FakePlaywrightService) Execute(ctx context.Context, id string, body kernel.BrowserPlaywrightExecuteParams, opts ...option.RequestOption) (*kernel.BrowserPlaywrightExecuteResponse, error) {
	f.Codes = append(f.Codes, body.Code)
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, id, body, opts...)
	}
	return &kernel.BrowserPlaywrightExecuteResponse{Success: true}, nil
}

func testConfig() *config.Config {
	return &config.Config{Tuning: tuning.Default(), TimeoutSeconds: 60}
}

func newTestCmd(p *pagetest.FakePage) TemplatesCmd {
	return TemplatesCmd{
		browsers:   &FakeBrowsersService{},
		playwright: &FakePlaywrightService{},
		tabs: func(sessionID string) page.Tab {
			return &pagetest.FakeTab{Pages: []page.Page{p}}
		},
		cfg:   testConfig(),
		sleep: poll.NoSleep,
		now: func() time.Time {
			return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
		},
	}
}

func editorPage() *pagetest.FakePage {
	p := pagetest.New("webstore.tebex.io")
	p.AddFile("layout.html", "<html>{{ content }}</html>")
	p.AddFile("partials/header.html", "<header>{{ store.name }}</header>")
	p.AddFile("styles.css", "body { margin: 0; }")
	return p
}

func readArchive(t *testing.T, path string) (map[string]string, *archive.Report) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	files, report, err := archive.Read(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return files, report
}

func TestExport_WritesArchiveAndDirectory(t *testing.T) {
	setupStdoutCapture(t)
	dir := t.TempDir()
	c := newTestCmd(editorPage())

	err := c.Export(context.Background(), ExportInput{
		BrowserID:  "abc123",
		OutputFile: filepath.Join(dir, "theme.zip"),
		Exclude:    []string{"*.css"},
		Dir:        filepath.Join(dir, "theme"),
	})
	require.NoError(t, err)

	files, report := readArchive(t, filepath.Join(dir, "theme.zip"))
	assert.Equal(t, map[string]string{
		"layout.html":          "<html>{{ content }}</html>",
		"partials/header.html": "<header>{{ store.name }}</header>",
	}, files)
	require.NotNil(t, report)
	assert.Equal(t, archive.FormatVersion, report.FormatVersion)
	assert.Equal(t, 2, report.ExtractedFileCount)
	assert.Equal(t, "https://webstore.tebex.io/templates", report.SourcePage)

	data, err := os.ReadFile(filepath.Join(dir, "theme", "partials", "header.html"))
	require.NoError(t, err)
	assert.Equal(t, "<header>{{ store.name }}</header>", string(data))

	out := outBuf.String()
	assert.Contains(t, out, "partials/header.html")
	assert.Contains(t, out, "Extracted 2 of 2 files")
	assert.NotContains(t, out, "styles.css")
}

func TestExport_DefaultFileNameAndJSON(t *testing.T) {
	setupStdoutCapture(t)
	dir := t.TempDir()
	t.Chdir(dir)
	read := captureStdout(t)

	c := newTestCmd(editorPage())
	err := c.Export(context.Background(), ExportInput{BrowserID: "abc123", Output: "json"})
	require.NoError(t, err)

	var out ExportOutput
	require.NoError(t, json.Unmarshal([]byte(read()), &out))
	assert.Equal(t, filepath.Join(".", "tebex-templates-2026-03-07.zip"), out.Archive)
	assert.Equal(t, []string{"layout.html", "partials/header.html", "styles.css"}, out.Files)
	assert.Equal(t, 3, out.ExtractedFileCount)
	assert.NotContains(t, outBuf.String(), "Extracting templates")

	_, err = os.Stat(filepath.Join(dir, "tebex-templates-2026-03-07.zip"))
	assert.NoError(t, err)
}

func TestExport_Errors(t *testing.T) {
	setupStdoutCapture(t)

	t.Run("unsupported page", func(t *testing.T) {
		c := newTestCmd(pagetest.New("example.com"))
		err := c.Export(context.Background(), ExportInput{BrowserID: "abc123", OutputFile: filepath.Join(t.TempDir(), "a.zip")})
		assert.EqualError(t, err, tuning.UnsupportedPageMessage)
	})

	t.Run("nothing extracted", func(t *testing.T) {
		c := newTestCmd(pagetest.New("webstore.tebex.io"))
		err := c.Export(context.Background(), ExportInput{BrowserID: "abc123", OutputFile: filepath.Join(t.TempDir(), "a.zip")})
		assert.EqualError(t, err, "no template files were extracted")
	})

	t.Run("browser lookup fails", func(t *testing.T) {
		c := newTestCmd(editorPage())
		c.browsers = &FakeBrowsersService{
			GetFunc: func(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (*kernel.BrowserGetResponse, error) {
				return nil, errors.New("connection refused")
			},
		}
		err := c.Export(context.Background(), ExportInput{BrowserID: "abc123"})
		assert.EqualError(t, err, "connection refused")
	})

	t.Run("bad output format", func(t *testing.T) {
		c := newTestCmd(editorPage())
		err := c.Export(context.Background(), ExportInput{BrowserID: "abc123", Output: "yaml"})
		assert.EqualError(t, err, "unsupported --output value: use 'json'")
	})

	t.Run("bad glob", func(t *testing.T) {
		c := newTestCmd(editorPage())
		err := c.Export(context.Background(), ExportInput{BrowserID: "abc123", Include: []string{"[abc"}})
		assert.ErrorContains(t, err, "invalid pattern")
	})
}

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.Write(&buf, files, archive.Report{FormatVersion: archive.FormatVersion}))
	path := filepath.Join(t.TempDir(), "theme.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestImport_UploadsArchive(t *testing.T) {
	setupStdoutCapture(t)
	p := editorPage()
	c := newTestCmd(p)
	source := writeArchive(t, map[string]string{
		"layout.html":          "<html>new</html>",
		"partials/header.html": "<header>new</header>",
	})

	err := c.Import(context.Background(), ImportInput{
		UploadInput: UploadInput{BrowserID: "abc123", Exclude: []string{"partials/**"}},
		Source:      source,
	})
	require.NoError(t, err)

	assert.Equal(t, "<html>new</html>", p.File("layout.html").Content)
	assert.Equal(t, "<header>{{ store.name }}</header>", p.File("partials/header.html").Content)
	assert.Equal(t, []string{"layout.html"}, p.Saves)
	assert.Contains(t, outBuf.String(), "Uploaded 1 of 1 file")
}

func TestImport_JSONResult(t *testing.T) {
	setupStdoutCapture(t)
	read := captureStdout(t)
	c := newTestCmd(editorPage())
	source := writeArchive(t, map[string]string{
		"layout.html":  "<html>new</html>",
		"missing.html": "<p>new</p>",
	})

	err := c.Import(context.Background(), ImportInput{
		UploadInput: UploadInput{BrowserID: "abc123", Output: "json"},
		Source:      source,
	})
	require.NoError(t, err)

	var res inject.Result
	require.NoError(t, json.Unmarshal([]byte(read()), &res))
	assert.Equal(t, 2, res.TotalRequested)
	assert.Equal(t, 1, res.UploadedCount)
	require.Len(t, res.FailedFiles, 1)
	assert.Equal(t, "missing.html", res.FailedFiles[0].File)
}

func TestImport_DryRunLeavesEditorUntouched(t *testing.T) {
	setupStdoutCapture(t)
	p := editorPage()
	c := newTestCmd(p)
	source := writeArchive(t, map[string]string{
		"header.html": "<header>new</header>",
		"other.html":  "<p>new</p>",
	})

	err := c.Import(context.Background(), ImportInput{
		UploadInput: UploadInput{BrowserID: "abc123", DryRun: true},
		Source:      source,
	})
	require.NoError(t, err)

	assert.Empty(t, p.Saves)
	assert.Equal(t, "<header>{{ store.name }}</header>", p.File("partials/header.html").Content)
	out := outBuf.String()
	assert.Contains(t, out, string(nodeindex.MatchSuffix))
	assert.Contains(t, out, "resolved to partials/header.html")
	assert.Contains(t, out, string(nodeindex.MatchMissing))
	assert.Contains(t, out, "1 of 2 files resolvable")
}

func TestImport_Errors(t *testing.T) {
	setupStdoutCapture(t)

	t.Run("missing archive", func(t *testing.T) {
		c := newTestCmd(editorPage())
		err := c.Import(context.Background(), ImportInput{
			UploadInput: UploadInput{BrowserID: "abc123"},
			Source:      filepath.Join(t.TempDir(), "missing.zip"),
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("everything filtered out", func(t *testing.T) {
		c := newTestCmd(editorPage())
		err := c.Import(context.Background(), ImportInput{
			UploadInput: UploadInput{BrowserID: "abc123", Include: []string{"*.css"}},
			Source:      writeArchive(t, map[string]string{"layout.html": "<html></html>"}),
		})
		assert.ErrorIs(t, err, archive.ErrNoTemplates)
	})

	t.Run("nothing uploaded", func(t *testing.T) {
		c := newTestCmd(editorPage())
		err := c.Import(context.Background(), ImportInput{
			UploadInput: UploadInput{BrowserID: "abc123"},
			Source:      writeArchive(t, map[string]string{"missing.html": "<p></p>"}),
		})
		assert.EqualError(t, err, "no files were uploaded")
	})
}

func TestPush_UploadsDirectory(t *testing.T) {
	setupStdoutCapture(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partials"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout.html"), []byte("<html>pushed</html>\r\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partials", "header.html"), []byte("<header>pushed</header>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644))

	p := editorPage()
	c := newTestCmd(p)
	err := c.Push(context.Background(), PushInput{
		UploadInput: UploadInput{BrowserID: "abc123"},
		Dir:         dir,
	})
	require.NoError(t, err)

	assert.Equal(t, "<html>pushed</html>\n", p.File("layout.html").Content)
	assert.Equal(t, "<header>pushed</header>", p.File("partials/header.html").Content)
	assert.ElementsMatch(t, []string{"layout.html", "partials/header.html"}, p.Saves)
}

func TestPush_Errors(t *testing.T) {
	setupStdoutCapture(t)
	c := newTestCmd(editorPage())

	err := c.Push(context.Background(), PushInput{UploadInput: UploadInput{BrowserID: "abc123"}, Dir: t.TempDir()})
	assert.ErrorContains(t, err, "no template files found")

	err = c.Push(context.Background(), PushInput{UploadInput: UploadInput{BrowserID: "abc123", Output: "json"}, Dir: t.TempDir(), Watch: true})
	assert.EqualError(t, err, "--watch cannot be combined with --output json")
}

func TestFiles_ListsDetectedAndDefaultFiles(t *testing.T) {
	setupStdoutCapture(t)
	read := captureStdout(t)
	c := newTestCmd(editorPage())
	c.cfg.DefaultFiles = []string{"checkout.html", "layout.html"}

	err := c.Files(context.Background(), FilesInput{BrowserID: "abc123", Output: "json"})
	require.NoError(t, err)

	var out DryRunOutput
	require.NoError(t, json.Unmarshal([]byte(read()), &out))
	assert.Equal(t, "https://webstore.tebex.io/templates", out.PageURL)

	types := map[string]nodeindex.MatchType{}
	for _, e := range out.Files {
		types[e.File] = e.Match.Type
	}
	assert.Equal(t, map[string]nodeindex.MatchType{
		"checkout.html":        nodeindex.MatchMissing,
		"layout.html":          nodeindex.MatchExact,
		"partials/header.html": nodeindex.MatchExact,
		"styles.css":           nodeindex.MatchExact,
	}, types)
}

func TestFiles_UnsupportedPage(t *testing.T) {
	setupStdoutCapture(t)
	c := newTestCmd(pagetest.New("example.com"))
	err := c.Files(context.Background(), FilesInput{BrowserID: "abc123"})
	assert.EqualError(t, err, tuning.UnsupportedPageMessage)
}

func TestLaunch_CreatesBrowserAndNavigates(t *testing.T) {
	setupStdoutCapture(t)
	var params kernel.BrowserNewParams
	getCalls := 0
	var opened string

	pw := &FakePlaywrightService{}
	c := newTestCmd(editorPage())
	c.playwright = pw
	c.openURL = func(url string) error {
		opened = url
		return nil
	}
	c.browsers = &FakeBrowsersService{
		NewFunc: func(ctx context.Context, body kernel.BrowserNewParams, opts ...option.RequestOption) (*kernel.BrowserNewResponse, error) {
			params = body
			return &kernel.BrowserNewResponse{SessionID: "sess-1", BrowserLiveViewURL: "https://live.example/sess-1"}, nil
		},
		GetFunc: func(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (*kernel.BrowserGetResponse, error) {
			getCalls++
			if getCalls < 3 {
				return nil, errors.New("not yet")
			}
			return &kernel.BrowserGetResponse{SessionID: id}, nil
		},
	}

	err := c.Launch(context.Background(), LaunchInput{URL: "https://webstore.tebex.io/'quoted'", Timeout: 300, Stealth: true, Open: true})
	require.NoError(t, err)

	assert.Equal(t, kernel.Opt(int64(300)), params.TimeoutSeconds)
	assert.Equal(t, kernel.Opt(true), params.Stealth)
	assert.Equal(t, 3, getCalls)
	assert.Equal(t, []string{`await page.goto("https://webstore.tebex.io/'quoted'");`}, pw.Codes)
	assert.Equal(t, "https://live.example/sess-1", opened)
	assert.Contains(t, outBuf.String(), "sess-1")
}

func TestLaunch_DeletesBrowserThatNeverBecomesReady(t *testing.T) {
	setupStdoutCapture(t)
	var deleted string
	c := newTestCmd(editorPage())
	c.browsers = &FakeBrowsersService{
		GetFunc: func(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (*kernel.BrowserGetResponse, error) {
			return nil, errors.New("not yet")
		},
		DeleteByIDFunc: func(ctx context.Context, id string, opts ...option.RequestOption) error {
			deleted = id
			return nil
		},
	}

	err := c.Launch(context.Background(), LaunchInput{Timeout: 60})
	assert.ErrorContains(t, err, "not accessible after 10 attempts")
	assert.Equal(t, "new-session", deleted)
}
