package page

import (
	_ "embed"
)

// Embedded page scripts. Every body runs inside frame.evaluate after the
// prelude, with its parameters bound to args.

//go:embed scripts/prelude.js
var preludeScript string

//go:embed scripts/location.js
var locationScript string

//go:embed scripts/scan.js
var scanScript string

//go:embed scripts/active.js
var activeScript string

//go:embed scripts/surfaces.js
var surfacesScript string

//go:embed scripts/set_value.js
var setValueScript string

//go:embed scripts/click.js
var clickScript string

//go:embed scripts/scroll.js
var scrollScript string

//go:embed scripts/shortcut.js
var shortcutScript string

//go:embed scripts/save_controls.js
var saveControlsScript string

//go:embed scripts/describe.js
var describeScript string

//go:embed scripts/guard_install.js
var guardInstallScript string

//go:embed scripts/guard_count.js
var guardCountScript string

//go:embed scripts/guard_restore.js
var guardRestoreScript string

// framesScript runs at the Playwright level, not inside a frame.
//
//go:embed scripts/frames.js
var framesScript string
