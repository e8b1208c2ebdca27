// Package tuning holds every heuristic constant used to match, poll and save
// editor files, so the policy can be audited and overridden in one place.
package tuning

import (
	"strings"
	"time"

	"github.com/kernel/tplsync/internal/poll"
)

// Widget kinds used as keys in the pick weight tables. They match the page
// surface kinds.
const (
	MonacoEditor    = "monaco-editor"
	CodeMirror      = "codemirror"
	Ace             = "ace"
	Textarea        = "textarea"
	ContentEditable = "contenteditable"
)

// PickWeights scores widget instances when several are present on the page.
type PickWeights struct {
	Focused     int     `yaml:"focused"`
	Visible     int     `yaml:"visible"`
	AreaDivisor float64 `yaml:"area_divisor"`
	AreaCap     int     `yaml:"area_cap"`
}

// NodeScore weights a (path, node) pair in the file-node index.
type NodeScore struct {
	Visible         int `yaml:"visible"`
	FullPathInLabel int `yaml:"full_path_in_label"`
	BaseNameInLabel int `yaml:"base_name_in_label"`
	AriaSelected    int `yaml:"aria_selected"`
	ShortLabelBonus int `yaml:"short_label_bonus"`
}

// SaveControlScore ranks visible save buttons.
type SaveControlScore struct {
	Button    int `yaml:"button"`
	Submit    int `yaml:"submit"`
	SaveWord  int `yaml:"save_word"`
	Secondary int `yaml:"secondary"`
	Disabled  int `yaml:"disabled"`
}

// Tuning is the complete matching, polling and save policy.
type Tuning struct {
	SupportedHosts []string `yaml:"supported_hosts"`

	MaxScanElements int       `yaml:"max_scan_elements"`
	NodeScore       NodeScore `yaml:"node_score"`

	ReadWeights  map[string]PickWeights `yaml:"read_weights"`
	WriteWeights map[string]PickWeights `yaml:"write_weights"`

	ExtractPoll poll.Schedule `yaml:"extract_poll"`
	// ExtractSettleAttempt is the first attempt at which an unchanged but
	// name-matching snapshot is accepted.
	ExtractSettleAttempt int `yaml:"extract_settle_attempt"`
	// ExtractChangedAttempt is the first attempt at which a changed snapshot
	// without a matching name is kept as a fallback.
	ExtractChangedAttempt int `yaml:"extract_changed_attempt"`

	SwitchPoll poll.Schedule `yaml:"switch_poll"`
	// SwitchBlindAttempt is the attempt after which a missing active-file
	// indicator is accepted for exact and suffix matches.
	SwitchBlindAttempt int `yaml:"switch_blind_attempt"`

	RebuildWait time.Duration `yaml:"rebuild_wait"`
	SettleWait  time.Duration `yaml:"settle_wait"`

	SaveAttempts      int              `yaml:"save_attempts"`
	SaveShortcutWait  time.Duration    `yaml:"save_shortcut_wait"`
	SaveVerifyWait    time.Duration    `yaml:"save_verify_wait"`
	SaveIdleAttempt   int              `yaml:"save_idle_attempt"`
	SaveControlsLimit int              `yaml:"save_controls_limit"`
	SaveControlScore  SaveControlScore `yaml:"save_control_score"`

	PromptPhrases []string `yaml:"prompt_phrases"`

	// Content length thresholds used when no syntax marker is present.
	MinMarkupLength int `yaml:"min_markup_length"`
	MinScriptLength int `yaml:"min_script_length"`
	MinStyleLength  int `yaml:"min_style_length"`
	MinOtherLength  int `yaml:"min_other_length"`
}

// UnsupportedPageMessage is reported for frames outside SupportedHosts.
const UnsupportedPageMessage = "This page is not a supported Tebex editor domain."

// IsSupportedHost reports whether hostname belongs to the host editor.
func (t Tuning) IsSupportedHost(hostname string) bool {
	host := strings.ToLower(hostname)
	for _, supported := range t.SupportedHosts {
		if supported != "" && strings.Contains(host, strings.ToLower(supported)) {
			return true
		}
	}
	return false
}

// Default returns the policy tuned against the host editor.
func Default() Tuning {
	return Tuning{
		SupportedHosts: []string{"tebex.io", "buildersoftware.com"},

		MaxScanElements: 15000,
		NodeScore: NodeScore{
			Visible:         100,
			FullPathInLabel: 40,
			BaseNameInLabel: 25,
			AriaSelected:    20,
			ShortLabelBonus: 30,
		},

		ReadWeights: map[string]PickWeights{
			MonacoEditor:    {Focused: 10, Visible: 8},
			CodeMirror:      {Focused: 8, Visible: 6},
			Ace:             {Focused: 8, Visible: 6},
			Textarea:        {Focused: 6, Visible: 4, AreaDivisor: 90000, AreaCap: 6},
			ContentEditable: {Focused: 6, Visible: 4, AreaDivisor: 90000, AreaCap: 6},
		},
		WriteWeights: map[string]PickWeights{
			MonacoEditor:    {Focused: 6, Visible: 4},
			CodeMirror:      {Focused: 5, Visible: 4},
			Ace:             {Focused: 4, Visible: 4},
			Textarea:        {Focused: 3, Visible: 4, AreaDivisor: 90000, AreaCap: 5},
			ContentEditable: {Visible: 1},
		},

		ExtractPoll: poll.Schedule{
			Attempts:  12,
			Fast:      4,
			FastDelay: 110 * time.Millisecond,
			SlowDelay: 170 * time.Millisecond,
		},
		ExtractSettleAttempt:  2,
		ExtractChangedAttempt: 4,

		SwitchPoll: poll.Schedule{
			Attempts:  7,
			Fast:      3,
			FastDelay: 110 * time.Millisecond,
			SlowDelay: 170 * time.Millisecond,
		},
		SwitchBlindAttempt: 3,

		RebuildWait: 120 * time.Millisecond,
		SettleWait:  260 * time.Millisecond,

		SaveAttempts:      6,
		SaveShortcutWait:  100 * time.Millisecond,
		SaveVerifyWait:    220 * time.Millisecond,
		SaveIdleAttempt:   2,
		SaveControlsLimit: 3,
		SaveControlScore: SaveControlScore{
			Button:    15,
			Submit:    10,
			SaveWord:  20,
			Secondary: 4,
			Disabled:  -30,
		},

		PromptPhrases: []string{"unsaved", "different page", "leave site"},

		MinMarkupLength: 40,
		MinScriptLength: 60,
		MinStyleLength:  30,
		MinOtherLength:  10,
	}
}
