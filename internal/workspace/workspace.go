// Package workspace holds the per-email compose state: notes, template
// choice, rewrite buffer, recipient preset and the three result slots.
package workspace

import (
	"fmt"
	"strings"
)

// SlotCount is the number of result slots ("3 variants").
const SlotCount = 3

// SlotResult is one generated variant.
type SlotResult struct {
	HTML        string `json:"html,omitempty"`
	Text        string `json:"text,omitempty"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
}

// Empty reports whether the slot holds no content.
func (r SlotResult) Empty() bool {
	return strings.TrimSpace(r.HTML) == "" && strings.TrimSpace(r.Text) == ""
}

// Workspace is the in-progress compose state for one email identity.
type Workspace struct {
	Template          string                `json:"template,omitempty"`
	Notes             string                `json:"notes,omitempty"`
	RewriteInput      string                `json:"rewriteInput,omitempty"`
	RecipientPreset   string                `json:"recipientPreset,omitempty"`
	IncludeBodyEmails bool                  `json:"includeBodyEmails,omitempty"`
	Results           [SlotCount]SlotResult `json:"results"`
	ActiveSlot        int                   `json:"activeSlot"`

	// Single-result fields written by older versions. Read once by Migrate.
	LegacyHTML string `json:"resultHtml,omitempty"`
	LegacyText string `json:"resultText,omitempty"`
}

// Migrate moves the legacy single result into slot 0 when every slot is
// empty, and clamps ActiveSlot. It reports whether anything changed.
func (w *Workspace) Migrate() bool {
	changed := false

	if w.LegacyHTML != "" || w.LegacyText != "" {
		allEmpty := true
		for _, r := range w.Results {
			if !r.Empty() {
				allEmpty = false
				break
			}
		}
		if allEmpty {
			w.Results[0] = SlotResult{HTML: w.LegacyHTML, Text: w.LegacyText}
		}
		w.LegacyHTML, w.LegacyText = "", ""
		changed = true
	}

	if w.ActiveSlot < 0 || w.ActiveSlot >= SlotCount {
		w.ActiveSlot = 0
		changed = true
	}
	return changed
}

// Active returns the result in the active slot.
func (w Workspace) Active() SlotResult {
	if w.ActiveSlot < 0 || w.ActiveSlot >= SlotCount {
		return w.Results[0]
	}
	return w.Results[w.ActiveSlot]
}

// SetActiveResult overwrites the active slot.
func (w *Workspace) SetActiveResult(r SlotResult) {
	if w.ActiveSlot < 0 || w.ActiveSlot >= SlotCount {
		w.ActiveSlot = 0
	}
	w.Results[w.ActiveSlot] = r
}

// Select makes slot i active.
func (w *Workspace) Select(i int) error {
	if i < 0 || i >= SlotCount {
		return fmt.Errorf("slot %d out of range [0,%d)", i, SlotCount)
	}
	w.ActiveSlot = i
	return nil
}
