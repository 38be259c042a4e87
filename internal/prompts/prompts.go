// Package prompts stores the per-state, per-language prompt templates the
// engine renders, plus the canned fallback utterances used when generation
// fails.
//
// English defaults are embedded in the binary. An optional overlay directory
// supplies additional languages or overrides, one JSON file per language, and
// can be reloaded at runtime without a restart.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/propfin/loanagent/internal/models"
)

//go:embed defaults/*.json
var defaultFS embed.FS

// languageSet is the on-disk shape of one language's prompt file.
type languageSet struct {
	Language   string                      `json:"language"`
	Code       string                      `json:"code"`
	Extraction string                      `json:"extraction"`
	States     map[models.StateType]string `json:"states"`
	FollowUp   string                      `json:"followup"`
	Fallbacks  map[string]string           `json:"fallbacks"`
}

// Catalog holds the loaded prompt sets, keyed by language code. It is safe
// for concurrent use; Reload swaps the catalog atomically so readers never
// see a partially loaded state.
type Catalog struct {
	mu         sync.RWMutex
	sets       map[string]*languageSet
	overlayDir string
}

// NewCatalog loads the embedded defaults and, when dir is non-empty, applies
// the overlay files on top. A missing overlay directory is not an error.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{overlayDir: dir}
	sets, err := load(dir)
	if err != nil {
		return nil, err
	}
	c.sets = sets
	slog.Info("Prompt catalog loaded", "languages", len(sets), "overlay_dir", dir)
	return c, nil
}

// Reload re-reads the overlay directory. On failure the previous catalog is
// kept and the error returned.
func (c *Catalog) Reload() error {
	sets, err := load(c.overlayDir)
	if err != nil {
		return fmt.Errorf("prompts.Reload: %w", err)
	}
	c.mu.Lock()
	c.sets = sets
	c.mu.Unlock()
	slog.Info("Catalog.Reload: prompt catalog reloaded", "languages", len(sets))
	return nil
}

func load(dir string) (map[string]*languageSet, error) {
	sets := map[string]*languageSet{}
	entries, err := defaultFS.ReadDir("defaults")
	if err != nil {
		return nil, fmt.Errorf("reading embedded defaults: %w", err)
	}
	for _, e := range entries {
		data, err := defaultFS.ReadFile("defaults/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded %s: %w", e.Name(), err)
		}
		set, err := parseSet(data)
		if err != nil {
			return nil, fmt.Errorf("parsing embedded %s: %w", e.Name(), err)
		}
		sets[set.Code] = set
	}
	if dir == "" {
		return sets, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning overlay dir %s: %w", dir, err)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading overlay %s: %w", f, err)
		}
		set, err := parseSet(data)
		if err != nil {
			return nil, fmt.Errorf("parsing overlay %s: %w", f, err)
		}
		sets[set.Code] = set
		slog.Debug("load: overlay applied", "file", f, "language", set.Language)
	}
	return sets, nil
}

func parseSet(data []byte) (*languageSet, error) {
	var set languageSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	if set.Code == "" {
		return nil, fmt.Errorf("prompt set missing language code")
	}
	return &set, nil
}

// englishCode is the catalog's guaranteed-present base language.
const englishCode = "en"

// StatePrompt returns the system prompt template for a state in the given
// language, falling back language-to-english then state-to-initial.
func (c *Catalog) StatePrompt(state models.StateType, langCode string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, code := range []string{langCode, englishCode} {
		set, ok := c.sets[code]
		if !ok {
			continue
		}
		if tmpl, ok := set.States[state]; ok && tmpl != "" {
			return tmpl
		}
		if tmpl, ok := set.States[models.StateInitial]; ok && tmpl != "" {
			return tmpl
		}
	}
	return "You are a loan advisor. Respond professionally to the customer: {message}"
}

// ExtractionPrompt returns the extraction system prompt. Extraction always
// runs in English.
func (c *Catalog) ExtractionPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if set, ok := c.sets[englishCode]; ok && set.Extraction != "" {
		return set.Extraction
	}
	return "Extract the customer's intent and any property or loan facts as a JSON object from: {message}"
}

// FollowUpPrompt returns the re-engagement prompt template for the language,
// falling back to english.
func (c *Catalog) FollowUpPrompt(langCode string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, code := range []string{langCode, englishCode} {
		if set, ok := c.sets[code]; ok && set.FollowUp != "" {
			return set.FollowUp
		}
	}
	return "Write a short, warm follow-up message to re-open a conversation about loan-against-property."
}

// Fallback returns the canned utterance used when generation fails: the
// state's entry in the requested language, then the language default, then
// the english equivalents.
func (c *Catalog) Fallback(state models.StateType, langCode string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, code := range []string{langCode, englishCode} {
		set, ok := c.sets[code]
		if !ok {
			continue
		}
		if msg, ok := set.Fallbacks[string(state)]; ok && msg != "" {
			return msg
		}
		if msg, ok := set.Fallbacks["default"]; ok && msg != "" {
			return msg
		}
	}
	return "I apologize, but I'm having trouble processing your request right now. Please try again shortly."
}

// Languages returns the codes currently loaded, for diagnostics.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]string, 0, len(c.sets))
	for code := range c.sets {
		codes = append(codes, code)
	}
	return codes
}

// Render substitutes {placeholder} variables into a template. Unknown
// placeholders are left in place so a malformed template is visible rather
// than silently empty.
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
