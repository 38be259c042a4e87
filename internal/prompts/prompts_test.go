package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/propfin/loanagent/internal/models"
)

func TestEmbeddedDefaultsLoad(t *testing.T) {
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	langs := c.Languages()
	found := false
	for _, code := range langs {
		if code == "en" {
			found = true
		}
	}
	if !found {
		t.Fatalf("embedded english set missing, got %v", langs)
	}
	for _, state := range models.AllStates {
		if state == models.StateInitial {
			continue
		}
		tmpl := c.StatePrompt(state, "en")
		if tmpl == "" {
			t.Errorf("StatePrompt(%s) empty", state)
		}
	}
}

func TestStatePromptFallsBackToEnglish(t *testing.T) {
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	en := c.StatePrompt(models.StateQualifying, "en")
	hi := c.StatePrompt(models.StateQualifying, "hi")
	if hi != en {
		t.Error("missing language should fall back to english template")
	}
}

func TestFallbackIsNeverEmpty(t *testing.T) {
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	for _, state := range models.AllStates {
		for _, code := range []string{"en", "hi", "zz"} {
			if msg := c.Fallback(state, code); msg == "" {
				t.Errorf("Fallback(%s, %s) empty", state, code)
			}
		}
	}
}

func TestOverlayAndReload(t *testing.T) {
	dir := t.TempDir()
	overlay := `{
		"language": "hindi",
		"code": "hi",
		"states": {"qualifying": "custom hindi qualifying prompt {profile}"},
		"fallbacks": {"default": "custom hindi fallback"}
	}`
	path := filepath.Join(dir, "hi.json")
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	if got := c.StatePrompt(models.StateQualifying, "hi"); !strings.Contains(got, "custom hindi qualifying") {
		t.Errorf("overlay not applied: %q", got)
	}
	if got := c.Fallback(models.StateClosing, "hi"); got != "custom hindi fallback" {
		t.Errorf("overlay fallback not applied: %q", got)
	}

	// Update the overlay on disk; catalog should pick it up only on Reload.
	updated := strings.ReplaceAll(overlay, "custom hindi qualifying", "updated hindi qualifying")
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := c.StatePrompt(models.StateQualifying, "hi"); strings.Contains(got, "updated") {
		t.Error("catalog changed without Reload")
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if got := c.StatePrompt(models.StateQualifying, "hi"); !strings.Contains(got, "updated hindi qualifying") {
		t.Errorf("Reload() did not apply update: %q", got)
	}
}

func TestReloadKeepsCatalogOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hi.json")
	good := `{"language": "hindi", "code": "hi", "fallbacks": {"default": "good"}}`
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Reload(); err == nil {
		t.Fatal("Reload() should fail on malformed overlay")
	}
	if got := c.Fallback(models.StateInitial, "hi"); got != "good" {
		t.Errorf("failed Reload() must keep prior catalog, got %q", got)
	}
}

func TestRender(t *testing.T) {
	got := Render("Hello {name}, state {state}", map[string]string{"name": "Ramesh", "state": "qualifying"})
	if got != "Hello Ramesh, state qualifying" {
		t.Errorf("Render() = %q", got)
	}
	// Unknown placeholders stay visible.
	got = Render("{missing} stays", nil)
	if got != "{missing} stays" {
		t.Errorf("Render() = %q", got)
	}
}
