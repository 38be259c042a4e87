// Package language resolves, detects, and translates the customer-facing
// languages the agent supports.
//
// The engine itself reasons in English; inbound messages are translated in
// and replies translated out. English is a pass-through. Language handling
// never fails a turn: every degraded path falls back to a usable default.
package language

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
)

// Language is one of the supported customer-facing languages.
type Language struct {
	Name string // lowercase english name, e.g. "hindi"
	Code string // ISO 639-1 code, e.g. "hi"
}

// Default is the language used when nothing else can be determined.
var Default = Language{Name: "english", Code: "en"}

// Supported lists every language the agent can converse in.
var Supported = []Language{
	{Name: "english", Code: "en"},
	{Name: "hindi", Code: "hi"},
	{Name: "kannada", Code: "kn"},
	{Name: "tamil", Code: "ta"},
	{Name: "telugu", Code: "te"},
}

// Resolve looks a language up by its english name. Unknown names resolve to
// the default with ok=false.
func Resolve(name string) (Language, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, l := range Supported {
		if l.Name == name {
			return l, true
		}
	}
	return Default, false
}

// ResolveCode looks a language up by its ISO code. Unknown codes resolve to
// the default with ok=false.
func ResolveCode(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range Supported {
		if l.Code == code {
			return l, true
		}
	}
	return Default, false
}

// minDetectLength is the shortest message worth running detection on. Very
// short messages ("ok", "haan") carry too little signal.
const minDetectLength = 12

// Processor detects message language and translates to and from English
// using the shared generation backend.
type Processor struct {
	client genai.ClientInterface
}

// NewProcessor returns a Processor backed by the given client.
func NewProcessor(client genai.ClientInterface) *Processor {
	return &Processor{client: client}
}

// Detect classifies the language of a message. Text too short or too
// ambiguous to classify resolves to the fallback language, then the default.
// Detection failure is logged and degrades the same way.
func (p *Processor) Detect(ctx context.Context, text, fallbackName string) Language {
	fallback, _ := Resolve(fallbackName)
	if len(strings.TrimSpace(text)) < minDetectLength {
		return fallback
	}
	system := fmt.Sprintf(
		"You are a language classifier. Reply with exactly one word, the language of the user's message: one of %s. If unsure, reply english.",
		supportedNames())
	name, err := p.client.GenerateReply(ctx, system, nil, text)
	if err != nil {
		slog.Warn("Processor.Detect: detection failed, using fallback", "fallback", fallback.Name, "error", err)
		return fallback
	}
	lang, ok := Resolve(strings.Trim(name, " .\"'"))
	if !ok {
		slog.Debug("Processor.Detect: unrecognized classification", "raw", name, "fallback", fallback.Name)
		return fallback
	}
	return lang
}

// TranslateIn renders a customer message into English for the engine.
// English input and translation failures pass through unchanged.
func (p *Processor) TranslateIn(ctx context.Context, text string, from Language) string {
	if from.Code == Default.Code {
		return text
	}
	out, err := p.translate(ctx, text, from, Default)
	if err != nil {
		slog.Warn("Processor.TranslateIn: translation failed, passing through", "from", from.Name, "error", err)
		return text
	}
	return out
}

// TranslateOut renders the engine's English reply into the customer's
// language. English targets and translation failures pass through unchanged.
func (p *Processor) TranslateOut(ctx context.Context, text string, to Language) string {
	if to.Code == Default.Code {
		return text
	}
	out, err := p.translate(ctx, text, Default, to)
	if err != nil {
		slog.Warn("Processor.TranslateOut: translation failed, passing through", "to", to.Name, "error", err)
		return text
	}
	return out
}

func (p *Processor) translate(ctx context.Context, text string, from, to Language) (string, error) {
	system := fmt.Sprintf(
		"Translate the user's message from %s to %s. Preserve numbers, amounts, and phone numbers exactly. Reply with only the translation.",
		from.Name, to.Name)
	out, err := p.client.GenerateReply(ctx, system, nil, text)
	if err != nil {
		return "", fmt.Errorf("translate %s to %s: %w", from.Name, to.Name, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("translate %s to %s: empty result", from.Name, to.Name)
	}
	return out, nil
}

func supportedNames() string {
	names := make([]string, len(Supported))
	for i, l := range Supported {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}

// Validate returns ErrUnsupportedLanguage for names outside the supported set.
// Used by API handlers that accept an explicit language preference.
func Validate(name string) error {
	if _, ok := Resolve(name); !ok {
		return fmt.Errorf("%w: %q", models.ErrUnsupportedLanguage, name)
	}
	return nil
}
