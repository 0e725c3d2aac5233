package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/internal/config"
)

//go:embed evasions.js
var evasionsScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent      string   `json:"userAgent"`
	Platform       string   `json:"platform"`
	Languages      []string `json:"languages"`
	Timezone       string   `json:"-"`
	Locale         string   `json:"-"`
	AcceptLanguage string   `json:"-"`
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	Platform:       "Win32",
	Languages:      []string{"en-US", "en"},
	Timezone:       "America/New_York",
	Locale:         "en-US",
	AcceptLanguage: "en-US,en;q=0.9",
}

// FromConfig builds a persona, picking one of the configured user agents at random.
func FromConfig(cfg config.PersonaConfig, rng *rand.Rand) Persona {
	p := DefaultPersona
	if len(cfg.UserAgents) > 0 {
		if rng == nil {
			p.UserAgent = cfg.UserAgents[rand.Intn(len(cfg.UserAgents))]
		} else {
			p.UserAgent = cfg.UserAgents[rng.Intn(len(cfg.UserAgents))]
		}
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
	}
	if cfg.AcceptLanguage != "" {
		p.AcceptLanguage = cfg.AcceptLanguage
		p.Languages = languagesFromHeader(cfg.AcceptLanguage)
	}
	return p
}

// languagesFromHeader turns "en-US,en;q=0.9" into ["en-US", "en"].
func languagesFromHeader(header string) []string {
	var langs []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag != "" {
			langs = append(langs, tag)
		}
	}
	if len(langs) == 0 {
		return DefaultPersona.Languages
	}
	return langs
}

// Script returns the document start script for the persona.
func Script(p Persona) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return fmt.Sprintf("window.__feedwalkerPersona = %s;\n%s", payload, evasionsScript), nil
}

// Apply returns the CDP actions that make a fresh tab look like a browser a
// person is using.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage,
		}),
	}
}
