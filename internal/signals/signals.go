// Package signals holds the per platform capability signal tables: every
// selector, phrase and URL pattern the walker relies on lives here as data,
// so layout churn on a platform is a YAML edit rather than a code change.
package signals

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/feedwalker/api/schemas"
)

//go:embed defaults.yaml
var defaultProfiles []byte

// Mode distinguishes a story viewer walk from a post feed walk.
type Mode string

const (
	ModeStories Mode = "stories"
	ModePosts   Mode = "posts"
)

// Profile is the complete signal table for one platform and mode.
type Profile struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	Mode     Mode   `yaml:"mode"`
	// Feed profiles keep several items mounted at once. Their identity,
	// skip, classification and extraction selectors are relative to one
	// item_container match.
	Feed bool `yaml:"feed"`

	// -- Locations --
	EntryURL    string `yaml:"entry_url"`
	HomeURL     string `yaml:"home_url"`
	ContentPath string `yaml:"content_path"`

	// -- Identity --
	IDPatterns []string          `yaml:"id_patterns"`
	IDElement  *schemas.Selector `yaml:"id_element"`
	IDAttr     string            `yaml:"id_attr"`

	// -- Viewer lifecycle --
	EnterControls     []schemas.Selector `yaml:"enter_controls"`
	ContentIndicators []schemas.Selector `yaml:"content_indicators"`
	ViewerOpen        []schemas.Selector `yaml:"viewer_open"`
	CloseControls     []schemas.Selector `yaml:"close_controls"`
	SkipIndicators    []schemas.Selector `yaml:"skip_indicators"`

	// -- Classification --
	VideoIndicators     []schemas.Selector `yaml:"video_indicators"`
	VideoErrorPhrases   []string           `yaml:"video_error_phrases"`
	SuggestionSelectors []schemas.Selector `yaml:"suggestion_selectors"`
	SuggestionThreshold int                `yaml:"suggestion_threshold"`
	ImageIndicators     []schemas.Selector `yaml:"image_indicators"`
	EndPhrases          []string           `yaml:"end_phrases"`

	// -- Extraction --
	ImageSources  []schemas.Selector `yaml:"image_sources"`
	MediaHosts    []string           `yaml:"media_hosts"`
	MultiImage    bool               `yaml:"multi_image"`
	ItemContainer *schemas.Selector  `yaml:"item_container"`
	Caption       string             `yaml:"caption"`
	Timestamp     string             `yaml:"timestamp"`
	Links         string             `yaml:"links"`
	EmbedLinks    string             `yaml:"embed_links"`
	EmbedBase     string             `yaml:"embed_base"`

	// -- Navigation --
	NextControls      []schemas.Selector `yaml:"next_controls"`
	VideoNextControls []schemas.Selector `yaml:"video_next_controls"`
	StructuralNext    string             `yaml:"structural_next"`
	AdvanceKey        string             `yaml:"advance_key"`
	EdgeClickX        float64            `yaml:"edge_click_x"`
	EdgeClickY        []float64          `yaml:"edge_click_y"`
	ScrollAdvance     bool               `yaml:"scroll_advance"`

	idPatterns  []*regexp.Regexp
	contentPath *regexp.Regexp
}

// Entry renders the entry URL for a target.
func (p *Profile) Entry(target string) string {
	return strings.ReplaceAll(p.EntryURL, "{target}", target)
}

// ContentPathMatches reports whether rawURL still points into the target's content.
func (p *Profile) ContentPathMatches(rawURL, target string) bool {
	if p.contentPath == nil {
		return true
	}
	re := p.contentPath
	if strings.Contains(p.ContentPath, "{target}") {
		// Target dependent templates cannot be precompiled.
		compiled, err := regexp.Compile("(?i)" + strings.ReplaceAll(p.ContentPath, "{target}", regexp.QuoteMeta(target)))
		if err != nil {
			return true
		}
		re = compiled
	}
	return re.MatchString(rawURL)
}

// MatchID returns the first id captured from s by the profile's id patterns.
func (p *Profile) MatchID(s string) (string, bool) {
	for _, re := range p.idPatterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// IsEndPhrase reports whether text contains a known end of content phrase.
func (p *Profile) IsEndPhrase(text string) bool {
	return containsAny(text, p.EndPhrases)
}

// IsVideoError reports whether text contains a known video failure message.
func (p *Profile) IsVideoError(text string) bool {
	return containsAny(text, p.VideoErrorPhrases)
}

// AllowedMediaHost reports whether host is on the allow-list. An empty list allows everything.
func (p *Profile) AllowedMediaHost(host string) bool {
	if len(p.MediaHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range p.MediaHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// Validate compiles the profile's patterns and checks the selectors the walker cannot do without.
func (p *Profile) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.EntryURL == "" {
		errs = append(errs, errors.New("entry_url is required"))
	}
	if len(p.ContentIndicators) == 0 {
		errs = append(errs, errors.New("at least one content indicator is required"))
	}
	if len(p.NextControls) == 0 && p.AdvanceKey == "" && !p.ScrollAdvance {
		errs = append(errs, errors.New("a next control, advance key or scroll advance is required"))
	}
	if p.Feed && (p.ItemContainer == nil || p.IDElement == nil) {
		errs = append(errs, errors.New("feed profiles need an item_container and an id_element"))
	}
	if p.Mode != ModeStories && p.Mode != ModePosts {
		errs = append(errs, fmt.Errorf("mode must be %q or %q", ModeStories, ModePosts))
	}
	if p.SuggestionThreshold <= 0 {
		p.SuggestionThreshold = 3
	}
	if p.EdgeClickX == 0 {
		p.EdgeClickX = 0.95
	}

	p.idPatterns = p.idPatterns[:0]
	for _, pat := range p.IDPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			errs = append(errs, fmt.Errorf("id pattern %q: %w", pat, err))
			continue
		}
		if re.NumSubexp() < 1 {
			errs = append(errs, fmt.Errorf("id pattern %q needs a capture group", pat))
			continue
		}
		p.idPatterns = append(p.idPatterns, re)
	}

	if p.ContentPath != "" {
		sample := strings.ReplaceAll(p.ContentPath, "{target}", "sample")
		re, err := regexp.Compile("(?i)" + sample)
		if err != nil {
			errs = append(errs, fmt.Errorf("content_path %q: %w", p.ContentPath, err))
		} else {
			p.contentPath = re
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

// -- Registry --

// Registry is the set of loaded profiles, keyed by name.
type Registry struct {
	profiles map[string]*Profile
}

type profileFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// Load parses the embedded defaults and, when overridePath is set, merges the
// profiles from that file on top, replacing defaults with the same name.
func Load(overridePath string) (*Registry, error) {
	reg := &Registry{profiles: make(map[string]*Profile)}
	if err := reg.merge(defaultProfiles); err != nil {
		return nil, fmt.Errorf("loading embedded signal profiles: %w", err)
	}
	if overridePath == "" {
		return reg, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("reading signal profile overrides: %w", err)
	}
	if err := reg.merge(data); err != nil {
		return nil, fmt.Errorf("loading signal profile overrides from %s: %w", overridePath, err)
	}
	return reg, nil
}

func (r *Registry) merge(data []byte) error {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing profiles: %w", err)
	}
	for _, p := range file.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		r.profiles[p.Name] = p
	}
	return nil
}

// Get returns a named profile.
func (r *Registry) Get(name string) (*Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown signal profile %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Names lists the registered profiles in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
