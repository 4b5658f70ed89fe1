// Package policy parses the declarative routing/access document into an
// in-memory model of upstream targets and per-path access rules, and
// resolves incoming requests against it.
package policy

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
)

// defaultMethods are the methods allowed on a rule that does not declare any.
var defaultMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// recognizedMethods is the set of HTTP methods a rule may declare.
var recognizedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
}

// PathRule holds the access constraints attached to one URI pattern.
//
// If either Roles or Users is non-empty, access is granted when the caller
// matches either set (union semantics). If both are empty, any authenticated
// caller is allowed. This is a deliberate "any named set wins" policy, not
// least privilege by default.
type PathRule struct {
	// Pattern is the declared URI pattern, relative to the upstream's slug
	// prefix. A trailing "/*" matches that segment and everything after it.
	Pattern string

	// Methods are the allowed HTTP methods.
	Methods []string

	// Roles are group names allowed to access this path.
	Roles []string

	// Users are specific identities (name or email) allowed to access this path.
	Users []string

	// wildcard marks a trailing "/*" pattern; base is the pattern without it.
	wildcard bool
	base     string
}

// AllowsMethod reports whether the rule permits the given HTTP method.
func (r *PathRule) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// UpstreamTarget identifies one backend service and its path rules.
type UpstreamTarget struct {
	// URL is the base URL requests are forwarded to.
	URL *url.URL

	// Slug is the path-prefix identifier for this upstream. Unique among
	// the targets of one policy document.
	Slug string

	rules []*PathRule
}

// Rules returns the target's path rules in resolution order.
func (t *UpstreamTarget) Rules() []*PathRule {
	return t.rules
}

// Model is the loaded policy. Immutable after load; safe for unsynchronized
// concurrent reads.
type Model struct {
	upstreams []*UpstreamTarget
}

// Upstreams returns the configured targets.
func (m *Model) Upstreams() []*UpstreamTarget {
	return m.upstreams
}

// Match is the result of resolving a request path against the model.
type Match struct {
	Target *UpstreamTarget
	Rule   *PathRule

	// UpstreamPath is the request path with the slug prefix stripped, i.e.
	// the path to use on the upstream.
	UpstreamPath string

	// WildcardSuffix is the part of the path captured by a trailing
	// wildcard, empty for exact patterns.
	WildcardSuffix string
}

// document mirrors the YAML structure of the policy file.
type document struct {
	Upstreams []upstreamDoc `yaml:"upstreams"`
}

type upstreamDoc struct {
	URL  string             `yaml:"url"`
	Slug string             `yaml:"slug"`
	URIs map[string]ruleDoc `yaml:"uris"`
}

type ruleDoc struct {
	Methods []string `yaml:"methods"`
	Roles   []string `yaml:"roles"`
	Users   []string `yaml:"users"`
}

// Load reads and parses the policy document at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path) //nolint:gosec // policy path comes from configuration
	if err != nil {
		return nil, errors.NewConfigError("failed to read policy document", err)
	}
	return Parse(data)
}

// Parse parses a policy document and validates it, failing fast on any
// malformed entry so the process never starts with an invalid policy.
func Parse(data []byte) (*Model, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewConfigError("failed to parse policy document", err)
	}

	model := &Model{}
	slugs := make(map[string]bool)

	for _, u := range doc.Upstreams {
		target, err := buildTarget(u)
		if err != nil {
			return nil, err
		}
		if slugs[target.Slug] {
			return nil, errors.NewConfigError(
				fmt.Sprintf("duplicate slug %q in policy document", target.Slug), nil)
		}
		slugs[target.Slug] = true
		model.upstreams = append(model.upstreams, target)
	}

	return model, nil
}

func buildTarget(u upstreamDoc) (*UpstreamTarget, error) {
	if u.URL == "" {
		return nil, errors.NewConfigError("upstream url is required", nil)
	}
	base, err := url.Parse(u.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid upstream url %q", u.URL), err)
	}

	slug := u.Slug
	if slug == "" {
		slug = defaultSlug(u.URL)
	}
	if strings.Contains(slug, "/") {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid slug %q", slug), nil)
	}

	target := &UpstreamTarget{URL: base, Slug: slug}

	for pattern, rd := range u.URIs {
		rule, err := buildRule(pattern, rd)
		if err != nil {
			return nil, err
		}
		target.rules = append(target.rules, rule)
	}

	// YAML mappings carry no reliable order, and overlapping patterns are a
	// configuration hazard we do not resolve automatically. Sorting by
	// descending literal-prefix length gives deterministic longest-prefix
	// resolution regardless of document order.
	sort.Slice(target.rules, func(i, j int) bool {
		a, b := target.rules[i], target.rules[j]
		if len(a.base) != len(b.base) {
			return len(a.base) > len(b.base)
		}
		return a.Pattern < b.Pattern
	})

	return target, nil
}

func buildRule(pattern string, rd ruleDoc) (*PathRule, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, errors.NewConfigError(
			fmt.Sprintf("pattern %q must start with a slash", pattern), nil)
	}

	rule := &PathRule{
		Pattern: pattern,
		Methods: rd.Methods,
		Roles:   rd.Roles,
		Users:   rd.Users,
	}

	if len(rule.Methods) == 0 {
		rule.Methods = append([]string(nil), defaultMethods...)
	}
	for i, m := range rule.Methods {
		upper := strings.ToUpper(m)
		if !recognizedMethods[upper] {
			return nil, errors.NewConfigError(
				fmt.Sprintf("unrecognized method %q on pattern %q", m, pattern), nil)
		}
		rule.Methods[i] = upper
	}

	// A wildcard is permitted only as the final path segment.
	if i := strings.Index(pattern, "*"); i >= 0 {
		if !strings.HasSuffix(pattern, "/*") || i != len(pattern)-1 {
			return nil, errors.NewConfigError(
				fmt.Sprintf("wildcard must be the final segment in pattern %q", pattern), nil)
		}
		rule.wildcard = true
		rule.base = strings.TrimSuffix(pattern, "/*")
	} else {
		rule.base = pattern
	}

	return rule, nil
}

// RoutePatterns returns the router patterns the rule needs: the pattern
// itself, preceded by its base path for wildcard rules, which also match
// the base exactly.
func (r *PathRule) RoutePatterns() []string {
	if !r.wildcard {
		return []string{r.Pattern}
	}
	return []string{r.base, r.Pattern}
}

// defaultSlug derives a slug from the upstream URL when none is declared.
func defaultSlug(rawURL string) string {
	return strings.NewReplacer("://", "_", ".", "_", "/", "_").Replace(rawURL)
}

// Resolve matches a request method and path against the model. The slug
// prefix selects the target; the remainder is compared against the target's
// patterns, a trailing wildcard capturing everything after its base. The
// first structural match wins.
func (m *Model) Resolve(method, path string) (*Match, error) {
	for _, target := range m.upstreams {
		prefix := "/" + target.Slug
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		remainder := strings.TrimPrefix(path, prefix)
		if remainder == "" {
			remainder = "/"
		}

		for _, rule := range target.rules {
			suffix, ok := rule.match(remainder)
			if !ok {
				continue
			}
			if !rule.AllowsMethod(method) {
				continue
			}
			return &Match{
				Target:         target,
				Rule:           rule,
				UpstreamPath:   remainder,
				WildcardSuffix: suffix,
			}, nil
		}
	}

	return nil, errors.NewNoMatchError(fmt.Sprintf("no route for %s %s", method, path), nil)
}

// match reports whether the remainder matches the rule, returning the
// wildcard-captured suffix when it does.
func (r *PathRule) match(remainder string) (string, bool) {
	if !r.wildcard {
		return "", remainder == r.base
	}
	if remainder == r.base {
		return "", true
	}
	if strings.HasPrefix(remainder, r.base+"/") {
		return remainder[len(r.base)+1:], true
	}
	return "", false
}
