package rewrite

import (
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Rule maps a source path pattern onto a destination URL pattern. Both end in
// the same trailing wildcard parameter, for example
//
//	Rule{Source: "/api/v1/:path*", Destination: "http://backend:8000/api/v1/:path*"}
type Rule struct {
	Source      string
	Destination string
}

// DefaultRules returns the frontend's rewrite table for backendBase: the
// versioned API and the legacy /api_be alias, which drops its prefix.
func DefaultRules(backendBase string) []Rule {
	base := strings.TrimRight(backendBase, "/")
	return []Rule{
		{
			Source:      "/api/v1/:path*",
			Destination: base + "/api/v1/:path*",
		},
		{
			Source:      "/api_be/:path*",
			Destination: base + "/:path*",
		},
	}
}

type route struct {
	rule   Rule
	prefix string
	dest   *url.URL
}

// Table is a compiled, ordered list of rules. It is immutable and safe for
// concurrent use.
type Table struct {
	routes []route
}

// Compile validates rules and prepares them for matching. Rule order is kept.
func Compile(rules []Rule) (*Table, error) {
	t := &Table{routes: make([]route, 0, len(rules))}

	for _, rule := range rules {
		r, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		t.routes = append(t.routes, r)
	}

	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(rules []Rule) *Table {
	t, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return t
}

func compileRule(rule Rule) (route, error) {
	prefix, param, err := splitPattern(rule.Source)
	if err != nil {
		return route{}, goerr.Wrap(err, "invalid rewrite source", goerr.V("source", rule.Source))
	}
	if !strings.HasPrefix(prefix, "/") {
		return route{}, goerr.New("rewrite source must start with /", goerr.V("source", rule.Source))
	}

	destPrefix, destParam, err := splitPattern(rule.Destination)
	if err != nil {
		return route{}, goerr.Wrap(err, "invalid rewrite destination", goerr.V("destination", rule.Destination))
	}
	if destParam != param {
		return route{}, goerr.New("rewrite destination must use the source parameter",
			goerr.V("source", rule.Source),
			goerr.V("destination", rule.Destination))
	}

	dest, err := url.Parse(destPrefix)
	if err != nil {
		return route{}, goerr.Wrap(err, "failed to parse rewrite destination", goerr.V("destination", rule.Destination))
	}
	if dest.Scheme != "http" && dest.Scheme != "https" {
		return route{}, goerr.New("rewrite destination must be an http or https URL", goerr.V("destination", rule.Destination))
	}
	if dest.Host == "" {
		return route{}, goerr.New("rewrite destination must have a host", goerr.V("destination", rule.Destination))
	}

	return route{rule: rule, prefix: prefix, dest: dest}, nil
}

// splitPattern cuts "<prefix>/:name*" into prefix and name.
func splitPattern(pattern string) (string, string, error) {
	idx := strings.LastIndex(pattern, "/:")
	if idx < 0 || !strings.HasSuffix(pattern, "*") {
		return "", "", goerr.New("pattern must end with a /:name* wildcard")
	}

	name := pattern[idx+2 : len(pattern)-1]
	if name == "" || strings.ContainsAny(name, "/:*") {
		return "", "", goerr.New("invalid wildcard parameter name", goerr.V("name", name))
	}

	return pattern[:idx], name, nil
}

// Match returns the rewritten destination for u using the first matching
// rule. The captured remainder keeps its escaping and the query string is
// carried over unchanged.
func (t *Table) Match(u *url.URL) (*url.URL, Rule, bool) {
	escaped := u.EscapedPath()

	for _, r := range t.routes {
		rest, ok := r.capture(escaped)
		if !ok {
			continue
		}
		return r.destination(rest, u.RawQuery), r.rule, true
	}

	return nil, Rule{}, false
}

func (r route) capture(escapedPath string) (string, bool) {
	if escapedPath == r.prefix {
		return "", true
	}
	if strings.HasPrefix(escapedPath, r.prefix+"/") {
		return escapedPath[len(r.prefix)+1:], true
	}
	return "", false
}

func (r route) destination(rest, rawQuery string) *url.URL {
	out := *r.dest

	basePath := strings.TrimRight(r.dest.EscapedPath(), "/")
	escaped := basePath + "/" + rest
	if rest == "" && basePath != "" {
		escaped = basePath
	}

	if p, err := url.PathUnescape(escaped); err == nil {
		out.Path = p
		out.RawPath = escaped
	} else {
		out.Path = escaped
		out.RawPath = ""
	}
	if out.RawPath == out.Path {
		out.RawPath = ""
	}

	out.RawQuery = rawQuery
	out.Fragment = ""

	return &out
}

// Rules returns the rules in evaluation order.
func (t *Table) Rules() []Rule {
	rules := make([]Rule, len(t.routes))
	for i, r := range t.routes {
		rules[i] = r.rule
	}
	return rules
}

// Prefixes returns the static path prefix of every rule in evaluation order.
func (t *Table) Prefixes() []string {
	prefixes := make([]string, len(t.routes))
	for i, r := range t.routes {
		prefixes[i] = r.prefix
	}
	return prefixes
}
