// Package classify assigns the public-facing category to organizations that
// arrive without an authoritative classification, using name keywords.
package classify

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tables holds the two disjoint keyword sets the classifier matches against.
type Tables struct {
	PublicFacing    []string `yaml:"public_facing"`
	NonPublicFacing []string `yaml:"non_public_facing"`
}

// LoadTables reads keyword tables from a YAML file.
func LoadTables(path string) (Tables, error) {
	var t Tables
	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "classify: read keyword tables %s", path)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, eris.Wrapf(err, "classify: parse keyword tables %s", path)
	}
	if len(t.PublicFacing) == 0 && len(t.NonPublicFacing) == 0 {
		return t, eris.Errorf("classify: keyword tables %s are empty", path)
	}
	return t, nil
}

// Classifier decides whether an organization is public-facing from its name.
// It is a heuristic with a known error margin and must never overwrite an
// explicit classification; callers enforce that.
type Classifier struct {
	public    []string
	nonPublic []string
}

// New creates a classifier from keyword tables. Keywords are matched as
// lowercase substrings of the name.
func New(t Tables) *Classifier {
	return &Classifier{
		public:    lowerAll(t.PublicFacing),
		nonPublic: lowerAll(t.NonPublicFacing),
	}
}

// Classify returns the heuristic public-facing category for a name.
// Public-facing indicators win over non-public-facing ones when both match;
// a name with no indicators at all defaults to public-facing, since hiding a
// real public charity costs more than surfacing a benefit trust.
func (c *Classifier) Classify(name string) bool {
	n := strings.ToLower(name)
	for _, kw := range c.public {
		if strings.Contains(n, kw) {
			return true
		}
	}
	for _, kw := range c.nonPublic {
		if strings.Contains(n, kw) {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
