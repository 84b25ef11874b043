/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package plugins maps an OS family and a target to a builder variant and
// creates jobs for them.
package plugins

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/variants/mock"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MockFamily is the OS family that selects the mock variant on any target.
const MockFamily = "Mock"

// Variant is a registered builder constructor.
type Variant struct {
	Family string
	Target string
	// Versions optionally constrains the OS version, e.g. ">= 36".
	Versions string
	New      variants.Constructor

	constraint *semver.Constraints
}

// Name is "<Family>_<target>_Builder".
func (v Variant) Name() string {
	return fmt.Sprintf("%s_%s_Builder", v.Family, v.Target)
}

type key struct{ family, target string }

func keyOf(family, target string) key {
	return key{strings.ToLower(strings.TrimSpace(family)), strings.ToLower(strings.TrimSpace(target))}
}

// Table holds the registered variants. The mock variant is always present.
type Table struct {
	mu       sync.RWMutex
	variants map[key]Variant
	mock     Variant
}

// NewTable creates a table holding only the mock variant.
func NewTable() *Table {
	return &Table{
		variants: map[key]Variant{},
		mock:     Variant{Family: MockFamily, Target: mock.Target, New: mock.New},
	}
}

// Register adds v. Registering the same family and target twice is an
// error. Variants for the mock family or target can be registered but are
// never resolved.
func (t *Table) Register(v Variant) error {
	if v.Family == "" || v.Target == "" || v.New == nil {
		return fmt.Errorf("variant %q needs a family, a target and a constructor", v.Name())
	}
	if v.Versions != "" {
		c, err := semver.NewConstraint(v.Versions)
		if err != nil {
			return fmt.Errorf("variant %s: invalid version constraint: %w", v.Name(), err)
		}
		v.constraint = c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(v.Family, v.Target)
	if _, ok := t.variants[k]; ok {
		return fmt.Errorf("variant %s is already registered", v.Name())
	}
	t.variants[k] = v
	return nil
}

// Variants lists the registered variants by name, mock included.
func (t *Table) Variants() []Variant {
	t.mu.RLock()
	out := make([]Variant, 0, len(t.variants)+1)
	out = append(out, t.mock)
	for _, v := range t.variants {
		out = append(out, v)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Resolve returns the variant for tpl on target.
//
// Target "mock" always resolves to the mock variant, as does OS family
// "Mock" on any target. Otherwise the template must name exactly one OS
// whose family and target are registered and whose version satisfies the
// variant's constraint.
func (t *Table) Resolve(tpl *builder.Template, target string) (Variant, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == mock.Target {
		return t.mock, nil
	}
	if tpl == nil {
		return Variant{}, &builder.ResolutionError{Target: target, Reason: "no template"}
	}

	family, err := tpl.OSName()
	if err != nil {
		return Variant{}, &builder.ResolutionError{Target: target, Reason: err.Error()}
	}
	if strings.EqualFold(family, MockFamily) {
		return t.mock, nil
	}

	t.mu.RLock()
	v, ok := t.variants[keyOf(family, target)]
	t.mu.RUnlock()
	if !ok {
		return Variant{}, &builder.ResolutionError{
			OSName:      family,
			Target:      target,
			Reason:      "no variant registered",
			Suggestions: t.suggest(family, target),
		}
	}

	if v.constraint != nil {
		version := tpl.PrimaryOS().Version
		sv, err := semver.NewVersion(strings.TrimSpace(version))
		if err != nil {
			return Variant{}, &builder.ResolutionError{
				OSName: family, Target: target,
				Reason: fmt.Sprintf("os version %q is not a version: %v", version, err),
			}
		}
		if !v.constraint.Check(sv) {
			return Variant{}, &builder.ResolutionError{
				OSName: family, Target: target,
				Reason: fmt.Sprintf("os version %s does not satisfy %s", version, v.Versions),
			}
		}
	}
	return v, nil
}

// suggest returns variant names whose family is close to the requested one
// and whose target is close too, or any target when the family matches
// exactly.
func (t *Table) suggest(family, target string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	near := func(want, have string) bool {
		want, have = strings.ToLower(want), strings.ToLower(have)
		return want == have ||
			fuzzy.MatchFold(want, have) ||
			fuzzy.MatchFold(have, want) ||
			fuzzy.LevenshteinDistance(want, have) <= 2
	}

	var out []string
	for _, v := range t.variants {
		if near(family, v.Family) && (strings.EqualFold(family, v.Family) || near(target, v.Target)) {
			out = append(out, v.Name())
		}
	}
	sort.Strings(out)
	return out
}
