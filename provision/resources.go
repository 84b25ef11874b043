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

package provision

// Kind names an artifact type in a ResourceSet.
type Kind string

const (
	KindKeyPair    Kind = "key pair"
	KindFirewall   Kind = "firewall"
	KindInstance   Kind = "instance"
	KindVolume     Kind = "volume"
	KindAttachment Kind = "volume attachment"
	KindSnapshot   Kind = "snapshot"
)

// Resource is one created artifact.
type Resource struct {
	Kind Kind
	ID   string
}

// ResourceSet records the artifacts one operation created, in creation
// order. It belongs to a single worker and is not safe for concurrent use.
type ResourceSet struct {
	items []Resource
}

// NewResourceSet returns an empty set.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{}
}

// Add records an artifact.
func (s *ResourceSet) Add(kind Kind, id string) {
	s.items = append(s.items, Resource{Kind: kind, ID: id})
}

// Release forgets an artifact that must outlive the operation, or that was
// already cleaned up by the normal flow. It reports whether it was present.
func (s *ResourceSet) Release(kind Kind, id string) bool {
	for i, r := range s.items {
		if r.Kind == kind && r.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether an artifact of kind is recorded.
func (s *ResourceSet) Has(kind Kind) bool {
	for _, r := range s.items {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

// Len returns the number of recorded artifacts.
func (s *ResourceSet) Len() int { return len(s.items) }

// Drain returns the recorded artifacts newest first and empties the set, so
// each is handed to teardown exactly once.
func (s *ResourceSet) Drain() []Resource {
	out := make([]Resource, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, s.items[i])
	}
	s.items = nil
	return out
}
