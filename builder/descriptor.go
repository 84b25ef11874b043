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

package builder

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// Icicle describes what ended up installed in an image.
type Icicle struct {
	XMLName     xml.Name           `xml:"icicle"`
	Description string             `xml:"description,omitempty"`
	Packages    []InstalledPackage `xml:"packages>package"`
}

// InstalledPackage is one entry of an Icicle.
type InstalledPackage struct {
	Name    string `xml:"name,attr"`
	Version string `xml:"version,attr,omitempty"`
}

// ParseInventory turns "name version" lines, as printed by rpm or
// dpkg-query, into an Icicle. Blank lines are skipped; packages are sorted by
// name.
func ParseInventory(description, output string) *Icicle {
	ic := &Icicle{Description: description}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		p := InstalledPackage{Name: fields[0]}
		if len(fields) > 1 {
			p.Version = fields[1]
		}
		ic.Packages = append(ic.Packages, p)
	}
	sort.Slice(ic.Packages, func(i, j int) bool { return ic.Packages[i].Name < ic.Packages[j].Name })
	return ic
}

// Marshal renders the descriptor document.
func (ic *Icicle) Marshal() (string, error) {
	b, err := xml.MarshalIndent(ic, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render icicle: %w", err)
	}
	return string(b), nil
}
