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
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Template is a parsed image template:
//
//	<template>
//	  <name>web</name>
//	  <os><name>Fedora</name><version>39</version><arch>x86_64</arch></os>
//	  <packages><package name="httpd"/></packages>
//	  <commands><command name="enable">systemctl enable httpd</command></commands>
//	</template>
type Template struct {
	XMLName     xml.Name  `xml:"template"`
	Name        string    `xml:"name"`
	Description string    `xml:"description,omitempty"`
	OS          []OS      `xml:"os"`
	Packages    []Package `xml:"packages>package"`
	Commands    []Command `xml:"commands>command"`

	raw string
}

// OS is the operating system a template targets.
type OS struct {
	Name    string `xml:"name"`
	Version string `xml:"version"`
	Arch    string `xml:"arch"`
}

// Package is a package to install.
type Package struct {
	Name string `xml:"name,attr"`
}

// Command is a shell command run after packages are installed.
type Command struct {
	Name string `xml:"name,attr"`
	Body string `xml:",chardata"`
}

// ParseTemplate parses template XML. The original text is kept verbatim for
// the warehouse.
func ParseTemplate(doc string) (*Template, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, errors.New("template is empty")
	}

	var t Template
	if err := xml.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	t.raw = doc
	return &t, nil
}

// XML returns the template document as it was supplied.
func (t *Template) XML() string {
	if t.raw != "" {
		return t.raw
	}
	b, err := xml.Marshal(t)
	if err != nil {
		return ""
	}
	return string(b)
}

// OSName returns the single declared OS family name. Zero or several <os>
// elements, or an empty name, make it an error.
func (t *Template) OSName() (string, error) {
	switch len(t.OS) {
	case 0:
		return "", errors.New("template declares no os")
	case 1:
		name := strings.TrimSpace(t.OS[0].Name)
		if name == "" {
			return "", errors.New("template os has no name")
		}
		return name, nil
	default:
		names := make([]string, 0, len(t.OS))
		for _, o := range t.OS {
			names = append(names, o.Name)
		}
		return "", fmt.Errorf("template declares %d operating systems (%s)", len(t.OS), strings.Join(names, ", "))
	}
}

// PrimaryOS returns the first declared OS, or a zero OS.
func (t *Template) PrimaryOS() OS {
	if len(t.OS) == 0 {
		return OS{}
	}
	o := t.OS[0]
	if o.Arch == "" {
		o.Arch = "x86_64"
	}
	return o
}

// PackageNames returns the package names in declaration order.
func (t *Template) PackageNames() []string {
	names := make([]string, 0, len(t.Packages))
	for _, p := range t.Packages {
		if n := strings.TrimSpace(p.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}
