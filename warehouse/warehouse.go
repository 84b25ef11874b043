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

// Package warehouse stores templates, descriptors and image records.
//
// Objects are laid out under four prefixes:
//
//	templates/<id>.xml
//	icicles/<id>.xml
//	target_images/<id>.json
//	provider_images/<id>.json
//
// The same layout is used by the in-memory and S3 backends.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no object exists under the requested id.
var ErrNotFound = errors.New("not found in warehouse")

// ErrInvalidID is returned for an id that is not a single path segment.
var ErrInvalidID = errors.New("invalid warehouse id")

// Metadata keys.
const (
	KeyTarget            = "target"
	KeyTemplateID        = "template_id"
	KeyIcicleID          = "icicle_id"
	KeyTargetIdentifier  = "target_identifier"
	KeyProviderAccountID = "provider_account_identifier"
	KeyTargetImage       = "target_image"
	KeyProvider          = "provider"

	// NoIcicle is the icicle_id of images built without a descriptor.
	NoIcicle = "none"
)

// Metadata is the attribute map of an image record.
type Metadata map[string]string

var baseKeys = []string{KeyTarget, KeyTemplateID, KeyIcicleID, KeyTargetIdentifier, KeyProviderAccountID}

// Validate reports the missing keys among the base keys and extra.
func (m Metadata) Validate(extra ...string) error {
	var missing []string
	for _, k := range append(append([]string(nil), baseKeys...), extra...) {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("image metadata is missing %v", missing)
	}
	return nil
}

// Image is a stored target or provider image record.
type Image struct {
	ID       string    `json:"id"`
	Metadata Metadata  `json:"metadata"`
	Created  time.Time `json:"created"`
}

// Warehouse is the storage collaborator of builds and pushes.
type Warehouse interface {
	// StoreTemplate saves the template document and returns its id.
	StoreTemplate(ctx context.Context, tpl *builder.Template) (string, error)
	Template(ctx context.Context, id string) (*builder.Template, error)

	// StoreIcicle saves a descriptor document and returns its id.
	StoreIcicle(ctx context.Context, doc string) (string, error)
	Icicle(ctx context.Context, id string) (string, error)

	// StoreTargetImage records a built image under the build id.
	StoreTargetImage(ctx context.Context, id string, md Metadata) error
	TargetImage(ctx context.Context, id string) (*Image, error)

	// CreateProviderImage records a pushed image under the push id.
	CreateProviderImage(ctx context.Context, id string, md Metadata) error
	ProviderImage(ctx context.Context, id string) (*Image, error)
}

// Objects is a flat key/value blob store.
type Objects interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store implements Warehouse on any Objects backend.
type Store struct {
	objects Objects
	now     func() time.Time
}

var _ Warehouse = (*Store)(nil)

// New creates a warehouse over objects.
func New(objects Objects) *Store {
	return &Store{objects: objects, now: time.Now}
}

func key(prefix, id, ext string) string {
	return path.Join(prefix, id+ext)
}

// checkID rejects ids that would resolve outside their prefix.
func checkID(id string) error {
	if id == "" || id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Store) StoreTemplate(ctx context.Context, tpl *builder.Template) (string, error) {
	if tpl == nil {
		return "", errors.New("no template to store")
	}
	id := uuid.NewString()
	if err := s.objects.Put(ctx, key("templates", id, ".xml"), []byte(tpl.XML()), "application/xml"); err != nil {
		return "", fmt.Errorf("store template: %w", err)
	}
	return id, nil
}

func (s *Store) Template(ctx context.Context, id string) (*builder.Template, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	b, err := s.objects.Get(ctx, key("templates", id, ".xml"))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}
	return builder.ParseTemplate(string(b))
}

func (s *Store) StoreIcicle(ctx context.Context, doc string) (string, error) {
	id := uuid.NewString()
	if err := s.objects.Put(ctx, key("icicles", id, ".xml"), []byte(doc), "application/xml"); err != nil {
		return "", fmt.Errorf("store icicle: %w", err)
	}
	return id, nil
}

func (s *Store) Icicle(ctx context.Context, id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	b, err := s.objects.Get(ctx, key("icicles", id, ".xml"))
	if err != nil {
		return "", fmt.Errorf("icicle %s: %w", id, err)
	}
	return string(b), nil
}

func (s *Store) putImage(ctx context.Context, prefix, id string, md Metadata) error {
	if err := checkID(id); err != nil {
		return err
	}
	b, err := json.MarshalIndent(Image{ID: id, Metadata: md, Created: s.now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return s.objects.Put(ctx, key(prefix, id, ".json"), b, "application/json")
}

func (s *Store) getImage(ctx context.Context, prefix, id string) (*Image, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	b, err := s.objects.Get(ctx, key(prefix, id, ".json"))
	if err != nil {
		return nil, err
	}
	var img Image
	if err := json.Unmarshal(b, &img); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", prefix, id, err)
	}
	return &img, nil
}

func (s *Store) StoreTargetImage(ctx context.Context, id string, md Metadata) error {
	if err := md.Validate(); err != nil {
		return err
	}
	if err := s.putImage(ctx, "target_images", id, md); err != nil {
		return fmt.Errorf("store target image %s: %w", id, err)
	}
	return nil
}

func (s *Store) TargetImage(ctx context.Context, id string) (*Image, error) {
	img, err := s.getImage(ctx, "target_images", id)
	if err != nil {
		return nil, fmt.Errorf("target image %s: %w", id, err)
	}
	return img, nil
}

func (s *Store) CreateProviderImage(ctx context.Context, id string, md Metadata) error {
	if err := md.Validate(KeyTargetImage, KeyProvider); err != nil {
		return err
	}
	if err := s.putImage(ctx, "provider_images", id, md); err != nil {
		return fmt.Errorf("store provider image %s: %w", id, err)
	}
	return nil
}

func (s *Store) ProviderImage(ctx context.Context, id string) (*Image, error) {
	img, err := s.getImage(ctx, "provider_images", id)
	if err != nil {
		return nil, fmt.Errorf("provider image %s: %w", id, err)
	}
	return img, nil
}
