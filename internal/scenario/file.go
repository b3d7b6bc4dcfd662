package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/victornm/tabletop/internal/domain"
)

// Only plain names are allowed as path components, which rules out traversal.
var safeComponent = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var extensions = []string{".json", ".yaml", ".yml"}

// FileRepository reads scenarios from <dir>/<category>/<type>/<id>.{json,yaml,yml}.
type FileRepository struct {
	dir string
}

func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

func (r *FileRepository) GetScenario(_ context.Context, ref domain.ScenarioRef) (*domain.Scenario, error) {
	for _, c := range []string{ref.Category, ref.Type, ref.ID} {
		if !safeComponent.MatchString(c) {
			return nil, notFound(ref)
		}
	}

	base := filepath.Join(r.dir, ref.Category, ref.Type, ref.ID)
	for _, ext := range extensions {
		b, err := os.ReadFile(base + ext)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, unavailable(ref, err)
		}

		s, err := decode(b, ext)
		if err != nil {
			return nil, unavailable(ref, fmt.Errorf("decode %s: %w", base+ext, err))
		}
		if err := Validate(s); err != nil {
			return nil, unavailable(ref, fmt.Errorf("validate %s: %w", base+ext, err))
		}
		if s.ID == "" {
			s.ID = ref.ID
		}
		return s, nil
	}

	return nil, notFound(ref)
}

func decode(b []byte, ext string) (*domain.Scenario, error) {
	var s domain.Scenario

	if ext == ".json" {
		d := json.NewDecoder(bytes.NewReader(b))
		if err := d.Decode(&s); err != nil {
			return nil, err
		}
		return &s, nil
	}

	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
