package sdf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/model"
)

const (
	modelConfigFile = "model.config"
	defaultSDFFile  = "model.sdf"
	modelURIScheme  = "model://"
	fileURIScheme   = "file://"
)

// SearchPath returns extra followed by the GAZEBO_MODEL_PATH entries and the
// per-user model directory, skipping blanks and duplicates.
func SearchPath(extra ...string) []string {
	var candidates []string
	candidates = append(candidates, extra...)
	candidates = append(candidates, filepath.SplitList(os.Getenv("GAZEBO_MODEL_PATH"))...)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gazebo", "models"))
	}

	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, p := range candidates {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Database resolves model types against directories on a search path.
type Database struct {
	paths []string
	fsys  func(dir string) fs.FS
	log   logging.Logger
}

// DatabaseOption customises Database construction.
type DatabaseOption func(*Database)

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(l logging.Logger) DatabaseOption {
	return func(d *Database) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDatabase returns a database searching paths in order.
func NewDatabase(paths []string, opts ...DatabaseOption) *Database {
	d := &Database{
		paths: append([]string(nil), paths...),
		fsys:  os.DirFS,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Paths returns the search path.
func (d *Database) Paths() []string { return append([]string(nil), d.paths...) }

// LoadModelSchema implements kb.SchemaProvider.
func (d *Database) LoadModelSchema(ctx context.Context, modelType string) (*model.ModelSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, file, err := d.readModelDir(modelType)
	if err != nil {
		return nil, err
	}
	root, ok := doc.model(modelType)
	if !ok {
		return nil, fmt.Errorf("%w: %s declares no model %q", ErrModelNotFound, file, modelType)
	}

	d.log.Debug(ctx, "parsing model description",
		logging.String("model", modelType),
		logging.String("file", file),
	)
	include := func(uri string) (*modelXML, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return d.resolveInclude(uri, modelType)
	}
	return buildSchema(modelType, root, include)
}

// FindModel returns the directory of the first model named name on the
// search path.
func (d *Database) FindModel(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q is not a model directory name", ErrModelNotFound, name)
	}
	for _, root := range d.paths {
		dir := filepath.Join(root, name)
		fsys := d.fsys(dir)
		for _, marker := range []string{modelConfigFile, defaultSDFFile} {
			if _, err := fs.Stat(fsys, marker); err == nil {
				return dir, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q on search path %v", ErrModelNotFound, name, d.paths)
}

func (d *Database) readModelDir(name string) (*sdfXML, string, error) {
	dir, err := d.FindModel(name)
	if err != nil {
		return nil, "", err
	}
	return d.readDir(dir)
}

func (d *Database) readDir(dir string) (*sdfXML, string, error) {
	fsys := d.fsys(dir)

	file := defaultSDFFile
	if f, err := fsys.Open(modelConfigFile); err == nil {
		cfg, err := decodeModelConfig(f)
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrInvalidModel, filepath.Join(dir, modelConfigFile), err)
		}
		if newest := cfg.newestSDF(); newest != "" {
			file = newest
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("open %s: %w", filepath.Join(dir, modelConfigFile), err)
	}

	f, err := fsys.Open(filepath.ToSlash(filepath.Clean(file)))
	if err != nil {
		return nil, "", fmt.Errorf("%w: open %s: %v", ErrModelNotFound, filepath.Join(dir, file), err)
	}
	defer f.Close()

	doc, err := decodeSDF(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrInvalidModel, filepath.Join(dir, file), err)
	}
	return doc, filepath.Join(dir, file), nil
}

// resolveInclude loads the first model of an included description. An
// include of the root model type is a cycle; deeper cycles are caught by
// maxIncludeDepth.
func (d *Database) resolveInclude(uri, rootType string) (*modelXML, error) {
	var (
		doc *sdfXML
		err error
	)
	switch {
	case strings.HasPrefix(uri, modelURIScheme):
		name, _, _ := strings.Cut(strings.TrimPrefix(uri, modelURIScheme), "/")
		if name == rootType {
			return nil, fmt.Errorf("%w: model %q includes itself", ErrInvalidModel, name)
		}
		doc, _, err = d.readModelDir(name)
	case strings.HasPrefix(uri, fileURIScheme):
		doc, _, err = d.readDir(filepath.Clean(strings.TrimPrefix(uri, fileURIScheme)))
	default:
		return nil, fmt.Errorf("%w: unsupported include uri %q", ErrInvalidModel, uri)
	}
	if err != nil {
		return nil, err
	}

	models := doc.topModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: include %q declares no model", ErrInvalidModel, uri)
	}
	m := models[0]
	return &m, nil
}
