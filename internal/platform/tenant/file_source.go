package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

const (
	// ConfigFile holds a tenant's built-in parameter filter.
	ConfigFile = "tenant.yaml"
	// ExtensionsFile holds a tenant's own SearchParameter definitions.
	ExtensionsFile = "extension-search-parameters.json"
)

// FileConfig is the content of tenant.yaml.
type FileConfig struct {
	Description string `yaml:"description"`
	// SearchParameterFilter maps a resource type, or "*", to the built-in
	// parameter codes exposed for it. "*" as a code exposes every code.
	SearchParameterFilter map[string][]string `yaml:"searchParameterFilter"`
}

// FileSource reads tenant configuration from a directory laid out as
// <dir>/<tenant>/tenant.yaml and <dir>/<tenant>/extension-search-parameters.json.
// Both files are optional; a tenant exists when its directory does.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the configuration root.
func (s *FileSource) Dir() string { return s.dir }

// BuiltinCatalog returns the embedded FHIR R4 search parameters.
func (s *FileSource) BuiltinCatalog(ctx context.Context) ([]fhir.SearchParameterResource, error) {
	return fhir.DefaultSearchParameters()
}

// TenantIDs lists the tenant directories.
func (s *FileSource) TenantIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// TenantConfig loads one tenant's configuration.
func (s *FileSource) TenantConfig(ctx context.Context, tenantID string) (*fhir.TenantConfig, error) {
	if !ValidID(tenantID) {
		return nil, fmt.Errorf("%w: invalid tenant identifier %q", fhir.ErrTenantNotFound, tenantID)
	}
	dir := filepath.Join(s.dir, tenantID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", fhir.ErrTenantNotFound, tenantID)
	}

	cfg := &fhir.TenantConfig{}
	fc, err := readFileConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	if fc != nil {
		cfg.FilterRules = fhir.FilterRules(fc.SearchParameterFilter)
	}

	data, err := os.ReadFile(filepath.Join(dir, ExtensionsFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", ExtensionsFile, err)
	default:
		params, err := fhir.DecodeSearchParameters(data)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		cfg.SearchParameters = params
	}
	return cfg, nil
}

func readFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &fc, nil
}
