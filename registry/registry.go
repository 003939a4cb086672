// Package registry resolves jurisdiction codes to rule resources on disk.
//
// One rule document per jurisdiction lives under a single root directory,
// named <UPPERCASE_CODE>.json. The registry only locates resources; decoding
// them is the rules package's job.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// Extension is the canonical file extension for rule resources.
	Extension = ".json"

	// DefaultDirName is the rules subdirectory of the install root.
	DefaultDirName = "rules"

	// RootEnvVar overrides the rules root. Absolute paths are used as-is,
	// relative paths are resolved against the install root.
	RootEnvVar = "INCENTIVE_RULES_DIR"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("rule resource not found")

// NotFoundError reports a jurisdiction code with no rule resource.
type NotFoundError struct {
	Code string
	Root string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule resource for jurisdiction %q not found under %s", e.Code, e.Root)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Resource is a handle to a rule document.
type Resource struct {
	Code string
	Path string
}

// Read returns the raw document bytes.
func (r Resource) Read() ([]byte, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule resource %s: %w", r.Path, err)
	}
	return data, nil
}

// NormalizeCode trims whitespace and uppercases. Whitespace-only input
// normalizes to the empty string.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResourceName returns the canonical resource name for a code.
func ResourceName(code string) string {
	return NormalizeCode(code) + Extension
}

// ResolveRoot picks the rules root directory. An empty override yields
// <installRoot>/rules.
func ResolveRoot(installRoot, override string) string {
	override = strings.TrimSpace(override)
	if override == "" {
		return filepath.Join(installRoot, DefaultDirName)
	}
	if filepath.IsAbs(override) {
		return filepath.Clean(override)
	}
	return filepath.Join(installRoot, override)
}

// Registry locates rule resources under a root directory.
// It holds no state besides the root and is safe for concurrent use.
type Registry struct {
	root string
}

// New creates a registry rooted at root.
func New(root string) *Registry {
	return &Registry{root: filepath.Clean(root)}
}

// FromEnv creates a registry for installRoot honoring RootEnvVar.
func FromEnv(installRoot string) *Registry {
	return New(ResolveRoot(installRoot, os.Getenv(RootEnvVar)))
}

// Root returns the directory searched for resources.
func (r *Registry) Root() string {
	return r.root
}

// FindResource returns the resource for code if it exists.
// A missing resource is reported with ok == false, never as an error.
func (r *Registry) FindResource(code string) (Resource, bool) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Resource{}, false
	}

	path := filepath.Join(r.root, ResourceName(normalized))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Resource{}, false
	}

	return Resource{Code: normalized, Path: path}, true
}

// GetResource is FindResource that fails with a *NotFoundError.
func (r *Registry) GetResource(code string) (Resource, error) {
	res, ok := r.FindResource(code)
	if !ok {
		return Resource{}, &NotFoundError{Code: NormalizeCode(code), Root: r.root}
	}
	return res, nil
}

// ListAvailableCodes returns the sorted codes of every resource under the
// root. A missing root directory yields an empty list.
func (r *Registry) ListAvailableCodes() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules root %s: %w", r.root, err)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		code := NormalizeCode(strings.TrimSuffix(entry.Name(), Extension))
		if code == "" {
			continue
		}
		seen[code] = struct{}{}
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// EnsureRootExists creates the root directory if needed. Idempotent.
func (r *Registry) EnsureRootExists() (Resource, error) {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return Resource{}, fmt.Errorf("failed to create rules root %s: %w", r.root, err)
	}
	return Resource{Path: r.root}, nil
}
