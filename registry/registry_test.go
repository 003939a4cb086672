package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeResource(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(`{"jurisdiction_code":"X"}`), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// TestNormalizeCode verifies trimming and uppercasing
func TestNormalizeCode(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"il", "IL"},
		{"  ca ", "CA"},
		{"\tNy\n", "NY"},
		{"", ""},
		{"   ", ""},
		{"ga-film", "GA-FILM"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			if got := NormalizeCode(tc.in); got != tc.want {
				t.Errorf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestNormalizeCodeIdempotent verifies normalizing twice changes nothing
func TestNormalizeCodeIdempotent(t *testing.T) {
	inputs := []string{"il", " Ca ", "", "  ", "ÿx", "Straße", "a b"}
	for _, in := range inputs {
		once := NormalizeCode(in)
		if twice := NormalizeCode(once); twice != once {
			t.Errorf("NormalizeCode not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

// TestResourceName verifies the canonical naming convention
func TestResourceName(t *testing.T) {
	if got := ResourceName(" il "); got != "IL.json" {
		t.Errorf("ResourceName() = %q, want IL.json", got)
	}
}

// TestResolveRoot verifies default, absolute and relative overrides
func TestResolveRoot(t *testing.T) {
	install := filepath.Join("opt", "incentives")

	if got := ResolveRoot(install, ""); got != filepath.Join(install, "rules") {
		t.Errorf("default root = %q", got)
	}

	abs := filepath.Join(t.TempDir(), "custom")
	if got := ResolveRoot(install, abs); got != abs {
		t.Errorf("absolute override = %q, want %q", got, abs)
	}

	if got := ResolveRoot(install, "conf/rules"); got != filepath.Join(install, "conf", "rules") {
		t.Errorf("relative override = %q", got)
	}
}

// TestFromEnv verifies the environment override is honored
func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(RootEnvVar, dir)

	reg := FromEnv("/does/not/matter")
	if reg.Root() != dir {
		t.Errorf("Root() = %q, want %q", reg.Root(), dir)
	}
}

// TestFindResource verifies lookups are case-insensitive and misses are not errors
func TestFindResource(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "IL.json")
	reg := New(dir)

	res, ok := reg.FindResource(" il ")
	if !ok {
		t.Fatal("FindResource(il) should find IL.json")
	}
	if res.Code != "IL" {
		t.Errorf("Code = %q, want IL", res.Code)
	}
	if res.Path != filepath.Join(dir, "IL.json") {
		t.Errorf("Path = %q", res.Path)
	}

	if _, ok := reg.FindResource("ZZ"); ok {
		t.Error("FindResource(ZZ) should report a miss")
	}
	if _, ok := reg.FindResource("   "); ok {
		t.Error("FindResource of blank code should report a miss")
	}
}

// TestFindResourceIgnoresDirectories verifies a directory named like a resource is not a hit
func TestFindResourceIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "CA.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, ok := New(dir).FindResource("CA"); ok {
		t.Error("directory should not resolve as a rule resource")
	}
}

// TestGetResourceNotFound verifies the error names the code and the searched root
func TestGetResourceNotFound(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "IL.json")
	reg := New(dir)

	_, err := reg.GetResource("zz")
	if err == nil {
		t.Fatal("GetResource(zz) should fail")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error should match ErrNotFound, got %v", err)
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error should be *NotFoundError, got %T", err)
	}
	if nf.Code != "ZZ" {
		t.Errorf("Code = %q, want ZZ", nf.Code)
	}
	if !strings.Contains(err.Error(), "ZZ") || !strings.Contains(err.Error(), dir) {
		t.Errorf("message should include code and root, got %q", err.Error())
	}
}

// TestGetResourceRead verifies the handle reads the document
func TestGetResourceRead(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "IL.json")

	res, err := New(dir).GetResource("IL")
	if err != nil {
		t.Fatalf("GetResource() failed: %v", err)
	}
	data, err := res.Read()
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !strings.Contains(string(data), "jurisdiction_code") {
		t.Errorf("unexpected content %q", data)
	}
}

// TestListAvailableCodes verifies only canonical resources are listed
func TestListAvailableCodes(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "IL.json")
	writeResource(t, dir, "ca.json")
	writeResource(t, dir, "NY.yaml")
	writeResource(t, dir, ".json")
	if err := os.Mkdir(filepath.Join(dir, "GA.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	codes, err := New(dir).ListAvailableCodes()
	if err != nil {
		t.Fatalf("ListAvailableCodes() failed: %v", err)
	}

	want := []string{"CA", "IL"}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("codes = %v, want %v", codes, want)
	}
}

// TestListAvailableCodesMissingRoot verifies a missing root is an empty set
func TestListAvailableCodesMissingRoot(t *testing.T) {
	codes, err := New(filepath.Join(t.TempDir(), "missing")).ListAvailableCodes()
	if err != nil {
		t.Fatalf("missing root should not be an error: %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("codes = %v, want empty", codes)
	}
}

// TestEnsureRootExists verifies the root is created and the call is idempotent
func TestEnsureRootExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "rules")
	reg := New(root)

	for i := 0; i < 2; i++ {
		res, err := reg.EnsureRootExists()
		if err != nil {
			t.Fatalf("EnsureRootExists() call %d failed: %v", i+1, err)
		}
		if res.Path != root {
			t.Errorf("Path = %q, want %q", res.Path, root)
		}
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("root should be a directory: %v", err)
	}
}
