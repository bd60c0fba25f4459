package test

import (
	"crypto/rand"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
	// Symbols maps the function symbols of the binary to their location.
	Symbols map[string]Symbol
}

// Symbol is the location of a function of a fixture.
type Symbol struct {
	Addr uint64
	Size uint64
}

// Contains returns true if pc is inside the function.
func (s Symbol) Contains(pc uint64) bool {
	return pc >= s.Addr && pc < s.Addr+s.Size
}

// Sym returns the symbol called name, failing the test if it does not
// exist.
func (f Fixture) Sym(t testing.TB, name string) Symbol {
	t.Helper()
	sym, ok := f.Symbols[name]
	if !ok {
		t.Fatalf("fixture %s has no symbol %s", f.Name, name)
	}
	return sym
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)
var fixturesMu sync.Mutex

// FindFixturesDir walks up from the current directory until it finds the
// _fixtures directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// MustSupportNative skips the test unless it runs on linux/amd64.
func MustSupportNative(t testing.TB) {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("native backend not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

func compiler() string {
	if cc := os.Getenv("CC"); cc != "" {
		return cc
	}
	return "cc"
}

// BuildFixture compiles _fixtures/<name>.c without optimizations and with
// frame pointers. The test is skipped if no C compiler is available.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	MustSupportNative(t)
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := Fixtures[name]; ok {
		return f
	}

	cc, err := exec.LookPath(compiler())
	if err != nil {
		t.Skipf("no C compiler: %v", err)
	}

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	source, _ := filepath.Abs(filepath.Join(FindFixturesDir(), name+".c"))
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	cmd := exec.Command(cc, "-O0", "-g", "-fno-omit-frame-pointer", "-no-pie", "-o", tmpfile, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", source, err, out)
	}

	syms, err := readSymbols(tmpfile)
	if err != nil {
		os.Remove(tmpfile)
		t.Fatalf("could not read symbols of %s: %v", tmpfile, err)
	}

	Fixtures[name] = Fixture{Name: name, Path: tmpfile, Source: source, Symbols: syms}
	return Fixtures[name]
}

func readSymbols(path string) (map[string]Symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	elfsyms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	syms := make(map[string]Symbol)
	for _, sym := range elfsyms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 {
			continue
		}
		syms[sym.Name] = Symbol{Addr: sym.Value, Size: sym.Size}
	}
	return syms, nil
}

// RunTestsWithFixtures will run the tests and delete the compiled test
// fixtures before exiting.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	return status
}
