package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lizardfs/lizardfs-sub006/build"
)

type jsonTestStruct struct {
	One   string
	Two   uint64
	Three []byte
}

// TestSaveLoadJSON creates a simple object and then tries saving and loading
// it.
func TestSaveLoadJSON(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	dir := filepath.Join(build.TempDir(persistDir), t.Name())
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		t.Fatal(err)
	}

	testMeta := Metadata{"Test Struct", "v1.2.1"}
	obj1 := jsonTestStruct{"dog", 25, []byte("more dog")}
	obj1Filename := filepath.Join(dir, "obj1.json")
	if err := SaveJSON(testMeta, obj1, obj1Filename); err != nil {
		t.Fatal(err)
	}
	var obj2 jsonTestStruct

	if err := LoadJSON(testMeta, &obj2, obj1Filename); err != nil {
		t.Fatal(err)
	}
	checkJSONEquiv(t, obj1, obj2)

	// Loading the temp file directly is refused.
	if err := LoadJSON(testMeta, &obj2, obj1Filename+tempSuffix); err != ErrBadFilenameSuffix {
		t.Error("did not get bad filename suffix")
	}

	// Saving the object many times concurrently should never corrupt the
	// final, committed file.
	var wg sync.WaitGroup
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SaveJSON(testMeta, obj1, obj1Filename)
		}()
	}
	wg.Wait()

	if err := LoadJSON(testMeta, &obj2, obj1Filename); err != nil {
		t.Fatal(err)
	}
	checkJSONEquiv(t, obj1, obj2)
}

// TestLoadJSONCorruptedMain checks that LoadJSON rejects a main file whose
// bytes have been corrupted after saving, and that it rejects a completely
// wrong Metadata.
func TestLoadJSONCorruptedMain(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	dir := filepath.Join(build.TempDir(persistDir), t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}

	testMeta := Metadata{"Test Struct", "v1.2.1"}
	obj1 := jsonTestStruct{"dog", 25, []byte("more dog")}
	filename := filepath.Join(dir, "obj.json")
	if err := SaveJSON(testMeta, obj1, filename); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := append(bytes.Clone(raw), '!', '!', '!')
	if err := os.WriteFile(filename, corrupted, 0600); err != nil {
		t.Fatal(err)
	}

	var obj2 jsonTestStruct
	if err := LoadJSON(testMeta, &obj2, filename); err == nil {
		t.Error("expected a load error against a corrupted main file")
	}

	// Wrong metadata is also rejected even with valid bytes.
	if err := os.WriteFile(filename, raw, 0600); err != nil {
		t.Fatal(err)
	}
	wrongMeta := Metadata{"Wrong Header", "v1.2.1"}
	if err := LoadJSON(wrongMeta, &obj2, filename); err == nil {
		t.Error("expected a load error against mismatched metadata")
	}
}

func checkJSONEquiv(t *testing.T, obj1, obj2 jsonTestStruct) {
	t.Helper()
	if obj2.One != obj1.One || obj2.Two != obj1.Two || !bytes.Equal(obj2.Three, obj1.Three) {
		t.Error("persist mismatch")
	}
}
