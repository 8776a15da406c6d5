package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func ids(files []LocalFile) string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return strings.Join(out, ",")
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	writeFile(t, file, "hello")

	t.Run("regular file", func(t *testing.T) {
		abs, info, err := Resolve(file)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if abs != file || info.IsDir() || info.Size() != 5 {
			t.Errorf("Resolve() = %s, %+v", abs, info)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, info, err := Resolve(dir)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("symlink rejected", func(t *testing.T) {
		link := filepath.Join(dir, "link")
		if err := os.Symlink(file, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		if _, _, err := Resolve(link); err == nil {
			t.Error("expected error for symlink")
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, _, err := Resolve(filepath.Join(dir, "nope")); err == nil {
			t.Error("expected error for missing path")
		}
	})
}

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "bb")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "debug.log"), "log")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "guide")
	writeFile(t, filepath.Join(root, "build", "out.bin"), "bin")
	writeFile(t, filepath.Join(root, IgnoreFileName), "*.log\nbuild\n")

	ignore, err := LoadIgnore(root)
	if err != nil {
		t.Fatalf("LoadIgnore() error = %v", err)
	}

	tests := []struct {
		name      string
		recursive bool
		ignore    *IgnoreMatcher
		want      string
	}{
		{name: "flat with ignore file", recursive: false, ignore: ignore, want: "a.txt,b.txt"},
		{name: "recursive with ignore file", recursive: true, ignore: ignore, want: "a.txt,b.txt,docs/guide.md"},
		{name: "flat without matcher", recursive: false, ignore: nil, want: ".filedropignore,a.txt,b.txt,debug.log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := FindFiles(root, tt.recursive, tt.ignore)
			if err != nil {
				t.Fatalf("FindFiles() error = %v", err)
			}
			if got := ids(files); got != tt.want {
				t.Errorf("FindFiles() = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("records size and path", func(t *testing.T) {
		files, err := FindFiles(root, false, ignore)
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		if files[1].Size != 2 || files[1].Path != filepath.Join(root, "b.txt") {
			t.Errorf("files[1] = %+v", files[1])
		}
	})

	t.Run("rejects a file root", func(t *testing.T) {
		if _, err := FindFiles(filepath.Join(root, "a.txt"), false, nil); err == nil {
			t.Error("expected error for non-directory root")
		}
	})
}
