package xenocanto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"XC123-Pinson des arbres.mp3", "XC123-Pinson des arbres.mp3"},
		{"XC9-Fauvette à tête noire.mp3", "XC9-Fauvette a tete noire.mp3"},
		{"a/b?c.mp3", "a_b_c.mp3"},
		{`dir\name.wav`, "dir_name.wav"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTargetPathHasNoUnsafeCharacters(t *testing.T) {
	root := "recordings"
	r := Recording{Gen: "Sterna", Sp: "hirundo", Q: "A", FileName: "XC77?download=1/part.mp3"}
	path := TargetPath(root, r)

	rel, err := filepath.Rel(root, path)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 {
		t.Fatalf("relative path %q should be <species>/<file>", rel)
	}
	if parts[0] != "Sterna_hirundo" {
		t.Errorf("species dir = %q, want %q", parts[0], "Sterna_hirundo")
	}
	if strings.ContainsAny(parts[1], "/?") {
		t.Errorf("file name %q contains / or ?", parts[1])
	}
	if parts[1] != "A_XC77_download=1_part.mp3" {
		t.Errorf("file name = %q", parts[1])
	}
}

func TestSpeciesDir(t *testing.T) {
	if got := SpeciesDir("Fringilla  coelebs"); got != "Fringilla_coelebs" {
		t.Errorf("SpeciesDir() = %q, want %q", got, "Fringilla_coelebs")
	}
}
