package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RichardoC/labassist/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		mimeType string
		name     string
		want     models.Category
		ok       bool
	}{
		{"text/plain", "lab_safety_local.txt", models.CategoryProtocol, true},
		{"text/plain; charset=utf-8", "notes", models.CategoryProtocol, true},
		{"application/pdf", "vendor_manual.pdf", models.CategoryManual, true},
		{"video/mp4", "training.mp4", models.CategoryVideo, true},
		{"", "fallback.PDF", models.CategoryManual, true},
		{"application/octet-stream", "clip.mp4", models.CategoryVideo, true},
		{"image/png", "scan.png", "", false},
		{"image/png", "renamed.txt", "", false},
		{"", "archive.zip", "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.mimeType, tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Classify(%q, %q) = (%q, %v), want (%q, %v)", tt.mimeType, tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIngest_EncodesContent(t *testing.T) {
	content := []byte("Centrifuge: balance tubes before every run.")
	f, err := Ingest(Descriptor{
		Name:     "lab_safety_local.txt",
		MimeType: "text/plain",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID == "" {
		t.Error("ID is empty")
	}
	if f.Category != models.CategoryProtocol {
		t.Errorf("Category = %q, want %q", f.Category, models.CategoryProtocol)
	}
	if f.MimeType != "text/plain" {
		t.Errorf("MimeType = %q, want text/plain", f.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(f.Payload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Errorf("decoded payload = %q, want %q", decoded, content)
	}
}

func TestIngest_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		f, err := Ingest(Descriptor{Name: "a.txt", MimeType: "text/plain", Size: 1, Content: strings.NewReader("x")}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[f.ID] {
			t.Fatalf("duplicate ID %q", f.ID)
		}
		seen[f.ID] = true
	}
}

func TestIngest_ExtensionFallbackUsesCanonicalType(t *testing.T) {
	f, err := Ingest(Descriptor{Name: "manual.pdf", Size: 4, Content: strings.NewReader("%PDF")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q, want application/pdf", f.MimeType)
	}
}

func TestIngest_EmptyFile(t *testing.T) {
	_, err := Ingest(Descriptor{Name: "empty.txt", MimeType: "text/plain", Size: 0, Content: strings.NewReader("")}, nil)
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("err = %v, want ErrEmptyFile", err)
	}
}

func TestIngest_UnsupportedType(t *testing.T) {
	_, err := Ingest(Descriptor{Name: "photo.jpg", MimeType: "image/jpeg", Size: 10, Content: strings.NewReader("0123456789")}, nil)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestIngest_ReadFailure(t *testing.T) {
	_, err := Ingest(Descriptor{Name: "a.pdf", MimeType: "application/pdf", Size: 10, Content: failingReader{}}, nil)
	if !errors.Is(err, ErrReadFailure) {
		t.Fatalf("err = %v, want ErrReadFailure", err)
	}
	if !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("err = %q, want cause included", err)
	}
}

func TestIngest_LargeFileConfirmation(t *testing.T) {
	big := int64(LargeFileThreshold + 1)

	var asked string
	_, err := Ingest(Descriptor{Name: "long.mp4", MimeType: "video/mp4", Size: big, Content: failingReader{}},
		func(name string, size int64) bool {
			asked = name
			return false
		})
	if !errors.Is(err, ErrDeclined) {
		t.Errorf("err = %v, want ErrDeclined", err)
	}
	if asked != "long.mp4" {
		t.Errorf("confirm asked for %q, want long.mp4", asked)
	}

	if _, err := Ingest(Descriptor{Name: "long.mp4", MimeType: "video/mp4", Size: big, Content: strings.NewReader("x")}, nil); !errors.Is(err, ErrDeclined) {
		t.Errorf("nil confirmer: err = %v, want ErrDeclined", err)
	}

	f, err := Ingest(Descriptor{Name: "long.mp4", MimeType: "video/mp4", Size: big, Content: strings.NewReader("x")},
		func(string, int64) bool { return true })
	if err != nil {
		t.Fatalf("confirmed: unexpected error: %v", err)
	}
	if f.Category != models.CategoryVideo {
		t.Errorf("Category = %q, want %q", f.Category, models.CategoryVideo)
	}
}

func TestIngest_ThresholdIsExclusive(t *testing.T) {
	called := false
	_, err := Ingest(Descriptor{Name: "edge.txt", MimeType: "text/plain", Size: LargeFileThreshold, Content: strings.NewReader("x")},
		func(string, int64) bool {
			called = true
			return false
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("confirm called at exactly the threshold")
	}
}

func TestNotice(t *testing.T) {
	if got := Notice(ErrEmptyFile); !strings.Contains(got, "0 bytes") {
		t.Errorf("Notice(ErrEmptyFile) = %q", got)
	}
	if got := Notice(ErrUnsupportedType); !strings.Contains(got, "MP4") {
		t.Errorf("Notice(ErrUnsupportedType) = %q", got)
	}
	if got := Notice(errors.New("other")); got != "Failed to read file." {
		t.Errorf("Notice(other) = %q", got)
	}
}

func TestDeclaredType(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"centrifuge_log.txt", "date,rpm,operator\n2024-01-02,3000,AB\n2024-01-09,3000,CD\n", "text/plain"},
		{"sop.txt", "<html><body><p>Wear goggles.</p></body></html>", "text/plain"},
		{"settings.txt", `{"rpm": 3000, "minutes": 10}`, "text/plain"},
		{"MANUAL.PDF", "not really a pdf", "application/pdf"},
		{"training.mp4", "not really a video", "video/mp4"},
		{"notes", "%PDF-1.4\n%\xe2\xe3\xcf\xd3\n", "application/pdf"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.name)
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		got, err := DeclaredType(path)
		if err != nil {
			t.Fatalf("DeclaredType(%q): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("DeclaredType(%q) = %q, want %q", tt.name, got, tt.want)
		}
		if _, ok := Classify(got, tt.name); !ok {
			t.Errorf("Classify(%q, %q) rejected a declared type", got, tt.name)
		}
	}
}
