package artifacts

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func b64Content(data []byte) json.RawMessage {
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(data))
	return encoded
}

func TestSaveAllAndList(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.SaveAll("job-1", []Incoming{
		{Name: "overlay.png", Type: "binary", ContentType: "image/png", Content: b64Content([]byte{0x89, 0x50})},
		{Name: "findings.json", Type: "json", Content: json.RawMessage(`{"nodules": 2}`)},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 saved files, got %d", len(saved))
	}

	files, err := s.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 listed files, got %d", len(files))
	}
	if files[0].Name != "findings.json" || files[0].ContentType != "application/json" {
		t.Errorf("unexpected first file: %+v", files[0])
	}
	if files[1].Name != "overlay.png" || files[1].ContentType != "image/png" {
		t.Errorf("unexpected second file: %+v", files[1])
	}
}

func TestSaveAllSkipsUndecodableFile(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.SaveAll("job-1", []Incoming{
		{Name: "bad.bin", Type: "binary", Content: json.RawMessage(`"not!!valid!!base64"`)},
		{Name: "good.json", Type: "json", Content: json.RawMessage(`{"ok": true}`)},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(saved) != 1 || saved[0].Name != "good.json" {
		t.Fatalf("expected only good.json saved, got %+v", saved)
	}
}

func TestSaveAllSkipsEscapingName(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.SaveAll("job-1", []Incoming{
		{Name: "../outside.txt", Type: "binary", Content: b64Content([]byte("x"))},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("expected escaping name to be skipped, got %+v", saved)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("segmentation mask bytes")

	if _, err := s.SaveAll("job-2", []Incoming{
		{Name: "mask.bin", Type: "binary", ContentType: "application/octet-stream", Content: b64Content(payload)},
	}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	rc, contentType, err := s.Open("job-2", "mask.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("content mismatch: %q", got)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("unexpected content type %q", contentType)
	}
}

func TestOpenMissingFile(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Open("job-x", "nope.txt"); err != ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"../etc/passwd", "a/../../b", "", "..", "sub/dir.txt"} {
		if _, err := s.Resolve("job-1", name); err != ErrInvalidName {
			t.Errorf("Resolve(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestSaveAllInlineText(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.SaveAll("job-t", []Incoming{
		{Name: "report.txt", Type: "json", Content: json.RawMessage(`"no acute findings"`)},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(saved) != 1 || saved[0].ContentType != "text/plain" {
		t.Fatalf("unexpected saved files: %+v", saved)
	}

	rc, _, err := s.Open("job-t", "report.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "no acute findings" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveAll("job-3", []Incoming{
		{Name: "r.json", Type: "json", Content: json.RawMessage(`{"a":1}`)},
	}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	if err := s.DeleteJob("job-3"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	files, err := s.List("job-3")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files after delete, got %+v", files)
	}

	// Deleting again is a no-op.
	if err := s.DeleteJob("job-3"); err != nil {
		t.Fatalf("second DeleteJob: %v", err)
	}
}
