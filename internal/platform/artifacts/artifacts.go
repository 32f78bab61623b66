// Package artifacts stores result files produced by the inference service.
// Files are grouped per job under a root directory and delivered back to
// clients through the job file endpoints.
package artifacts

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrFileNotFound = errors.New("artifact not found")
	ErrInvalidName  = errors.New("invalid artifact name")
)

const metaFileName = ".meta.json"

// Incoming is one result file as carried in a completion callback. Type
// selects the decoding: "binary" content is a base64 string, "json"
// content is either an inline document or a string of text.
type Incoming struct {
	Name        string          `json:"name"`
	Type        string          `json:"type,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Content     json.RawMessage `json:"content"`
}

// File describes a stored artifact.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store persists artifacts on the local filesystem, one directory per job.
// A small metadata file per job records content types.
type Store struct {
	root   string
	logger zerolog.Logger

	mu sync.Mutex // serializes metadata read-modify-write per store
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(root string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// SaveAll decodes and stores the given files for a job. A file that cannot
// be decoded or written is logged and skipped; the remaining files are
// still stored. The stored files are returned.
func (s *Store) SaveAll(jobID string, files []Incoming) ([]File, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	saved := make([]File, 0, len(files))
	types := make(map[string]string)
	for _, f := range files {
		name, err := sanitizeName(f.Name)
		if err != nil {
			s.logger.Warn().Str("job_id", jobID).Str("file", f.Name).Msg("artifacts: skipping file with invalid name")
			continue
		}
		data, contentType, err := decodeContent(f)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Str("file", name).Msg("artifacts: skipping undecodable file")
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Str("file", name).Msg("artifacts: failed to write file")
			continue
		}
		saved = append(saved, File{Name: name, ContentType: contentType, Size: int64(len(data))})
		types[name] = contentType
	}

	if len(types) > 0 {
		if err := s.mergeMeta(dir, types); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("artifacts: failed to write metadata")
		}
	}
	return saved, nil
}

// List returns the stored artifacts for a job, sorted by name. A job with
// no artifacts yields an empty list.
func (s *Store) List(jobID string) ([]File, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job dir: %w", err)
	}

	types, _ := s.readMeta(dir)
	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == metaFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name:        entry.Name(),
			ContentType: contentTypeFor(entry.Name(), types),
			Size:        info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open returns a reader over one artifact plus its content type.
func (s *Store) Open(jobID, name string) (io.ReadCloser, string, error) {
	path, err := s.Resolve(jobID, name)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrFileNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open artifact: %w", err)
	}

	dir := filepath.Dir(path)
	types, _ := s.readMeta(dir)
	return f, contentTypeFor(name, types), nil
}

// Resolve returns the on-disk path of an artifact. Names that would escape
// the job directory are rejected.
func (s *Store) Resolve(jobID, name string) (string, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return "", err
	}
	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, clean)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidName
	}
	return path, nil
}

// DeleteJob removes every artifact for a job. Deleting a job with no
// artifacts is a no-op.
func (s *Store) DeleteJob(jobID string) error {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Store) jobDir(jobID string) (string, error) {
	clean, err := sanitizeName(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, clean), nil
}

func sanitizeName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	if filepath.Base(name) != name {
		return "", ErrInvalidName
	}
	return name, nil
}

// decodeContent turns callback content into bytes according to the file's
// declared type.
func decodeContent(f Incoming) ([]byte, string, error) {
	trimmed := strings.TrimSpace(string(f.Content))
	if trimmed == "" {
		return nil, "", errors.New("empty content")
	}

	switch f.Type {
	case "binary", "binary-encoded":
		var encoded string
		if err := json.Unmarshal(f.Content, &encoded); err != nil {
			return nil, "", fmt.Errorf("decode content string: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64: %w", err)
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return data, contentType, nil

	case "json", "":
		// A string value is inline text; anything else is a document
		// stored verbatim.
		if strings.HasPrefix(trimmed, `"`) {
			var text string
			if err := json.Unmarshal(f.Content, &text); err != nil {
				return nil, "", fmt.Errorf("decode content string: %w", err)
			}
			contentType := f.ContentType
			if contentType == "" {
				contentType = "text/plain"
			}
			return []byte(text), contentType, nil
		}
		if !json.Valid(f.Content) {
			return nil, "", errors.New("content is not valid json")
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		return []byte(trimmed), contentType, nil

	default:
		return nil, "", fmt.Errorf("unknown content type %q", f.Type)
	}
}

func contentTypeFor(name string, types map[string]string) string {
	if ct, ok := types[name]; ok && ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Store) readMeta(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return map[string]string{}, err
	}
	types := map[string]string{}
	if err := json.Unmarshal(data, &types); err != nil {
		return map[string]string{}, err
	}
	return types, nil
}

func (s *Store) mergeMeta(dir string, types map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.readMeta(dir)
	for name, ct := range types {
		existing[name] = ct
	}
	data, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644)
}
