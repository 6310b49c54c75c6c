package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/objectstore"
)

type fakeObject struct {
	data         []byte
	contentType  string
	cacheControl string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	// uploadFailures maps a key substring to the error returned for it.
	uploadFailures map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]fakeObject)}
}

func (s *fakeStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = fakeObject{data: data}
}

func (s *fakeStore) get(key string) (fakeObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

func (s *fakeStore) has(key string) bool {
	_, ok := s.get(key)
	return ok
}

func (s *fakeStore) keysWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *fakeStore) Bucket() string { return "media" }

func (s *fakeStore) Head(_ context.Context, key string) (objectstore.ObjectInfo, error) {
	obj, ok := s.get(key)
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("no such key %q", key)
	}
	return objectstore.ObjectInfo{Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (s *fakeStore) GetRange(_ context.Context, key string, start, end int64) ([]byte, error) {
	obj, ok := s.get(key)
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	if end >= int64(len(obj.data)) {
		end = int64(len(obj.data)) - 1
	}
	if start > end {
		return nil, nil
	}
	return obj.data[start : end+1], nil
}

func (s *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, ok := s.get(key)
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return obj.data, nil
}

func (s *fakeStore) DownloadFile(ctx context.Context, key, path string) error {
	data, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (s *fakeStore) Upload(_ context.Context, key, contentType, cacheControl string, body io.Reader) error {
	s.mu.Lock()
	failures := s.uploadFailures
	s.mu.Unlock()
	for substring, err := range failures {
		if strings.Contains(key, substring) {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = fakeObject{data: data, contentType: contentType, cacheControl: cacheControl}
	return nil
}

func (s *fakeStore) UploadFile(ctx context.Context, key, contentType, cacheControl, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.Upload(ctx, key, contentType, cacheControl, file)
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakeProber struct {
	mu    sync.Mutex
	meta  Metadata
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context, string) (Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return Metadata{}, p.err
	}
	return p.meta, nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeRunner stands in for the external tools, materialising the output
// files their real counterparts would write.
type fakeRunner struct {
	mu       sync.Mutex
	commands [][]string
	// failures maps an argument substring to the error returned when a
	// command contains it.
	failures map[string]error
	// pcm is written as the waveform extraction output.
	pcm []byte
	// pdfInfoOut is returned by RunOutput.
	pdfInfoOut []byte
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	r.commands = append(r.commands, append([]string{name}, args...))
	failures := r.failures
	pcm := r.pcm
	r.mu.Unlock()

	joined := strings.Join(args, " ")
	for substring, err := range failures {
		if strings.Contains(joined, substring) {
			return err
		}
	}

	switch {
	case strings.Contains(joined, "-hls_segment_filename"):
		var pattern, playlist string
		for i, arg := range args {
			if arg == "-hls_segment_filename" && i+1 < len(args) {
				pattern = args[i+1]
			}
		}
		playlist = args[len(args)-1]
		dir := filepath.Dir(pattern)
		for i := 0; i < 2; i++ {
			name := fmt.Sprintf("seg_%03d.ts", i)
			if err := os.WriteFile(filepath.Join(dir, name), []byte("segment"), 0o644); err != nil {
				return err
			}
		}
		return os.WriteFile(playlist, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644)
	case strings.Contains(joined, "-vframes"):
		return os.WriteFile(args[len(args)-1], []byte("jpeg"), 0o644)
	case strings.Contains(joined, "-movflags"):
		return os.WriteFile(args[len(args)-1], []byte("m4a"), 0o644)
	case strings.Contains(joined, "s16le"):
		return os.WriteFile(args[len(args)-1], pcm, 0o644)
	case name != "" && strings.Contains(name, "pdftoppm"):
		return os.WriteFile(args[len(args)-1]+".jpg", []byte("jpeg"), 0o644)
	}
	return nil
}

func (r *fakeRunner) RunOutput(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, append([]string{name}, args...))
	return r.pdfInfoOut, nil
}

func (r *fakeRunner) commandsContaining(substring string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, command := range r.commands {
		if strings.Contains(strings.Join(command, " "), substring) {
			count++
		}
	}
	return count
}

type fakeNotifier struct {
	mu       sync.Mutex
	playable []string
	results  []models.Asset
	progress []float64
}

func (n *fakeNotifier) Progress(_ context.Context, _ models.Asset, percent float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, percent)
}

func (n *fakeNotifier) Playable(_ context.Context, _ models.Asset, masterKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playable = append(n.playable, masterKey)
}

func (n *fakeNotifier) Result(_ context.Context, asset models.Asset) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, asset)
}

func (n *fakeNotifier) playableCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.playable)
}

func (n *fakeNotifier) lastResult() (models.Asset, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.results) == 0 {
		return models.Asset{}, false
	}
	return n.results[len(n.results)-1], true
}
