package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"

	"github.com/synapseshield/shield/internal/domain"
)

// exerciseStore runs the behaviour every ArtifactStore must share.
func exerciseStore(t *testing.T, s domain.ArtifactStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "model.gob"); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrArtifactNotFound", err)
	}
	ok, err := s.Exists(ctx, "model.gob")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := s.Put(ctx, "scaler.json", []byte(`{"min":[0]}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "scaler.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"min":[0]}` {
		t.Errorf("Get = %q, want %q", got, `{"min":[0]}`)
	}

	err = s.PutAll(ctx, map[string][]byte{
		"scaler.json": []byte("v2-scaler"),
		"model.gob":   []byte("v2-model"),
	})
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	for k, want := range map[string]string{"scaler.json": "v2-scaler", "model.gob": "v2-model"} {
		got, err := s.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if string(got) != want {
			t.Errorf("Get(%s) = %q, want %q", k, got, want)
		}
	}

	// Single put leaves the other artifact alone
	if err := s.Put(ctx, "model.gob", []byte("v3-model")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, _ := s.Get(ctx, "scaler.json"); string(got) != "v2-scaler" {
		t.Errorf("scaler after model put = %q, want v2-scaler", got)
	}

	if err := s.Delete(ctx, "model.gob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "model.gob"); ok {
		t.Error("model.gob still exists after Delete")
	}
	if err := s.Delete(ctx, "model.gob"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
	if ok, _ := s.Exists(ctx, "scaler.json"); !ok {
		t.Error("scaler.json lost after deleting model.gob")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	s.Put(ctx, "k", buf)
	buf[0] = 'z'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}
	got[1] = 'z'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStore_SingleGenerationOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.PutAll(ctx, map[string][]byte{"a": {byte(i)}, "b": {byte(i)}}); err != nil {
			t.Fatalf("PutAll #%d: %v", i, err)
		}
	}

	entries, _ := os.ReadDir(dir)
	var gens []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "gen-") {
			gens = append(gens, e.Name())
		}
	}
	if len(gens) != 1 {
		t.Fatalf("generations on disk = %v, want exactly 1", gens)
	}
	cur, _ := os.ReadFile(filepath.Join(dir, currentFile))
	if string(cur) != gens[0] {
		t.Errorf("CURRENT = %q, want %q", cur, gens[0])
	}
}

func TestFileStore_ReopenSeesArtifacts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s1, _ := NewFileStore(dir)
	s1.Put(ctx, "scaler.json", []byte("persisted"))

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := s2.Get(ctx, "scaler.json")
	if err != nil || string(got) != "persisted" {
		t.Errorf("Get after reopen = %q, %v; want persisted", got, err)
	}
}

func TestFileStore_CancelledPutAllKeepsPrevious(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	s.PutAll(context.Background(), map[string][]byte{"a": []byte("old")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.PutAll(ctx, map[string][]byte{"a": []byte("new")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PutAll(cancelled) error = %v, want context.Canceled", err)
	}
	got, _ := s.Get(context.Background(), "a")
	if string(got) != "old" {
		t.Errorf("a = %q, want old", got)
	}
}

func TestFileStore_ConcurrentGetDuringPutAll(t *testing.T) {
	dir := t.TempDir()
	writer, _ := NewFileStore(dir)
	// A second store on the same directory stands in for another process.
	other, _ := NewFileStore(dir)
	ctx := context.Background()
	writer.PutAll(ctx, map[string][]byte{"scaler.json": []byte("0"), "model.gob": []byte("0")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 150; i++ {
			v := []byte(strconv.Itoa(i))
			if err := writer.PutAll(ctx, map[string][]byte{"scaler.json": v, "model.gob": v}); err != nil {
				t.Errorf("PutAll #%d: %v", i, err)
				return
			}
		}
	}()

	reads := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		for _, s := range []*FileStore{writer, other} {
			if _, err := s.Get(ctx, "scaler.json"); err != nil {
				t.Fatalf("Get after %d reads: %v", reads, err)
			}
			reads++
		}
	}
}

func TestFileStore_RejectsUnsafeKeys(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "a/b", "/abs", "..", "./x"} {
		if err := s.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
		if _, err := s.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) succeeded, want error", key)
		}
	}
}

func TestCompressed(t *testing.T) {
	exerciseStore(t, NewCompressed(NewMemoryStore()))
}

func TestCompressed_StoresSnappy(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	c := NewCompressed(inner)

	payload := bytes.Repeat([]byte("weights"), 200)
	if err := c.Put(ctx, "model.gob", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, _ := inner.Get(ctx, "model.gob")
	if len(raw) >= len(payload) {
		t.Errorf("stored %d bytes for %d-byte payload, want compression", len(raw), len(payload))
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil || !bytes.Equal(decoded, payload) {
		t.Errorf("inner value is not snappy(payload): %v", err)
	}
}

func TestCompressed_CorruptBody(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	inner.Put(ctx, "model.gob", []byte{0xff, 0xff, 0xff, 0xff, 0xff})

	if _, err := NewCompressed(inner).Get(ctx, "model.gob"); err == nil {
		t.Error("Get(corrupt) succeeded, want error")
	}
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("NewS3Store(no bucket) error = %v, want ErrConfig", err)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("NewRedisStore(no addr) error = %v, want ErrConfig", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("NewRedisStore(unreachable) succeeded, want error")
	}
}
