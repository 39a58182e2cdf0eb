package state

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestFileStore_EmptyLoads(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession on fresh store: %v", err)
	}
	if sess.Active {
		t.Error("fresh store reports an active session")
	}

	h, err := s.LoadHealth()
	if err != nil {
		t.Fatalf("LoadHealth on fresh store: %v", err)
	}
	if h.Status != "" {
		t.Errorf("fresh health status = %q, want empty", h.Status)
	}
}

func TestFileStore_SessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := Session{Active: true, Identity: "d1", Endpoint: "http://collector:8080"}
	if err := s.SaveSession(want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestFileStore_NamespacesIndependent(t *testing.T) {
	s := newTestStore(t)

	sess := Session{Active: true, Identity: "d1", Endpoint: "e"}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveHealth(Health{Status: "online", LastSuccessEpochMS: 1234}); err != nil {
		t.Fatalf("SaveHealth: %v", err)
	}

	// The health write must not have clobbered the session namespace.
	got, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got != sess {
		t.Errorf("session after health save = %+v, want %+v", got, sess)
	}

	h, err := s.LoadHealth()
	if err != nil {
		t.Fatalf("LoadHealth: %v", err)
	}
	if h.Status != "online" || h.LastSuccessEpochMS != 1234 {
		t.Errorf("health = %+v", h)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.SaveSession(Session{Active: true, Identity: "d1", Endpoint: "e"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// A fresh store over the same path models a process restart.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sess, err := s2.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession after reopen: %v", err)
	}
	if !sess.Active || sess.Identity != "d1" || sess.Endpoint != "e" {
		t.Errorf("session after reopen = %+v", sess)
	}
}

func TestFileStore_FileHasBothNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.SaveSession(Session{Active: true, Identity: "d1", Endpoint: "e"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	text := string(data)
	for _, key := range []string{"session:", "health:", "is_tracking:", "identity:", "endpoint:"} {
		if !strings.Contains(text, key) {
			t.Errorf("state file missing %q:\n%s", key, text)
		}
	}
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.SaveSession(Session{Active: true, Identity: "d1", Endpoint: "e"})
			_ = s.SaveHealth(Health{Status: "online", LastSuccessEpochMS: int64(n)})
		}(i)
	}
	wg.Wait()

	sess, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !sess.Active || sess.Identity != "d1" {
		t.Errorf("session after concurrent saves = %+v", sess)
	}
}

func TestFileStore_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.yaml")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.SaveSession(Session{Active: false}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}
