package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CHATSYNC_HOME", tmpDir)
	if got := BaseDir(); got != tmpDir {
		t.Errorf("BaseDir() = %q, want %q", got, tmpDir)
	}
	if got := DBPath("work"); got != filepath.Join(tmpDir, "sessions", "work", "chatsync.db") {
		t.Errorf("DBPath(work) = %q", got)
	}
}

func TestSessionFiles(t *testing.T) {
	tests := map[string]struct {
		got    string
		suffix string
	}{
		"socket":     {SocketPath("test"), filepath.Join("sessions", "test", "daemon.sock")},
		"lock":       {LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		"credential": {CredentialPath("test"), filepath.Join("sessions", "test", "credential")},
		"log":        {LogPath("test"), filepath.Join("sessions", "test", "logs", "chatsyncd.log")},
	}
	for name, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("%s path = %q, want suffix %s", name, tt.got, tt.suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, dir := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", dir, perm)
		}
	}
}
