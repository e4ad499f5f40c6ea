package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/vessel/internal/protocol"
)

func TestCollectListsFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"hero_rig.ma", "README", ".hidden"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	resp := collect(root, nil)
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok (error=%s)", resp.Status, resp.Error)
	}
	if len(resp.Instances) != 2 {
		t.Fatalf("instances = %d, want 2: %+v", len(resp.Instances), resp.Instances)
	}
	if got := resp.Instances[0]; got.Name != "README" || got.Data["family"] != "file" {
		t.Fatalf("unexpected first instance: %+v", got)
	}
	if got := resp.Instances[1]; got.Name != "hero_rig" || got.Data["family"] != "ma" || got.Data["label"] != "hero_rig.ma" {
		t.Fatalf("unexpected second instance: %+v", got)
	}
}

func TestCollectSkipsKnownInstances(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hero_rig.ma"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := collect(root, []protocol.Instance{{Name: "hero_rig"}})
	if resp.Status != "ok" || len(resp.Instances) != 0 {
		t.Fatalf("expected nothing new, got %+v", resp)
	}
}

func TestCollectMissingRoot(t *testing.T) {
	resp := collect(filepath.Join(t.TempDir(), "missing"), nil)
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}

func TestResolveRootPrefersContext(t *testing.T) {
	t.Setenv(rootEnv, "/from/env")
	if got := resolveRoot(map[string]any{"root": "/from/context"}); got != "/from/context" {
		t.Fatalf("resolveRoot = %q", got)
	}
	if got := resolveRoot(map[string]any{}); got != "/from/env" {
		t.Fatalf("resolveRoot = %q", got)
	}
}
