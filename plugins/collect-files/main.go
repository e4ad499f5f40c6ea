// Command collect-files turns the files of one directory into instances.
// The directory comes from the context's "root" key, then VESSEL_COLLECT_ROOT.
// Each instance's family is the file extension.
//
//	go build -o plugins/collect-files/collect-files ./plugins/collect-files
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/protocol"
)

const rootEnv = "VESSEL_COLLECT_ROOT"

func main() {
	resp := handle()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle() engine.Response {
	var req engine.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Command != engine.CommandProcess {
		return errResp(fmt.Sprintf("unknown command: %s", req.Command))
	}
	root := resolveRoot(req.Context.Data)
	if root == "" {
		return errResp(fmt.Sprintf("no root: set context data \"root\" or %s", rootEnv))
	}
	return collect(root, req.Context.Instances)
}

func resolveRoot(data map[string]any) string {
	if s, ok := data["root"].(string); ok && s != "" {
		return s
	}
	return os.Getenv(rootEnv)
}

// collect lists root non-recursively, skipping dotfiles and names that are
// already instances so a second reset does not duplicate them.
func collect(root string, existing []protocol.Instance) engine.Response {
	entries, err := os.ReadDir(root)
	if err != nil {
		return errResp(fmt.Sprintf("read %s: %v", root, err))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return errResp(fmt.Sprintf("resolve %s: %v", root, err))
	}

	known := make(map[string]bool, len(existing))
	for _, inst := range existing {
		known[inst.Name] = true
	}

	var found []engine.NewInstance
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := filepath.Ext(e.Name())
		name := strings.TrimSuffix(e.Name(), ext)
		if known[name] {
			continue
		}
		family := strings.TrimPrefix(ext, ".")
		if family == "" {
			family = "file"
		}
		found = append(found, engine.NewInstance{
			Name: name,
			Data: map[string]any{
				"family": family,
				"label":  e.Name(),
				"path":   filepath.Join(abs, e.Name()),
			},
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	return engine.Response{
		Status:      "ok",
		Instances:   found,
		ContextData: map[string]any{"root": abs},
		Logs: []engine.LogEntry{
			{Level: "info", Message: fmt.Sprintf("collected %d files from %s", len(found), abs)},
		},
	}
}

func errResp(message string) engine.Response {
	return engine.Response{
		Status: "error",
		Error:  message,
		Logs:   []engine.LogEntry{{Level: "error", Message: message}},
	}
}
