// Command validate-naming checks that instance names are snake_case and can
// repair offenders by recording a corrected name.
//
// Build it next to its manifest before discovery:
//
//	go build -o plugins/validate-naming/validate-naming ./plugins/validate-naming
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// repairedKey holds the corrected name written by repair.
const repairedKey = "repairedName"

var (
	snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	separator = regexp.MustCompile(`[^a-z0-9]+`)
	camelEdge = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

func main() {
	resp := handle()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle() engine.Response {
	var req engine.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Instance == nil {
		return errResp("validate-naming processes instances only")
	}

	switch strings.TrimSpace(req.Command) {
	case engine.CommandProcess:
		return validate(*req.Instance)
	case engine.CommandRepair:
		return repair(*req.Instance)
	default:
		return errResp(fmt.Sprintf("unknown command: %s", req.Command))
	}
}

// effectiveName is the repaired name when one was recorded, else the instance name.
func effectiveName(inst protocol.Instance) string {
	if s, ok := inst.Data[repairedKey].(string); ok && s != "" {
		return s
	}
	return inst.Name
}

func validate(inst protocol.Instance) engine.Response {
	name := effectiveName(inst)
	if !snakeCase.MatchString(name) {
		msg := fmt.Sprintf("name %q is not snake_case", name)
		return engine.Response{
			Status:    "error",
			ErrorInfo: &protocol.ErrorInfo{Message: msg, Func: "validate"},
			Logs:      []engine.LogEntry{errLog(msg)},
		}
	}
	return engine.Response{
		Status: "ok",
		Logs:   []engine.LogEntry{info(fmt.Sprintf("%s is well named", name))},
	}
}

func repair(inst protocol.Instance) engine.Response {
	fixed := toSnakeCase(inst.Name)
	if fixed == "" {
		return errResp(fmt.Sprintf("cannot derive a name from %q", inst.Name))
	}
	return engine.Response{
		Status: "ok",
		Data:   map[string]any{repairedKey: fixed},
		Logs:   []engine.LogEntry{info(fmt.Sprintf("renamed %s to %s", inst.Name, fixed))},
	}
}

// toSnakeCase lowercases name, splits camel case and collapses separators.
// Names that would start with a digit are prefixed with "n_".
func toSnakeCase(name string) string {
	s := camelEdge.ReplaceAllString(name, "${1}_${2}")
	s = separator.ReplaceAllString(strings.ToLower(s), "_")
	s = strings.Trim(s, "_")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "n_" + s
	}
	return s
}

func info(msg string) engine.LogEntry {
	return engine.LogEntry{Level: "info", Message: msg}
}

func errLog(msg string) engine.LogEntry {
	return engine.LogEntry{Level: "error", Message: msg}
}

func errResp(message string) engine.Response {
	return engine.Response{
		Status: "error",
		Error:  message,
		Logs:   []engine.LogEntry{errLog(message)},
	}
}
