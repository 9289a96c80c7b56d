package model

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigErrors flattens a LoadConfig error into one human readable line per
// violated constraint, e.g.
//
//	backend.port: invalid value 0 (out of bound >0) (config.yaml:3:9)
func ConfigErrors(err error) []string {
	if err == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		line := fmt.Sprintf(format, args...)
		if path := normalizePath(e.Path()); path != "" {
			line = path + ": " + line
		}
		if pos := position(e); pos != "" {
			line += " (" + pos + ")"
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

func position(err cueerrors.Error) string {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() != "config.yaml" {
			continue
		}
		return fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
	}
	return ""
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
