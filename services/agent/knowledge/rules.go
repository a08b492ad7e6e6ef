// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/modfile"
)

// LanguageRule extracts import and export statements from one language's
// source using lexical patterns. Rules are pluggable: the builder maps
// file extensions to rules and languages without a rule are ignored.
//
// Rules must be pure functions over the source bytes; they run
// concurrently during a build.
type LanguageRule interface {
	// Name is the language label recorded on components.
	Name() string

	// Extensions lists the file extensions (with dot) this rule handles.
	Extensions() []string

	// Imports returns the raw import strings found in src.
	Imports(src []byte) []string

	// Exports returns the exported symbol names found in src.
	Exports(src []byte) []string
}

// DefaultRules returns the built-in rule set: TypeScript/JavaScript,
// Python, and Go. The Go rule resolves the module path from root/go.mod
// when present so first-party imports match component paths.
func DefaultRules(root string) []LanguageRule {
	return []LanguageRule{
		ScriptRule{},
		PythonRule{},
		NewGoRule(root),
	}
}

// ScriptRule handles TypeScript and JavaScript (including JSX/TSX).
type ScriptRule struct{}

var (
	scriptImportRe  = regexp.MustCompile(`(?m)import\s+(?:[\w*{}\s,$]+?\s+from\s+)?['"]([^'"]+)['"]`)
	scriptRequireRe = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	scriptReExport  = regexp.MustCompile(`(?m)export\s+(?:\*|\{[^}]*\})\s+from\s+['"]([^'"]+)['"]`)
	scriptExportRe  = regexp.MustCompile(`(?m)export\s+(?:default\s+)?(?:async\s+)?(?:function|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
)

func (ScriptRule) Name() string { return "typescript" }

func (ScriptRule) Extensions() []string {
	return []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
}

func (ScriptRule) Imports(src []byte) []string {
	out := matchAll(src, scriptImportRe)
	out = append(out, matchAll(src, scriptRequireRe)...)
	out = append(out, matchAll(src, scriptReExport)...)
	return dedupe(out)
}

func (ScriptRule) Exports(src []byte) []string {
	return dedupe(matchAll(src, scriptExportRe))
}

// PythonRule handles Python modules.
type PythonRule struct{}

var (
	pyImportRe = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`)
	pyFromRe   = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import`)
	pyDefRe    = regexp.MustCompile(`(?m)^(?:def|class)\s+(\w+)`)
)

func (PythonRule) Name() string { return "python" }

func (PythonRule) Extensions() []string { return []string{".py"} }

func (PythonRule) Imports(src []byte) []string {
	out := matchAll(src, pyImportRe)
	out = append(out, matchAll(src, pyFromRe)...)
	// Dotted module paths match components by their final segment.
	for i, imp := range out {
		out[i] = strings.ReplaceAll(imp, ".", "/")
	}
	return dedupe(out)
}

func (PythonRule) Exports(src []byte) []string {
	var out []string
	for _, name := range matchAll(src, pyDefRe) {
		if !strings.HasPrefix(name, "_") {
			out = append(out, name)
		}
	}
	return dedupe(out)
}

// GoRule handles Go source. When the scan root carries a go.mod, imports
// under the module path are rewritten to project-relative package paths
// so they resolve against component ids; third-party imports are kept raw
// and simply fail to match anything.
type GoRule struct {
	modulePath string
}

var (
	goImportSingle = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"([^"]+)"`)
	goImportBlock  = regexp.MustCompile(`(?s)import\s*\(([^)]*)\)`)
	goQuoted       = regexp.MustCompile(`"([^"]+)"`)
	goExportRe     = regexp.MustCompile(`(?m)^(?:func\s+(?:\([^)]*\)\s*)?|type\s+|var\s+|const\s+)([A-Z]\w*)`)
)

// NewGoRule builds a Go rule, reading root/go.mod for the module path.
// A missing or unparsable go.mod leaves imports unrewritten.
func NewGoRule(root string) GoRule {
	rule := GoRule{}
	if root == "" {
		return rule
	}
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return rule
	}
	if mf, err := modfile.ParseLax("go.mod", data, nil); err == nil && mf.Module != nil {
		rule.modulePath = mf.Module.Mod.Path
	}
	return rule
}

func (GoRule) Name() string { return "go" }

func (GoRule) Extensions() []string { return []string{".go"} }

func (r GoRule) Imports(src []byte) []string {
	var out []string
	out = append(out, matchAll(src, goImportSingle)...)
	for _, block := range goImportBlock.FindAllSubmatch(src, -1) {
		out = append(out, matchAll(block[1], goQuoted)...)
	}
	if r.modulePath != "" {
		for i, imp := range out {
			if rest, ok := strings.CutPrefix(imp, r.modulePath+"/"); ok {
				out[i] = rest
			}
		}
	}
	return dedupe(out)
}

func (GoRule) Exports(src []byte) []string {
	return dedupe(matchAll(src, goExportRe))
}

func matchAll(src []byte, re *regexp.Regexp) []string {
	matches := re.FindAllSubmatch(src, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, string(m[1]))
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ruleIndex maps extensions to rules, rejecting duplicate registrations.
func ruleIndex(rules []LanguageRule) (map[string]LanguageRule, error) {
	idx := make(map[string]LanguageRule)
	for _, rule := range rules {
		for _, ext := range rule.Extensions() {
			if prev, ok := idx[ext]; ok {
				return nil, fmt.Errorf("extension %s claimed by both %s and %s", ext, prev.Name(), rule.Name())
			}
			idx[ext] = rule
		}
	}
	return idx, nil
}
