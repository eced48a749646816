// Package symbolindex builds a lightweight, line-prefix-based map from
// top-level symbol names to the files that define them.
//
// It exists to give the planner (internal/plan) an accurate file map instead
// of having the model guess paths: the model names symbols it needs touched,
// and the index resolves those names to real file paths. It makes zero model
// calls — a plain text scan — so it is cheap enough to rebuild on every
// /plan invocation.
package symbolindex

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies a single indexed symbol.
type Kind int

const (
	KindFunction Kind = iota
	KindStruct
	KindEnum
	KindTrait
	KindImpl
	KindClass
	KindMethod
	KindConstant
	KindOther
)

func (k Kind) label() string {
	switch k {
	case KindFunction:
		return "fn"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindTrait:
		return "trait"
	case KindImpl:
		return "impl"
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	case KindConstant:
		return "const"
	default:
		return "def"
	}
}

// Symbol is a single indexed top-level symbol.
type Symbol struct {
	Name string
	File string
	Line int
	Kind Kind
}

var ignoredDirs = map[string]bool{
	"target": true, "node_modules": true, ".git": true, ".next": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".cache": true, "coverage": true,
}

var indexedExtensions = map[string]bool{
	"rs": true, "ts": true, "tsx": true, "js": true, "jsx": true,
	"py": true, "go": true, "c": true, "cpp": true, "h": true, "hpp": true,
}

// Index is a complete project symbol index.
type Index struct {
	// Symbols holds every symbol found, sorted by file then by line.
	Symbols []Symbol
	// ByName maps a symbol name to the (deduplicated) files defining it.
	ByName map[string][]string
}

// Build walks the project rooted at root and extracts top-level symbols.
// It caps the number of scanned files at maxFiles to keep runtime bounded.
func Build(root string, maxFiles int) *Index {
	idx := &Index{ByName: make(map[string][]string)}

	var files []string
	collectFiles(root, &files, maxFiles)

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		extractSymbols(string(content), rel, &idx.Symbols)
	}

	sort.SliceStable(idx.Symbols, func(i, j int) bool {
		a, b := idx.Symbols[i], idx.Symbols[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})

	for _, sym := range idx.Symbols {
		files := idx.ByName[sym.Name]
		if len(files) == 0 || files[len(files)-1] != sym.File {
			idx.ByName[sym.Name] = append(files, sym.File)
		}
	}

	return idx
}

// ResolveFiles resolves a list of names/paths to a deduplicated list of real
// file paths.
//   - If an entry looks like a path (contains "/" or "."), it is kept as-is.
//   - If an entry matches a symbol name, it is substituted with the file(s)
//     that symbol is defined in.
//   - Unknown entries are kept as-is — the model may be right about a new
//     file that doesn't exist yet.
func (idx *Index) ResolveFiles(entries []string) []string {
	var out []string
	contains := func(s string) bool {
		for _, o := range out {
			if o == s {
				return true
			}
		}
		return false
	}

	for _, entry := range entries {
		switch {
		case strings.Contains(entry, "/") || strings.Contains(entry, "."):
			if !contains(entry) {
				out = append(out, entry)
			}
		default:
			if files, ok := idx.ByName[entry]; ok {
				for _, f := range files {
					if !contains(f) {
						out = append(out, f)
					}
				}
			} else if !contains(entry) {
				out = append(out, entry)
			}
		}
	}
	return out
}

// ToPromptSection produces a compact text block suitable for injection into
// a planning prompt, capped at maxLines file-groups. Returns "" if the index
// is empty.
//
// Format:
//
//	src/auth.go: fn validateToken, struct AuthError, fn verifyClaims
//	src/handler.go: fn handleRequest, fn handleError
func (idx *Index) ToPromptSection(maxLines int) string {
	if len(idx.Symbols) == 0 {
		return ""
	}

	type fileGroup struct {
		file string
		syms []string
	}
	var byFile []fileGroup
	for _, sym := range idx.Symbols {
		label := sym.Kind.label() + " " + sym.Name
		if n := len(byFile); n > 0 && byFile[n-1].file == sym.File {
			byFile[n-1].syms = append(byFile[n-1].syms, label)
			continue
		}
		byFile = append(byFile, fileGroup{file: sym.File, syms: []string{label}})
	}

	var lines []string
	for _, g := range byFile {
		if len(lines) >= maxLines {
			break
		}
		symList := strings.Join(g.syms, ", ")
		if len(g.syms) > 12 {
			symList = strings.Join(g.syms[:12], ", ") + ", … (" + itoa(len(g.syms)) + " total)"
		}
		lines = append(lines, "  "+g.file+": "+symList)
	}
	if len(lines) == 0 {
		return ""
	}

	truncationNote := ""
	if len(byFile) > maxLines {
		truncationNote = "\n  … and " + itoa(len(byFile)-maxLines) + " more files"
	}

	return "# Project symbol index\nUse these symbol names and paths in the \"files\" field of each step:\n\n" +
		strings.Join(lines, "\n") + truncationNote + "\n"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// ── File collection ─────────────────────────────────────────────────────

func collectFiles(dir string, out *[]string, max int) {
	if len(*out) >= max {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if len(*out) >= max {
			return
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if ignoredDirs[name] {
			continue
		}
		path := filepath.Join(dir, name)
		if entry.IsDir() {
			collectFiles(path, out, max)
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if indexedExtensions[ext] {
			*out = append(*out, path)
		}
	}
}

// ── Symbol extraction ───────────────────────────────────────────────────

func extractSymbols(content, file string, out *[]Symbol) {
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if kind, name, ok := extractSymbolFromLine(trimmed, ext); ok {
			*out = append(*out, Symbol{Name: name, File: file, Line: i + 1, Kind: kind})
		}
	}
}

func extractSymbolFromLine(line, ext string) (Kind, string, bool) {
	switch ext {
	case "rs":
		return extractRust(line)
	case "ts", "tsx", "js", "jsx":
		return extractTS(line)
	case "py":
		return extractPython(line)
	case "go":
		return extractGo(line)
	case "c", "cpp", "h", "hpp":
		return extractC(line)
	default:
		return 0, "", false
	}
}

// ── Rust ─────────────────────────────────────────────────────────────────

func extractRust(line string) (Kind, string, bool) {
	if rest, ok := stripPrefixVariants(line, "pub async fn ", "pub(crate) async fn ", "async fn ",
		"pub fn ", "pub(crate) fn ", "fn "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindFunction, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "pub struct ", "pub(crate) struct ", "struct "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindStruct, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "pub enum ", "pub(crate) enum ", "enum "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindEnum, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "pub trait ", "pub(crate) trait ", "trait "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindTrait, name, true
		}
		return 0, "", false
	}
	if rest, ok := strings.CutPrefix(line, "impl"); ok {
		rest = strings.TrimLeft(rest, " \t")
		if strings.HasPrefix(rest, "<") {
			i := strings.Index(rest, ">")
			if i < 0 {
				return 0, "", false
			}
			rest = strings.TrimSpace(rest[i+1:])
		}
		var name string
		var ok bool
		if strings.Contains(rest, " for ") {
			parts := strings.SplitN(rest, " for ", 2)
			if len(parts) < 2 {
				return 0, "", false
			}
			name, ok = identAtStart(parts[1])
		} else {
			name, ok = identAtStart(rest)
		}
		if !ok {
			return 0, "", false
		}
		return KindImpl, name, true
	}
	if rest, ok := stripPrefixVariants(line, "pub const ", "const "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindConstant, name, true
		}
		return 0, "", false
	}
	return 0, "", false
}

// ── TypeScript / JavaScript ────────────────────────────────────────────

func extractTS(line string) (Kind, string, bool) {
	if rest, ok := stripPrefixVariants(line, "export async function ", "export function ",
		"async function ", "function "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindFunction, name, true
		}
		return 0, "", false
	}
	if rest, ok := strings.CutPrefix(line, "export default function "); ok {
		name, ok := identAtStart(rest)
		if !ok {
			name = "default"
		}
		return KindFunction, name, true
	}
	if rest, ok := stripPrefixVariants(line, "export class ", "export abstract class ", "class "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindClass, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "export interface ", "interface "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindStruct, name, true // treat as struct-like
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "export type "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindOther, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "export const ", "export let ", "const ", "let "); ok {
		if name, ok := identAtStart(rest); ok {
			if strings.Contains(line, "=>") || strings.Contains(line, "= async") || strings.Contains(line, "= function") {
				return KindFunction, name, true
			}
		}
	}
	return 0, "", false
}

// ── Python ───────────────────────────────────────────────────────────────

func extractPython(line string) (Kind, string, bool) {
	if rest, ok := stripPrefixVariants(line, "async def ", "def "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindFunction, name, true
		}
		return 0, "", false
	}
	if rest, ok := strings.CutPrefix(line, "class "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindClass, name, true
		}
	}
	return 0, "", false
}

// ── Go ───────────────────────────────────────────────────────────────────

func extractGo(line string) (Kind, string, bool) {
	if rest, ok := strings.CutPrefix(line, "func "); ok {
		if strings.HasPrefix(rest, "(") {
			i := strings.Index(rest, ")")
			if i < 0 || i+2 > len(rest) {
				return 0, "", false
			}
			name, ok := identAtStart(rest[i+2:])
			if !ok {
				return 0, "", false
			}
			return KindMethod, name, true
		}
		if name, ok := identAtStart(rest); ok {
			return KindFunction, name, true
		}
		return 0, "", false
	}
	if rest, ok := stripPrefixVariants(line, "type "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindStruct, name, true
		}
	}
	return 0, "", false
}

// ── C / C++ ────────────────────────────────────────────────────────────

func extractC(line string) (Kind, string, bool) {
	if rest, ok := stripPrefixVariants(line, "struct ", "typedef struct "); ok {
		if name, ok := identAtStart(rest); ok {
			return KindStruct, name, true
		}
		return 0, "", false
	}
	// Heuristic: a line with "(" not starting with "//" or a leading space and
	// an identifier right before the paren looks like a function definition.
	if strings.Contains(line, "(") && !strings.HasPrefix(line, "//") && !strings.HasPrefix(line, " ") {
		i := strings.Index(line, "(")
		before := strings.TrimSpace(line[:i])
		fields := strings.Fields(before)
		if len(fields) == 0 {
			return 0, "", false
		}
		name := fields[len(fields)-1]
		if isIdent(name) {
			return KindFunction, name, true
		}
	}
	return 0, "", false
}

// ── Shared helpers ───────────────────────────────────────────────────────

func stripPrefixVariants(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest, true
		}
	}
	return "", false
}

// identAtStart extracts an identifier at the start of s (stops at whitespace,
// '(', '<', ':', '{', or any other non-ident rune).
func identAtStart(s string) (string, bool) {
	s = strings.TrimSpace(s)
	end := len(s)
	for i, r := range s {
		if !isIdentRune(r) {
			end = i
			break
		}
	}
	if end == 0 {
		return "", false
	}
	name := s[:end]
	if isIdent(name) {
		return name, true
	}
	return "", false
}

func isIdentRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	first := rune(s[0])
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z') || first == '_') {
		return false
	}
	for _, r := range s {
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}
