package mcptools

import (
	"path/filepath"
	"strings"
)

// languageByExt maps common file extensions to Chroma language identifiers,
// for syntax highlighting in the editor pane.
var languageByExt = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".jsx": "jsx", ".tsx": "tsx", ".java": "java", ".c": "c", ".cpp": "cpp",
	".cc": "cpp", ".h": "c", ".hpp": "cpp", ".cs": "csharp", ".rb": "ruby",
	".php": "php", ".rs": "rust", ".swift": "swift", ".kt": "kotlin",
	".scala": "scala", ".sh": "bash", ".bash": "bash", ".zsh": "zsh",
	".fish": "fish", ".ps1": "powershell", ".r": "r", ".sql": "sql",
	".html": "html", ".htm": "html", ".xml": "xml", ".css": "css",
	".scss": "scss", ".sass": "sass", ".less": "less", ".json": "json",
	".yaml": "yaml", ".yml": "yaml", ".toml": "toml", ".ini": "ini",
	".conf": "nginx", ".md": "markdown", ".markdown": "markdown", ".tex": "tex",
	".vim": "vim", ".lua": "lua", ".perl": "perl", ".pl": "perl",
	".dockerfile": "docker", ".proto": "protobuf",
}

var languageByBasename = map[string]string{
	"dockerfile": "docker", "makefile": "make", "gemfile": "ruby", "rakefile": "ruby",
}

// DetectLanguage returns the Chroma language identifier for a file path,
// by extension first and then by well-known basename, falling back to
// "text" when nothing matches.
func DetectLanguage(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	if lang, ok := languageByBasename[strings.ToLower(filepath.Base(path))]; ok {
		return lang
	}
	return "text"
}
