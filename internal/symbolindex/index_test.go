package symbolindex

import "testing"

func TestExtractRustSymbols(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		name string
	}{
		{"pub fn validate_token(", KindFunction, "validate_token"},
		{"pub async fn handle_request(", KindFunction, "handle_request"},
		{"fn internal(", KindFunction, "internal"},
		{"pub struct AuthError {", KindStruct, "AuthError"},
		{"pub enum Status {", KindEnum, "Status"},
		{"pub trait Authenticate {", KindTrait, "Authenticate"},
		{"impl AuthService {", KindImpl, "AuthService"},
		{"pub const MAX_RETRIES:", KindConstant, "MAX_RETRIES"},
	}
	for _, c := range cases {
		kind, name, ok := extractRust(c.line)
		if !ok {
			t.Errorf("failed to extract from: %s", c.line)
			continue
		}
		if kind != c.kind {
			t.Errorf("%s: got kind %v, want %v", c.line, kind, c.kind)
		}
		if name != c.name {
			t.Errorf("%s: got name %q, want %q", c.line, name, c.name)
		}
	}
}

func TestExtractTSSymbols(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		name string
	}{
		{"export function processUser(", KindFunction, "processUser"},
		{"export async function fetchData(", KindFunction, "fetchData"},
		{"export class UserService {", KindClass, "UserService"},
		{"export interface UserProfile {", KindStruct, "UserProfile"},
	}
	for _, c := range cases {
		kind, name, ok := extractTS(c.line)
		if !ok {
			t.Errorf("failed to extract from: %s", c.line)
			continue
		}
		if kind != c.kind {
			t.Errorf("%s: got kind %v, want %v", c.line, kind, c.kind)
		}
		if name != c.name {
			t.Errorf("%s: got name %q, want %q", c.line, name, c.name)
		}
	}
}

func TestExtractPythonSymbols(t *testing.T) {
	if kind, name, ok := extractPython("def process_request("); !ok || kind != KindFunction || name != "process_request" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
	if kind, name, ok := extractPython("async def fetch_data("); !ok || kind != KindFunction || name != "fetch_data" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
	if kind, name, ok := extractPython("class UserService:"); !ok || kind != KindClass || name != "UserService" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
}

func TestExtractGoSymbols(t *testing.T) {
	if kind, name, ok := extractGo("func ProcessRequest(ctx context.Context) error {"); !ok || kind != KindFunction || name != "ProcessRequest" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
	if kind, name, ok := extractGo("func (s *Server) Handle(w http.ResponseWriter) {"); !ok || kind != KindMethod || name != "Handle" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
	if kind, name, ok := extractGo("type Config struct {"); !ok || kind != KindStruct || name != "Config" {
		t.Errorf("got (%v, %q, %v)", kind, name, ok)
	}
}

func TestResolveFiles(t *testing.T) {
	idx := &Index{ByName: make(map[string][]string)}
	idx.Symbols = append(idx.Symbols, Symbol{
		Name: "validate_token", File: "src/auth.go", Line: 10, Kind: KindFunction,
	})
	idx.ByName["validate_token"] = []string{"src/auth.go"}

	result := idx.ResolveFiles([]string{"src/main.go"})
	if len(result) != 1 || result[0] != "src/main.go" {
		t.Errorf("path-like entry mishandled: %v", result)
	}

	result = idx.ResolveFiles([]string{"validate_token"})
	if len(result) != 1 || result[0] != "src/auth.go" {
		t.Errorf("symbol-name entry mishandled: %v", result)
	}

	result = idx.ResolveFiles([]string{"src/main.go", "validate_token"})
	if len(result) != 2 || result[0] != "src/main.go" || result[1] != "src/auth.go" {
		t.Errorf("mixed entries mishandled: %v", result)
	}
}

func TestIdentAtStart(t *testing.T) {
	if name, ok := identAtStart("foo(bar)"); !ok || name != "foo" {
		t.Errorf("got (%q, %v)", name, ok)
	}
	if name, ok := identAtStart("MyStruct {"); !ok || name != "MyStruct" {
		t.Errorf("got (%q, %v)", name, ok)
	}
	if name, ok := identAtStart("  leading"); !ok || name != "leading" {
		t.Errorf("got (%q, %v)", name, ok)
	}
	if _, ok := identAtStart("(not_ident"); ok {
		t.Error("expected no match for a string starting with '('")
	}
	if _, ok := identAtStart(""); ok {
		t.Error("expected no match for an empty string")
	}
}

func TestToPromptSectionEmpty(t *testing.T) {
	idx := &Index{ByName: make(map[string][]string)}
	if got := idx.ToPromptSection(50); got != "" {
		t.Errorf("expected empty prompt section, got %q", got)
	}
}

func TestToPromptSectionGroupsByFile(t *testing.T) {
	idx := &Index{ByName: make(map[string][]string)}
	idx.Symbols = []Symbol{
		{Name: "validateToken", File: "src/auth.go", Line: 3, Kind: KindFunction},
		{Name: "AuthError", File: "src/auth.go", Line: 10, Kind: KindStruct},
		{Name: "handleRequest", File: "src/handler.go", Line: 1, Kind: KindFunction},
	}
	got := idx.ToPromptSection(50)
	if got == "" {
		t.Fatal("expected a non-empty prompt section")
	}
	if !contains(got, "src/auth.go: fn validateToken, struct AuthError") {
		t.Errorf("unexpected grouping: %q", got)
	}
	if !contains(got, "src/handler.go: fn handleRequest") {
		t.Errorf("unexpected grouping: %q", got)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
