package signatures

// Family is an attack-pattern family. Matching stops at the first hit
// inside a family, so one request reports each family at most once.
type Family string

const (
	SQLInjection       Family = "sql_injection"
	XSS                Family = "xss"
	PathTraversal      Family = "path_traversal"
	CommandInjection   Family = "command_injection"
	CredentialStuffing Family = "credential_stuffing_keyword"
)

type rawPattern struct {
	name string
	expr string
}

// defaultTable is the compiled-in pattern set. Config may replace any
// family's list or add whole new families; these stay the fallback.
var defaultTable = map[Family][]rawPattern{
	SQLInjection: {
		{"boolean_or", `(?i)['"]\s*or\s+['"]?\d+['"]?\s*=\s*['"]?\d+`},
		{"union_select", `(?i)\bunion\s+(?:all\s+)?select\b`},
		{"time_delay", `(?i)\b(?:sleep|benchmark|waitfor\s+delay)\s*\(`},
		{"stacked_statement", `(?i);\s*(?:insert|update|delete|drop|alter|create|truncate)\s+(?:into|from|table|database|schema|view|index)\b`},
		{"inline_comment", `(?i)['";]\s*(?:--|#|/\*)`},
		{"drop_object", `(?i)\b(?:drop|truncate)\s+(?:table|database|schema)\s+\w+`},
	},
	XSS: {
		{"script_tag", `(?i)<[^>]*script`},
		{"event_handler", `(?i)\bon\w+\s*=`},
		{"javascript_uri", `(?i)javascript:`},
		{"js_exec_call", `(?i)\b(?:alert|confirm|prompt|eval)\s*\(`},
		{"embedded_object", `(?i)<[^>]*(?:iframe|object|embed|applet)`},
	},
	PathTraversal: {
		{"dot_dot", `\.\./|\.\.\\`},
		{"encoded_dot_dot", `(?i)%2e%2e%2f|\.\.%2f|%2e%2e%5c`},
		{"system_path", `(?i)/(?:etc|proc|bin|usr|var)/`},
		{"sensitive_file", `(?i)\b(?:passwd|shadow|id_rsa|bash_history)\b`},
	},
	CommandInjection: {
		{"shell_chain", `(?i)[;&|]\s*(?:ls|dir|cat|type|wget|curl|nc|netcat|bash|sh|powershell)\b`},
		{"exec_call", `(?i)\b(?:system|exec|shell_exec|popen)\s*\(`},
		{"reverse_shell", `(?i)\b(?:nc|netcat|ncat)\s+-[ev]\b`},
		{"interpreter_flag", `(?i)\b(?:python|perl|ruby)\s+-[ce]\s`},
		{"powershell_iex", `(?i)\biex\s*\(|invoke-expression`},
	},
	CredentialStuffing: {
		{"combo_pair", `(?i)\b[\w.+-]+@[\w-]+\.[a-z]{2,}:[^\s:]{4,}`},
		{"stuffing_tool", `(?i)\b(?:sentry\s?mba|openbullet|snipr|silverbullet|blackbullet)\b`},
		{"dump_keyword", `(?i)\b(?:combo[_\s]?list|credential[_\s]?dump|account[_\s]?checker)\b`},
	},
}
