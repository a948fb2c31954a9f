package validator

import "regexp"

// denyPattern is a targeted regex for capabilities that surface through
// functions or literals rather than statement keywords. A keyword walk alone
// misses these, which is why this second pass exists.
type denyPattern struct {
	name  string
	desc  string
	regex *regexp.Regexp
	risk  RiskLevel
}

func denyPatterns() []denyPattern {
	return []denyPattern{
		{
			name:  "file_read_function",
			desc:  "file access functions are not allowed",
			regex: regexp.MustCompile(`(?i)\b(load_file|readfile|writefile|read_text|read_blob)\s*\(`),
			risk:  RiskCritical,
		},
		{
			name:  "outfile_export",
			desc:  "writing query output to files is not allowed",
			regex: regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`),
			risk:  RiskCritical,
		},
		{
			name:  "command_execution",
			desc:  "command execution functions are not allowed",
			regex: regexp.MustCompile(`(?i)\b(xp_cmdshell|sp_execute|exec_shell|system)\s*\(?`),
			risk:  RiskCritical,
		},
		{
			name:  "url_scheme",
			desc:  "network locations cannot be referenced in queries",
			regex: regexp.MustCompile(`(?i)\b(https?|ftp|s3|gcs|azure|file)://`),
			risk:  RiskHigh,
		},
		{
			name:  "reader_function",
			desc:  "external data readers are not allowed",
			regex: regexp.MustCompile(`(?i)\b(read_[a-z_]+|[a-z_]+_scan|scan_[a-z_]+)\s*\(`),
			risk:  RiskCritical,
		},
		{
			name:  "filesystem_literal",
			desc:  "file paths cannot appear in FROM or JOIN position",
			regex: regexp.MustCompile(`(?i)\b(from|join)\s+'[^']*[/\\.][^']*\.(csv|parquet|json|jsonl|tsv|db|sqlite|txt)'`),
			risk:  RiskCritical,
		},
		{
			name:  "filesystem_literal_unquoted",
			desc:  "file paths cannot appear in FROM or JOIN position",
			regex: regexp.MustCompile(`(?i)\b(from|join)\s+[a-z0-9_./\\-]*[/\\][a-z0-9_./\\-]*\.(csv|parquet|json|jsonl|tsv|db|sqlite|txt)\b`),
			risk:  RiskCritical,
		},
	}
}
