package app

import "github.com/spf13/pflag"

// RegisterCommonFlags registers flags shared by every command
func RegisterCommonFlags(flags *pflag.FlagSet) {
	flags.StringP("index-dir", "i", "", "Directory holding the index and its metadata")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
}

// RegisterIndexFlags registers corpus location flags for the index command
func RegisterIndexFlags(flags *pflag.FlagSet) {
	flags.StringP("documents", "d", "", "Directory containing PageXML documents")
	flags.String("images", "", "Directory containing page images (defaults to the documents directory)")
	flags.StringSlice("exclude", nil, "Glob patterns excluded from document discovery (comma-separated)")
}

// RegisterOptimizeFlags registers flags for the optimize command
func RegisterOptimizeFlags(flags *pflag.FlagSet) {
	flags.Duration("optimize-timeout", 0, "How long to wait for an in-progress build before giving up")
}

// RegisterServeFlags registers transport, auth and tool flags for the serve command
func RegisterServeFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.Int("max-tool-results", 0, "Maximum matching lines rendered per tool call")
}
