package config

import (
	"context"
	"log/slog"
)

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: index.dir", "value", s.Index.Dir)
	logger.InfoContext(ctx, "Config: index.document_dir", "value", s.Index.DocumentDir)
	if s.Index.ImageDir != "" {
		logger.InfoContext(ctx, "Config: index.image_dir", "value", s.Index.ImageDir)
	}
	if len(s.Index.Exclude) > 0 {
		logger.InfoContext(ctx, "Config: index.exclude", "count", len(s.Index.Exclude))
	}
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// IndexSettingsLogValue returns a slog.Value for IndexSettings
func IndexSettingsLogValue(s IndexSettings) slog.Value {
	return slog.GroupValue(
		slog.String("dir", s.Dir),
		slog.String("document_dir", s.DocumentDir),
		slog.String("image_dir", s.ImageDir),
		slog.Int("exclude_count", len(s.Exclude)),
		slog.Duration("optimize_timeout", s.OptimizeTimeout),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("index", IndexSettingsLogValue(s.Index)),
		slog.Int("max_tool_results", s.MaxToolResults),
	)
}
