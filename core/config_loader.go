package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// durationKeys lists dotted config paths holding Go duration strings such as
// "30s" or "5m".
var durationKeys = map[string]bool{
	"oauth.state_max_age":     true,
	"refresh.expiry_leeway":   true,
	"refresh.lock_ttl":        true,
	"refresh.schedule_window": true,
	"http.timeout":            true,
	"database.ping_timeout":   true,
}

// FileConfigLoader reads a YAML document and applies environment overrides
// for broker secrets (TRADEEXEC_<BROKER>_CLIENT_ID, TRADEEXEC_<BROKER>_CLIENT_SECRET).
type FileConfigLoader struct {
	Path      string
	LookupEnv func(string) (string, bool)
}

func NewFileConfigLoader(path string) *FileConfigLoader {
	return &FileConfigLoader{Path: path, LookupEnv: os.LookupEnv}
}

func (l *FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil || strings.TrimSpace(l.Path) == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("core: read config %s: %w", l.Path, err)
	}
	return l.parse(data)
}

func (l *FileConfigLoader) parse(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config: %w", err)
	}
	if err := convertDurations("", raw); err != nil {
		return nil, err
	}
	l.applyEnv(raw)
	return raw, nil
}

func convertDurations(prefix string, values map[string]any) error {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch typed := value.(type) {
		case map[string]any:
			if err := convertDurations(path, typed); err != nil {
				return err
			}
		case string:
			if !durationKeys[path] {
				continue
			}
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return fmt.Errorf("core: config %s: %w", path, err)
			}
			values[key] = parsed
		case []any:
			if !durationKeys[path] {
				continue
			}
			out := make([]time.Duration, 0, len(typed))
			for _, item := range typed {
				parsed, err := time.ParseDuration(strings.TrimSpace(fmt.Sprint(item)))
				if err != nil {
					return fmt.Errorf("core: config %s: %w", path, err)
				}
				out = append(out, parsed)
			}
			values[key] = out
		}
	}
	return nil
}

func (l *FileConfigLoader) applyEnv(raw map[string]any) {
	if l.LookupEnv == nil {
		return
	}
	brokers, _ := raw["brokers"].(map[string]any)
	for id, value := range brokers {
		broker, ok := value.(map[string]any)
		if !ok {
			continue
		}
		prefix := "TRADEEXEC_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
		if v, ok := l.LookupEnv(prefix + "CLIENT_ID"); ok && v != "" {
			broker["client_id"] = v
		}
		if v, ok := l.LookupEnv(prefix + "CLIENT_SECRET"); ok && v != "" {
			broker["client_secret"] = v
		}
	}
}

var _ RawConfigLoader = (*FileConfigLoader)(nil)
