package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const appDir = "deckexplain"

// xdgBase returns $env, or home joined with fallback when the variable is
// unset. ok is false when neither is available.
func xdgBase(env string, fallback ...string) (dir string, ok bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, fallback...)...), true
}

func defaultDataDir() string {
	base, ok := xdgBase("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return appDir + "-data"
	}
	return filepath.Join(base, appDir)
}

func configFilePath() string {
	base, ok := xdgBase("XDG_CONFIG_HOME", ".config")
	if !ok {
		base = "."
	}
	return filepath.Join(base, appDir, "config.json")
}

// The secrets file sits next to the data directory and maps
// service -> account -> value. Server processes only ever read it.
func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func readJSONFile(p string, v any) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONFile(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

func readSecret(service, account string) (string, error) {
	var secrets map[string]map[string]string
	if err := readJSONFile(secretsFilePath(), &secrets); err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("no secret %s/%s", service, account)
	}
	return val, nil
}

// fileBackend keeps dotted keys in one flat JSON object. Every write
// rewrites the whole file.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(p string) *fileBackend {
	b := &fileBackend{path: p, data: map[string]any{}}
	err := readJSONFile(p, &b.data)
	switch {
	case err == nil, errors.Is(err, os.ErrNotExist):
	default:
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", p, err)
		b.data = nil
	}
	if b.data == nil {
		b.data = map[string]any{}
	}
	return b
}

func (b *fileBackend) set(key string, v any) error {
	if v == nil {
		delete(b.data, key)
	} else {
		b.data[key] = v
	}
	return writeJSONFile(b.path, b.data)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	n, err := asInt(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// asInt accepts whole JSON numbers and numeric strings.
func asInt(v any) (int, error) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, fmt.Errorf("%v is not an integer in range", val)
		}
		return int(val), nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("unexpected %T value", v)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error { return b.set(key, nil) }
