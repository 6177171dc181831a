package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var extendsHeader = regexp.MustCompile(`^# extends:((?: [^ ]+)+)$`)

// LoadOptions selects the files merged by Load.
type LoadOptions struct {
	// Dir is the configuration directory, usually "config".
	Dir string
	// Environment is the deployment environment (alpha, prod, ...). Empty loads defaults only.
	Environment string
	// HostEnvironment selects the optional _<host>.yaml overlay (development, production).
	HostEnvironment string
	// Properties are passed to the Pkl evaluator as external properties.
	Properties map[string]string
}

// Files returns the YAML files merged for opts, lowest precedence first.
// Missing required files are reported as errors.
func Files(opts LoadOptions) ([]string, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "config"
	}

	files := []string{filepath.Join(dir, "_default.yaml")}
	if _, err := os.Stat(files[0]); err != nil {
		return nil, fmt.Errorf("failed to find default configuration: %w", err)
	}

	if opts.HostEnvironment != "" {
		host := filepath.Join(dir, "_"+strings.ToLower(opts.HostEnvironment)+".yaml")
		if _, err := os.Stat(host); err == nil {
			files = append(files, host)
		}
	}

	if opts.Environment == "" {
		return files, nil
	}

	envFile := filepath.Join(dir, opts.Environment+".yaml")
	extensions, err := readExtends(envFile)
	if err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		path := filepath.Join(dir, ext+".yaml")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to find extended configuration %q: %w", ext, err)
		}
		files = append(files, path)
	}
	return append(files, envFile), nil
}

// readExtends parses the "# extends: a b" header on the first line of path.
func readExtends(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open environment configuration: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, scanner.Err()
	}
	m := extendsHeader.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
	if m == nil {
		return nil, nil
	}
	return strings.Fields(m[1]), nil
}

// Load reads and merges the configuration for opts. A config/<env>.pkl module takes
// precedence over the YAML layering when present.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "config"
	}
	if opts.Environment != "" {
		pklFile := filepath.Join(dir, opts.Environment+".pkl")
		if _, err := os.Stat(pklFile); err == nil {
			return LoadPkl(ctx, dir, pklFile, opts.Properties)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", pklFile, err)
		}
	}

	files, err := Files(opts)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	// The root section doubles as the prefix: dungeon.pulumi.color reads DUNGEON_PULUMI_COLOR.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper folds keys to lower case; remember the spelling used in the files
	// so map keys such as tag names survive the round trip.
	names := make(map[string]string)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if err := collectKeys(data, names); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		if err := v.MergeConfig(strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", file, err)
		}
	}

	section, ok := restoreCase(v.Get(strings.ToLower(Key)), names).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("configuration has no %q section", Key)
	}
	applyEnv(v, strings.ToLower(Key), section)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(section); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

func collectKeys(data []byte, names map[string]string) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(n.Content); i += 2 {
				key := n.Content[i].Value
				names[strings.ToLower(key)] = key
			}
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(&node)
	return nil
}

func restoreCase(v any, names map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			name, ok := names[k]
			if !ok {
				name = k
			}
			out[name] = restoreCase(val, names)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = restoreCase(val, names)
		}
		return out
	default:
		return v
	}
}

// applyEnv replaces scalar leaves with their viper value, which prefers the
// environment over the merged files.
func applyEnv(v *viper.Viper, path string, m map[string]any) {
	for k, val := range m {
		key := path + "." + strings.ToLower(k)
		switch child := val.(type) {
		case map[string]any:
			applyEnv(v, key, child)
		case []any:
		default:
			if env := v.Get(key); env != nil {
				m[k] = env
			}
		}
	}
}
