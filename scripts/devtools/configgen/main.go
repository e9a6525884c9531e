// Command configgen renders one live-service config per instance from a
// base config and a profile of overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir string                     `yaml:"outputDir"`
	Base      string                     `yaml:"base"`
	Kafka     KafkaProfile               `yaml:"kafka"`
	Instances map[string]InstanceProfile `yaml:"instances"`
}

// KafkaProfile is shared by every instance so broadcasts reach all of them.
type KafkaProfile struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"broadcastTopic"`
}

type InstanceProfile struct {
	Addr      string                 `yaml:"addr"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := run(*profilePath, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(profilePath, outputDir string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return err
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	base := profile.Base
	if !filepath.IsAbs(base) {
		base = filepath.Join(profileDir, base)
	}
	baseConfig, err := loadYAML(base)
	if err != nil {
		return fmt.Errorf("load base config failed: %w", err)
	}

	names := make([]string, 0, len(profile.Instances))
	for name := range profile.Instances {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		instance := profile.Instances[name]
		config, err := renderInstance(profile, name, instance, normalizeValue(baseConfig))
		if err != nil {
			return fmt.Errorf("render %q failed: %w", name, err)
		}
		output := instance.Output
		if output == "" {
			output = "live_service." + name + ".yaml"
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(profile.OutputDir, output)
		}
		if err := writeYAML(output, config); err != nil {
			return fmt.Errorf("write config for %q failed: %w", name, err)
		}
	}
	return nil
}

func renderInstance(profile *Profile, name string, instance InstanceProfile, base interface{}) (interface{}, error) {
	config := base
	if len(instance.Overrides) > 0 {
		merged, err := mergeMap(config, normalizeValue(instance.Overrides))
		if err != nil {
			return nil, err
		}
		config = merged
	}
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("service config is not a map")
	}
	if instance.Addr != "" {
		section(root, "server")["addr"] = instance.Addr
	}
	applySharedKafka(profile.Kafka, name, root)
	return root, nil
}

// applySharedKafka enables broadcast fan-out on every instance when the
// profile names brokers. The instance name becomes its consumer group id.
func applySharedKafka(kafka KafkaProfile, name string, root map[string]interface{}) {
	if len(kafka.Brokers) == 0 {
		return
	}
	cfg := section(root, "kafka")
	cfg["enabled"] = true
	brokers := make([]interface{}, 0, len(kafka.Brokers))
	for _, b := range kafka.Brokers {
		brokers = append(brokers, b)
	}
	cfg["brokers"] = brokers
	if kafka.Topic != "" {
		cfg["broadcastTopic"] = kafka.Topic
	}
	cfg["instanceID"] = name
}

func section(root map[string]interface{}, key string) map[string]interface{} {
	child, ok := root[key].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		root[key] = child
	}
	return child
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Instances) == 0 {
		return nil, errors.New("profile has no instances")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override onto base. Nested maps merge, everything else
// is replaced.
func mergeMap(base, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}
