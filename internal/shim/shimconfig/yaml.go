package shimconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oriys/warpgrid/internal/logging"
)

// FromYAMLFile reads path and parses it via FromYAML.
func FromYAMLFile(path string) (ShimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShimConfig{}, fmt.Errorf("read shim config %s: %w", path, err)
	}
	return FromYAML(data)
}

// FromYAML parses a declarative shim document, per spec.md §4.9: each
// top-level key may be a bare boolean (simple enable/disable) or a
// mapping with an "enabled" flag plus sub-fields. A missing document (nil
// data) returns Default(). Unknown top-level keys log a warning and are
// otherwise ignored, for forward compatibility; a key present with the
// wrong YAML kind (e.g. signals: "yes") fails construction.
func FromYAML(data []byte) (ShimConfig, error) {
	if len(data) == 0 {
		return Default(), nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return ShimConfig{}, fmt.Errorf("parse shim config yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return Default(), nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return ShimConfig{}, fmt.Errorf("shim config document must be a mapping")
	}

	cfg := Default()

	pairs := mappingPairs(doc)
	for key := range pairs {
		if !knownShimKeys[key] {
			logging.Op().Warn("unknown shim name in config, ignoring", "shim_name", key)
		}
	}

	if node, ok := pairs["filesystem"]; ok {
		if err := applyFilesystem(&cfg, node); err != nil {
			return ShimConfig{}, err
		}
	}
	if node, ok := pairs["dns"]; ok {
		if err := applyDNS(&cfg, node); err != nil {
			return ShimConfig{}, err
		}
	}
	if node, ok := pairs["signals"]; ok {
		b, err := boolValue(node, "signals")
		if err != nil {
			return ShimConfig{}, err
		}
		cfg.Signals = b
	}
	if node, ok := pairs["database_proxy"]; ok {
		if err := applyDatabaseProxy(&cfg, node); err != nil {
			return ShimConfig{}, err
		}
	}
	if node, ok := pairs["threading"]; ok {
		b, err := boolValue(node, "threading")
		if err != nil {
			return ShimConfig{}, err
		}
		cfg.Threading = b
	}

	return cfg, nil
}

func mappingPairs(node *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out[node.Content[i].Value] = node.Content[i+1]
	}
	return out
}

func boolValue(node *yaml.Node, field string) (bool, error) {
	if node.Kind != yaml.ScalarNode {
		return false, fmt.Errorf("shims.%s must be a boolean", field)
	}
	var b bool
	if err := node.Decode(&b); err != nil {
		return false, fmt.Errorf("shims.%s must be a boolean: %w", field, err)
	}
	return b, nil
}

// enabledFlag reads the "enabled" sub-field of a mapping node, defaulting
// to true when absent, matching original_source/config.rs's
// `.and_then(|v| v.as_bool()).unwrap_or(true)`.
func enabledFlag(pairs map[string]*yaml.Node) (bool, error) {
	node, ok := pairs["enabled"]
	if !ok {
		return true, nil
	}
	return boolValue(node, "enabled")
}

func applyFilesystem(cfg *ShimConfig, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		b, err := boolValue(node, "filesystem")
		if err != nil {
			return err
		}
		cfg.Filesystem = b
		return nil
	case yaml.MappingNode:
		pairs := mappingPairs(node)
		enabled, err := enabledFlag(pairs)
		if err != nil {
			return err
		}
		cfg.Filesystem = enabled
		if tz, ok := pairs["timezone_name"]; ok {
			var s string
			if err := tz.Decode(&s); err != nil {
				return fmt.Errorf("shims.filesystem.timezone_name must be a string: %w", err)
			}
			cfg.FilesystemConfig.TimezoneName = s
		}
		if extra, ok := pairs["extra_virtual_paths"]; ok {
			if extra.Kind != yaml.MappingNode {
				return fmt.Errorf("shims.filesystem.extra_virtual_paths must be a mapping")
			}
			extraPairs := mappingPairs(extra)
			for path, contentNode := range extraPairs {
				var content string
				if err := contentNode.Decode(&content); err != nil {
					return fmt.Errorf("shims.filesystem.extra_virtual_paths[%s] must be a string: %w", path, err)
				}
				cfg.FilesystemConfig.ExtraVirtualPaths[path] = content
			}
		}
		return nil
	default:
		return fmt.Errorf("shims.filesystem must be a boolean or table")
	}
}

func applyDNS(cfg *ShimConfig, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		b, err := boolValue(node, "dns")
		if err != nil {
			return err
		}
		cfg.DNS = b
		return nil
	case yaml.MappingNode:
		pairs := mappingPairs(node)
		enabled, err := enabledFlag(pairs)
		if err != nil {
			return err
		}
		cfg.DNS = enabled
		if ttl, ok := pairs["ttl_seconds"]; ok {
			var v uint64
			if err := ttl.Decode(&v); err != nil {
				return fmt.Errorf("shims.dns.ttl_seconds must be an integer: %w", err)
			}
			cfg.DNSConfig.TTLSeconds = v
		}
		if size, ok := pairs["cache_size"]; ok {
			var v int
			if err := size.Decode(&v); err != nil {
				return fmt.Errorf("shims.dns.cache_size must be an integer: %w", err)
			}
			cfg.DNSConfig.CacheSize = v
		}
		cfg.DNSCacheConfig = cfg.DNSConfig.ToCacheConfig()
		return nil
	default:
		return fmt.Errorf("shims.dns must be a boolean or table")
	}
}

func applyDatabaseProxy(cfg *ShimConfig, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		b, err := boolValue(node, "database_proxy")
		if err != nil {
			return err
		}
		cfg.DatabaseProxy = b
		return nil
	case yaml.MappingNode:
		pairs := mappingPairs(node)
		enabled, err := enabledFlag(pairs)
		if err != nil {
			return err
		}
		cfg.DatabaseProxy = enabled

		intField := func(key string, dst *uint64) error {
			node, ok := pairs[key]
			if !ok {
				return nil
			}
			var v uint64
			if err := node.Decode(&v); err != nil {
				return fmt.Errorf("shims.database_proxy.%s must be an integer: %w", key, err)
			}
			*dst = v
			return nil
		}
		if node, ok := pairs["pool_size"]; ok {
			var v int
			if err := node.Decode(&v); err != nil {
				return fmt.Errorf("shims.database_proxy.pool_size must be an integer: %w", err)
			}
			cfg.DatabaseProxyConfig.PoolSize = v
		}
		if err := intField("idle_timeout_seconds", &cfg.DatabaseProxyConfig.IdleTimeoutSeconds); err != nil {
			return err
		}
		if err := intField("health_check_interval_seconds", &cfg.DatabaseProxyConfig.HealthCheckIntervalSecond); err != nil {
			return err
		}
		if err := intField("connect_timeout_seconds", &cfg.DatabaseProxyConfig.ConnectTimeoutSeconds); err != nil {
			return err
		}
		if err := intField("recv_timeout_seconds", &cfg.DatabaseProxyConfig.RecvTimeoutSeconds); err != nil {
			return err
		}
		cfg.PoolConfig = cfg.DatabaseProxyConfig.ToPoolConfig()
		return nil
	default:
		return fmt.Errorf("shims.database_proxy must be a boolean or table")
	}
}
