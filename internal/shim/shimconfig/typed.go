package shimconfig

// TypedShims is the pre-parsed struct counterpart to the YAML document,
// matching original_source/config.rs's warp_core::ShimsConfig: the other
// source of deployment metadata besides a raw declarative document,
// typically produced by the out-of-scope deployment controller after it
// has already validated a manifest.
type TypedShims struct {
	Timezone      *bool
	DevUrandom    *bool
	DNS           *bool
	Signals       *bool
	DatabaseProxy *bool
	Threading     *string
}

// FromTyped builds a ShimConfig from a TypedShims value and a guest
// environment map, the typed counterpart to FromYAML. Filesystem is
// enabled if either the timezone or dev_urandom flag is (absent fields
// default true), matching original_source/config.rs's
// from_warp_config. Threading is considered "enabled" merely by the
// field being present, not by its string value.
func FromTyped(shims TypedShims, env map[string]string) ShimConfig {
	cfg := Default()

	cfg.Filesystem = boolOr(shims.Timezone, true) || boolOr(shims.DevUrandom, true)
	cfg.DNS = boolOr(shims.DNS, true)
	cfg.Signals = boolOr(shims.Signals, true)
	cfg.DatabaseProxy = boolOr(shims.DatabaseProxy, false)
	cfg.Threading = shims.Threading != nil

	if env != nil {
		cfg.Env = env
	}

	return cfg
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
