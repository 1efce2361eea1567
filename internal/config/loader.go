package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads cfg from path, inferring the format from its
// extension and falling back to probing TOML, then YAML, then JSON if the
// extension is unrecognized — grounded on original_source's load_from_file.
func LoadFromFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "toml":
		err = toml.Unmarshal(content, &cfg)
	case "yml", "yaml":
		err = yaml.Unmarshal(content, &cfg)
	case "json":
		err = json.Unmarshal(content, &cfg)
	default:
		err = probeUnmarshal(content, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func probeUnmarshal(content []byte, cfg *Config) error {
	if err := toml.Unmarshal(content, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(content, cfg); err == nil {
		return nil
	}
	return json.Unmarshal(content, cfg)
}

// LoadFromFileEnv reads AMICE_CONFIG_PATH, if set, and loads that file;
// returns Default() with ok=false if the variable is unset, mirroring
// original_source's load_from_file_env.
func LoadFromFileEnv() (Config, bool) {
	path := os.Getenv("AMICE_CONFIG_PATH")
	if path == "" {
		return Default(), false
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return Default(), false
	}
	return cfg, true
}

// Load builds the effective Config the same way original_source's lazy_static
// CONFIG does: load from AMICE_CONFIG_PATH if set (else defaults), then
// overlay AMICE_* environment variables on top.
func Load() Config {
	cfg, _ := LoadFromFileEnv()
	OverlayEnv(&cfg)
	return cfg
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on":
		return true
	case "0", "false", "off":
		return false
	default:
		return false
	}
}

func boolVar(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return isTruthy(v)
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// OverlayEnv mutates cfg in place with any recognized AMICE_* environment
// variable, grounded verbatim on original_source's overlay_env.
func OverlayEnv(cfg *Config) {
	if _, ok := os.LookupEnv("AMICE_STRING_ENCRYPTION"); ok {
		cfg.StringEncryption.Enable = boolVar("AMICE_STRING_ENCRYPTION", cfg.StringEncryption.Enable)
	}
	if v, ok := os.LookupEnv("AMICE_STRING_ALGORITHM"); ok {
		cfg.StringEncryption.Algorithm = parseStringAlgorithm(v)
	}
	if v, ok := os.LookupEnv("AMICE_STRING_DECRYPT_TIMING"); ok {
		cfg.StringEncryption.DecryptTiming = parseDecryptTiming(v)
	}
	if _, ok := os.LookupEnv("AMICE_STRING_STACK_ALLOC"); ok {
		cfg.StringEncryption.StackAlloc = boolVar("AMICE_STRING_STACK_ALLOC", cfg.StringEncryption.StackAlloc)
	}
	if _, ok := os.LookupEnv("AMICE_STRING_INLINE_DECRYPT_FN"); ok {
		cfg.StringEncryption.InlineDecryptFn = boolVar("AMICE_STRING_INLINE_DECRYPT_FN", cfg.StringEncryption.InlineDecryptFn)
	}
	if _, ok := os.LookupEnv("AMICE_STRING_ONLY_LLVM_STRING"); ok {
		cfg.StringEncryption.OnlyLLVMString = boolVar("AMICE_STRING_ONLY_LLVM_STRING", cfg.StringEncryption.OnlyLLVMString)
	}

	if _, ok := os.LookupEnv("AMICE_INDIRECT_CALL"); ok {
		cfg.IndirectCall.Enable = boolVar("AMICE_INDIRECT_CALL", cfg.IndirectCall.Enable)
	}
	if v, ok := os.LookupEnv("AMICE_INDIRECT_CALL_XOR_KEY"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			key := uint32(n)
			cfg.IndirectCall.XorKey = &key
		}
	}

	if _, ok := os.LookupEnv("AMICE_INDIRECT_BRANCH"); ok {
		cfg.IndirectBranch.Enable = boolVar("AMICE_INDIRECT_BRANCH", cfg.IndirectBranch.Enable)
	}
	if v, ok := os.LookupEnv("AMICE_INDIRECT_BRANCH_FLAGS"); ok {
		cfg.IndirectBranch.Flags |= ParseIndirectBranchFlags(v)
	}

	if _, ok := os.LookupEnv("AMICE_SPLIT_BASIC_BLOCK"); ok {
		cfg.SplitBasicBlock.Enable = boolVar("AMICE_SPLIT_BASIC_BLOCK", cfg.SplitBasicBlock.Enable)
	}
	if v, ok := os.LookupEnv("AMICE_SPLIT_BASIC_BLOCK_NUM"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.SplitBasicBlock.Num = uint32(n)
		}
	}

	if _, ok := os.LookupEnv("AMICE_VM_FLATTEN"); ok {
		cfg.VMFlatten.Enable = boolVar("AMICE_VM_FLATTEN", cfg.VMFlatten.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_FLATTEN"); ok {
		cfg.Flatten.Enable = boolVar("AMICE_FLATTEN", cfg.Flatten.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_FLATTEN_DOMINATOR"); ok {
		cfg.FlattenDominator.Enable = boolVar("AMICE_FLATTEN_DOMINATOR", cfg.FlattenDominator.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_BOGUS_CONTROL_FLOW"); ok {
		cfg.BogusControlFlow.Enable = boolVar("AMICE_BOGUS_CONTROL_FLOW", cfg.BogusControlFlow.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_ALIAS_ACCESS"); ok {
		cfg.AliasAccess.Enable = boolVar("AMICE_ALIAS_ACCESS", cfg.AliasAccess.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_DELAY_OFFSET_LOADING"); ok {
		cfg.DelayOffset.Enable = boolVar("AMICE_DELAY_OFFSET_LOADING", cfg.DelayOffset.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_PARAM_AGGREGATE"); ok {
		cfg.ParamAggregate.Enable = boolVar("AMICE_PARAM_AGGREGATE", cfg.ParamAggregate.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_CLONE_FUNCTION"); ok {
		cfg.CloneFunction.Enable = boolVar("AMICE_CLONE_FUNCTION", cfg.CloneFunction.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_MBA"); ok {
		cfg.MBA.Enable = boolVar("AMICE_MBA", cfg.MBA.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_ANTI_CLASS_DUMP"); ok {
		cfg.AntiClassDump.Enable = boolVar("AMICE_ANTI_CLASS_DUMP", cfg.AntiClassDump.Enable)
	}
	if _, ok := os.LookupEnv("AMICE_FUNCTION_WRAPPER"); ok {
		cfg.FunctionWrapper.Enable = boolVar("AMICE_FUNCTION_WRAPPER", cfg.FunctionWrapper.Enable)
	}
}

func parseStringAlgorithm(v string) StringAlgorithm {
	switch strings.ToLower(v) {
	case "xor":
		return AlgorithmXor
	case "xorsimd", "xor_simd", "simd_xor", "simdxor":
		return AlgorithmSimdXor
	default:
		return AlgorithmXor
	}
}

func parseDecryptTiming(v string) StringDecryptTiming {
	switch strings.ToLower(v) {
	case "lazy":
		return TimingLazy
	case "global":
		return TimingGlobal
	default:
		return TimingLazy
	}
}
