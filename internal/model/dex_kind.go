package model

import (
	"fmt"
	"strings"
)

// DexKind identifies the pool pricing model.
type DexKind uint8

const (
	DexUnknown DexKind = iota
	DexUniswapV3
	DexVolatile
	DexStable
)

func (k DexKind) String() string {
	switch k {
	case DexUniswapV3:
		return "univ3"
	case DexVolatile:
		return "volatile"
	case DexStable:
		return "stable"
	default:
		return "unknown"
	}
}

// IsConstantProduct reports whether the pool prices from reserves.
func (k DexKind) IsConstantProduct() bool {
	return k == DexVolatile || k == DexStable
}

// MarshalText encodes the kind by name.
func (k DexKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *DexKind) UnmarshalText(text []byte) error {
	parsed, err := ParseDexKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseDexKind maps config names onto a DexKind.
func ParseDexKind(name string) (DexKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "univ3", "uniswapv3", "v3", "cl":
		return DexUniswapV3, nil
	case "velo", "velodrome", "aero", "aerodrome", "volatile", "cp":
		return DexVolatile, nil
	case "stable":
		return DexStable, nil
	default:
		return DexUnknown, fmt.Errorf("unknown dex kind: %q", name)
	}
}
