package bot

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

// ParseAddresses converts string addresses into common.Address, skipping blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseAddress converts one hex address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParsePools converts the pool=kind map from configuration.
func ParsePools(inputs map[string]string) (map[common.Address]model.DexKind, error) {
	pools := make(map[common.Address]model.DexKind, len(inputs))
	for rawAddr, rawKind := range inputs {
		addr, err := ParseAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}
		kind, err := model.ParseDexKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", addr.Hex(), err)
		}
		pools[addr] = kind
	}
	return pools, nil
}

// ParseRouters converts the factory=router map from configuration.
func ParseRouters(inputs map[string]string) (map[common.Address]common.Address, error) {
	routers := make(map[common.Address]common.Address, len(inputs))
	for rawFactory, rawRouter := range inputs {
		factory, err := ParseAddress(rawFactory)
		if err != nil {
			return nil, fmt.Errorf("routers key: %w", err)
		}
		router, err := ParseAddress(rawRouter)
		if err != nil {
			return nil, fmt.Errorf("routers value: %w", err)
		}
		routers[factory] = router
	}
	return routers, nil
}
