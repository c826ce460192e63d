package flashloan

import (
	"math/big"
)

var (
	bpsDenominator = big.NewInt(10000)
	one            = big.NewInt(1)
)

// MinProfitGuard returns the profit the executor must realise on-chain for a route
// simulated at profit. The guard sits below profit by max(profit*bps/10000, absWei),
// never more than profit-1, and is at least 1 wei.
func MinProfitGuard(profit *big.Int, bps uint64, absWei *big.Int) *big.Int {
	if profit == nil || profit.Sign() <= 0 {
		return big.NewInt(1)
	}

	buffer := new(big.Int).Mul(profit, new(big.Int).SetUint64(bps))
	buffer.Quo(buffer, bpsDenominator)
	if absWei != nil && absWei.Cmp(buffer) > 0 {
		buffer.Set(absWei)
	}
	maxBuffer := new(big.Int).Sub(profit, one)
	if buffer.Cmp(maxBuffer) > 0 {
		buffer.Set(maxBuffer)
	}

	guard := new(big.Int).Sub(profit, buffer)
	if guard.Sign() <= 0 {
		return big.NewInt(1)
	}
	return guard
}
