// Package flashloan builds the Balancer flash-loan call that executes a route.
package flashloan

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UserDataWords is the number of 32-byte words the executor reads from userData.
const UserDataWords = 9

// UserData is the executor's callback payload. Each field is one 32-byte word, in
// field order.
type UserData struct {
	FirstPool         common.Address
	SecondPool        common.Address
	QuoteToken        common.Address
	ZeroForOne        bool
	FirstIsConstProd  bool
	SecondIsConstProd bool
	Router            common.Address
	MinProfit         *big.Int
	Salt              *uint256.Int
}

// Encode packs the payload as consecutive big-endian words.
func (d UserData) Encode() ([]byte, error) {
	minProfit := new(uint256.Int)
	if d.MinProfit != nil {
		if d.MinProfit.Sign() < 0 {
			return nil, fmt.Errorf("min profit is negative: %s", d.MinProfit)
		}
		var overflow bool
		minProfit, overflow = uint256.FromBig(d.MinProfit)
		if overflow {
			return nil, fmt.Errorf("min profit overflows uint256: %s", d.MinProfit)
		}
	}
	salt := d.Salt
	if salt == nil {
		salt = new(uint256.Int)
	}

	words := [UserDataWords]*uint256.Int{
		addressWord(d.FirstPool),
		addressWord(d.SecondPool),
		addressWord(d.QuoteToken),
		boolWord(d.ZeroForOne),
		boolWord(d.FirstIsConstProd),
		boolWord(d.SecondIsConstProd),
		addressWord(d.Router),
		minProfit,
		salt,
	}
	out := make([]byte, 0, UserDataWords*32)
	for _, w := range words {
		b := w.Bytes32()
		out = append(out, b[:]...)
	}
	return out, nil
}

// DecodeUserData is the inverse of Encode.
func DecodeUserData(data []byte) (UserData, error) {
	if len(data) != UserDataWords*32 {
		return UserData{}, fmt.Errorf("user data length %d, want %d", len(data), UserDataWords*32)
	}
	word := func(i int) *uint256.Int {
		return new(uint256.Int).SetBytes32(data[i*32 : (i+1)*32])
	}
	return UserData{
		FirstPool:         common.Address(word(0).Bytes20()),
		SecondPool:        common.Address(word(1).Bytes20()),
		QuoteToken:        common.Address(word(2).Bytes20()),
		ZeroForOne:        !word(3).IsZero(),
		FirstIsConstProd:  !word(4).IsZero(),
		SecondIsConstProd: !word(5).IsZero(),
		Router:            common.Address(word(6).Bytes20()),
		MinProfit:         word(7).ToBig(),
		Salt:              word(8),
	}, nil
}

// NewSalt returns a random word that makes otherwise identical calls distinct.
func NewSalt() (*uint256.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return new(uint256.Int).SetBytes32(buf[:]), nil
}

func addressWord(addr common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(addr.Bytes())
}

func boolWord(v bool) *uint256.Int {
	if v {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}
