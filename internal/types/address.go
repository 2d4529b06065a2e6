package types

import "github.com/ethereum/go-ethereum/common"

// Address is an EVM-style 20-byte account address, used both for sequencer
// identity and on-chain contract addresses, matching the teacher's direct use
// of go-ethereum's common.Address rather than a wrapper type.
type Address = common.Address

// ParseAddress parses a hex address, accepting both checksummed and
// lower-case forms.
func ParseAddress(hex string) (Address, error) {
	if !common.IsHexAddress(hex) {
		return Address{}, ErrInvalidAddress(hex)
	}
	return common.HexToAddress(hex), nil
}

type addrError string

func (e addrError) Error() string { return "types: invalid address: " + string(e) }

func ErrInvalidAddress(hex string) error { return addrError(hex) }
