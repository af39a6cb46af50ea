package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// SatPerVByte represents a fee rate in sat/vbyte.
type SatPerVByte btcutil.Amount

// NewSatPerVByte creates a new fee rate in sat/vb.
func NewSatPerVByte(fee btcutil.Amount, size VByte) SatPerVByte {
	vbytes := size.Vbytes()
	if vbytes == 0 {
		return 0
	}
	return SatPerVByte(fee.MulF64(1 / float64(vbytes)))
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// size.
func (s SatPerVByte) FeeForVSize(size VByte) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(size.Vbytes())
}

// FeePerKWeight converts the current fee rate from sat/vb to sat/kw.
func (s SatPerVByte) FeePerKWeight() SatPerKWeight {
	return SatPerKWeight(s * kilo / blockchain.WitnessScaleFactor)
}

// FeePerKVByte converts the current fee rate from sat/vb to sat/kvb.
func (s SatPerVByte) FeePerKVByte() SatPerKVByte {
	return SatPerKVByte(s * kilo)
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%v sat/vb", int64(s))
}

// SatPerKVByte represents a fee rate in sat/kvb.
type SatPerKVByte btcutil.Amount

// FeeForVSize calculates the fee resulting from this fee rate and the given
// size.
func (s SatPerKVByte) FeeForVSize(size VByte) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(size.Vbytes()) / kilo
}

// FeePerKWeight converts the current fee rate from sat/kvb to sat/kw.
func (s SatPerKVByte) FeePerKWeight() SatPerKWeight {
	return SatPerKWeight(s / blockchain.WitnessScaleFactor)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return fmt.Sprintf("%v sat/kvb", int64(s))
}

// SatPerKWeight represents a fee rate in sat/kw.
type SatPerKWeight btcutil.Amount

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight, rounded down.
func (s SatPerKWeight) FeeForWeight(w WeightUnit) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(w.wu) / kilo
}

// FeePerKVByte converts the current fee rate from sat/kw to sat/kvb.
func (s SatPerKWeight) FeePerKVByte() SatPerKVByte {
	return SatPerKVByte(s * blockchain.WitnessScaleFactor)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKWeight) String() string {
	return fmt.Sprintf("%v sat/kw", int64(s))
}
