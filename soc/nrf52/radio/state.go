// 802.15.4 radio driver state machine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package radio

// HWState mirrors the peripheral's own RADIO.STATE register (DATA MODEL,
// "hardware state (reported by the peripheral)").
type HWState int

const (
	HWDisabled HWState = iota
	HWRxRu
	HWRxIdle
	HWRx
	HWRxDisable
	HWTxRu
	HWTxIdle
	HWTx
	HWTxDisable
)

func (s HWState) String() string {
	switch s {
	case HWDisabled:
		return "Disabled"
	case HWRxRu:
		return "RxRu"
	case HWRxIdle:
		return "RxIdle"
	case HWRx:
		return "Rx"
	case HWRxDisable:
		return "RxDisable"
	case HWTxRu:
		return "TxRu"
	case HWTxIdle:
		return "TxIdle"
	case HWTx:
		return "Tx"
	case HWTxDisable:
		return "TxDisable"
	default:
		return "unknown"
	}
}

func hwStateFromRegister(v uint32) HWState {
	switch v {
	case stateDisabled:
		return HWDisabled
	case stateRxRu:
		return HWRxRu
	case stateRxIdle:
		return HWRxIdle
	case stateRx:
		return HWRx
	case stateRxDisable:
		return HWRxDisable
	case stateTxRu:
		return HWTxRu
	case stateTxIdle:
		return HWTxIdle
	case stateTx:
		return HWTx
	case stateTxDisable:
		return HWTxDisable
	default:
		// The peripheral reported a value outside its documented
		// enumeration: a bus fault or bad configuration, not a
		// protocol condition.
		panic("radio: undefined hardware state")
	}
}

// DriverState mirrors the driver's own intent (DATA MODEL, "driver state
// (intent)"). Initial value is Sleep.
type DriverState int

const (
	Sleep DriverState = iota
	Rx
	CcaTx
	Tx
	TxAck
	RxAck
	Ed
	Cca
	ContinuousCarrier
	FallingAsleep
)

func (s DriverState) String() string {
	switch s {
	case Sleep:
		return "Sleep"
	case Rx:
		return "Rx"
	case CcaTx:
		return "CcaTx"
	case Tx:
		return "Tx"
	case TxAck:
		return "TxAck"
	case RxAck:
		return "RxAck"
	case Ed:
		return "Ed"
	case Cca:
		return "Cca"
	case ContinuousCarrier:
		return "ContinuousCarrier"
	case FallingAsleep:
		return "FallingAsleep"
	default:
		return "unknown"
	}
}
