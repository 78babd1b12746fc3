// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package radio

import "testing"

func TestHWStateFromRegister(t *testing.T) {
	cases := []struct {
		reg  uint32
		want HWState
	}{
		{stateDisabled, HWDisabled},
		{stateRxRu, HWRxRu},
		{stateRxIdle, HWRxIdle},
		{stateRx, HWRx},
		{stateRxDisable, HWRxDisable},
		{stateTxRu, HWTxRu},
		{stateTxIdle, HWTxIdle},
		{stateTx, HWTx},
		{stateTxDisable, HWTxDisable},
	}

	for _, c := range cases {
		if got := hwStateFromRegister(c.reg); got != c.want {
			t.Errorf("hwStateFromRegister(%d) = %v, want %v", c.reg, got, c.want)
		}
	}
}

func TestHWStateFromRegisterUndefinedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on undefined hardware state value")
		}
	}()
	hwStateFromRegister(0xff)
}

func TestStateStringers(t *testing.T) {
	if HWTxIdle.String() != "TxIdle" {
		t.Errorf("HWTxIdle.String() = %q", HWTxIdle.String())
	}
	if DriverState(99).String() != "unknown" {
		t.Errorf("unknown DriverState should stringify to %q", "unknown")
	}
	if CcaTx.String() != "CcaTx" {
		t.Errorf("CcaTx.String() = %q", CcaTx.String())
	}
}

func TestChannelOffset(t *testing.T) {
	if got := channelOffset(20); got != 50 {
		t.Errorf("channelOffset(20) = %d, want 50", got)
	}
	if got := channelOffset(11); got != 5 {
		t.Errorf("channelOffset(11) = %d, want 5", got)
	}
}
