package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBORBuilderSlots(t *testing.T) {
	b := NewCBORBuilder(64)

	require.NoError(t, b.AddNotifyDispatchSGoSignal(NotifyGoSignal{IndexBitmask: 0x3}))
	require.NoError(t, b.AddDispatchGoSignalMcast(GoSignal{
		WaitCount:      12,
		Signal:         SignalResetReadPtr,
		Address:        0xffb0_0000,
		NumMcastTxns:   1,
		NumUnicastTxns: 2,
		Dispatcher:     DispatchSlave,
		MasterX:        0xff,
		MasterY:        0xff,
		MessageOffset:  0xf0,
	}))
	require.NoError(t, b.AddDispatchWait(Wait{Address: 0x100, Count: 64, ClearCount: true}))
	require.NoError(t, b.AddExecBuf(ExecBuf{Address: 1 << 40, PageSizeLog2: 12, NumPages: 3}))

	assert.Equal(t, 4*64, b.Len())
	assert.Len(t, b.Bytes(), 4*64)
}

func TestCBORBuilderBytesIsCopy(t *testing.T) {
	b := NewCBORBuilder(0)
	assert.Equal(t, DefaultHostAlignment, b.Alignment())
	require.NoError(t, b.AddExecBufEnd())

	out := b.Bytes()
	out[0] = 0xff
	assert.NotEqual(t, out[0], b.Bytes()[0])
}

func TestCBORBuilderRecordTooLarge(t *testing.T) {
	b := NewCBORBuilder(8)
	err := b.AddExecBuf(ExecBuf{Address: 1 << 40, PageSizeLog2: 12, NumPages: 3})
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, 0, b.Len())
}

func TestDecodeRoundTrip(t *testing.T) {
	b := NewCBORBuilder(64)
	require.NoError(t, b.AddDispatchWait(Wait{Address: 0x40, Count: 7, ClearCount: true, DispatchS: true}))
	require.NoError(t, b.AddExecBuf(ExecBuf{Address: 0x2000, PageSizeLog2: 10, NumPages: 5}))
	require.NoError(t, b.AddExecBufEnd())

	// Page padding after the records must be skipped.
	data := append(b.Bytes(), make([]byte, 100)...)
	cmds, err := Decode(data, 64)
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	assert.Equal(t, OpDispatchWait, cmds[0].Op)
	require.NotNil(t, cmds[0].Wait)
	assert.Equal(t, uint32(7), cmds[0].Wait.Count)
	assert.True(t, cmds[0].Wait.DispatchS)

	assert.Equal(t, OpExecBuf, cmds[1].Op)
	assert.Equal(t, ExecBuf{Address: 0x2000, PageSizeLog2: 10, NumPages: 5}, *cmds[1].ExecBuf)

	assert.Equal(t, OpExecBufEnd, cmds[2].Op)
	assert.Nil(t, cmds[2].ExecBuf)
}

func TestDecodeTruncated(t *testing.T) {
	rec, err := EncodeRecord(Command{Op: OpExecBufEnd}, 0)
	require.NoError(t, err)

	_, err = Decode(rec[:len(rec)-1], 0)
	assert.ErrorIs(t, err, ErrRecordTruncated)
}

func TestExecBufEnd(t *testing.T) {
	footer, err := ExecBufEnd(CBORFactory(32))
	require.NoError(t, err)
	assert.Len(t, footer, 32)

	cmds, err := Decode(footer, 32)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, OpExecBufEnd, cmds[0].Op)
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpDispatchWait, "DISPATCH_WAIT"},
		{OpGoSignalMcast, "GO_SIGNAL_MCAST"},
		{OpNotifyGoSignal, "NOTIFY_GO_SIGNAL"},
		{OpExecBuf, "EXEC_BUF"},
		{OpExecBufEnd, "EXEC_BUF_END"},
		{Opcode(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}
