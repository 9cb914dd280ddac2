package procevent

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forkEvent(parent, child int) Event {
	return Event{
		Kind:       KindFork,
		CPU:        3,
		Timestamp:  123456789,
		ParentPID:  parent,
		ParentTGID: parent,
		ChildPID:   child,
		ChildTGID:  child,
	}
}

func collect(t *testing.T, datagram []byte) ([]Event, []error) {
	t.Helper()
	var events []Event
	var errs []error
	for ev, err := range Decode(datagram) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

func TestDecode_SingleFork(t *testing.T) {
	want := forkEvent(100, 101)
	events, errs := collect(t, AppendEvent(nil, want))

	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, want, events[0])
}

func TestDecode_MultipleRecordsInOrder(t *testing.T) {
	var datagram []byte
	datagram = AppendEvent(datagram, forkEvent(100, 101))
	datagram = AppendEvent(datagram, forkEvent(100, 102))
	datagram = AppendEvent(datagram, forkEvent(1, 103))

	events, errs := collect(t, datagram)

	assert.Empty(t, errs)
	require.Len(t, events, 3)
	assert.Equal(t, 101, events[0].ChildPID)
	assert.Equal(t, 102, events[1].ChildPID)
	assert.Equal(t, 103, events[2].ChildPID)
	assert.Equal(t, 1, events[2].ParentPID)
}

func TestDecode_SkipsOtherKinds(t *testing.T) {
	var datagram []byte
	for _, kind := range []Kind{KindExec, KindExit, KindComm, KindNone} {
		ev := forkEvent(100, 200)
		ev.Kind = kind
		datagram = AppendEvent(datagram, ev)
	}
	datagram = AppendEvent(datagram, forkEvent(100, 101))

	events, errs := collect(t, datagram)

	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, 101, events[0].ChildPID)
}

func TestDecode_SkipsForeignConnectorMessages(t *testing.T) {
	foreign := AppendEvent(nil, forkEvent(100, 200))
	binary.NativeEndian.PutUint32(foreign[16:], 7) // cn_msg idx

	datagram := AppendEvent(foreign, forkEvent(100, 101))
	events, errs := collect(t, datagram)

	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, 101, events[0].ChildPID)
}

func TestDecode_SkipsNonDoneRecords(t *testing.T) {
	noop := AppendEvent(nil, forkEvent(100, 200))
	binary.NativeEndian.PutUint16(noop[4:], 1) // NLMSG_NOOP

	datagram := AppendEvent(noop, forkEvent(100, 101))
	events, errs := collect(t, datagram)

	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, 101, events[0].ChildPID)
}

func TestDecode_Empty(t *testing.T) {
	events, errs := collect(t, nil)
	assert.Empty(t, events)
	assert.Empty(t, errs)
}

func TestDecode_TruncatedAtEveryLength(t *testing.T) {
	first := AppendEvent(nil, forkEvent(100, 101))
	full := AppendEvent(first, forkEvent(100, 102))

	for n := len(first) + 1; n < len(full); n++ {
		events, errs := collect(t, full[:n])

		require.Len(t, events, 1, "cut at %d", n)
		assert.Equal(t, 101, events[0].ChildPID)
		require.Len(t, errs, 1, "cut at %d", n)
		assert.ErrorIs(t, errs[0], ErrMalformed)
	}
}

func TestDecode_TruncatedFirstRecord(t *testing.T) {
	record := AppendEvent(nil, forkEvent(100, 101))

	for n := 1; n < len(record); n++ {
		assert.NotPanics(t, func() {
			events, errs := collect(t, record[:n])
			assert.Empty(t, events, "cut at %d", n)
			require.Len(t, errs, 1, "cut at %d", n)
			assert.ErrorIs(t, errs[0], ErrMalformed)
		})
	}
}

func TestDecode_MalformedLengths(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rec []byte)
	}{
		{
			name:   "netlink length below header",
			mutate: func(rec []byte) { binary.NativeEndian.PutUint32(rec[0:], 8) },
		},
		{
			name:   "netlink length beyond datagram",
			mutate: func(rec []byte) { binary.NativeEndian.PutUint32(rec[0:], 4096) },
		},
		{
			name:   "connector length beyond record",
			mutate: func(rec []byte) { binary.NativeEndian.PutUint16(rec[32:], 500) },
		},
		{
			name:   "connector length shorter than event header",
			mutate: func(rec []byte) { binary.NativeEndian.PutUint16(rec[32:], 8) },
		},
		{
			name:   "fork payload cut short",
			mutate: func(rec []byte) { binary.NativeEndian.PutUint16(rec[32:], procEventHeaderLen+8) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := AppendEvent(nil, forkEvent(100, 101))
			tt.mutate(rec)

			events, errs := collect(t, rec)
			assert.Empty(t, events)
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], ErrMalformed)
		})
	}
}

func TestDecode_StopsWhenConsumerBreaks(t *testing.T) {
	var datagram []byte
	for child := 101; child <= 105; child++ {
		datagram = AppendEvent(datagram, forkEvent(100, child))
	}

	seen := 0
	for range Decode(datagram) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestDecode_EventsDoNotAliasDatagram(t *testing.T) {
	datagram := AppendEvent(nil, forkEvent(100, 101))
	events, _ := collect(t, datagram)
	require.Len(t, events, 1)

	clear(datagram)
	assert.Equal(t, 101, events[0].ChildPID)
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindFork, "fork"},
		{KindExec, "exec"},
		{KindExit, "exit"},
		{KindNonzeroExit, "nonzero_exit"},
		{Kind(0x1000), "unknown(0x1000)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestEventIsThread(t *testing.T) {
	process := forkEvent(100, 101)
	assert.False(t, process.IsThread())

	thread := process
	thread.ChildPID = 102
	assert.True(t, thread.IsThread())
}

func TestControlMessages(t *testing.T) {
	ne := binary.NativeEndian

	listen := ListenMessage(4242)
	require.Len(t, listen, 40)
	assert.Equal(t, uint32(40), ne.Uint32(listen[0:]))
	assert.Equal(t, uint16(nlmsgDone), ne.Uint16(listen[4:]))
	assert.Equal(t, uint32(4242), ne.Uint32(listen[12:]))
	assert.Equal(t, uint32(cnIdxProc), ne.Uint32(listen[16:]))
	assert.Equal(t, uint32(cnValProc), ne.Uint32(listen[20:]))
	assert.Equal(t, uint16(4), ne.Uint16(listen[32:]))
	assert.Equal(t, uint32(1), ne.Uint32(listen[36:]))

	ignore := IgnoreMessage(4242)
	require.Len(t, ignore, 40)
	assert.Equal(t, uint32(2), ne.Uint32(ignore[36:]))
	assert.Equal(t, listen[:36], ignore[:36])
}

func TestControlMessageDecodesToNothing(t *testing.T) {
	// a control message has a proc connector header but no proc_event
	events, errs := collect(t, ListenMessage(1))
	assert.Empty(t, events)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrMalformed)
}
