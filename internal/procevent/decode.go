// Package procevent decodes proc connector datagrams and encodes the control
// messages that subscribe to them.
//
// Every datagram is a run of netlink records. Each record carries a connector
// message, which in turn carries one proc_event:
//
//	nlmsghdr   len u32 | type u16 | flags u16 | seq u32 | pid u32       (16)
//	cn_msg     idx u32 | val u32 | seq u32 | ack u32 | len u16 | flags u16 (20)
//	proc_event what u32 | cpu u32 | timestamp_ns u64                   (16)
//	fork       parent_pid u32 | parent_tgid u32 | child_pid u32 | child_tgid u32
//
// Fields are read at fixed offsets in host byte order. Each declared length is
// checked against the bytes actually remaining before it is trusted.
package procevent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
)

// ErrMalformed is returned when a record's declared length does not fit the datagram.
var ErrMalformed = errors.New("malformed proc connector record")

const (
	nlmsgHeaderLen = 16
	nlmsgAlignTo   = 4
	nlmsgDone      = 0x3

	cnMsgHeaderLen = 20
	cnIdxProc      = 0x1
	cnValProc      = 0x1

	procEventHeaderLen = 16
	forkDataLen        = 16
)

func nlmsgAlign(n int) int {
	return (n + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

// Decode returns the fork events in datagram, in order. Records of other kinds
// and foreign connector messages are skipped. A malformed record yields one
// ErrMalformed error and ends the sequence; events before it are still yielded.
func Decode(datagram []byte) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		buf := datagram
		for len(buf) > 0 {
			if len(buf) < nlmsgHeaderLen {
				yield(Event{}, fmt.Errorf("%w: %d trailing bytes, shorter than a header", ErrMalformed, len(buf)))
				return
			}

			msgLen := int(binary.NativeEndian.Uint32(buf[0:4]))
			msgType := binary.NativeEndian.Uint16(buf[4:6])
			if msgLen < nlmsgHeaderLen || msgLen > len(buf) {
				yield(Event{}, fmt.Errorf("%w: record declares %d bytes, %d remain", ErrMalformed, msgLen, len(buf)))
				return
			}

			event, ok, err := decodeRecord(msgType, buf[nlmsgHeaderLen:msgLen])
			if err != nil {
				yield(Event{}, err)
				return
			}
			if ok && !yield(event, nil) {
				return
			}

			next := nlmsgAlign(msgLen)
			if next >= len(buf) {
				return
			}
			buf = buf[next:]
		}
	}
}

// decodeRecord decodes the payload of one netlink record. ok is false for
// records that are well formed but not fork events.
func decodeRecord(msgType uint16, payload []byte) (Event, bool, error) {
	// proc connector messages are always NLMSG_DONE; NOOP and ERROR carry no event
	if msgType != nlmsgDone {
		return Event{}, false, nil
	}

	if len(payload) < cnMsgHeaderLen {
		return Event{}, false, fmt.Errorf("%w: connector header needs %d bytes, %d remain", ErrMalformed, cnMsgHeaderLen, len(payload))
	}

	idx := binary.NativeEndian.Uint32(payload[0:4])
	val := binary.NativeEndian.Uint32(payload[4:8])
	dataLen := int(binary.NativeEndian.Uint16(payload[16:18]))
	data := payload[cnMsgHeaderLen:]
	if dataLen > len(data) {
		return Event{}, false, fmt.Errorf("%w: connector declares %d bytes, %d remain", ErrMalformed, dataLen, len(data))
	}
	data = data[:dataLen]

	if idx != cnIdxProc || val != cnValProc {
		return Event{}, false, nil
	}

	if len(data) < procEventHeaderLen {
		return Event{}, false, fmt.Errorf("%w: proc event header needs %d bytes, %d remain", ErrMalformed, procEventHeaderLen, len(data))
	}

	event := Event{
		Kind:      Kind(binary.NativeEndian.Uint32(data[0:4])),
		CPU:       binary.NativeEndian.Uint32(data[4:8]),
		Timestamp: binary.NativeEndian.Uint64(data[8:16]),
	}
	if event.Kind != KindFork {
		return Event{}, false, nil
	}

	fork := data[procEventHeaderLen:]
	if len(fork) < forkDataLen {
		return Event{}, false, fmt.Errorf("%w: fork event needs %d bytes, %d remain", ErrMalformed, forkDataLen, len(fork))
	}

	event.ParentPID = int(binary.NativeEndian.Uint32(fork[0:4]))
	event.ParentTGID = int(binary.NativeEndian.Uint32(fork[4:8]))
	event.ChildPID = int(binary.NativeEndian.Uint32(fork[8:12]))
	event.ChildTGID = int(binary.NativeEndian.Uint32(fork[12:16]))

	return event, true, nil
}
