package procevent

import "encoding/binary"

// Multicast operations understood by the proc connector.
const (
	mcastListen = 1
	mcastIgnore = 2
)

// controlMessageLen is nlmsghdr + cn_msg + one u32 operation.
const controlMessageLen = nlmsgHeaderLen + cnMsgHeaderLen + 4

// ListenMessage returns the control datagram that asks the kernel to start
// multicasting process events. portID is the sender's netlink port, usually its pid.
func ListenMessage(portID uint32) []byte {
	return controlMessage(portID, mcastListen)
}

// IgnoreMessage returns the control datagram that stops process event delivery.
func IgnoreMessage(portID uint32) []byte {
	return controlMessage(portID, mcastIgnore)
}

func controlMessage(portID, op uint32) []byte {
	buf := make([]byte, controlMessageLen)
	ne := binary.NativeEndian

	ne.PutUint32(buf[0:], controlMessageLen) // nlmsg_len
	ne.PutUint16(buf[4:], nlmsgDone)         // nlmsg_type
	ne.PutUint16(buf[6:], 0)                 // nlmsg_flags
	ne.PutUint32(buf[8:], 0)                 // nlmsg_seq
	ne.PutUint32(buf[12:], portID)           // nlmsg_pid

	ne.PutUint32(buf[16:], cnIdxProc) // id.idx
	ne.PutUint32(buf[20:], cnValProc) // id.val
	ne.PutUint32(buf[24:], 0)         // seq
	ne.PutUint32(buf[28:], 0)         // ack
	ne.PutUint16(buf[32:], 4)         // len
	ne.PutUint16(buf[34:], 0)         // flags

	ne.PutUint32(buf[36:], op)
	return buf
}

// AppendEvent appends ev to dst as one kernel-format netlink record, padded to
// netlink alignment. Fork fields are written for every kind, matching the
// size of the union the kernel sends.
func AppendEvent(dst []byte, ev Event) []byte {
	const dataLen = procEventHeaderLen + forkDataLen
	const msgLen = nlmsgHeaderLen + cnMsgHeaderLen + dataLen

	rec := make([]byte, nlmsgAlign(msgLen))
	ne := binary.NativeEndian

	ne.PutUint32(rec[0:], msgLen)
	ne.PutUint16(rec[4:], nlmsgDone)

	ne.PutUint32(rec[16:], cnIdxProc)
	ne.PutUint32(rec[20:], cnValProc)
	ne.PutUint16(rec[32:], dataLen)

	data := rec[nlmsgHeaderLen+cnMsgHeaderLen:]
	ne.PutUint32(data[0:], uint32(ev.Kind))
	ne.PutUint32(data[4:], ev.CPU)
	ne.PutUint64(data[8:], ev.Timestamp)
	putPID(data[16:], ev.ParentPID)
	putPID(data[20:], ev.ParentTGID)
	putPID(data[24:], ev.ChildPID)
	putPID(data[28:], ev.ChildTGID)

	return append(dst, rec...)
}

func putPID(b []byte, pid int) {
	binary.NativeEndian.PutUint32(b, uint32(pid)) //nolint:gosec // pid_t is 32-bit
}
