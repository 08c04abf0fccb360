// Package bridge implements the host↔guest file bridge (§4.8, §3 Bridge
// request/reply): a single in-flight mailbox used by the SFTP/HTTP front
// ends to make the guest perform file operations under its own semantics.
package bridge

import (
	"encoding/binary"
	"fmt"
)

// MailboxSize is the fixed size, in bytes, of both the request and reply
// mailboxes in guest common memory.
const MailboxSize = 256

// RequestType enumerates the file operations the guest RSP understands.
type RequestType byte

const (
	ReqOpen RequestType = iota + 1
	ReqRead
	ReqWrite
	ReqList
	ReqStat
	ReqDelete
)

// Request is one bridge request (§3). Name follows the 8.3 grammar,
// space-padded to 11 bytes (8 name + 3 extension) the way CP/M-family FCBs
// are laid out.
type Request struct {
	ID     uint32
	Type   RequestType
	Drive  byte
	User   byte
	Flags  byte
	Name   [11]byte
	Offset uint32
	Length uint16
	Data   []byte
}

// Reply is one bridge reply (§3).
type Reply struct {
	ID     uint32
	Status byte
	Length uint16
	Data   []byte
}

// Encode serializes r into a MailboxSize-byte mailbox.
func (r *Request) Encode() [MailboxSize]byte {
	var buf [MailboxSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.ID)
	buf[4] = byte(r.Type)
	buf[5] = r.Drive
	buf[6] = r.User
	buf[7] = r.Flags
	copy(buf[8:19], r.Name[:])
	binary.LittleEndian.PutUint32(buf[19:23], r.Offset)
	binary.LittleEndian.PutUint16(buf[23:25], r.Length)
	copy(buf[25:], r.Data)
	return buf
}

// DecodeRequest parses a MailboxSize-byte mailbox into a Request.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < 25 {
		return nil, fmt.Errorf("bridge: request mailbox too short (%d bytes)", len(buf))
	}
	r := &Request{
		ID:     binary.LittleEndian.Uint32(buf[0:4]),
		Type:   RequestType(buf[4]),
		Drive:  buf[5],
		User:   buf[6],
		Flags:  buf[7],
		Offset: binary.LittleEndian.Uint32(buf[19:23]),
		Length: binary.LittleEndian.Uint16(buf[23:25]),
	}
	copy(r.Name[:], buf[8:19])
	tail := buf[25:]
	n := int(r.Length)
	if n > len(tail) {
		n = len(tail)
	}
	r.Data = append([]byte(nil), tail[:n]...)
	return r, nil
}

// Encode serializes a reply into a MailboxSize-byte mailbox.
func (r *Reply) Encode() [MailboxSize]byte {
	var buf [MailboxSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.ID)
	buf[4] = r.Status
	binary.LittleEndian.PutUint16(buf[5:7], r.Length)
	copy(buf[7:], r.Data)
	return buf
}

// DecodeReply parses a MailboxSize-byte mailbox into a Reply.
func DecodeReply(buf []byte) (*Reply, error) {
	if len(buf) < 7 {
		return nil, fmt.Errorf("bridge: reply mailbox too short (%d bytes)", len(buf))
	}
	r := &Reply{
		ID:     binary.LittleEndian.Uint32(buf[0:4]),
		Status: buf[4],
		Length: binary.LittleEndian.Uint16(buf[5:7]),
	}
	tail := buf[7:]
	n := int(r.Length)
	if n > len(tail) {
		n = len(tail)
	}
	r.Data = append([]byte(nil), tail[:n]...)
	return r, nil
}

// NameFromPath renders an 8.3 filename (already validated by the caller)
// into the fixed 11-byte FCB-style field, space padded.
func NameFromPath(name, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], name)
	copy(out[8:11], ext)
	return out
}
