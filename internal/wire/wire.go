// Package wire implements the Wayland wire format: object ids, opcodes,
// message framing, argument encode/decode, and file-descriptor passing over
// an AF_UNIX socket via SCM_RIGHTS.
//
// The shape (ObjectID/Opcode/Message/Encoder/Decoder) mirrors the pure-Go
// client-side wire layer used throughout the reference pack's Wayland
// client bindings; here it is inverted for server use: a Conn both decodes
// client requests and encodes server events on the same object stream.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// ObjectID identifies a protocol object within one client's connection.
// Ids below 0xff000000 are client-allocated (new_id in requests); ids at or
// above that are reserved for server-allocated objects.
type ObjectID uint32

// Opcode identifies a request (client->server) or event (server->client)
// within one interface.
type Opcode uint16

// ServerIDBase is the first id a server may allocate on its own, keeping
// client- and server-allocated namespaces disjoint.
const ServerIDBase ObjectID = 0xff000000

// Message is one decoded wire message: a request received from a client or
// an event about to be sent to one.
type Message struct {
	Sender ObjectID
	Opcode Opcode
	Args   []byte
	FDs    []int
}

const headerSize = 8
const maxMessageSize = 1 << 20

// Encoder builds the argument payload of a single outgoing message.
type Encoder struct {
	buf []byte
	fds []int
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) PutUint32(v uint32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) PutInt32(v int32) *Encoder { return e.PutUint32(uint32(v)) }

func (e *Encoder) PutObject(id ObjectID) *Encoder { return e.PutUint32(uint32(id)) }

func (e *Encoder) PutNewID(id ObjectID) *Encoder { return e.PutUint32(uint32(id)) }

func (e *Encoder) PutFixed(whole int32, frac uint32) *Encoder {
	// 24.8 fixed point, matching wl_fixed_t's layout.
	return e.PutInt32(whole<<8 | int32(frac&0xff))
}

// PutString appends a nul-terminated, length-prefixed, 32-bit-padded string.
func (e *Encoder) PutString(s string) *Encoder {
	n := uint32(len(s) + 1)
	e.PutUint32(n)
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
	return e
}

// PutArray appends a length-prefixed, 32-bit-padded byte array.
func (e *Encoder) PutArray(data []byte) *Encoder {
	e.PutUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
	e.pad()
	return e
}

// PutFD queues a file descriptor for out-of-band SCM_RIGHTS delivery.
// FDs never occupy space in the argument buffer itself.
func (e *Encoder) PutFD(fd int) *Encoder {
	e.fds = append(e.fds, fd)
	return e
}

func (e *Encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// Build finalizes the message with the given target object and opcode.
func (e *Encoder) Build(target ObjectID, op Opcode) *Message {
	return &Message{Sender: target, Opcode: op, Args: e.buf, FDs: e.fds}
}

// Decoder reads arguments out of a received message's Args buffer in the
// order they were written by the client, per the protocol's declared
// signature for that opcode.
type Decoder struct {
	buf []byte
	off int
	fds []int
}

func NewDecoder(msg *Message) *Decoder {
	return &Decoder{buf: msg.Args, fds: msg.FDs}
}

func (d *Decoder) Uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("wire: truncated uint32 argument")
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

func (d *Decoder) Fixed() (whole int32, frac uint32, err error) {
	v, err := d.Int32()
	if err != nil {
		return 0, 0, err
	}
	return v >> 8, uint32(v) & 0xff, nil
}

func (d *Decoder) Object() (ObjectID, error) {
	v, err := d.Uint32()
	return ObjectID(v), err
}

func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	end := d.off + int(n)
	if end > len(d.buf)+4 || d.off+int(n) > len(d.buf) {
		return "", fmt.Errorf("wire: truncated string argument")
	}
	s := string(d.buf[d.off : d.off+int(n)-1]) // drop trailing NUL
	d.off += int(n)
	for d.off%4 != 0 {
		d.off++
	}
	return s, nil
}

func (d *Decoder) Array() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, fmt.Errorf("wire: truncated array argument")
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	for d.off%4 != 0 {
		d.off++
	}
	return out, nil
}

// FD consumes the next ancillary file descriptor delivered alongside this
// message. Requests that carry an fd argument (shm pool creation, keymap
// acknowledgement, selection receive) must call this in argument order.
func (d *Decoder) FD() (int, error) {
	if len(d.fds) == 0 {
		return -1, fmt.Errorf("wire: no file descriptor available")
	}
	fd := d.fds[0]
	d.fds = d.fds[1:]
	return fd, nil
}

// Conn is a framed Wayland wire connection over one client's AF_UNIX
// socket, including SCM_RIGHTS file descriptor passing.
type Conn struct {
	uc *net.UnixConn
}

func NewConn(uc *net.UnixConn) *Conn { return &Conn{uc: uc} }

func (c *Conn) Close() error { return c.uc.Close() }

// ReadMessage blocks for the next full request from the client, including
// any file descriptors sent alongside it via SCM_RIGHTS.
func (c *Conn) ReadMessage() (*Message, error) {
	header := make([]byte, headerSize)
	oob := make([]byte, unix.CmsgSpace(4*16))

	var fds []int
	if err := c.readFull(header, oob, &fds); err != nil {
		return nil, err
	}
	sender := ObjectID(binary.LittleEndian.Uint32(header[0:4]))
	sizeOp := binary.LittleEndian.Uint32(header[4:8])
	size := int(sizeOp >> 16)
	op := Opcode(sizeOp & 0xffff)
	if size < headerSize || size > maxMessageSize {
		return nil, fmt.Errorf("wire: invalid message size %d", size)
	}

	body := make([]byte, size-headerSize)
	if len(body) > 0 {
		if err := c.readFull(body, nil, &fds); err != nil {
			return nil, err
		}
	}
	return &Message{Sender: sender, Opcode: op, Args: body, FDs: fds}, nil
}

func (c *Conn) readFull(buf, oobBuf []byte, fdsOut *[]int) error {
	read := 0
	for read < len(buf) {
		n, oobn, _, _, err := c.uc.ReadMsgUnix(buf[read:], oobBuf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		read += n
		if oobn > 0 && fdsOut != nil {
			scms, err := unix.ParseSocketControlMessage(oobBuf[:oobn])
			if err != nil {
				return err
			}
			for _, scm := range scms {
				fds, err := unix.ParseUnixRights(&scm)
				if err != nil {
					continue
				}
				*fdsOut = append(*fdsOut, fds...)
			}
		}
	}
	return nil
}

// WriteMessage sends one event to the client, including any file
// descriptors queued on msg via Encoder.PutFD.
func (c *Conn) WriteMessage(msg *Message) error {
	size := headerSize + len(msg.Args)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(msg.Sender))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size<<16)|uint32(msg.Opcode))
	copy(buf[headerSize:], msg.Args)

	var oob []byte
	if len(msg.FDs) > 0 {
		oob = unix.UnixRights(msg.FDs...)
	}
	_, _, err := c.uc.WriteMsgUnix(buf, oob, nil)
	return err
}
