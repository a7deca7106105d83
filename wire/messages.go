package wire

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/bdeggleston/stockpaxos/ballot"
	"github.com/bdeggleston/stockpaxos/serializer"
)

// Tag identifies a message's concrete type on the wire.
type Tag byte

const (
	TagPrepare Tag = iota + 1
	TagPrepared
	TagAccept
	TagAccepted
	TagNack
	TagDecide
	TagSubmitCommand
	TagHeartbeatRequest
	TagHeartbeatReply
	TagCommandReply
)

// Message is the common interface implemented by every wire type in
// spec.md section 6's tagged message set.
type Message interface {
	Tag() Tag
	Serialize(buf *bufio.Writer) error
	Deserialize(buf *bufio.Reader) error
}

func writeBallot(buf *bufio.Writer, b ballot.Number) error {
	return serializer.WriteUint64(buf, uint64(b))
}

func readBallot(buf *bufio.Reader) (ballot.Number, error) {
	v, err := serializer.ReadUint64(buf)
	return ballot.Number(v), err
}

// Prepare is phase 1a: a proposer asking for promises on instance Inst
// at ballot Bal.
type Prepare struct {
	From string
	Inst uint64
	Bal  ballot.Number
}

func (m *Prepare) Tag() Tag { return TagPrepare }

func (m *Prepare) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteString(buf, m.From); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	return writeBallot(buf, m.Bal)
}

func (m *Prepare) Deserialize(buf *bufio.Reader) (err error) {
	if m.From, err = serializer.ReadString(buf); err != nil {
		return err
	}
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	m.Bal, err = readBallot(buf)
	return err
}

// Prepared is phase 1b: an acceptor's promise, carrying the highest
// ballot/value it had already accepted, if any.
type Prepared struct {
	Inst uint64
	Bal  ballot.Number
	ABal ballot.Number
	AVal *Command
}

func (m *Prepared) Tag() Tag { return TagPrepared }

func (m *Prepared) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	if err := writeBallot(buf, m.Bal); err != nil {
		return err
	}
	if err := writeBallot(buf, m.ABal); err != nil {
		return err
	}
	return writeOptionalCommand(buf, m.AVal)
}

func (m *Prepared) Deserialize(buf *bufio.Reader) (err error) {
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.Bal, err = readBallot(buf); err != nil {
		return err
	}
	if m.ABal, err = readBallot(buf); err != nil {
		return err
	}
	m.AVal, err = readOptionalCommand(buf)
	return err
}

// Accept is phase 2a: a proposer asking acceptors to accept value V at
// ballot Bal for instance Inst.
type Accept struct {
	From string
	Inst uint64
	Bal  ballot.Number
	V    *Command
}

func (m *Accept) Tag() Tag { return TagAccept }

func (m *Accept) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteString(buf, m.From); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	if err := writeBallot(buf, m.Bal); err != nil {
		return err
	}
	return writeOptionalCommand(buf, m.V)
}

func (m *Accept) Deserialize(buf *bufio.Reader) (err error) {
	if m.From, err = serializer.ReadString(buf); err != nil {
		return err
	}
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.Bal, err = readBallot(buf); err != nil {
		return err
	}
	m.V, err = readOptionalCommand(buf)
	return err
}

// Accepted is phase 2b: an acceptor confirming it accepted Bal.
type Accepted struct {
	Inst uint64
	Bal  ballot.Number
}

func (m *Accepted) Tag() Tag { return TagAccepted }

func (m *Accepted) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	return writeBallot(buf, m.Bal)
}

func (m *Accepted) Deserialize(buf *bufio.Reader) (err error) {
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	m.Bal, err = readBallot(buf)
	return err
}

// Nack rejects a Prepare or Accept whose ballot was too low.
type Nack struct {
	Inst uint64
	Bal  ballot.Number
}

func (m *Nack) Tag() Tag { return TagNack }

func (m *Nack) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	return writeBallot(buf, m.Bal)
}

func (m *Nack) Deserialize(buf *bufio.Reader) (err error) {
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	m.Bal, err = readBallot(buf)
	return err
}

// Decide broadcasts the chosen value for an instance to every learner.
type Decide struct {
	Inst uint64
	V    *Command
}

func (m *Decide) Tag() Tag { return TagDecide }

func (m *Decide) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	return writeOptionalCommand(buf, m.V)
}

func (m *Decide) Deserialize(buf *bufio.Reader) (err error) {
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	m.V, err = readOptionalCommand(buf)
	return err
}

// SubmitCommand is a front-end's request that a replica propose Cmd.
type SubmitCommand struct {
	Cmd *Command
}

func (m *SubmitCommand) Tag() Tag { return TagSubmitCommand }

func (m *SubmitCommand) Serialize(buf *bufio.Writer) error {
	return writeOptionalCommand(buf, m.Cmd)
}

func (m *SubmitCommand) Deserialize(buf *bufio.Reader) (err error) {
	m.Cmd, err = readOptionalCommand(buf)
	return err
}

// HeartbeatRequest is a client backend probing a replica's liveness.
type HeartbeatRequest struct {
	Probe string
}

func (m *HeartbeatRequest) Tag() Tag { return TagHeartbeatRequest }

func (m *HeartbeatRequest) Serialize(buf *bufio.Writer) error {
	return serializer.WriteString(buf, m.Probe)
}

func (m *HeartbeatRequest) Deserialize(buf *bufio.Reader) (err error) {
	m.Probe, err = serializer.ReadString(buf)
	return err
}

// HeartbeatReply answers a HeartbeatRequest with the replica's name.
type HeartbeatReply struct {
	Name string
}

func (m *HeartbeatReply) Tag() Tag { return TagHeartbeatReply }

func (m *HeartbeatReply) Serialize(buf *bufio.Writer) error {
	return serializer.WriteString(buf, m.Name)
}

func (m *HeartbeatReply) Deserialize(buf *bufio.Reader) (err error) {
	m.Name, err = serializer.ReadString(buf)
	return err
}

// ResultKind tags the outcome of a submitted command.
type ResultKind byte

const (
	ResCreateItemOK ResultKind = iota + 1
	ResDeleteItemOK
	ResAddStockOK
	ResRemoveStockOK
	ResQueryStockOK
	ResErrDuplicateItem
	ResErrNoSuchItem
	ResErrInsufficientStock
	ResAbort
	ResTimeout
	ResFail
)

func (k ResultKind) String() string {
	switch k {
	case ResCreateItemOK:
		return "create_item_ok"
	case ResDeleteItemOK:
		return "delete_item_ok"
	case ResAddStockOK:
		return "add_stock_ok"
	case ResRemoveStockOK:
		return "remove_stock_ok"
	case ResQueryStockOK:
		return "query_stock_ok"
	case ResErrDuplicateItem:
		return "err_duplicate_item"
	case ResErrNoSuchItem:
		return "err_no_such_item"
	case ResErrInsufficientStock:
		return "err_insufficient_stock"
	case ResAbort:
		return "abort"
	case ResTimeout:
		return "timeout"
	case ResFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Result is the outcome delivered back to the originating client.
type Result struct {
	Kind ResultKind
	Qty  uint64
}

func (r Result) Serialize(buf *bufio.Writer) error {
	if err := buf.WriteByte(byte(r.Kind)); err != nil {
		return err
	}
	return serializer.WriteUint64(buf, r.Qty)
}

func (r *Result) Deserialize(buf *bufio.Reader) error {
	kind, err := buf.ReadByte()
	if err != nil {
		return err
	}
	r.Kind = ResultKind(kind)
	r.Qty, err = serializer.ReadUint64(buf)
	return err
}

// CommandReply carries the Result of a previously submitted command
// back to the originating client, identified by ClientID/ClientSeq so
// a client with multiple in-flight retries can match replies.
type CommandReply struct {
	Inst      uint64
	ClientID  string
	ClientSeq uint64
	Result    Result
}

func (m *CommandReply) Tag() Tag { return TagCommandReply }

func (m *CommandReply) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint64(buf, m.Inst); err != nil {
		return err
	}
	if err := serializer.WriteString(buf, m.ClientID); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.ClientSeq); err != nil {
		return err
	}
	return m.Result.Serialize(buf)
}

func (m *CommandReply) Deserialize(buf *bufio.Reader) (err error) {
	if m.Inst, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.ClientID, err = serializer.ReadString(buf); err != nil {
		return err
	}
	if m.ClientSeq, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	return m.Result.Deserialize(buf)
}

// Encode frames a Message as a length-prefixed one-byte tag field
// followed by a length-prefixed payload, using
// the same WriteFieldBytes framing the teacher's serializer package
// used for every wire type.
func Encode(m Message) ([]byte, error) {
	out := &bytes.Buffer{}
	w := bufio.NewWriter(out)
	if err := serializer.WriteFieldBytes(w, []byte{byte(m.Tag())}); err != nil {
		return nil, err
	}
	payloadBuf := &bytes.Buffer{}
	pw := bufio.NewWriter(payloadBuf)
	if err := m.Serialize(pw); err != nil {
		return nil, err
	}
	if err := pw.Flush(); err != nil {
		return nil, err
	}
	if err := serializer.WriteFieldBytes(w, payloadBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decode reverses Encode.
func Decode(b []byte) (Message, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	tagBytes, err := serializer.ReadFieldBytes(r)
	if err != nil {
		return nil, err
	}
	if len(tagBytes) != 1 {
		return nil, fmt.Errorf("wire: malformed tag field")
	}
	payload, err := serializer.ReadFieldBytes(r)
	if err != nil {
		return nil, err
	}
	pr := bufio.NewReader(bytes.NewReader(payload))

	var m Message
	switch Tag(tagBytes[0]) {
	case TagPrepare:
		m = &Prepare{}
	case TagPrepared:
		m = &Prepared{}
	case TagAccept:
		m = &Accept{}
	case TagAccepted:
		m = &Accepted{}
	case TagNack:
		m = &Nack{}
	case TagDecide:
		m = &Decide{}
	case TagSubmitCommand:
		m = &SubmitCommand{}
	case TagHeartbeatRequest:
		m = &HeartbeatRequest{}
	case TagHeartbeatReply:
		m = &HeartbeatReply{}
	case TagCommandReply:
		m = &CommandReply{}
	default:
		return nil, fmt.Errorf("wire: unknown tag %v", tagBytes[0])
	}
	if err := m.Deserialize(pr); err != nil {
		return nil, err
	}
	return m, nil
}
