// Package wire defines the tagged message set exchanged between
// replicas, consensus modules, and client backends (spec section 6),
// plus the binary framing used to move them across a node.Network.
package wire

import (
	"bufio"

	"github.com/bdeggleston/stockpaxos/serializer"
)

// CommandKind identifies which stock operation a Command carries.
type CommandKind byte

const (
	CreateItem CommandKind = iota + 1
	DeleteItem
	AddStock
	RemoveStock
	QueryStock
)

func (k CommandKind) String() string {
	switch k {
	case CreateItem:
		return "create_item"
	case DeleteItem:
		return "delete_item"
	case AddStock:
		return "add_stock"
	case RemoveStock:
		return "remove_stock"
	case QueryStock:
		return "query_stock"
	default:
		return "unknown"
	}
}

// Command is the value proposed into a consensus instance: one of the
// five stock operations from spec.md section 3, tagged with the
// originating client's address and a per-client monotonic sequence
// number used to deduplicate re-proposals (SPEC_FULL.md section 6).
type Command struct {
	Kind      CommandKind
	Item      string
	Qty       uint64
	ClientID  string
	ClientSeq uint64
}

// Equal reports whether two commands are identical, used by the
// agreement property test and by duplicate-instance detection.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Kind == o.Kind && c.Item == o.Item && c.Qty == o.Qty &&
		c.ClientID == o.ClientID && c.ClientSeq == o.ClientSeq
}

func (c *Command) Serialize(buf *bufio.Writer) error {
	if err := buf.WriteByte(byte(c.Kind)); err != nil {
		return err
	}
	if err := serializer.WriteString(buf, c.Item); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, c.Qty); err != nil {
		return err
	}
	if err := serializer.WriteString(buf, c.ClientID); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, c.ClientSeq); err != nil {
		return err
	}
	return nil
}

func (c *Command) Deserialize(buf *bufio.Reader) error {
	kind, err := buf.ReadByte()
	if err != nil {
		return err
	}
	c.Kind = CommandKind(kind)
	if c.Item, err = serializer.ReadString(buf); err != nil {
		return err
	}
	if c.Qty, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if c.ClientID, err = serializer.ReadString(buf); err != nil {
		return err
	}
	if c.ClientSeq, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	return nil
}

// writeOptionalCommand/readOptionalCommand let Prepared/Decide/Accept
// carry a possibly-nil command (no value accepted yet).
func writeOptionalCommand(buf *bufio.Writer, c *Command) error {
	if err := serializer.WriteBool(buf, c != nil); err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	return c.Serialize(buf)
}

func readOptionalCommand(buf *bufio.Reader) (*Command, error) {
	present, err := serializer.ReadBool(buf)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	c := &Command{}
	if err := c.Deserialize(buf); err != nil {
		return nil, err
	}
	return c, nil
}
