/*
Command Construction and Execution

Command holds the ordered argument list for a single RESP3 request —
the verb plus whatever arguments follow it — along with two per-command
flags that control how its response is consumed. A Command is built once
by the caller, run against a Connection with Execute, and then discarded; the
codec treats it as read-only during encoding (see codec.go).

Usage:

	cmd := resp3.NewCommand("SET").Arg("key").Arg("value")
	result, err := cmd.Execute(ctx, conn)
*/
package resp3

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Command is an ordered sequence of byte-string arguments (the first is
// the verb) plus the discard-response and disconnect-on-error flags that
// govern how Execute reads back the server's reply.
type Command struct {
	arguments         [][]byte
	discardResponse   bool
	disconnectOnError bool
}

// NewCommand constructs a Command for verb with zero or more arguments,
// normalizing each to bytes the same way Arg does. discardResponse starts
// false and disconnectOnError starts true, matching the reference client.
func NewCommand(verb string, args ...any) *Command {
	cmd := &Command{
		disconnectOnError: true,
	}
	cmd.Arg(verb)
	for _, a := range args {
		cmd.Arg(a)
	}
	return cmd
}

// Arg appends one argument, normalizing it to bytes:
//   - []byte is used unchanged;
//   - string is encoded as UTF-8;
//   - any integer or floating-point type is formatted in its canonical
//     decimal textual form.
//
// A zero-length argument is permitted; its length is still encoded
// literally as 0. Arg returns the command so calls can be chained.
func (c *Command) Arg(value any) *Command {
	c.arguments = append(c.arguments, normalizeArg(value))
	return c
}

func normalizeArg(value any) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return []byte(strconv.FormatInt(int64(v), 10))
	case int8:
		return []byte(strconv.FormatInt(int64(v), 10))
	case int16:
		return []byte(strconv.FormatInt(int64(v), 10))
	case int32:
		return []byte(strconv.FormatInt(int64(v), 10))
	case int64:
		return []byte(strconv.FormatInt(v, 10))
	case uint:
		return []byte(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return []byte(strconv.FormatUint(uint64(v), 10))
	case uint16:
		return []byte(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return []byte(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return []byte(strconv.FormatUint(v, 10))
	case float32:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64))
	default:
		// Best-effort fallback for any other Stringer-like value; callers
		// passing anything outside the documented set get its fmt-default
		// form rather than a panic.
		return []byte(fmt.Sprint(value))
	}
}

// SetDiscardResponse controls whether Execute discards the response
// instead of decoding it.
func (c *Command) SetDiscardResponse(discard bool) *Command {
	c.discardResponse = discard
	return c
}

// SetDisconnectOnError controls whether a read-side I/O fault during
// Execute tears down the connection (see Connection.ReadResponse).
func (c *Command) SetDisconnectOnError(disconnect bool) *Command {
	c.disconnectOnError = disconnect
	return c
}

// Len returns the argument count, including the verb.
func (c *Command) Len() int { return len(c.arguments) }

// Args returns the arguments in insertion order. The returned slice
// aliases the command's internal storage and must not be mutated.
func (c *Command) Args() [][]byte { return c.arguments }

// String joins the arguments with spaces, decoding each as UTF-8 and
// replacing invalid sequences with U+FFFD — a debug-only rendering, not a
// wire form, matching the reference client's
// arg.decode("utf-8", errors="replace") join.
func (c *Command) String() string {
	parts := make([]string, len(c.arguments))
	for i, arg := range c.arguments {
		parts[i] = strings.ToValidUTF8(string(arg), "�")
	}
	return strings.Join(parts, " ")
}

// execConnection is the subset of Connection that Execute needs. It's
// declared here, not in connection.go, so Command stays decoupled from
// the concrete Connection type the way ConnectionProto does in the
// reference client.
type execConnection interface {
	WriteCommand(ctx context.Context, cmd *Command) error
	ReadResponse(ctx context.Context, disconnectOnError bool) (Value, error)
	DiscardResponse(ctx context.Context, disconnectOnError bool) error
}

// Execute writes the command to conn, then either discards or decodes the
// response according to the discardResponse flag, propagating
// disconnectOnError to whichever read the flag selects. After Execute
// returns (success or failure), conn is either alive and drained of this
// response, or closed — closed only when disconnectOnError was true and a
// fault occurred.
func (c *Command) Execute(ctx context.Context, conn execConnection) (Value, error) {
	if err := conn.WriteCommand(ctx, c); err != nil {
		return Value{}, err
	}

	if c.discardResponse {
		err := conn.DiscardResponse(ctx, c.disconnectOnError)
		return nullValue(), err
	}

	return conn.ReadResponse(ctx, c.disconnectOnError)
}
