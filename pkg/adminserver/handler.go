// Package adminserver implements the log unit's operational diagnostic
// surface: a line-oriented, key=value command protocol in the style of the
// teacher's own CommandHandler, wired against the engine façade instead of a
// topic manager. This is not the CorfuDB wire protocol; it exists so the
// engine can be poked at and inspected the way the teacher's broker is poked
// at over its own TCP command channel.
package adminserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/pkg/types"
	"github.com/google/uuid"
)

// CommandHandler dispatches admin protocol lines against a single Engine.
type CommandHandler struct {
	Engine *engine.Engine
}

// NewCommandHandler builds a handler bound to e.
func NewCommandHandler(e *engine.Engine) *CommandHandler {
	return &CommandHandler{Engine: e}
}

// HandleCommand parses and executes a single line, returning the response
// text to write back to the caller. It never panics: malformed input or a
// failed operation both come back as an "ERROR: ..." line.
func (ch *CommandHandler) HandleCommand(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	args := parseKeyValueArgs(rest)

	switch verb {
	case "HELP":
		return ch.handleHelp()
	case "APPEND":
		return ch.handleAppend(args)
	case "READ":
		return ch.handleRead(args)
	case "TRIM":
		return ch.handleTrim(args)
	case "TAILS":
		return ch.handleTails(args)
	case "SYNC":
		return ch.handleSync()
	case "COMMITTED_TAIL":
		return ch.handleCommittedTail(args)
	default:
		return fmt.Sprintf("ERROR: unknown command %q. Try HELP.", fields[0])
	}
}

func (ch *CommandHandler) handleHelp() string {
	return `Available commands:
APPEND address=<N> payload=<text> [streams=<uuid,uuid,...>] - write a record
READ address=<N> - read a record, or TRIMMED/ERROR
TRIM address=<N> - advance the prefix-trim mark past address
TAILS [streams=<uuid,uuid,...>] - report the global tail and stream tails
COMMITTED_TAIL address=<N> - record the cluster's committed tail
SYNC - force dirty segments and metadata to disk
HELP - show this help
EXIT - close the connection`
}

func (ch *CommandHandler) handleAppend(args map[string]string) string {
	address, err := parseAddress(args)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	entry := &types.LogEntry{
		Type:    types.DataEntry,
		Epoch:   1,
		Payload: []byte(args["payload"]),
	}
	if raw, ok := args["streams"]; ok && raw != "" {
		for _, s := range strings.Split(raw, ",") {
			sid, err := uuid.Parse(strings.TrimSpace(s))
			if err != nil {
				return fmt.Sprintf("ERROR: bad stream id %q: %v", s, err)
			}
			entry.StreamIDs = append(entry.StreamIDs, sid)
		}
	}

	if err := ch.Engine.Append(address, entry); err != nil {
		return "ERROR: " + err.Error()
	}
	return fmt.Sprintf("OK address=%d", address)
}

func (ch *CommandHandler) handleRead(args map[string]string) string {
	address, err := parseAddress(args)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	entry, ok, err := ch.Engine.Read(address)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	if !ok {
		return fmt.Sprintf("EMPTY address=%d", address)
	}
	return fmt.Sprintf("OK address=%d type=%s payload=%q", address, entry.Type, entry.Payload)
}

func (ch *CommandHandler) handleTrim(args map[string]string) string {
	address, err := parseAddress(args)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	if err := ch.Engine.PrefixTrim(address); err != nil {
		return "ERROR: " + err.Error()
	}
	return fmt.Sprintf("OK trimmed_through=%d", address)
}

func (ch *CommandHandler) handleTails(args map[string]string) string {
	var streams []types.StreamID
	if raw, ok := args["streams"]; ok && raw != "" {
		for _, s := range strings.Split(raw, ",") {
			sid, err := uuid.Parse(strings.TrimSpace(s))
			if err != nil {
				return fmt.Sprintf("ERROR: bad stream id %q: %v", s, err)
			}
			streams = append(streams, sid)
		}
	}

	var tails engine.Tails
	if streams == nil {
		tails = ch.Engine.GetStreamsAddressSpace()
	} else {
		tails = ch.Engine.GetTails(streams)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "OK global_tail=%d", tails.GlobalTail)
	for sid, tail := range tails.StreamTails {
		fmt.Fprintf(&b, " %s=%d", sid, tail)
	}
	return b.String()
}

func (ch *CommandHandler) handleSync() string {
	if err := ch.Engine.Sync(true); err != nil {
		return "ERROR: " + err.Error()
	}
	return "OK synced"
}

func (ch *CommandHandler) handleCommittedTail(args map[string]string) string {
	address, err := parseAddress(args)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	if err := ch.Engine.SetCommittedTail(address); err != nil {
		return "ERROR: " + err.Error()
	}
	return fmt.Sprintf("OK committed_tail=%d", address)
}

func parseAddress(args map[string]string) (uint64, error) {
	raw, ok := args["address"]
	if !ok {
		return 0, fmt.Errorf("missing address parameter")
	}
	address, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("address must be a non-negative integer: %w", err)
	}
	return address, nil
}

// parseKeyValueArgs splits "key=value key2=value2" into a map, the same
// simple convention the teacher's command handler uses for CREATE/PUBLISH.
func parseKeyValueArgs(s string) map[string]string {
	args := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		args[kv[0]] = kv[1]
	}
	return args
}
