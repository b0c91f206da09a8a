// Package protocol defines the wire format for all client-server communication.
// Each frame is a single line: an operator token, optionally followed by one
// space and a payload, terminated by a newline character (\n).
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator identifies what kind of frame is being sent.
type Operator string

const (
	// Server → Client
	OpChooseName     Operator = "choose_name"
	OpNameAccepted   Operator = "name_accepted"
	OpNameRejected   Operator = "name_rejected"
	OpSetStatistic   Operator = "set_statistic"
	OpMessageFromSrv Operator = "message_from_srv"

	// Client → Server
	OpGetStatistic      Operator = "get_statistic"
	OpMessageFromClient Operator = "message_from_client"
	OpMessageApprove    Operator = "message_approve"
	OpBanUser           Operator = "ban_user"

	// Both directions
	OpChangeChat Operator = "change_chat"
)

// Chat destination types carried in change_chat frames and message records.
const (
	ChatChannel = "channel"
	ChatPrivate = "private"
)

// ChannelGeneral is the only channel materialized by the server. Every
// connection starts there.
const ChannelGeneral = "general"

// Split decodes one frame. The line is trimmed, then cut at the first space:
// the left part is the operator, the remainder is the payload verbatim.
// Message bodies may contain spaces, so exactly one cut is made.
func Split(line string) (Operator, string) {
	op, payload, _ := strings.Cut(strings.TrimSpace(line), " ")
	return Operator(op), payload
}

// Frame renders a single ready-to-send frame. An empty payload produces the
// bare operator line.
func Frame(op Operator, payload string) []byte {
	if payload == "" {
		return []byte(string(op) + "\n")
	}
	return []byte(string(op) + " " + payload + "\n")
}

// FrameJSON marshals v and wraps it in a frame for op.
func FrameJSON(op Operator, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return Frame(op, string(raw)), nil
}

// FreeText renders a line that carries no operator. Ban notices and post
// denials travel this way; clients print such lines verbatim.
func FreeText(text string) []byte {
	return []byte(text + "\n")
}

// ParseChangeChat decodes a change_chat payload of the form `<type> <name>`.
// The name is everything after the first space and may itself contain spaces.
func ParseChangeChat(payload string) (chatType, chatName string, err error) {
	chatType, chatName, ok := strings.Cut(payload, " ")
	if !ok || chatName == "" {
		return "", "", fmt.Errorf("change_chat payload needs `<type> <name>`, got %q", payload)
	}
	if chatType != ChatChannel && chatType != ChatPrivate {
		return "", "", fmt.Errorf("unknown chat type %q", chatType)
	}
	return chatType, chatName, nil
}

// ---------------------------------------------------------------------------
// Payload types
// ---------------------------------------------------------------------------

// ServerMessage is the JSON payload of a message_from_srv frame. The server's
// delivery bookkeeping (creation time, who has acknowledged) never crosses
// the wire.
type ServerMessage struct {
	UUID            string `json:"uuid"`
	Creator         string `json:"creator"`
	DestinationType string `json:"destination_type"`
	DestinationName string `json:"destination_name"`
	Message         string `json:"message"`
}

// Approve is the JSON payload of a message_approve frame: user confirms that
// the message identified by UUID was displayed to them.
type Approve struct {
	UUID string `json:"uuid"`
	User string `json:"user"`
}

// Statistic is the JSON payload of a set_statistic frame.
type Statistic struct {
	Users    []string `json:"users"`
	Channels []string `json:"channels"`
}
