// Package client implements the protocol side of the chat client: parsing
// server frames, deciding what to display and acknowledge, and turning
// console input into outbound frames. It is transport and UI agnostic so the
// terminal frontend stays free of protocol logic.
package client

import (
	"encoding/json"
	"strings"

	"linechat/internal/protocol"
	"linechat/internal/store"
)

// LineKind classifies a display line for rendering.
type LineKind int

const (
	LineInfo LineKind = iota // connection and status updates
	LineChat                 // a chat message, From names the author
	LineRaw                  // free text passed through from the server
)

// Line is one unit of display output.
type Line struct {
	Kind LineKind
	From string
	Text string
}

func info(text string) Line { return Line{Kind: LineInfo, Text: text} }

// Engine tracks the client's protocol state: its own name, the scope it is
// viewing, and the latest roster statistic. HandleServer consumes one inbound
// line and HandleInput one line of console input; both return the lines to
// display and the frames to send.
type Engine struct {
	name  string
	scope store.Scope
	stat  *protocol.Statistic
}

func NewEngine() *Engine {
	return &Engine{scope: store.DefaultScope()}
}

// Name returns the accepted user name, empty while still negotiating.
func (e *Engine) Name() string { return e.name }

// Named reports whether name negotiation has completed.
func (e *Engine) Named() bool { return e.name != "" }

// Scope returns the scope the user is currently viewing.
func (e *Engine) Scope() store.Scope { return e.scope }

// Statistic returns a copy of the last received roster, or nil.
func (e *Engine) Statistic() *protocol.Statistic {
	if e.stat == nil {
		return nil
	}
	cp := protocol.Statistic{
		Users:    append([]string(nil), e.stat.Users...),
		Channels: append([]string(nil), e.stat.Channels...),
	}
	return &cp
}

// ---------------------------------------------------------------------------
// Inbound frames
// ---------------------------------------------------------------------------

// HandleServer processes one line received from the server.
func (e *Engine) HandleServer(raw string) ([]Line, [][]byte) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	op, payload := protocol.Split(raw)

	switch op {
	case protocol.OpChooseName:
		return []Line{info("Choose username")}, nil

	case protocol.OpNameRejected:
		return []Line{
			info("This username is already in use"),
			info("Please choose another one"),
		}, nil

	case protocol.OpNameAccepted:
		e.name = payload
		// Ask for the roster right away so the user sees who is around.
		return []Line{info("OK! Your name is " + e.name)},
			[][]byte{protocol.Frame(protocol.OpGetStatistic, "")}

	case protocol.OpChangeChat:
		chatType, chatName, err := protocol.ParseChangeChat(payload)
		if err != nil {
			return []Line{info("Wrong chat type")}, nil
		}
		e.scope = store.Scope{Kind: chatType, Name: chatName}
		return []Line{info("Current chat type: " + chatType + ", and connection name: " + chatName)}, nil

	case protocol.OpSetStatistic:
		var st protocol.Statistic
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return []Line{info("Malformed statistic from server")}, nil
		}
		e.stat = &st
		return e.statisticLines(), nil

	case protocol.OpMessageFromSrv:
		return e.handleMessage(payload)

	default:
		// Free text, ban notices and denials included.
		return []Line{{Kind: LineRaw, Text: strings.TrimRight(raw, "\n")}}, nil
	}
}

// handleMessage displays a routed message when this user's view matches its
// destination, and acknowledges exactly what it displays.
func (e *Engine) handleMessage(payload string) ([]Line, [][]byte) {
	var msg protocol.ServerMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return []Line{info("Malformed message from server")}, nil
	}

	dest := store.Scope{Kind: msg.DestinationType, Name: msg.DestinationName}
	if !store.Deliverable(dest, e.scope, e.name) {
		return nil, nil
	}

	approve, err := protocol.FrameJSON(protocol.OpMessageApprove, protocol.Approve{
		UUID: msg.UUID,
		User: e.name,
	})
	if err != nil {
		return nil, nil
	}
	line := Line{Kind: LineChat, From: msg.Creator, Text: msg.Message}
	return []Line{line}, [][]byte{approve}
}

func (e *Engine) statisticLines() []Line {
	if e.stat == nil {
		return []Line{info("No statistic received yet")}
	}
	return []Line{
		info("Users online: " + strings.Join(e.stat.Users, ", ")),
		info("Channels: " + strings.Join(e.stat.Channels, ", ")),
	}
}

// ---------------------------------------------------------------------------
// Console input
// ---------------------------------------------------------------------------

// HandleInput processes one line of console input. Before a name is accepted
// every line is a candidate name; after that a few commands are recognized
// and anything else is posted as a chat message.
func (e *Engine) HandleInput(input string) ([]Line, [][]byte) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	if !e.Named() {
		return nil, [][]byte{[]byte(strings.TrimSpace(input) + "\n")}
	}

	op, payload := protocol.Split(input)
	switch op {
	case protocol.OpChangeChat:
		if _, _, err := protocol.ParseChangeChat(payload); err != nil {
			return []Line{info("Wrong chat type")}, nil
		}
		return nil, [][]byte{protocol.Frame(protocol.OpChangeChat, payload)}

	case protocol.OpGetStatistic:
		return nil, [][]byte{protocol.Frame(protocol.OpGetStatistic, "")}

	case protocol.OpBanUser:
		if payload == "" {
			return []Line{info("Wrong user name")}, nil
		}
		return nil, [][]byte{protocol.Frame(protocol.OpBanUser, payload)}

	case "show_statistic":
		return e.statisticLines(), nil

	default:
		return nil, [][]byte{protocol.Frame(protocol.OpMessageFromClient, input)}
	}
}
