package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Transport event names.
const (
	EventBoardJoin   = "board:join"
	EventBoardLeave  = "board:leave"
	EventBoardUpdate = "kanban:update"

	EventLabelsUpdated    = "board:labels:updated"
	EventCommentAdded     = "card:comment:added"
	EventCommentDeleted   = "card:comment:deleted"
	EventChecklistUpdated = "card:checklist:updated"
	EventDeploymentLog    = "deployment:log"
	EventDeploymentStatus = "deployment:status"
	EventBoardPresence    = "board:presence"
)

// PassThroughEvents are relayed by the transport but never touch board state.
var PassThroughEvents = []string{
	EventLabelsUpdated,
	EventCommentAdded,
	EventCommentDeleted,
	EventChecklistUpdated,
	EventDeploymentLog,
	EventDeploymentStatus,
	EventBoardPresence,
}

// RoomPayload is sent with board:join and board:leave.
type RoomPayload struct {
	BoardID string `json:"boardId"`
}

type PresencePayload struct {
	BoardID string `json:"boardId"`
	Members int    `json:"members"`
}

// BoardUpdate is a full-state broadcast. Every field except the board id is
// kept raw so that a key which is missing or ill-typed is ignored on its own
// instead of failing the whole broadcast.
type BoardUpdate struct {
	BoardID   string          `json:"boardId"`
	Todo      json.RawMessage `json:"todo,omitempty"`
	Doing     json.RawMessage `json:"doing,omitempty"`
	Done      json.RawMessage `json:"done,omitempty"`
	WIPLimits json.RawMessage `json:"wipLimits,omitempty"`
	Labels    json.RawMessage `json:"labels,omitempty"`
	Name      json.RawMessage `json:"name,omitempty"`
}

// DecodeBoardUpdate parses a kanban:update payload.
func DecodeBoardUpdate(data []byte) (BoardUpdate, error) {
	var u BoardUpdate
	if err := sonic.Unmarshal(data, &u); err != nil {
		return BoardUpdate{}, err
	}
	return u, nil
}

// NewBoardUpdate builds the broadcast carrying the complete state of b.
func NewBoardUpdate(b BoardState) (BoardUpdate, error) {
	u := BoardUpdate{BoardID: b.ID}
	var err error
	if u.Todo, err = sonic.Marshal(nonNil(b.Todo)); err != nil {
		return BoardUpdate{}, err
	}
	if u.Doing, err = sonic.Marshal(nonNil(b.Doing)); err != nil {
		return BoardUpdate{}, err
	}
	if u.Done, err = sonic.Marshal(nonNil(b.Done)); err != nil {
		return BoardUpdate{}, err
	}
	if b.Labels != nil {
		if u.Labels, err = sonic.Marshal(b.Labels); err != nil {
			return BoardUpdate{}, err
		}
	}
	if u.WIPLimits, err = sonic.Marshal(b.WIPLimits); err != nil {
		return BoardUpdate{}, err
	}
	if b.Name != "" {
		if u.Name, err = sonic.Marshal(b.Name); err != nil {
			return BoardUpdate{}, err
		}
	}
	return u, nil
}

func nonNil(cards []Card) []Card {
	if cards == nil {
		return []Card{}
	}
	return cards
}

// Lists decodes every list the broadcast carries as an array. Lists sent as
// anything else are left out. A card without a string id fails the whole
// update so that it is never applied in part.
func (u BoardUpdate) Lists() (map[ListName][]Card, error) {
	out := make(map[ListName][]Card, len(Lists))
	for _, l := range Lists {
		raw := u.raw(l)
		if !isArray(raw) {
			continue
		}
		cards, err := decodeCards(raw)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", l, err)
		}
		out[l] = cards
	}
	return out, nil
}

// List returns the cards for l when the broadcast carries a usable array
// for it.
func (u BoardUpdate) List(l ListName) ([]Card, bool) {
	raw := u.raw(l)
	if !isArray(raw) {
		return nil, false
	}
	cards, err := decodeCards(raw)
	if err != nil {
		return nil, false
	}
	return cards, true
}

func (u BoardUpdate) raw(l ListName) json.RawMessage {
	switch l {
	case Todo:
		return u.Todo
	case Doing:
		return u.Doing
	case Done:
		return u.Done
	}
	return nil
}

// Limits returns the WIP limits when the broadcast carries a valid object.
func (u BoardUpdate) Limits() (WIPLimits, bool) {
	if !isObject(u.WIPLimits) {
		return WIPLimits{}, false
	}
	var w WIPLimits
	if err := sonic.Unmarshal(u.WIPLimits, &w); err != nil {
		return WIPLimits{}, false
	}
	return w, true
}

// BoardName returns the board name when the broadcast carries a string.
func (u BoardUpdate) BoardName() (string, bool) {
	if len(bytes.TrimSpace(u.Name)) == 0 {
		return "", false
	}
	var name string
	if err := sonic.Unmarshal(u.Name, &name); err != nil {
		return "", false
	}
	return name, true
}

// LabelSet returns the labels when the broadcast carries an array for them.
func (u BoardUpdate) LabelSet() ([]Label, bool) {
	if !isArray(u.Labels) {
		return nil, false
	}
	labels := []Label{}
	if err := sonic.Unmarshal(u.Labels, &labels); err != nil {
		return nil, false
	}
	return labels, true
}

// decodeCards decodes a card array element by element. A card with a
// malformed field keeps its id and every field that did decode.
func decodeCards(raw json.RawMessage) ([]Card, error) {
	var elems []json.RawMessage
	if err := sonic.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(elems))
	for i, elem := range elems {
		c, err := decodeCard(elem)
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func decodeCard(raw json.RawMessage) (Card, error) {
	var c Card
	if err := sonic.Unmarshal(raw, &c); err == nil && c.ID != "" {
		return c, nil
	}
	var fields map[string]json.RawMessage
	if err := sonic.Unmarshal(raw, &fields); err != nil {
		return Card{}, ErrMalformedCard
	}
	c = Card{}
	if err := sonic.Unmarshal(fields["id"], &c.ID); err != nil || c.ID == "" {
		return Card{}, ErrMalformedCard
	}
	for key, value := range fields {
		field, err := sonic.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		next := c
		if err := sonic.Unmarshal(field, &next); err == nil {
			c = next
		}
	}
	return c, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
