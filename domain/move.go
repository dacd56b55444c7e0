package domain

import "fmt"

// MoveOperation is a single card relocation produced by a drag and drop
// gesture. FromIndex is only a hint; the card is located by id.
type MoveOperation struct {
	CardID    string   `json:"cardId"`
	FromList  ListName `json:"fromList"`
	ToList    ListName `json:"toList"`
	FromIndex int      `json:"fromIndex"`
	ToIndex   int      `json:"toIndex"`
}

// MoveRequest is the body of the move confirmation request.
type MoveRequest struct {
	FromList ListName `json:"fromList"`
	ToList   ListName `json:"toList"`
	ToIndex  int      `json:"toIndex"`
}

func (op MoveOperation) Request() MoveRequest {
	return MoveRequest{FromList: op.FromList, ToList: op.ToList, ToIndex: op.ToIndex}
}

// CrossList reports whether the move changes list membership.
func (op MoveOperation) CrossList() bool {
	return op.FromList != op.ToList
}

func (op MoveOperation) Validate() error {
	if op.CardID == "" {
		return fmt.Errorf("move: empty card id")
	}
	if !op.FromList.Valid() {
		return fmt.Errorf("move: from %q: %w", op.FromList, ErrUnknownList)
	}
	if !op.ToList.Valid() {
		return fmt.Errorf("move: to %q: %w", op.ToList, ErrUnknownList)
	}
	return nil
}

// Admit validates op and checks the WIP limit of the target list.
// Reordering inside one list is always admitted.
func (op MoveOperation) Admit(b *BoardState) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if !op.CrossList() {
		return nil
	}
	count := len(b.List(op.ToList))
	limit := b.WIPLimits.Limit(op.ToList)
	if count >= limit {
		return &WIPLimitError{List: op.ToList, Count: count, Limit: limit}
	}
	return nil
}

// ApplyMove splices the card out of its source list and inserts it into the
// target list at ToIndex, clamped to the list bounds. The lists touched are
// rebuilt so slices previously returned by List are left intact.
func (b *BoardState) ApplyMove(op MoveOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	from := b.List(op.FromList)
	idx := indexOf(from, op.CardID, op.FromIndex)
	if idx < 0 {
		return fmt.Errorf("move %s from %s: %w", op.CardID, op.FromList, ErrCardNotFound)
	}
	card := from[idx]

	rest := make([]Card, 0, len(from)-1)
	rest = append(rest, from[:idx]...)
	rest = append(rest, from[idx+1:]...)

	var to []Card
	if op.CrossList() {
		to = b.List(op.ToList)
		b.SetList(op.FromList, rest)
	} else {
		to = rest
	}

	at := op.ToIndex
	if at < 0 {
		at = 0
	}
	if at > len(to) {
		at = len(to)
	}
	out := make([]Card, 0, len(to)+1)
	out = append(out, to[:at]...)
	out = append(out, card)
	out = append(out, to[at:]...)
	b.SetList(op.ToList, out)
	return nil
}

func indexOf(cards []Card, id string, hint int) int {
	if hint >= 0 && hint < len(cards) && cards[hint].ID == id {
		return hint
	}
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// MoveStatus tracks one move through its lifecycle.
type MoveStatus int

const (
	MoveIdle MoveStatus = iota
	MovePending
	MoveConfirmed
	MoveRolledBack
	MoveRejected
)

func (s MoveStatus) String() string {
	switch s {
	case MoveIdle:
		return "idle"
	case MovePending:
		return "pending"
	case MoveConfirmed:
		return "confirmed"
	case MoveRolledBack:
		return "rolled_back"
	case MoveRejected:
		return "rejected"
	}
	return fmt.Sprintf("MoveStatus(%d)", int(s))
}
