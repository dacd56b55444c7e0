package domain

// BoardState is the client-side snapshot of one board.
type BoardState struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Todo      []Card    `json:"todo"`
	Doing     []Card    `json:"doing"`
	Done      []Card    `json:"done"`
	WIPLimits WIPLimits `json:"wipLimits"`
	Labels    []Label   `json:"labels,omitempty"`
}

// NewBoardState returns an empty board with default WIP limits.
func NewBoardState(id string) BoardState {
	return BoardState{
		ID:        id,
		Todo:      []Card{},
		Doing:     []Card{},
		Done:      []Card{},
		WIPLimits: DefaultWIPLimits(),
	}
}

// List returns the cards of list l. The slice is shared with the state.
func (b *BoardState) List(l ListName) []Card {
	switch l {
	case Todo:
		return b.Todo
	case Doing:
		return b.Doing
	case Done:
		return b.Done
	}
	return nil
}

// SetList replaces the cards of list l.
func (b *BoardState) SetList(l ListName, cards []Card) {
	switch l {
	case Todo:
		b.Todo = cards
	case Doing:
		b.Doing = cards
	case Done:
		b.Done = cards
	}
}

// Clone returns a copy whose lists can be modified without touching b.
// Cards are copied by value; nested slices inside cards stay shared since
// the board engine never edits card contents in place.
func (b BoardState) Clone() BoardState {
	out := b
	out.Todo = cloneCards(b.Todo)
	out.Doing = cloneCards(b.Doing)
	out.Done = cloneCards(b.Done)
	if b.Labels != nil {
		out.Labels = append([]Label(nil), b.Labels...)
	}
	return out
}

func cloneCards(cards []Card) []Card {
	if cards == nil {
		return []Card{}
	}
	out := make([]Card, len(cards))
	copy(out, cards)
	return out
}

// Locate returns the list and index holding cardID.
func (b *BoardState) Locate(cardID string) (ListName, int, bool) {
	for _, l := range Lists {
		for i, c := range b.List(l) {
			if c.ID == cardID {
				return l, i, true
			}
		}
	}
	return "", -1, false
}

// IDs returns the card ids of list l in order.
func (b *BoardState) IDs(l ListName) []string {
	cards := b.List(l)
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

// DuplicateIDs returns every card id found more than once across the three
// lists. A well-formed board returns nil.
func (b *BoardState) DuplicateIDs() []string {
	seen := make(map[string]int)
	var dups []string
	for _, l := range Lists {
		for _, c := range b.List(l) {
			seen[c.ID]++
			if seen[c.ID] == 2 {
				dups = append(dups, c.ID)
			}
		}
	}
	return dups
}
