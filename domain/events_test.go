package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeBoardUpdatePartialLists(t *testing.T) {
	payload := `{"boardId":"b1","todo":[{"id":"A","title":"a"}],"doing":null,"done":{"id":"X"}}`
	u, err := DecodeBoardUpdate([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.BoardID != "b1" {
		t.Fatalf("unexpected board id %q", u.BoardID)
	}
	todo, ok := u.List(Todo)
	if !ok || len(todo) != 1 || todo[0].ID != "A" {
		t.Fatalf("unexpected todo %v %v", todo, ok)
	}
	if _, ok := u.List(Doing); ok {
		t.Fatalf("null list must be treated as absent")
	}
	if _, ok := u.List(Done); ok {
		t.Fatalf("object list must be treated as absent")
	}
	if _, ok := u.Limits(); ok {
		t.Fatalf("absent limits must not be reported")
	}
	if _, ok := u.BoardName(); ok {
		t.Fatalf("absent name must not be reported")
	}
}

func TestDecodeBoardUpdateEmptyArray(t *testing.T) {
	u, err := DecodeBoardUpdate([]byte(`{"boardId":"b1","doing":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	doing, ok := u.List(Doing)
	if !ok || len(doing) != 0 {
		t.Fatalf("empty array should replace list, got %v %v", doing, ok)
	}
	if _, ok := u.List(Todo); ok {
		t.Fatalf("missing key should be absent")
	}
}

func TestNewBoardUpdateCarriesFullState(t *testing.T) {
	b := board([]string{"A"}, nil, []string{"B"})
	b.Name = "Sprint"
	b.Labels = []Label{{ID: "l1", Name: "bug"}}

	u, err := NewBoardUpdate(b)
	if err != nil {
		t.Fatalf("build update: %v", err)
	}
	for _, l := range Lists {
		got, ok := u.List(l)
		if !ok {
			t.Fatalf("list %s missing from update", l)
		}
		want := b.List(l)
		if want == nil {
			want = []Card{}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("list %s mismatch (-want +got):\n%s", l, diff)
		}
	}
	labels, ok := u.LabelSet()
	if !ok || len(labels) != 1 {
		t.Fatalf("unexpected labels %v %v", labels, ok)
	}
	name, ok := u.BoardName()
	if !ok || name != "Sprint" {
		t.Fatalf("unexpected name %q %v", name, ok)
	}
	if limits, ok := u.Limits(); !ok || limits != b.WIPLimits {
		t.Fatalf("unexpected limits %+v %v", limits, ok)
	}
}

func TestDecodeBoardUpdateIgnoresIllTypedOptionalFields(t *testing.T) {
	u, err := DecodeBoardUpdate([]byte(`{"boardId":"b1","todo":[{"id":"B"}],"wipLimits":"oops","name":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := u.Limits(); ok {
		t.Fatalf("string limits must be ignored")
	}
	if _, ok := u.BoardName(); ok {
		t.Fatalf("numeric name must be ignored")
	}
	if todo, ok := u.List(Todo); !ok || len(todo) != 1 {
		t.Fatalf("todo must still decode, got %v %v", todo, ok)
	}
}

func TestListsKeepCardWithMalformedField(t *testing.T) {
	u, err := DecodeBoardUpdate([]byte(`{"boardId":"b1","doing":[{"id":"A","title":"ship","updatedAt":"yesterday"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	lists, err := u.Lists()
	if err != nil {
		t.Fatalf("lists: %v", err)
	}
	doing := lists[Doing]
	if len(doing) != 1 || doing[0].ID != "A" || doing[0].Title != "ship" || !doing[0].UpdatedAt.IsZero() {
		t.Fatalf("unexpected doing %+v", doing)
	}
	if _, ok := lists[Todo]; ok {
		t.Fatalf("missing list must be left out")
	}
}

func TestListsRejectCardWithoutID(t *testing.T) {
	for _, payload := range []string{
		`{"boardId":"b1","todo":[{"id":"B"}],"doing":[{"title":"no id"}]}`,
		`{"boardId":"b1","todo":[{"id":"B"}],"doing":[7]}`,
		`{"boardId":"b1","todo":[{"id":"B"}],"doing":[{"id":5}]}`,
	} {
		u, err := DecodeBoardUpdate([]byte(payload))
		if err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if _, err := u.Lists(); !errors.Is(err, ErrMalformedCard) {
			t.Fatalf("%s: expected malformed card, got %v", payload, err)
		}
	}
}
