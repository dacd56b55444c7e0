package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskforge-sync/domain"
)

func TestFetchBoard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/boards/b1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"todo":[{"id":"A","title":"a"}],"doing":[],"done":[],"wipLimits":{"todo":99,"doing":2,"done":99}}`)
	}))
	defer srv.Close()

	board, err := New(srv.URL+"/", "tok").FetchBoard(context.Background(), "b1")
	if err != nil {
		t.Fatalf("fetch board: %v", err)
	}
	if board.ID != "b1" {
		t.Fatalf("expected board id to default to the requested one, got %q", board.ID)
	}
	if len(board.Todo) != 1 || board.Todo[0].ID != "A" || board.WIPLimits.Doing != 2 {
		t.Fatalf("unexpected board %+v", board)
	}
}

func TestMoveCardSendsRequest(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/boards/b1/cards/c 1/move" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		data, _ := io.ReadAll(r.Body)
		var req domain.MoveRequest
		if err := sonic.Unmarshal(data, &req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req != (domain.MoveRequest{FromList: domain.Todo, ToList: domain.Doing, ToIndex: 1}) {
			t.Fatalf("unexpected body %+v", req)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	req := domain.MoveRequest{FromList: domain.Todo, ToList: domain.Doing, ToIndex: 1}
	for i := 0; i < 2; i++ {
		if err := c.MoveCard(context.Background(), "b1", "c 1", req); err != nil {
			t.Fatalf("move card: %v", err)
		}
	}
	if len(keys) != 2 || keys[0] == keys[1] {
		t.Fatalf("expected distinct idempotency keys, got %v", keys)
	}
	if _, err := uuid.Parse(keys[0]); err != nil {
		t.Fatalf("idempotency key is not a uuid: %v", err)
	}
}

func TestMoveCardErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"message":"WIP limit reached for doing"}`)
	}))
	defer srv.Close()

	err := New(srv.URL, "").MoveCard(context.Background(), "b1", "A", domain.MoveRequest{FromList: domain.Todo, ToList: domain.Doing})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.UserMessage() != "WIP limit reached for doing" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict")
	}
}

func TestErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").FetchBoard(context.Background(), "b1")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "" {
		t.Fatalf("unexpected error %v", err)
	}
}
