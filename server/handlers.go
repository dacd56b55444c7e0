package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
	"taskforge-sync/transport"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	moveRequestMaxSize   = 4 << 10
	writeWait            = 10 * time.Second
)

type errorResponse struct {
	Message string `json:"message"`
}

// Deps carries the collaborators of the HTTP and websocket routes.
type Deps struct {
	Boards    *Repository
	Hub       *Hub
	Publisher Publisher
	Auth      Authenticator
	// Deduper is optional; without it every move request is applied.
	Deduper Deduper
	Logger  *log.Logger
}

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Publisher == nil {
		d.Publisher = NewLocalFanout(d.Hub)
	}
	e.GET("/healthz", healthz())
	e.GET("/ws", serveSocket(d))
	e.GET("/boards/:boardId", getBoard(d))
	e.PATCH("/boards/:boardId/cards/:cardId/move", moveCard(d))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		b, err := d.Boards.Get(c.Param("boardId"))
		if errors.Is(err, ErrBoardNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Message: "Board not found"})
		}
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
		}
		return c.JSON(http.StatusOK, b)
	}
}

func moveCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		boardID, cardID := c.Param("boardId"), c.Param("cardId")
		metrics := newMoveRequestMetrics(d.Logger, boardID, cardID)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
		}

		lr := io.LimitReader(c.Request().Body, moveRequestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var req domain.MoveRequest
		if err := dec.Decode(&req); err != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}

		key := c.Request().Header.Get(HeaderIdempotencyKey)
		if key != "" && d.Deduper != nil {
			added, dedupErr := d.Deduper.Add(ctx, userID, key)
			if dedupErr != nil {
				metrics.SetErrorStage("dedupe")
				c.Logger().Error(dedupErr)
				return c.JSON(http.StatusInternalServerError, errorResponse{Message: "idempotency check failed"})
			}
			if !added {
				metrics.SetDuplicate()
				b, getErr := d.Boards.Get(boardID)
				if getErr != nil {
					return c.JSON(http.StatusNotFound, errorResponse{Message: "Board not found"})
				}
				return c.JSON(http.StatusOK, b)
			}
		}

		applyStart := time.Now()
		b, moveErr := d.Boards.Move(boardID, cardID, req)
		metrics.ObserveApply(time.Since(applyStart))
		if moveErr != nil {
			metrics.SetErrorStage("apply")
			if key != "" && d.Deduper != nil {
				if rmErr := d.Deduper.Remove(ctx, userID, key); rmErr != nil {
					c.Logger().Error(rmErr)
				}
			}
			status, msg := moveErrorResponse(moveErr)
			return c.JSON(status, errorResponse{Message: msg})
		}

		broadcastStart := time.Now()
		if pubErr := broadcastBoard(ctx, d.Publisher, b); pubErr != nil {
			metrics.SetErrorStage("broadcast")
			d.Logger.WithError(pubErr).WithField("board_id", boardID).Error("broadcast board update")
		}
		metrics.ObserveBroadcast(time.Since(broadcastStart))
		return c.JSON(http.StatusOK, b)
	}
}

func moveErrorResponse(err error) (int, string) {
	var wipErr *domain.WIPLimitError
	switch {
	case errors.As(err, &wipErr):
		return http.StatusConflict, fmt.Sprintf("WIP limit reached for %s (%d/%d)", wipErr.List, wipErr.Count, wipErr.Limit)
	case errors.Is(err, ErrBoardNotFound):
		return http.StatusNotFound, "Board not found"
	case errors.Is(err, domain.ErrCardNotFound):
		return http.StatusNotFound, "Card not found"
	case errors.Is(err, domain.ErrUnknownList):
		return http.StatusBadRequest, "Unknown list"
	}
	return http.StatusInternalServerError, err.Error()
}

func broadcastBoard(ctx context.Context, p Publisher, b domain.BoardState) error {
	u, err := domain.NewBoardUpdate(b)
	if err != nil {
		return err
	}
	frame, err := transport.EncodeFrame(domain.EventBoardUpdate, u)
	if err != nil {
		return err
	}
	return p.Publish(ctx, b.ID, frame)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func serveSocket(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := d.Auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		cl := newClient(uuid.NewString(), userID)
		d.Hub.register(cl)
		logger := d.Logger.WithFields(log.Fields{"conn_id": cl.id, "user_id": userID})
		logger.Debug("socket connected")

		writerDone := make(chan struct{})
		go writeLoop(conn, cl, writerDone)

		readLoop(conn, cl, d.Hub, logger)

		for _, boardID := range d.Hub.leaveAll(cl) {
			broadcastPresence(d.Hub, boardID, d.Hub.Members(boardID))
		}
		cl.close()
		<-writerDone
		_ = conn.Close()
		logger.Debug("socket closed")
		return nil
	}
}

func readLoop(conn *websocket.Conn, cl *client, hub *Hub, logger *log.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := transport.DecodeFrame(msg)
		if err != nil {
			logger.WithError(err).Warn("dropping malformed frame")
			continue
		}
		switch f.Event {
		case domain.EventBoardJoin, domain.EventBoardLeave:
			var p domain.RoomPayload
			if err := sonic.Unmarshal(f.Data, &p); err != nil || p.BoardID == "" {
				logger.WithField("event", f.Event).Warn("room event without board id")
				continue
			}
			var members int
			if f.Event == domain.EventBoardJoin {
				members = hub.join(cl, p.BoardID)
			} else {
				members = hub.leave(cl, p.BoardID)
			}
			logger.WithFields(log.Fields{"event": f.Event, "board_id": p.BoardID, "members": members}).Debug("room membership changed")
			broadcastPresence(hub, p.BoardID, members)
		default:
			logger.WithField("event", f.Event).Debug("ignoring client event")
		}
	}
}

func writeLoop(conn *websocket.Conn, cl *client, done chan<- struct{}) {
	defer close(done)
	defer func() {
		for range cl.send {
		}
	}()
	for {
		select {
		case frame, ok := <-cl.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				return
			}
		case <-cl.shutdown:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
	}
}

func broadcastPresence(hub *Hub, boardID string, members int) {
	frame, err := transport.EncodeFrame(domain.EventBoardPresence, domain.PresencePayload{BoardID: boardID, Members: members})
	if err != nil {
		return
	}
	hub.Broadcast(boardID, frame)
}
