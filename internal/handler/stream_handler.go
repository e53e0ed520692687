package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/auth"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/livesync"
	"github.com/hitoshi/latework/internal/middleware"
	"github.com/hitoshi/latework/internal/model"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = 45 * time.Second
	streamMaxMessage   = 4096
	streamOutBuffer    = 8
)

// ストリームのフレーム種別
const (
	frameSnapshot  = "snapshot"
	frameError     = "error"
	frameSignedOut = "signed_out"
	frameFilter    = "filter"
)

// CatalogStreamer はカタログのライブ購読を開始するインターフェース。
type CatalogStreamer interface {
	Watch(ctx context.Context, sink livesync.Sink) (*livesync.Handle, error)
}

// EnrollmentStreamer は受講コースのライブ購読を開始するインターフェース。
type EnrollmentStreamer interface {
	Watch(ctx context.Context, userID string, sink livesync.Sink) (*livesync.Handle, error)
}

// ChangeSubscriber は変更通知の購読インターフェース。
type ChangeSubscriber interface {
	Subscribe(match func(changefeed.Event) bool) *changefeed.Subscription
}

// SessionChecker はセッションの有効性を確認するインターフェース。
type SessionChecker interface {
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// streamFrame はサーバーから送るJSONフレーム。
type streamFrame struct {
	Type     string            `json:"type"`
	Courses  *[]model.Course   `json:"courses,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
	Error    *apiErrorResponse `json:"error,omitempty"`
}

// clientFrame はクライアントから受け取るJSONフレーム。
type clientFrame struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// StreamHandler はライブ購読をWebSocketで配信するハンドラー。
type StreamHandler struct {
	catalog    CatalogStreamer
	enrollment EnrollmentStreamer
	changes    ChangeSubscriber
	sessions   SessionChecker
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewStreamHandler はStreamHandlerを生成する。
// allowedOriginが空の場合はOriginヘッダーのないクライアントのみ受け付ける。
func NewStreamHandler(
	catalog CatalogStreamer,
	enrollment EnrollmentStreamer,
	changes ChangeSubscriber,
	sessions SessionChecker,
	allowedOrigin string,
	logger *zap.Logger,
) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		catalog:    catalog,
		enrollment: enrollment,
		changes:    changes,
		sessions:   sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		logger: logger.With(zap.String("component", "stream")),
	}
}

// Courses はカタログ一覧を配信する。クライアントはfilterフレームで絞り込める。
// GET /api/stream/courses
func (h *StreamHandler) Courses(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "catalog", func(ctx context.Context, _ string, sink livesync.Sink) (*livesync.Handle, error) {
		return h.catalog.Watch(ctx, sink)
	}, true)
}

// MyCourses は受講中のコース一覧を配信する。
// GET /api/stream/my-courses
func (h *StreamHandler) MyCourses(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "enrollment", h.enrollment.Watch, false)
}

type watchFunc func(ctx context.Context, userID string, sink livesync.Sink) (*livesync.Handle, error)

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, kind string, watch watchFunc, filterable bool) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := h.logger.With(zap.String("kind", kind), zap.String("user_id", session.UserID))

	// 失効の判定を先に購読しておき、購読開始との間の失効を取りこぼさない
	revoked := h.changes.Subscribe(auth.SessionMatcher(session.UserID, session.ID))
	defer revoked.Close()

	out := make(chan streamFrame, streamOutBuffer)
	sink := &streamSink{out: out, done: ctx.Done()}

	handle, err := watch(ctx, session.UserID, sink)
	if err != nil {
		logger.Error("failed to start live subscription", zap.Error(err))
		h.writeFrame(conn, streamFrame{Type: frameError, Error: internalErrorFrame()})
		return
	}
	defer handle.Close()

	go h.readLoop(conn, cancel, handle, filterable, logger)

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-out:
			if err := h.writeFrame(conn, f); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}

		case <-handle.Done():
			// 停止前に積まれたエラーとサンプルを送り切ってから閉じる
			for {
				select {
				case f := <-out:
					if err := h.writeFrame(conn, f); err != nil {
						return
					}
				default:
					h.closeNormally(conn)
					return
				}
			}

		case _, ok := <-revoked.C:
			if !ok {
				return
			}
			active, err := h.sessions.SessionActive(ctx, session.ID)
			if err != nil {
				logger.Warn("failed to check session", zap.Error(err))
				continue
			}
			if !active {
				logger.Info("session revoked, closing stream")
				h.writeFrame(conn, streamFrame{Type: frameSignedOut})
				h.closeNormally(conn)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop はクライアントからのフレームを読む。読み取りが終わると配信を止める。
func (h *StreamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc, handle *livesync.Handle, filterable bool, logger *zap.Logger) {
	defer cancel()

	conn.SetReadLimit(streamMaxMessage)
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("stream closed unexpectedly", zap.Error(err))
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		if f.Type == frameFilter && filterable {
			handle.SetFilter(f.Query)
		}
	}
}

func (h *StreamHandler) writeFrame(conn *websocket.Conn, f streamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(f)
}

func (h *StreamHandler) closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
}

// streamSink はHandleからの配信を書き込みループへ渡す。
type streamSink struct {
	out  chan<- streamFrame
	done <-chan struct{}
}

func (s *streamSink) Publish(snap livesync.Snapshot) {
	courses := snap.Courses
	if courses == nil {
		courses = []model.Course{}
	}
	s.send(streamFrame{Type: frameSnapshot, Courses: &courses, Fallback: snap.Fallback})
}

func (s *streamSink) Fail(err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewStoreAccessDeniedError()
	}
	e := toAPIErrorResponse(apiErr)
	s.send(streamFrame{Type: frameError, Error: &e})
}

func (s *streamSink) send(f streamFrame) {
	select {
	case s.out <- f:
	case <-s.done:
	}
}

func internalErrorFrame() *apiErrorResponse {
	return &apiErrorResponse{
		Code:     "INTERNAL_ERROR",
		Message:  "サーバー内部でエラーが発生しました。",
		Category: "system",
		Action:   "しばらく時間をおいてから再度お試しください。",
	}
}
