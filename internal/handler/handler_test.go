package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-broadcast/internal/boost"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/lifecycle"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/internal/service"
	"github.com/weiawesome/wes-io-broadcast/internal/ws"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
	"github.com/weiawesome/wes-io-broadcast/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router   *gin.Engine
	videos   *repository.MemoryRepository[domain.Video]
	invoices *repository.MemoryRepository[domain.BoostMessageInvoice]
	broker   *pubsub.MemoryBroker
	vod      *storage.LocalStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		videos:   repository.NewMemoryRepository[domain.Video](domain.CollectionVideos),
		invoices: repository.NewMemoryRepository[domain.BoostMessageInvoice](domain.CollectionInvoices),
		broker:   pubsub.NewMemoryBroker(),
	}
	vod, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), PublicURL: "/vod"})
	require.NoError(t, err)
	f.vod = vod
	h := NewHandler(
		service.NewVideoService(f.videos, f.vod, time.Hour),
		lifecycle.NewIngest(f.videos),
		boost.NewService(f.invoices, f.broker),
	)
	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func onPublish(name string) *http.Request {
	form := url.Values{"app": {"src"}, "name": {name}}
	req := httptest.NewRequest(http.MethodPost, "/callback/on_publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// A Scheduled video goes Live when ingest reports it published.
func TestScenarioIngestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Scheduled{Timestamp: 10}}))

	before := uint64(time.Now().Unix())
	assert.Equal(t, http.StatusOK, f.do(onPublish("v1")).Code)

	v, err := f.videos.Get(ctx, "v1")
	require.NoError(t, err)
	live, ok := v.Status.(domain.Live)
	require.True(t, ok)
	assert.GreaterOrEqual(t, live.StartedTimestamp, before)
	assert.Zero(t, live.Viewers)

	assert.Equal(t, http.StatusNotAcceptable, f.do(onPublish("v1")).Code)
	assert.Equal(t, http.StatusNotFound, f.do(onPublish("nope")).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(onPublish("")).Code)
}

func webhook(status, id, paid string) *http.Request {
	body := `{"event":{"code":1003,"name":"invoice_paidInFull"},"data":{"id":"` + id + `","status":"` + status + `","btcPaid":"` + paid + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/btcpay_webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPaymentWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.invoices.Save(ctx, domain.BoostMessageInvoice{ID: "inv1", Message: "gg", From: "Anon00001", Room: "v1"}))

	sub, err := f.broker.NewSubscription(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(ctx, "v1"))

	// unsettled notifications are acknowledged and ignored
	assert.Equal(t, http.StatusOK, f.do(webhook("new", "inv1", "0")).Code)
	_, err = f.invoices.Get(ctx, "inv1")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, f.do(webhook("Complete", "inv1", "0.00020000")).Code)
	msg, err := sub.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	p, err := domain.DecodePacket(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, domain.ServerMessage{
		From:    "Anon00001",
		Message: "gg",
		Extra:   &domain.MessageExtra{Amount: 20000, Duration: 60},
	}, p)

	// repeated notification is a no-op
	assert.Equal(t, http.StatusOK, f.do(webhook("confirmed", "inv1", "0.00020000")).Code)
	msg, err = sub.Receive(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)

	assert.Equal(t, http.StatusBadRequest, f.do(webhook("paid", "inv2", "abc")).Code)
	bad := httptest.NewRequest(http.MethodPost, "/btcpay_webhook", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, f.do(bad).Code)
}

func TestVideoAPI(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", strings.NewReader(`{"title":"launch","description":"d","start_timestamp":1700000000}`))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Success bool         `json:"success"`
		Data    domain.Video `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.Data.ID)
	assert.Equal(t, domain.Scheduled{Timestamp: 1700000000}, created.Data.Status)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+created.Data.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":{"Scheduled":{"timestamp":1700000000}}`)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []domain.Video `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 1)

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/missing", nil)).Code)

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/videos", strings.NewReader(`{"description":"no title"}`))
	bad.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(bad).Code)
}

type noPayments struct{}

func (noPayments) CreateInvoice(context.Context, uint64, string) (payment.Invoice, error) {
	return payment.Invoice{ID: "inv"}, nil
}

func TestWebSocketSession(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewMemoryBroker()
	videos := repository.NewMemoryRepository[domain.Video](domain.CollectionVideos)
	invoices := repository.NewMemoryRepository[domain.BoostMessageInvoice](domain.CollectionInvoices)
	require.NoError(t, videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Live{StartedTimestamp: 1}}))

	mux := multiplexer.New(broker, multiplexer.Config{PollTimeout: 10 * time.Millisecond})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go mux.Run(runCtx)

	router := gin.New()
	NewWSHandler(service.NewBroadcastService(videos, invoices, mux, noPayments{}), ws.DefaultConfig()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readPacket := func() domain.Packet {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		p, err := domain.DecodePacket(data)
		require.NoError(t, err)
		return p
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ClientMessage":{"message":"early"}}`)))
	assert.IsType(t, domain.Error{}, readPacket())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Join":{"room":"v1"}}`)))
	assigned, ok := readPacket().(domain.AssignedUsername)
	require.True(t, ok)
	assert.Regexp(t, `^Anon[0-9]{5}$`, assigned.Username)

	require.Eventually(t, func() bool { return len(broker.SubscribedTopics()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ClientMessage":{"message":"hi"}}`)))
	assert.Equal(t, domain.ServerMessage{From: assigned.Username, Message: "hi"}, readPacket())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"GetInvoice":{"amount":1000,"message":"x"}}`)))
	assert.Equal(t, domain.Invoice{ID: "inv"}, readPacket())

	conn.Close()
	require.Eventually(t, func() bool { return mux.SubscribedCount("v1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlayback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.videos.Save(ctx, domain.Video{ID: "live", Status: domain.Live{}}))
	require.NoError(t, f.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Published{
		Timestamp: 1,
		Duration:  10,
		Variants: []domain.Variant{
			{Height: 360, MimeType: "video/webm", Filename: "vp9_360p.webm"},
			{Height: 360, MimeType: "video/mp4", Filename: "h264_360p.mp4"},
		},
	}}))
	require.NoError(t, f.vod.Write(ctx, "vod/v1/vp9_360p.webm", strings.NewReader("webm"), 4, "video/webm"))

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/v1/playback", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Data []service.PlaybackSource `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "video/webm", out.Data[0].MimeType)
	assert.Equal(t, "/vod/vod/v1/vp9_360p.webm", out.Data[0].URL)

	assert.Equal(t, http.StatusConflict, f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/live/playback", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/none/playback", nil)).Code)
}
