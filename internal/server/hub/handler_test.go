package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/wsproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/events", h.WebsocketHandler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketHandler_RequiresPeerID(t *testing.T) {
	srv := newTestServer(t, startHub(t))

	resp, err := http.Get(srv.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketHandler_ConnectRoundTrip(t *testing.T) {
	h := startHub(t)
	srv := newTestServer(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?peerId=p1"
	conn, resp, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{
		HTTPHeader: http.Header{wsproto.HeaderEncodings: []string{"msgpack,json"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()
	assert.Equal(t, "msgpack", resp.Header.Get(wsproto.HeaderEncoding))

	typ, data, err := wsproto.Marshal(syncmsg.NewConnect("p1", "desk", "/data"), wsproto.EncodingMsgPack)
	require.NoError(t, err)
	require.NoError(t, conn.Write(t.Context(), typ, data))

	typ, data, err = conn.Read(t.Context())
	require.NoError(t, err)
	reply, enc, err := wsproto.Unmarshal(typ, data)
	require.NoError(t, err)
	assert.Equal(t, wsproto.EncodingMsgPack, enc)
	assert.Equal(t, syncmsg.MsgConnect, reply.Type)
	assert.Equal(t, syncmsg.CoordinatorID, reply.Origin)

	// garbage is answered with an error and the connection survives
	require.NoError(t, conn.Write(t.Context(), websocket.MessageText, []byte(`{"typ":999}`)))
	typ, data, err = conn.Read(t.Context())
	require.NoError(t, err)
	reply, _, err = wsproto.Unmarshal(typ, data)
	require.NoError(t, err)
	assert.Equal(t, syncmsg.MsgError, reply.Type)
	assert.Equal(t, []string{"p1"}, peerIDs(t, h))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool {
		peers, err := h.Peers(t.Context())
		return err == nil && len(peers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
