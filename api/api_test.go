package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-bouts/geo-anchor/api/model"
	"github.com/a-bouts/geo-anchor/latlon"
	"github.com/a-bouts/geo-anchor/tracking"
)

var reference = tracking.GeoReference{
	Position: latlon.LatLon{Lat: 38.92356, Lon: -77.2060544},
	Heading:  322.309,
}

func newTestServer(t *testing.T) (*httptest.Server, *tracking.Store) {
	t.Helper()
	store := tracking.NewStore(tracking.Options{Reference: reference, GeohashPrecision: 7})
	srv := httptest.NewServer(InitServer(false, store))
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := post(t, srv.URL+"/geo/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var s model.Session
	decode(t, resp, &s)
	require.NotEmpty(t, s.ID)
	return s.ID
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/geo/-/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h struct {
		Status string `json:"status"`
	}
	decode(t, resp, &h)
	assert.Equal(t, "Ok", h.Status)
}

func TestReference(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/geo/api/v1/reference")
	require.NoError(t, err)
	defer resp.Body.Close()

	var ref tracking.GeoReference
	decode(t, resp, &ref)
	assert.Equal(t, reference, ref)
}

func TestAnchorThenDevice(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/geo/api/v1/sessions/" + id

	resp := post(t, base+"/device", `{"translation":{"x":10,"y":0,"z":0}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, base+"/anchor", `{"translation":{"x":0,"y":0,"z":0},"rotation":{"x":0,"y":0,"z":0,"w":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var frame model.Frame
	decode(t, resp, &frame)
	assert.Equal(t, 1.0, frame.Rotation.W)

	resp = post(t, base+"/device", `{"translation":{"x":10,"y":0,"z":0}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fix tracking.Fix
	decode(t, resp, &fix)
	assert.Equal(t, 10.0, fix.Distance)
	assert.Equal(t, -math.Pi/2, fix.Bearing)
	assert.InDelta(t, 38.92350507640248, fix.Position.Lat, 1e-12)
	assert.InDelta(t, -77.20614577170664, fix.Position.Lon, 1e-12)
	assert.Equal(t, "dqcj7", fix.Geohash[:5])

	getResp, err := http.Get(base)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var snap tracking.Snapshot
	decode(t, getResp, &snap)
	assert.True(t, snap.Detected)
}

func TestTransformPose(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/geo/api/v1/sessions/" + id

	post(t, base+"/anchor", `{"transform":[1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]}`)
	resp := post(t, base+"/device", `{"transform":[1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,-5,1]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fix tracking.Fix
	decode(t, resp, &fix)
	assert.InDelta(t, 5.0, fix.Distance, 1e-12)
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/geo/api/v1/sessions/" + id

	resp := post(t, base+"/anchor", `{"rotation":{"w":1}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, base+"/anchor", `{"transform":[1,2,3]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, base+"/anchor", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/geo/api/v1/sessions/nope/anchor", `{"translation":{"x":0,"y":0,"z":0}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	srv, store := newTestServer(t)
	id := createSession(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/geo/api/v1/sessions/"+id, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, store.IDs())

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReplay(t *testing.T) {
	srv, store := newTestServer(t)

	r := model.Replay{Events: []model.Event{
		{Type: model.EventDevice, Pose: model.Pose{Translation: &model.Vec3{X: 10}}},
		{Type: model.EventAnchor, Pose: model.Pose{Translation: &model.Vec3{}}},
		{Type: model.EventDevice, Pose: model.Pose{Translation: &model.Vec3{X: 10}}},
		{Type: "jump", Pose: model.Pose{Translation: &model.Vec3{}}},
	}}
	body, err := json.Marshal(r)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/geo/api/v1/replay", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var messages []model.Message
	decode(t, resp, &messages)
	require.Len(t, messages, 4)
	assert.Equal(t, model.MessageWaiting, messages[0].Type)
	assert.Equal(t, model.MessageAnchor, messages[1].Type)
	assert.Equal(t, model.MessageFix, messages[2].Type)
	assert.Equal(t, 10.0, messages[2].Fix.Distance)
	assert.Equal(t, model.MessageError, messages[3].Type)

	assert.Empty(t, store.IDs())
}

func TestStream(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/geo/api/v1/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	exchange := func(e interface{}) model.Message {
		t.Helper()
		require.NoError(t, conn.WriteJSON(e))
		var m model.Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	m := exchange(model.Event{Type: model.EventDevice, Pose: model.Pose{Translation: &model.Vec3{X: 10}}})
	assert.Equal(t, model.MessageWaiting, m.Type)

	m = exchange(model.Event{Type: model.EventAnchor, Pose: model.Pose{Translation: &model.Vec3{}}})
	assert.Equal(t, model.MessageAnchor, m.Type)
	require.NotNil(t, m.Anchor)

	m = exchange(model.Event{Type: model.EventDevice, Pose: model.Pose{Translation: &model.Vec3{Z: -3}}})
	assert.Equal(t, model.MessageFix, m.Type)
	require.NotNil(t, m.Fix)
	assert.InDelta(t, 3.0, m.Fix.Distance, 1e-12)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var bad model.Message
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, model.MessageError, bad.Type)
}

func TestStreamUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/geo/api/v1/sessions/nope/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDegenerateAnchorRejected(t *testing.T) {
	srv, store := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/geo/api/v1/sessions/" + id

	resp := post(t, base+"/anchor", `{"transform":[0,0,0,0, 0,0,0,0, 0,0,0,0, 1,2,3,1]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Error)

	session, err := store.Get(id)
	require.NoError(t, err)
	assert.False(t, session.Snapshot().Detected)

	resp = post(t, base+"/device", `{"translation":{"x":10,"y":0,"z":0}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOverflowingDeviceRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/geo/api/v1/sessions/" + id

	post(t, base+"/anchor", `{"translation":{"x":-1e308,"y":0,"z":0}}`)

	resp := post(t, base+"/device", `{"translation":{"x":1e308,"y":0,"z":0}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, tracking.ErrUnlocatable.Error(), body.Error)

	getResp, err := http.Get(base)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	var snap tracking.Snapshot
	decode(t, getResp, &snap)
	assert.Nil(t, snap.Fix)
}

func TestWriteJSONUnencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"distance": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"unable to encode response"}`, rec.Body.String())
}

func TestDeliverAfterWriterStopped(t *testing.T) {
	send := make(chan model.Message, 1)
	done := make(chan struct{})

	assert.True(t, deliver(send, done, model.Message{Type: model.MessageWaiting}))

	close(done)
	returned := make(chan bool)
	go func() { returned <- deliver(send, done, model.Message{Type: model.MessageWaiting}) }()

	select {
	case ok := <-returned:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on a full queue")
	}
}
