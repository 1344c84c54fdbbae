package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/geo-anchor/api/model"
	"github.com/a-bouts/geo-anchor/pose"
	"github.com/a-bouts/geo-anchor/tracking"
)

type server struct {
	cpuprofile bool
	store      *tracking.Store
	upgrader   websocket.Upgrader
}

func InitServer(cpuprofile bool, store *tracking.Store) *mux.Router {

	router := mux.NewRouter().StrictSlash(true)

	s := server{cpuprofile: cpuprofile,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	api := router.PathPrefix("/").Subrouter()
	api.HandleFunc("/geo/-/healthz", s.healthz).Methods(http.MethodGet)

	apiV1 := router.PathPrefix("/geo/api/v1").Subrouter()
	apiV1.HandleFunc("/reference", s.reference).Methods(http.MethodGet)
	apiV1.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	apiV1.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	apiV1.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	apiV1.HandleFunc("/sessions/{id}", s.deleteSession).Methods(http.MethodDelete)
	apiV1.HandleFunc("/sessions/{id}/anchor", s.anchor).Methods(http.MethodPost)
	apiV1.HandleFunc("/sessions/{id}/device", s.device).Methods(http.MethodPost)
	apiV1.HandleFunc("/sessions/{id}/stream", s.stream).Methods(http.MethodGet)
	apiV1.HandleFunc("/replay", s.replay).Methods(http.MethodPost)

	return router
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}

	writeJSON(w, http.StatusOK, health{Status: "Ok", Sessions: len(s.store.IDs())})
}

func (s *server) reference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Reference())
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	session := s.store.Create()
	writeJSON(w, http.StatusCreated, model.Session{ID: session.ID})
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.store.IDs()
	sessions := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, model.Session{ID: id})
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.store.Delete(mux.Vars(r)["id"]) {
		writeError(w, tracking.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) anchor(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	p, err := decodePose(r)
	if err != nil {
		writeError(w, err)
		return
	}

	frame := session.OnAnchorPoseUpdate(p)
	writeJSON(w, http.StatusOK, model.NewFrame(frame))
}

func (s *server) device(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	p, err := decodePose(r)
	if err != nil {
		writeError(w, err)
		return
	}

	fix, err := session.OnDevicePoseUpdate(p)
	if err != nil {
		writeError(w, err)
		return
	}

	log.WithField("session", session.ID).Debugf("Device %.1f m at %.1f° : (%.6f, %.6f)", fix.Distance, toDegrees(fix.Bearing), fix.Position.Lat, fix.Position.Lon)

	writeJSON(w, http.StatusOK, fix)
}

func (s *server) replay(w http.ResponseWriter, req *http.Request) {
	if s.cpuprofile {
		defer profile.Start().Stop()
	}

	fields := log.Fields{
		"action": "replay",
	}
	if ip, err := getIp(req); err == nil {
		fields["IP"] = ip
	}
	requestLogger := log.WithFields(fields)

	var r model.Replay
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
		writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidPose, err))
		return
	}

	start := time.Now()

	session := s.store.Detached()
	messages := make([]model.Message, 0, len(r.Events))
	for _, e := range r.Events {
		messages = append(messages, e.Apply(session))
	}

	requestLogger.Infof("Replay of %d events took %s", len(r.Events), time.Since(start).String())

	writeJSON(w, http.StatusOK, messages)
}

func (s *server) session(w http.ResponseWriter, r *http.Request) (*tracking.Session, bool) {
	session, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return session, true
}

func decodePose(r *http.Request) (pose.Pose, error) {
	var p model.Pose
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return pose.Pose{}, fmt.Errorf("%w: %v", model.ErrInvalidPose, err)
	}
	return p.ToPose()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("Error encoding response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"unable to encode response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, err error) {
	type apiError struct {
		Error string `json:"error"`
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracking.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracking.ErrAnchorNotDetected):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidPose):
		status = http.StatusBadRequest
	case errors.Is(err, tracking.ErrUnlocatable):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, apiError{Error: err.Error()})
}

func toDegrees(a float64) float64 {
	return a * 180 / math.Pi
}

func getIp(r *http.Request) (string, error) {
	//Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}

	//Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		netIP := net.ParseIP(strings.TrimSpace(ip))
		if netIP != nil {
			return strings.TrimSpace(ip), nil
		}
	}

	//Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}
	return "", fmt.Errorf("No valid ip found")
}
