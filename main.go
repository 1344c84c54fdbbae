package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/peterbourgon/ff"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/geo-anchor/api"
	"github.com/a-bouts/geo-anchor/asset"
	"github.com/a-bouts/geo-anchor/broker"
	"github.com/a-bouts/geo-anchor/latlon"
	"github.com/a-bouts/geo-anchor/tracking"
	"github.com/a-bouts/geo-anchor/xmpp"
)

func geoReference(lat, lon, heading float64) (tracking.GeoReference, error) {
	ref := tracking.GeoReference{Position: latlon.LatLon{Lat: lat, Lon: lon}, Heading: heading}
	if !ref.Position.Valid() {
		return ref, fmt.Errorf("invalid reference position (%f, %f)", lat, lon)
	}
	if math.IsNaN(heading) || math.IsInf(heading, 0) {
		return ref, fmt.Errorf("invalid reference heading %f", heading)
	}
	return ref, nil
}

type config struct {
	httpAddr         string
	refLat           float64
	refLon           float64
	refHeading       float64
	logLevel         string
	sessionIdle      time.Duration
	janitorEvery     time.Duration
	mqttBroker       string
	mqttPrefix       string
	mqttClientID     string
	xmppHost         string
	xmppJid          string
	xmppPassword     string
	xmppTo           string
	modelsDir        string
	referenceModel   string
	geohashPrecision uint
	geodesy          string
	cpuprofile       bool
}

func parseConfig(args []string) (config, error) {
	var c config

	fs := flag.NewFlagSet("geo-anchor", flag.ContinueOnError)
	fs.StringVar(&c.httpAddr, "http-addr", ":8888", "")
	fs.Float64Var(&c.refLat, "ref-lat", 38.92356, "latitude of the reference image")
	fs.Float64Var(&c.refLon, "ref-lon", -77.2060544, "longitude of the reference image")
	fs.Float64Var(&c.refHeading, "ref-heading", 322.309, "compass heading of the reference image forward axis")
	fs.StringVar(&c.logLevel, "log-level", "info", "")
	fs.DurationVar(&c.sessionIdle, "session-idle", 10*time.Minute, "evict sessions idle for longer")
	fs.DurationVar(&c.janitorEvery, "janitor-every", time.Minute, "")
	fs.StringVar(&c.mqttBroker, "mqtt-broker", "", "")
	fs.StringVar(&c.mqttPrefix, "mqtt-prefix", "geo", "")
	fs.StringVar(&c.mqttClientID, "mqtt-client-id", "geo-anchor", "")
	fs.StringVar(&c.xmppHost, "xmpp-host", "", "")
	fs.StringVar(&c.xmppJid, "xmpp-jid", "", "")
	fs.StringVar(&c.xmppPassword, "xmpp-password", "", "")
	fs.StringVar(&c.xmppTo, "xmpp-to", "", "")
	fs.StringVar(&c.modelsDir, "models-dir", "", "directory of model manifests")
	fs.StringVar(&c.referenceModel, "reference-model", "coordinates", "model attached on detection")
	fs.UintVar(&c.geohashPrecision, "geohash-precision", 9, "0 disables geohashes")
	fs.StringVar(&c.geodesy, "geodesy", "direct", "destination formula: direct, haversine or s2 (wraps longitudes)")
	fs.BoolVar(&c.cpuprofile, "cpuprofile", false, "")

	if err := ff.Parse(fs, args, ff.WithEnvVarNoPrefix()); err != nil {
		return c, err
	}
	return c, nil
}

// formula picks the destination formula. "direct" leaves it to
// latlon.DirectGeodesic.
func formula(name string) (latlon.LatLonInterface, error) {
	switch name {
	case "", "direct":
		return nil, nil
	case "haversine":
		return latlon.LatLonHaversine{}, nil
	case "s2":
		return latlon.LatLonS2{}, nil
	default:
		return nil, fmt.Errorf("unknown geodesy '%s'", name)
	}
}

func main() {

	c, err := parseConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("Bad configuration")
	}

	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		log.WithError(err).Fatal("Bad log level")
	}
	log.SetLevel(level)

	ref, err := geoReference(c.refLat, c.refLon, c.refHeading)
	if err != nil {
		log.WithError(err).Fatal("Bad reference")
	}
	log.Infof("Reference image at (%f, %f) heading %.3f°", ref.Position.Lat, ref.Position.Lon, ref.Heading)

	f, err := formula(c.geodesy)
	if err != nil {
		log.WithError(err).Fatal("Bad geodesy")
	}

	opts := tracking.Options{
		Reference:        ref,
		GeohashPrecision: c.geohashPrecision,
		Formula:          f,
	}

	x := xmpp.Xmpp{Config: xmpp.Config{Host: c.xmppHost, Jid: c.xmppJid, Password: c.xmppPassword, To: c.xmppTo}}
	if x.Configured() {
		opts.Notifier = x
	}
	if c.modelsDir != "" {
		opts.Loader = asset.DirLoader{Dir: c.modelsDir}
		opts.ReferenceModel = c.referenceModel
	}

	store := tracking.NewStore(opts)
	stopJanitor, err := store.StartJanitor(c.janitorEvery, c.sessionIdle)
	if err != nil {
		log.WithError(err).Fatal("Error starting janitor")
	}
	defer stopJanitor()

	if c.mqttBroker != "" {
		b := broker.New(broker.Config{Broker: c.mqttBroker, Prefix: c.mqttPrefix, ClientID: c.mqttClientID}, store)
		if err := b.Connect(); err != nil {
			log.WithError(err).Fatal("Error connecting to mqtt broker")
		}
		defer b.Close()
	}

	router := api.InitServer(c.cpuprofile, store)
	handler := handlers.CombinedLoggingHandler(os.Stdout,
		handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
			handlers.CORS(
				handlers.AllowedOrigins([]string{"*"}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
				handlers.AllowedHeaders([]string{"Content-Type"}),
			)(router)))

	srv := &http.Server{Addr: c.httpAddr, Handler: handler}

	go func() {
		log.Infof("Start server on %s", c.httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Error shutting down server")
	}
	for _, id := range store.IDs() {
		store.Delete(id)
	}
}
