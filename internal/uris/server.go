// Package uris wires the framework's default CoAP resources and the
// device driver's own URIs into one go-coap mux: a thin adapter that
// owns no domain state and delegates every request straight into
// internal/pair, internal/observer, and the identity framework.
package uris

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/matrix-org/go-coap/v2/mux"
	coapnet "github.com/matrix-org/go-coap/v2/net"
	"github.com/matrix-org/go-coap/v2/udp"

	"github.com/hro-mesh/meshapp/internal/coapapi"
	"github.com/hro-mesh/meshapp/internal/identity"
	meshmetrics "github.com/hro-mesh/meshapp/internal/metrics"
	"github.com/hro-mesh/meshapp/internal/naming"
	"github.com/hro-mesh/meshapp/internal/observer"
	"github.com/hro-mesh/meshapp/internal/pair"
)

// The paths of the four default URIs the framework always registers;
// test and test/led together make up the diagnostic one.
// "paring_services" is spelled exactly as peers expect it on the wire.
const (
	WellKnownCorePath  = "/.well-known/core"
	ParingServicesPath = "/paring_services"
	SubscribedUrisPath = "/subscribed_uris"
	TestPath           = "/test"
	TestLEDPath        = "/test/led"
)

// DeviceURIBase is the uriIndex of the first device-specific resource.
// Indexes 0-3 belong to the default URIs above, in declaration order,
// so a subscriber slot's uriIndex identifies a device URI iff it is
// >= DeviceURIBase. One 24-byte path limit
// (coapapi.URIPathFieldLen) applies everywhere a URI path crosses the
// wire, catalog records and subscribe requests alike.
const DeviceURIBase = 4

// Diagnostic response bodies.
var (
	bodyOK    = []byte("OK")
	bodyError = []byte("ERROR")
)

// Server owns the CoAP mux and the UDP listener serving it.
type Server struct {
	fw     *identity.Framework
	pairs  *pair.Registry
	client *coapapi.Client
	logger *slog.Logger

	// collector may be nil; notify counters are then simply not kept.
	collector *meshmetrics.Collector

	router *mux.Router
}

// New builds a Server over the framework, registering the four default
// URIs plus one handler per device URI the framework's URIProvider
// advertises.
func New(fw *identity.Framework, pairs *pair.Registry, client *coapapi.Client, collector *meshmetrics.Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		fw:        fw,
		pairs:     pairs,
		client:    client,
		collector: collector,
		logger:    logger.With(slog.String("component", "uris.server")),
		router:    mux.NewRouter(),
	}

	if err := s.registerDefaults(); err != nil {
		return nil, err
	}
	if err := s.registerDeviceURIs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerDefaults() error {
	for path, h := range map[string]mux.HandlerFunc{
		WellKnownCorePath:  s.handleWellKnownCore,
		ParingServicesPath: s.handleParingServices,
		SubscribedUrisPath: s.handleSubscribedUris,
		TestPath:           s.handleTest,
		TestLEDPath:        s.handleTestLED,
	} {
		if err := s.router.Handle(path, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) registerDeviceURIs() error {
	for i, d := range s.fw.URIs() {
		uriIndex := DeviceURIBase + i
		path := "/" + d.Path
		if err := s.router.Handle(path, s.deviceHandler(uriIndex, d.Path)); err != nil {
			return err
		}
		s.logger.Debug("registered device URI",
			slog.String("path", d.Path),
			slog.Int("uri_index", uriIndex),
			slog.Bool("observable", d.Observable),
		)
	}
	return nil
}

// Serve listens for CoAP over UDP on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return err
	}
	defer l.Close()

	srv := udp.NewServer(udp.WithMux(s.router))

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	if err := srv.Serve(l); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// handleWellKnownCore serves the serialized resource catalog built from
// the device driver's URI list.
func (s *Server) handleWellKnownCore(w mux.ResponseWriter, r *mux.Message) {
	body, err := coapapi.EncodeCatalog(s.fw.URIs())
	if err != nil {
		s.logger.Error("catalog encode failed", slog.Any("error", err))
		_ = coapapi.SendErrorResponse(w, r)
		return
	}
	if err := coapapi.SendResponse(w, r, body); err != nil {
		s.logger.Warn("catalog response failed", slog.Any("error", err))
	}
}

// handleParingServices accepts a peer's canonical-name announcement and
// enqueues it to the pair worker. The queue is non-blocking; a full queue drops the
// announcement and the peer retries on its next announcement cycle.
func (s *Server) handleParingServices(w mux.ResponseWriter, r *mux.Message) {
	payload, err := coapapi.ReadPayload(r, naming.MaxFullLen)
	if err != nil || len(payload) == 0 {
		_ = coapapi.SendResponse(w, r, bodyError)
		return
	}

	ip, err := coapapi.SenderIP(w)
	if err != nil {
		_ = coapapi.SendResponse(w, r, bodyError)
		return
	}

	name := string(payload)
	if err := s.pairs.Enqueue(name, ip); err != nil {
		s.logger.Warn("pairing announcement dropped", slog.String("name", name), slog.Any("error", err))
	}
	_ = coapapi.SendResponse(w, r, bodyOK)
}

// handleSubscribedUris receives a notification frame for one of our own
// outbound subscriptions and hands it to the device driver.
func (s *Server) handleSubscribedUris(w mux.ResponseWriter, r *mux.Message) {
	frame, err := coapapi.ReadPayload(r, coapapi.MaxNotifyFrame)
	if err != nil {
		_ = coapapi.SendResponse(w, r, bodyError)
		return
	}

	token, payload, err := observer.ParseNotify(frame)
	if err != nil {
		_ = coapapi.SendResponse(w, r, bodyError)
		return
	}

	if name, path, _, ok := s.pairs.TokenGetUriSlot(token); ok {
		s.logger.Debug("subscription update",
			slog.String("peer", name),
			slog.String("uri", path),
		)
	}
	s.fw.NotifySubscriptionUpdate(token, payload)
	_ = coapapi.SendResponse(w, r, bodyOK)
}

// handleTest is the GET diagnostic endpoint.
func (s *Server) handleTest(w mux.ResponseWriter, r *mux.Message) {
	_ = coapapi.SendResponse(w, r, bodyOK)
}

// handleTestLED echoes the PUT payload back, the software stand-in
// for a blink-the-board-LED diagnostic.
func (s *Server) handleTestLED(w mux.ResponseWriter, r *mux.Message) {
	payload, err := coapapi.ReadPayload(r, coapapi.MaxNotifyPayload)
	if err != nil {
		_ = coapapi.SendResponse(w, r, bodyError)
		return
	}
	if len(payload) == 0 {
		payload = bodyOK
	}
	_ = coapapi.SendResponse(w, r, payload)
}

// deviceHandler builds the ProcessUriRequest dispatcher for one device
// URI: a plain write is acknowledged and fanned out to every
// other subscriber; an Observe-tagged request mutates the subscriber
// table instead.
func (s *Server) deviceHandler(uriIndex int, path string) mux.HandlerFunc {
	return func(w mux.ResponseWriter, r *mux.Message) {
		outcome, err := coapapi.ProcessUriRequest(
			w, r, uriIndex, coapapi.MaxNotifyPayload, s.fw.Observer, s.notifyFunc(path),
		)
		switch {
		case errors.Is(err, observer.ErrListFull):
			s.logger.Warn("subscriber table full", slog.String("uri", path))
		case err != nil:
			s.logger.Warn("request failed", slog.String("uri", path), slog.Any("error", err))
		case outcome.PlainWrite:
			s.logger.Debug("state write fanned out",
				slog.String("uri", path),
				slog.Int("recipients", outcome.NotifyCount),
			)
		case outcome.Subscribe.Result.AddedNewDevice:
			s.logger.Info("new subscriber", slog.String("uri", path))
		}
	}
}

// notifyFunc binds Engine.Notify to the CoAP transport: each recipient
// gets a confirmable PUT of [token || payload] on its subscribed_uris
// path. Delivery is fire-and-forget; a failed send is
// counted and logged, never retried here.
func (s *Server) notifyFunc(path string) func(excludedIP netip.Addr, uriIndex int, payload []byte) (int, error) {
	return func(excludedIP netip.Addr, uriIndex int, payload []byte) (int, error) {
		return s.fw.Observer.Notify(excludedIP, uriIndex, payload,
			func(ip netip.Addr, _ observer.Token, frame []byte) error {
				if _, err := s.client.SendPutBytes(context.Background(), ip, SubscribedUrisPath, frame); err != nil {
					if s.collector != nil {
						s.collector.IncNotifyDropped(path)
					}
					s.logger.Warn("notify send failed", slog.String("to", ip.String()), slog.Any("error", err))
					return nil
				}
				if s.collector != nil {
					s.collector.IncNotifySent(path)
				}
				return nil
			},
		)
	}
}
