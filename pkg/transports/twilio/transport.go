package twilio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxsprint/voxly/pkg/capture"
	"github.com/voxsprint/voxly/pkg/errorsx"
	"github.com/voxsprint/voxly/pkg/transports"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	GatherActionPath   string   `mapstructure:"gather_action_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.GatherActionPath == "" {
		c.GatherActionPath = "/gather/action"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport bridges Twilio voice calls into keypress events. Live DTMF
// arrives over the media stream websocket; gather results and call
// status arrive over signed webhooks. Media payloads are ignored, this
// transport cares about the keypad only.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan transports.Event

	updateClient callUpdater

	mu          sync.Mutex
	streams     map[string]*stream
	callStreams map[string]string

	draining atomic.Bool
	handlers sync.WaitGroup
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// stream is one live websocket connection for a call.
type stream struct {
	callSID string
	from    string
	conn    *websocket.Conn
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:      make(chan transports.Event, 512),
		streams:     make(map[string]*stream),
		callStreams: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicHTTPURL(t.cfg.VoicePath),
		"gather_action_url":   t.publicHTTPURL(t.cfg.GatherActionPath),
		"status_callback_url": t.publicHTTPURL(t.cfg.StatusCallbackPath),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.GatherActionPath, t.handleGatherAction)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(ctx)
	}
	t.mu.Lock()
	for _, s := range t.streams {
		_ = s.conn.Close()
	}
	t.streams = make(map[string]*stream)
	t.callStreams = make(map[string]string)
	t.mu.Unlock()
	// Websocket loops are hijacked connections, so Shutdown does not
	// wait for them. Every emitting handler registers itself; the
	// channel closes only once the last one has returned.
	t.handlers.Wait()
	close(t.recvCh)
	return nil
}

// enterHandler registers an emitting handler. Registration happens
// before the draining check so that Stop either sees the handler and
// waits for it, or the handler sees draining and never emits.
func (t *Transport) enterHandler() bool {
	t.handlers.Add(1)
	if t.draining.Load() {
		t.handlers.Done()
		return false
	}
	return true
}

// ServeHTTP handles the Twilio media stream websocket. Only start,
// dtmf, and stop events matter here; media frames are discarded.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.enterHandler() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer t.handlers.Done()
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	var callSID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt StreamEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			streamID = evt.Start.StreamID
			callSID = evt.Start.CallSID
			if old := t.attach(streamID, callSID, evt.Start.From, conn); old != nil {
				_ = old.conn.Close()
			}
			t.emit(transports.Event{
				Kind:   transports.EventCallStart,
				CallID: callSID,
				From:   evt.Start.From,
				At:     time.Now(),
			})
		case "dtmf":
			if evt.DTMF == nil || streamID == "" {
				continue
			}
			t.emit(transports.Event{
				Kind:   transports.EventKeypress,
				CallID: t.callForStream(streamID),
				Digit:  evt.DTMF.Digit,
				At:     time.Now(),
			})
		case "stop":
			reason := "completed"
			if evt.Stop != nil {
				if r := normalizeCallEndReason(evt.Stop.Reason); r != "" {
					reason = r
				}
			}
			t.emit(transports.Event{
				Kind:   transports.EventCallEnd,
				CallID: t.callForStream(streamID),
				Reason: reason,
				At:     time.Now(),
			})
			t.detach(streamID)
			return
		}
	}
	if streamID != "" {
		t.emit(transports.Event{
			Kind:   transports.EventCallEnd,
			CallID: t.callForStream(streamID),
			Reason: normalizeCallEndReason("transport_closed"),
			At:     time.Now(),
		})
		t.detach(streamID)
	}
}

// Ready reports whether a provider-side gather can be issued for the
// call right now.
func (t *Transport) Ready(callID string) bool {
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callID] != ""
}

// IssueGather redirects the live call into TwiML Gather, collecting the
// digits provider-side and posting them back to the gather action
// webhook.
func (t *Transport) IssueGather(ctx context.Context, callID string, spec capture.GatherSpec) error {
	_ = ctx
	if strings.TrimSpace(callID) == "" {
		return errorsx.Wrap(errors.New("call sid required"), errorsx.ReasonProviderGather)
	}
	updater, err := t.updater()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderGather)
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(buildGatherTwiml(t.publicHTTPURL(t.cfg.GatherActionPath), spec))
	if _, err := updater.UpdateCall(callID, params); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderGather)
	}
	return nil
}

// EndCall speaks a final message and hangs up.
func (t *Transport) EndCall(ctx context.Context, callID, message, reasonTag string) error {
	_ = ctx
	_ = reasonTag
	if strings.TrimSpace(callID) == "" {
		return errorsx.Wrap(errors.New("call sid required"), errorsx.ReasonProviderHangup)
	}
	updater, err := t.updater()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderHangup)
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(buildHangupTwiml(message))
	if _, err := updater.UpdateCall(callID, params); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderHangup)
	}
	return nil
}

// Dial places an outbound capture call.
func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	return NewDialer(t.cfg).Dial(ctx, to, from, url)
}

// DialWithOptions places an outbound capture call with options.
func (t *Transport) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	return NewDialer(t.cfg).DialWithOptions(ctx, to, from, url, opts)
}

func (t *Transport) updater() (callUpdater, error) {
	if t.updateClient != nil {
		return t.updateClient, nil
	}
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
		return nil, errors.New("missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: t.cfg.AccountSID,
		Password: t.cfg.AuthToken,
	})
	return rest.Api, nil
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		slog.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := t.websocketURL(r)
	greeting := strings.TrimSpace(t.cfg.VoiceGreeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

// handleGatherAction receives the digits collected by a provider-side
// gather. The batch is forwarded with the fallback source so downstream
// judgement is attributed correctly.
func (t *Transport) handleGatherAction(w http.ResponseWriter, r *http.Request) {
	if !t.enterHandler() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer t.handlers.Done()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		slog.Warn("twilio_gather_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	digits := r.FormValue("Digits")
	if callSID != "" {
		t.emit(transports.Event{
			Kind:   transports.EventGatherResult,
			CallID: callSID,
			Digits: digits,
			At:     time.Now(),
		})
	}
	// Empty TwiML keeps the call on its existing flow.
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(`<Response/>`))
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !t.enterHandler() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer t.handlers.Done()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		slog.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if reason == "" || callSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	t.emit(transports.Event{
		Kind:   transports.EventCallEnd,
		CallID: callSID,
		Reason: reason,
		At:     time.Now(),
	})
	t.mu.Lock()
	streamID := t.callStreams[callSID]
	t.mu.Unlock()
	if streamID != "" {
		t.detach(streamID)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) publicHTTPURL(path string) string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (t *Transport) attach(streamID, callSID, from string, conn *websocket.Conn) *stream {
	s := &stream{callSID: callSID, from: from, conn: conn}
	var old *stream
	t.mu.Lock()
	if callSID != "" {
		if existing := t.callStreams[callSID]; existing != "" && existing != streamID {
			old = t.streams[existing]
			delete(t.streams, existing)
		}
		t.callStreams[callSID] = streamID
	}
	t.streams[streamID] = s
	t.mu.Unlock()
	return old
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	s := t.streams[streamID]
	delete(t.streams, streamID)
	if s != nil && s.callSID != "" && t.callStreams[s.callSID] == streamID {
		delete(t.callStreams, s.callSID)
	}
	t.mu.Unlock()
	if s != nil {
		_ = s.conn.Close()
	}
}

func (t *Transport) callForStream(streamID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.streams[streamID]; s != nil {
		return s.callSID
	}
	return ""
}

func (t *Transport) emit(ev transports.Event) {
	select {
	case t.recvCh <- ev:
	default:
	}
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// buildGatherTwiml mirrors a gather spec into TwiML. Timeout is the
// inter-digit wait in whole seconds, minimum one.
func buildGatherTwiml(actionURL string, spec capture.GatherSpec) string {
	timeoutSec := int(spec.Timeout / time.Second)
	if timeoutSec < 1 {
		timeoutSec = 5
	}
	var b strings.Builder
	b.WriteString(`<Response><Gather input="dtmf"`)
	if spec.MaxDigits > 0 {
		fmt.Fprintf(&b, ` numDigits="%d"`, spec.MaxDigits)
	}
	fmt.Fprintf(&b, ` timeout="%d"`, timeoutSec)
	if spec.Terminator != "" {
		fmt.Fprintf(&b, ` finishOnKey="%s"`, xmlEscape(spec.Terminator))
	}
	fmt.Fprintf(&b, ` action="%s" method="POST">`, xmlEscape(actionURL))
	if prompt := strings.TrimSpace(spec.PromptText); prompt != "" {
		b.WriteString(`<Say>` + xmlEscape(prompt) + `</Say>`)
	}
	b.WriteString(`</Gather></Response>`)
	return b.String()
}

func buildHangupTwiml(message string) string {
	if strings.TrimSpace(message) == "" {
		return `<Response><Hangup/></Response>`
	}
	return `<Response><Say>` + xmlEscape(message) + `</Say><Hangup/></Response>`
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizeCallEndReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return ""
	}
	switch r {
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

// StreamEvent is the subset of the Twilio media stream protocol this
// transport reads.
type StreamEvent struct {
	Event string       `json:"event"`
	Start *StreamStart `json:"start,omitempty"`
	DTMF  *StreamDTMF  `json:"dtmf,omitempty"`
	Stop  *StreamStop  `json:"stop,omitempty"`
}

type StreamStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type StreamDTMF struct {
	Digit string `json:"digit"`
}

type StreamStop struct {
	Reason string `json:"reason"`
}

func normalizePublicURL(v string) string {
	if v == "" {
		return ""
	}
	if len(v) >= 8 && v[:8] == "https://" {
		return v[8:]
	}
	if len(v) >= 7 && v[:7] == "http://" {
		return v[7:]
	}
	for len(v) > 0 && v[len(v)-1] == '/' {
		v = v[:len(v)-1]
	}
	return v
}
