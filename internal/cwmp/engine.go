package cwmp

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"opencwmp/internal/store"
	"opencwmp/pkg/events"
	"opencwmp/pkg/metrics"
)

const serviceName = "acs-server"

// SessionCookie is the cookie tying the HTTP exchanges of one CWMP
// conversation together.
const SessionCookie = "opencwmp-session"

// EngineConfig holds the protocol-level knobs for the session engine
type EngineConfig struct {
	Username       string
	Password       string
	AuthEnabled    bool
	MaxBodyBytes   int64
	SessionTimeout time.Duration
}

// Engine terminates CWMP HTTP exchanges and drives the per-visit state
// machine: Inform ingestion, registry upsert, and one-at-a-time task
// dispatch. It never returns a protocol-level HTTP error to a device; a
// syntactically valid envelope always goes back, because broken firmware
// retries forever against anything else.
type Engine struct {
	registry *store.Registry
	queue    *store.TaskQueue
	sessions *SessionTracker
	events   events.Publisher
	metrics  *metrics.ACSMetrics
	cfg      EngineConfig
}

// NewEngine creates a session engine over the given registry and queue
func NewEngine(registry *store.Registry, queue *store.TaskQueue, publisher events.Publisher, m *metrics.ACSMetrics, cfg EngineConfig) *Engine {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 60 * time.Second
	}
	if publisher == nil {
		publisher = events.Nop()
	}

	return &Engine{
		registry: registry,
		queue:    queue,
		sessions: NewSessionTracker(cfg.SessionTimeout),
		events:   publisher,
		metrics:  m,
		cfg:      cfg,
	}
}

// ServeHTTP handles one CWMP HTTP exchange
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if e.cfg.AuthEnabled && !e.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="CWMP ACS"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, e.cfg.MaxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("⚠️ Failed to read CWMP body from %s: %v", r.RemoteAddr, err)
		raw = nil
	}

	msg, decodeErr := Decode(raw)
	if decodeErr != nil {
		log.Printf("⚠️ Tolerant decode from %s: %v", r.RemoteAddr, decodeErr)
		e.metrics.DecodeErrors.Inc()
	}

	session := e.sessionFor(r)

	switch {
	case msg.Kind == KindInform:
		e.handleInform(w, r, session, msg)
	case msg.Kind.IsResponse():
		e.handleTaskResponse(w, session, msg)
	case msg.Kind == KindEmpty:
		e.handleEmpty(w, session)
	default:
		// Unrecognized RPC: answer with a valid empty envelope and let the
		// device retry on its own schedule
		e.respond(w, &Message{Kind: KindEmpty})
	}

	e.metrics.SessionsActive.Set(float64(e.sessions.Count()))
	e.metrics.RecordRequest(serviceName, msg.Kind.String(), "ok", time.Since(start))
}

// handleInform registers or refreshes the device and binds the session
func (e *Engine) handleInform(w http.ResponseWriter, r *http.Request, session *Session, msg *Message) {
	serial := msg.Device.SerialNumber
	if serial == "" {
		// Some firmware only carries the serial in the parameter list
		for path, value := range msg.Parameters {
			if value != "" && strings.HasSuffix(path, "DeviceInfo.SerialNumber") {
				serial = value
				break
			}
		}
	}

	if serial == "" {
		log.Printf("⚠️ Inform without a serial number from %s; not registered", r.RemoteAddr)
		e.respond(w, &Message{Kind: KindInformResponse, ID: msg.ID})
		return
	}

	if session == nil {
		session = e.sessions.Create()
	}
	session.Touch()

	// A new conversation supersedes any stale one for the same device; tasks
	// stranded in the old one go back to pending before dispatch can run
	for _, old := range e.sessions.TakeBySerial(serial, session.ID) {
		e.abortSession(old)
	}

	// The same holds when the device re-Informs on its own cookie: whatever
	// task it was sent is never getting a response now, so it goes back to
	// pending rather than dangling as sent forever
	if taskID := session.TakeInFlight(); taskID != "" {
		log.Printf("⚠️ Device %s re-Informed with task %s in flight; requeued", serial, taskID)
		e.requeueTask(taskID)
	}

	device, created, err := e.registry.Upsert(store.InformUpdate{
		Identity: store.Identity{
			SerialNumber: serial,
			Manufacturer: msg.Device.Manufacturer,
			OUI:          msg.Device.OUI,
			ProductClass: msg.Device.ProductClass,
		},
		Parameters: msg.Parameters,
		Events:     msg.Events,
		SeenAt:     time.Now(),
	})
	if err != nil {
		log.Printf("❌ Registry upsert for %s failed: %v", serial, err)
		e.metrics.RecordStoreError(serviceName, "upsert")
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}

	session.Bind(serial)

	e.metrics.InformsTotal.Inc()
	e.events.DeviceSeen(device, created)

	action := "refreshed"
	if created {
		action = "registered"
	}
	log.Printf("📱 Inform from %s %s (SN: %s) - %s, %d parameters",
		msg.Device.Manufacturer, msg.Device.ProductClass, serial, action, len(msg.Parameters))

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
	})
	e.respond(w, &Message{Kind: KindInformResponse, ID: msg.ID})
}

// handleTaskResponse resolves the in-flight task and dispatches the next one
func (e *Engine) handleTaskResponse(w http.ResponseWriter, session *Session, msg *Message) {
	if session == nil || session.SerialNumber() == "" {
		// Response without a prior Inform in this chain: the handler never
		// leaves AwaitingInform for such a caller
		log.Printf("⚠️ %s without an established session; ignored", msg.Kind)
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}
	session.Touch()
	serial := session.SerialNumber()

	taskID := session.TakeInFlight()
	if taskID == "" {
		// RPC response with no matching sent task: logged and ignored, the
		// session proceeds straight to dispatch
		log.Printf("⚠️ %s from %s with no task in flight; ignored", msg.Kind, serial)
		e.dispatch(w, session)
		return
	}

	task, err := e.queue.Get(taskID)
	if err != nil {
		log.Printf("❌ In-flight task %s vanished: %v", taskID, err)
		e.metrics.RecordStoreError(serviceName, "task_get")
		e.dispatch(w, session)
		return
	}

	if msg.Kind == KindFault {
		detail := "device fault"
		code := 0
		if msg.Fault != nil {
			detail = msg.Fault.Detail
			code = msg.Fault.Code
		}
		log.Printf("❌ Task %s (%s) faulted on %s: %d %s", task.ID, task.Kind, serial, code, detail)
		if err := e.queue.MarkFailed(task.ID, detail); err != nil {
			log.Printf("❌ Failed to mark task %s failed: %v", task.ID, err)
			e.metrics.RecordStoreError(serviceName, "task_fail")
		}
		e.metrics.TasksCompleted.WithLabelValues(serviceName, string(task.Kind), "failed").Inc()
	} else {
		if err := e.queue.MarkAcknowledged(task.ID); err != nil {
			log.Printf("❌ Failed to acknowledge task %s: %v", task.ID, err)
			e.metrics.RecordStoreError(serviceName, "task_ack")
		}
		e.metrics.TasksCompleted.WithLabelValues(serviceName, string(task.Kind), "acknowledged").Inc()
		log.Printf("✅ Task %s (%s) acknowledged by %s", task.ID, task.Kind, serial)

		// A GetParameterValues answer carries fresh values worth keeping
		if msg.Kind == KindGetParameterValuesResponse && len(msg.Parameters) > 0 {
			if err := e.registry.MergeParameters(serial, msg.Parameters); err != nil {
				log.Printf("❌ Failed to merge reported parameters for %s: %v", serial, err)
				e.metrics.RecordStoreError(serviceName, "merge_parameters")
			}
		}
	}

	e.events.TaskCompleted(task)
	e.dispatch(w, session)
}

// handleEmpty reacts to the device's "no more requests" signal
func (e *Engine) handleEmpty(w http.ResponseWriter, session *Session) {
	if session == nil || session.SerialNumber() == "" {
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}
	session.Touch()

	if session.State() == StateAwaitingTaskResponse {
		// The device skipped the expected response; treat the visit as over
		// and give the task another chance later
		e.closeSession(session)
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}

	e.dispatch(w, session)
}

// dispatch claims the next pending task and writes it out, or ends the
// session with an empty body when the queue is drained
func (e *Engine) dispatch(w http.ResponseWriter, session *Session) {
	serial := session.SerialNumber()
	task, err := e.queue.ClaimNext(serial)
	if err != nil {
		log.Printf("❌ Task claim for %s failed: %v", serial, err)
		e.metrics.RecordStoreError(serviceName, "claim")
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}

	if task == nil {
		e.closeSession(session)
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}

	out := &Message{CommandKey: task.ID, Parameters: task.PayloadMap()}
	switch task.Kind {
	case store.TaskSetParameterValues:
		out.Kind = KindSetParameterValues
	case store.TaskGetParameterValues:
		out.Kind = KindGetParameterValues
	case store.TaskReboot:
		out.Kind = KindReboot
	case store.TaskFactoryReset:
		out.Kind = KindFactoryReset
	default:
		log.Printf("❌ Task %s has unsupported kind %q; failing it", task.ID, task.Kind)
		if err := e.queue.MarkFailed(task.ID, "unsupported task kind"); err != nil {
			log.Printf("❌ Failed to fail task %s: %v", task.ID, err)
		}
		e.respond(w, &Message{Kind: KindEmpty})
		return
	}

	session.MarkDispatched(task.ID)

	e.metrics.TasksSent.WithLabelValues(serviceName, string(task.Kind)).Inc()
	log.Printf("📤 Dispatching task %s (%s) to %s (attempt %d)",
		task.ID, task.Kind, serial, task.Attempts)

	e.respond(w, out)
}

// SessionCount reports the number of tracked sessions
func (e *Engine) SessionCount() int {
	return e.sessions.Count()
}

// RunJanitor periodically sweeps sessions whose device never came back.
// Any task still sent in a swept session reverts to pending so a future
// session can deliver it.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.SweepExpired(now)
		}
	}
}

// SweepExpired requeues the in-flight work of every expired session
func (e *Engine) SweepExpired(now time.Time) int {
	expired := e.sessions.TakeExpired(now)
	for _, s := range expired {
		e.abortSession(s)
	}
	if len(expired) > 0 {
		log.Printf("🧹 Swept %d expired sessions", len(expired))
		e.metrics.SessionsActive.Set(float64(e.sessions.Count()))
	}
	return len(expired)
}

func (e *Engine) abortSession(s *Session) {
	if taskID := s.CloseAndTakeInFlight(); taskID != "" {
		log.Printf("🔁 Session %s aborted with task %s in flight; requeued", s.ID, taskID)
		e.requeueTask(taskID)
	}
}

func (e *Engine) requeueTask(taskID string) {
	if err := e.queue.Requeue(taskID); err != nil {
		log.Printf("❌ Failed to requeue task %s: %v", taskID, err)
		e.metrics.RecordStoreError(serviceName, "requeue")
		return
	}
	e.metrics.TasksRequeued.Inc()
}

func (e *Engine) closeSession(s *Session) {
	e.sessions.Remove(s.ID)
	e.abortSession(s)
}

func (e *Engine) sessionFor(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	return e.sessions.Get(cookie.Value)
}

func (e *Engine) authorized(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		// Plenty of CPE firmware opens the conversation without credentials;
		// the original servers allow the handshake through
		return r.Header.Get("Authorization") == ""
	}
	return username == e.cfg.Username && password == e.cfg.Password
}

// respond writes a syntactically valid envelope with a 2xx status, always
func (e *Engine) respond(w http.ResponseWriter, msg *Message) {
	data, err := Encode(msg)
	if err != nil {
		log.Printf("❌ Envelope encode failed: %v", err)
		data = []byte{}
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("SOAPAction", "")
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("⚠️ Failed to write CWMP response: %v", err)
	}
}
