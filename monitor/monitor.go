// Package monitor implements the thread-safe, in-memory metrics
// aggregator: connection lifecycle tracking, per-tool and per-version
// metrics, threshold-driven health classification, and bounded
// retention, all guarded by a single mutex per component.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/SubbaMooney/vibecoding-demo/logx"
)

const (
	defaultMaxConnections     = 100
	defaultMaxErrorRate       = 0.1
	defaultMaxResponseTimeMS  = 2000.0
	defaultConnectionTimeout  = 5 * time.Minute
	defaultRetention          = 24 * time.Hour
	connectionHistoryCapacity = 10000
	latencyWindowSize         = 100
)

// HealthStatus is the overall classification returned by Health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// IssueSeverity classifies one reported health issue.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
	SeverityInfo     IssueSeverity = "info"
)

// Issue is one contributing fact behind a Health verdict.
type Issue struct {
	Severity IssueSeverity
	Message  string
}

// ConnectionMetrics tracks one connection's lifecycle, live or ended.
type ConnectionMetrics struct {
	ID                string
	Version           string
	ClientInfo        map[string]any
	ConnectedAt       time.Time
	LastActivity      time.Time
	EndedAt           time.Time
	Ended             bool
	MessageCount      uint64
	BytesSent         uint64
	BytesReceived     uint64
	ErrorCount        uint64
	ToolCallCounts    map[string]uint64
	DurationSeconds   float64
}

func (c ConnectionMetrics) clone() ConnectionMetrics {
	cp := c
	cp.ToolCallCounts = make(map[string]uint64, len(c.ToolCallCounts))
	for k, v := range c.ToolCallCounts {
		cp.ToolCallCounts[k] = v
	}
	if c.ClientInfo != nil {
		cp.ClientInfo = make(map[string]any, len(c.ClientInfo))
		for k, v := range c.ClientInfo {
			cp.ClientInfo[k] = v
		}
	}
	return cp
}

// ToolMetrics tracks outcomes for one tool name.
type ToolMetrics struct {
	Name              string
	TotalCalls        uint64
	SuccessfulCalls   uint64
	FailedCalls       uint64
	MinExecutionMS    float64
	MaxExecutionMS    float64
	AvgExecutionMS    float64
	ErrorTypeCounts   map[string]uint64
	ring              *latencyRing
}

// ToolMetricsSnapshot is a copy-out view of ToolMetrics safe to hold after release.
type ToolMetricsSnapshot struct {
	Name            string
	TotalCalls      uint64
	SuccessfulCalls uint64
	FailedCalls     uint64
	MinExecutionMS  float64
	MaxExecutionMS  float64
	AvgExecutionMS  float64
	SuccessRate     float64
	ErrorTypeCounts map[string]uint64
}

func (t *ToolMetrics) snapshot() ToolMetricsSnapshot {
	errs := make(map[string]uint64, len(t.ErrorTypeCounts))
	for k, v := range t.ErrorTypeCounts {
		errs[k] = v
	}
	var successRate float64
	if t.TotalCalls > 0 {
		successRate = float64(t.SuccessfulCalls) / float64(t.TotalCalls)
	}
	return ToolMetricsSnapshot{
		Name:            t.Name,
		TotalCalls:      t.TotalCalls,
		SuccessfulCalls: t.SuccessfulCalls,
		FailedCalls:     t.FailedCalls,
		MinExecutionMS:  t.MinExecutionMS,
		MaxExecutionMS:  t.MaxExecutionMS,
		AvgExecutionMS:  t.AvgExecutionMS,
		SuccessRate:     successRate,
		ErrorTypeCounts: errs,
	}
}

// ProtocolMetrics tracks aggregate stats for one negotiated version.
type ProtocolMetrics struct {
	Version                string
	TotalConnections       uint64
	ActiveConnections      int64
	TotalMessages          uint64
	HandshakeFailures      uint64
	NegotiationFailures    uint64
	AvgConnectionDuration  float64
	endedConnectionCount   uint64
}

func (p ProtocolMetrics) clone() ProtocolMetrics { return p }

// Health is the result of a Health() query.
type Health struct {
	Status HealthStatus
	Issues []Issue
}

// Summary is the result of a Summary() query.
type Summary struct {
	ActiveConnections   int
	TotalConnections    uint64
	TotalMessages       uint64
	OverallErrorRate    float64
	MessagesPerSecond   float64
	Tools               map[string]ToolMetricsSnapshot
	Versions            map[string]ProtocolMetrics
}

// thresholds holds the mutable alert configuration.
type thresholds struct {
	maxConnections    int
	maxErrorRate      float64
	maxResponseTimeMS float64
	connectionTimeout time.Duration
}

// Monitor aggregates connection, tool, and protocol-version metrics
// behind a single mutex protecting all three aggregates.
type Monitor struct {
	mu  sync.Mutex
	log logx.Logger

	live    map[string]*ConnectionMetrics
	history []ConnectionMetrics

	tools    map[string]*ToolMetrics
	versions map[string]*ProtocolMetrics

	thresholds     thresholds
	retention      time.Duration
	earliestLiveAt time.Time
	totalMessages  uint64
}

// New returns a Monitor with its default alert thresholds, logging
// health and negotiation events through log (a nil log is replaced with
// logx.Noop{}).
func New(log logx.Logger) *Monitor {
	if log == nil {
		log = logx.Noop{}
	}
	return &Monitor{
		log:      log,
		live:     make(map[string]*ConnectionMetrics),
		tools:    make(map[string]*ToolMetrics),
		versions: make(map[string]*ProtocolMetrics),
		thresholds: thresholds{
			maxConnections:    defaultMaxConnections,
			maxErrorRate:      defaultMaxErrorRate,
			maxResponseTimeMS: defaultMaxResponseTimeMS,
			connectionTimeout: defaultConnectionTimeout,
		},
		retention: defaultRetention,
	}
}

func (m *Monitor) versionMetrics(version string) *ProtocolMetrics {
	pm, ok := m.versions[version]
	if !ok {
		pm = &ProtocolMetrics{Version: version}
		m.versions[version] = pm
	}
	return pm
}

func (m *Monitor) toolMetrics(name string) *ToolMetrics {
	tm, ok := m.tools[name]
	if !ok {
		tm = &ToolMetrics{Name: name, ErrorTypeCounts: make(map[string]uint64), ring: newLatencyRing(latencyWindowSize)}
		m.tools[name] = tm
	}
	return tm
}

// TrackConnectionStarted records a new live connection under id.
func (m *Monitor) TrackConnectionStarted(id, version string, clientInfo map[string]any) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live[id] = &ConnectionMetrics{
		ID:             id,
		Version:        version,
		ClientInfo:     clientInfo,
		ConnectedAt:    now,
		LastActivity:   now,
		ToolCallCounts: make(map[string]uint64),
	}
	if m.earliestLiveAt.IsZero() || now.Before(m.earliestLiveAt) {
		m.earliestLiveAt = now
	}

	pm := m.versionMetrics(version)
	pm.TotalConnections++
	pm.ActiveConnections++
}

// TrackConnectionEnded moves a live connection into bounded history and
// recomputes earliestLiveAt from what remains live.
func (m *Monitor) TrackConnectionEnded(id string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.live[id]
	if !ok {
		return
	}
	delete(m.live, id)

	cm.EndedAt = now
	cm.Ended = true
	cm.DurationSeconds = now.Sub(cm.ConnectedAt).Seconds()

	if pm, ok := m.versions[cm.Version]; ok {
		if pm.ActiveConnections > 0 {
			pm.ActiveConnections--
		}
		pm.endedConnectionCount++
		pm.AvgConnectionDuration += (cm.DurationSeconds - pm.AvgConnectionDuration) / float64(pm.endedConnectionCount)
	}

	m.history = append(m.history, *cm)
	if len(m.history) > connectionHistoryCapacity {
		m.history = m.history[len(m.history)-connectionHistoryCapacity:]
	}

	m.recomputeEarliestLiveAt()
}

// recomputeEarliestLiveAt derives earliestLiveAt from the connections
// still in m.live, so the messages-per-second divisor tracks the oldest
// connection that is actually still open rather than one that has since
// ended. Callers must hold m.mu.
func (m *Monitor) recomputeEarliestLiveAt() {
	var earliest time.Time
	for _, cm := range m.live {
		if earliest.IsZero() || cm.ConnectedAt.Before(earliest) {
			earliest = cm.ConnectedAt
		}
	}
	m.earliestLiveAt = earliest
}

// TrackMessage records one inbound or outbound message for id. The
// monitor-wide total counts every message, even one received before id
// is registered as live (the inbound hello arrives before
// TrackConnectionStarted runs); per-connection and per-version counters
// only update once the connection is live.
func (m *Monitor) TrackMessage(id, msgType string, byteSize int, direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalMessages++

	cm, ok := m.live[id]
	if !ok {
		return
	}
	cm.LastActivity = time.Now()
	if direction == "in" {
		cm.MessageCount++
		cm.BytesReceived += uint64(byteSize)
	} else {
		cm.BytesSent += uint64(byteSize)
	}
	if pm, ok := m.versions[cm.Version]; ok {
		pm.TotalMessages++
	}
}

// TrackToolCall records one tool invocation's outcome for connection id.
// id must be the caller's real connection id, never a placeholder, so
// per-connection tool-call counts stay accurate.
func (m *Monitor) TrackToolCall(id, tool string, executionMS float64, success bool, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cm, ok := m.live[id]; ok {
		cm.ToolCallCounts[tool]++
		if !success {
			cm.ErrorCount++
		}
	}

	tm := m.toolMetrics(tool)
	tm.TotalCalls++
	if success {
		tm.SuccessfulCalls++
	} else {
		tm.FailedCalls++
		if errorType != "" {
			tm.ErrorTypeCounts[errorType]++
		}
	}
	if tm.TotalCalls == 1 {
		tm.MinExecutionMS = executionMS
		tm.MaxExecutionMS = executionMS
	} else {
		if executionMS < tm.MinExecutionMS {
			tm.MinExecutionMS = executionMS
		}
		if executionMS > tm.MaxExecutionMS {
			tm.MaxExecutionMS = executionMS
		}
	}
	tm.ring.record(executionMS)
	tm.AvgExecutionMS = tm.ring.average()
}

// TrackHandshakeFailure records a failed handshake attempt for version.
func (m *Monitor) TrackHandshakeFailure(version, reason string) {
	m.log.Warn("handshake failed for version %q: %s", version, reason)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versionMetrics(version).HandshakeFailures++
}

// TrackNegotiationFailure records a failed negotiation by incrementing
// the negotiation-failure counter for every known registered version,
// since a failed negotiation can't be attributed to a single version.
func (m *Monitor) TrackNegotiationFailure(clientVersions []string, knownServerVersions []string, reason string) {
	m.log.Warn("negotiation failed for client versions %v: %s", clientVersions, reason)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range knownServerVersions {
		m.versionMetrics(v).NegotiationFailures++
	}
}

// SetAlertThreshold updates one named threshold. Unknown names are
// rejected.
type ErrUnknownThreshold struct{ Name string }

func (e *ErrUnknownThreshold) Error() string { return "monitor: unknown threshold " + e.Name }

func (m *Monitor) SetAlertThreshold(name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case "max_connections":
		m.thresholds.maxConnections = int(value)
	case "max_error_rate":
		m.thresholds.maxErrorRate = value
	case "max_response_time":
		m.thresholds.maxResponseTimeMS = value
	case "connection_timeout":
		m.thresholds.connectionTimeout = time.Duration(value) * time.Second
	default:
		return &ErrUnknownThreshold{Name: name}
	}
	return nil
}

// Health classifies overall system health from current thresholds.
func (m *Monitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	var issues []Issue
	status := HealthHealthy

	for _, tm := range m.tools {
		if tm.TotalCalls == 0 {
			continue
		}
		errRate := float64(tm.FailedCalls) / float64(tm.TotalCalls)
		if errRate > m.thresholds.maxErrorRate {
			issues = append(issues, Issue{Severity: SeverityCritical, Message: "tool " + tm.Name + " error rate exceeds threshold"})
			status = HealthUnhealthy
		}
	}

	if len(m.live) > m.thresholds.maxConnections {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "active connections exceed max_connections"})
		if status != HealthUnhealthy {
			status = HealthDegraded
		}
	}
	for _, tm := range m.tools {
		if tm.AvgExecutionMS > m.thresholds.maxResponseTimeMS {
			issues = append(issues, Issue{Severity: SeverityWarning, Message: "tool " + tm.Name + " average latency exceeds threshold"})
			if status != HealthUnhealthy {
				status = HealthDegraded
			}
		}
	}

	now := time.Now()
	for id, cm := range m.live {
		if now.Sub(cm.LastActivity) > m.thresholds.connectionTimeout {
			issues = append(issues, Issue{Severity: SeverityInfo, Message: "connection " + id + " is stale"})
		}
	}

	if status != HealthHealthy {
		m.log.Warn("health check returned %s with %d issue(s)", status, len(issues))
	}

	return Health{Status: status, Issues: issues}
}

// Summary returns a point-in-time snapshot of all aggregates.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalErrors, totalCalls uint64
	tools := make(map[string]ToolMetricsSnapshot, len(m.tools))
	for name, tm := range m.tools {
		tools[name] = tm.snapshot()
		totalErrors += tm.FailedCalls
		totalCalls += tm.TotalCalls
	}

	versions := make(map[string]ProtocolMetrics, len(m.versions))
	var totalConnections uint64
	for v, pm := range m.versions {
		versions[v] = pm.clone()
		totalConnections += pm.TotalConnections
	}

	var overallErrorRate float64
	if totalCalls > 0 {
		overallErrorRate = float64(totalErrors) / float64(totalCalls)
	}

	var msgPerSec float64
	if !m.earliestLiveAt.IsZero() {
		elapsed := time.Since(m.earliestLiveAt).Seconds()
		if elapsed > 0 {
			msgPerSec = float64(m.totalMessages) / elapsed
		}
	}

	return Summary{
		ActiveConnections: len(m.live),
		TotalConnections:  totalConnections,
		TotalMessages:     m.totalMessages,
		OverallErrorRate:  overallErrorRate,
		MessagesPerSecond: msgPerSec,
		Tools:             tools,
		Versions:          versions,
	}
}

// ConnectionDetails returns a snapshot for id among live connections, or
// false if none exists (ended connections are not queryable this way).
func (m *Monitor) ConnectionDetails(id string) (ConnectionMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm, ok := m.live[id]
	if !ok {
		return ConnectionMetrics{}, false
	}
	return cm.clone(), true
}

// CleanupOldData drops history entries older than the configured
// retention window.
func (m *Monitor) CleanupOldData() {
	cutoff := time.Now().Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	for _, cm := range m.history {
		if cm.EndedAt.After(cutoff) {
			kept = append(kept, cm)
		}
	}
	m.history = append([]ConnectionMetrics(nil), kept...)
}

// SetRetention overrides the retention window used by CleanupOldData.
func (m *Monitor) SetRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention = d
}

// HistorySnapshot returns a copy of ended-connection history, most
// recent last, for tests and introspection.
func (m *Monitor) HistorySnapshot() []ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectionMetrics, len(m.history))
	for i, cm := range m.history {
		out[i] = cm.clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	return out
}
