package stats

// Metric names registered against the shared StatsProvider at startup.
// Kept as constants so callers in internal/server and internal/api can't
// typo a name that silently never shows up under /debug/vars.
const (
	ActiveConnections = "ActiveConnections"
	ActiveRooms       = "ActiveRooms"
	MessagesRelayed   = "MessagesRelayed"
	PolicyViolations  = "PolicyViolations"
)

// RegisterAll registers every metric this service reports. Call once at
// startup before Run.
func RegisterAll(sp StatsProvider) {
	sp.RegisterMetric(ActiveConnections)
	sp.RegisterMetric(ActiveRooms)
	sp.RegisterMetric(MessagesRelayed)
	sp.RegisterMetric(PolicyViolations)
}
