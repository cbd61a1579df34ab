package api

// Endpoint paths served by the node.
const (
	PathPing          = "/"
	PathGetDocument   = "/getDocument"
	PathWrite         = "/write"
	PathRelease       = "/release"
	PathMarkProcessed = "/markProcessed"
	PathMarkPending   = "/markPending"
	PathMarkDiscarded = "/markDiscarded"
	PathMarkFailed    = "/markFailed"
	PathGetProperties = "/getProperties"
	PathFile          = "/file"
	PathStatus        = "/status"
	PathDocument      = "/document"
	PathArchive       = "/archive"
	PathMetrics       = "/metrics"
)

// Query parameter names.
const (
	ParamStage     = "stage"
	ParamRecurring = "recurring"
	ParamPartial   = "partial"
	ParamNoRelease = "norelease"
	ParamDocID     = "docId"
	ParamFileName  = "filename"
	ParamID        = "id"
	ParamAfter     = "after"
	ParamLimit     = "limit"
	ParamWait      = "wait"
)

// Flag renders a boolean query parameter the way the node expects it.
func Flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
