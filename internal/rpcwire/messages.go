package rpcwire

import "github.com/source-build/ojp/internal/transport"

// SessionDescriptor is carried on responses (spec.md §6): clients echo it
// on subsequent calls for the same session.
type SessionDescriptor struct {
	ConnectionHash string `json:"connHash"`
	ClientID       string `json:"clientId"`
	SessionID      string `json:"sessionId"`
	IsXA           bool   `json:"isXA"`
}

// ClusterHealth is the piggy-backed health blob every RPC carries (spec.md
// §4.4/§6): "endpoint=up|down[,...]".
type ClusterHealth struct {
	Blob string `json:"clusterHealth,omitempty"`
}

// OpenSessionRequest opens or resumes a session for (clientId, connHash).
type OpenSessionRequest struct {
	ClusterHealth
	ClientID          string             `json:"clientId"`
	DataSourceName    string             `json:"dataSourceName"`
	Properties        *transport.Properties `json:"properties,omitempty"`
	IsXA              bool               `json:"isXA"`
}

type OpenSessionResponse struct {
	Session SessionDescriptor `json:"session"`
}

type CloseSessionRequest struct {
	ClusterHealth
	Session SessionDescriptor `json:"session"`
}

type CloseSessionResponse struct{}

// ExecuteRequest covers plain/prepared/callable statement execution — Kind
// discriminates which, SQL/Params are populated as needed by the caller.
type ExecuteKind int

const (
	ExecutePlain ExecuteKind = iota
	ExecutePrepared
	ExecuteCallable
)

type ExecuteRequest struct {
	ClusterHealth
	Session     SessionDescriptor `json:"session"`
	Kind        ExecuteKind       `json:"kind"`
	Fingerprint string            `json:"fingerprint"`
	SQL         string            `json:"sql"`
	Params      []transport.Value `json:"params,omitempty"`
}

type ExecuteResponse struct {
	ResultSetCursorID string            `json:"resultSetCursorId,omitempty"`
	UpdateCount       int64             `json:"updateCount,omitempty"`
	GeneratedKeys     []transport.Value `json:"generatedKeys,omitempty"`
}

// FetchRequest pulls the next batch of rows from a result-set cursor.
type FetchRequest struct {
	Session  SessionDescriptor `json:"session"`
	CursorID string            `json:"cursorId"`
	BatchSize int              `json:"batchSize"`
}

type FetchResponse struct {
	Rows    [][]transport.Value `json:"rows"`
	HasMore bool                 `json:"hasMore"`
}

// XA control-verb requests/response, all sharing one shape: verb-specific
// fields are interpreted per Verb.
type XAVerb int

const (
	XAStart XAVerb = iota
	XAEnd
	XAPrepare
	XACommit
	XARollback
	XARecover
)

type XARequest struct {
	ClusterHealth
	Session  SessionDescriptor `json:"session"`
	Verb     XAVerb            `json:"verb"`
	XID      string            `json:"xid"`
	OnePhase bool              `json:"onePhase,omitempty"`
}

type XAResponse struct {
	Recovered []string `json:"recovered,omitempty"`
}

// LOB read/write requests.
type LOBReadRequest struct {
	Session  SessionDescriptor `json:"session"`
	CursorID string            `json:"cursorId"`
	Offset   int64             `json:"offset"`
	Length   int               `json:"length"`
}

type LOBReadResponse struct {
	Data []byte `json:"data"`
}

type LOBWriteRequest struct {
	Session  SessionDescriptor `json:"session"`
	CursorID string            `json:"cursorId"`
	Offset   int64             `json:"offset"`
	Data     []byte            `json:"data"`
}

type LOBWriteResponse struct {
	BytesWritten int `json:"bytesWritten"`
}

// HealthCheckRequest/Response implement HealthService (spec.md §6).
type HealthCheckRequest struct {
	Service string `json:"service"`
}

type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING | NOT_SERVING | UNKNOWN
}
