package cascade

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/shrinkify/internal/partition"
)

var (
	// ErrInvalidEvent is returned for payloads that are not JSON or do not
	// match the audit log envelope.
	ErrInvalidEvent = errors.New("invalid event payload")
	// ErrIdleTrigger marks an event with no row insertion count.
	ErrIdleTrigger = errors.New("idle trigger: no inserted rows count")
	// ErrNotResultsTable marks an event for a table other than results_<k>.
	ErrNotResultsTable = errors.New("event is not for a results table")
	// ErrMalformedResource marks an unparseable resource name or chunk suffix.
	ErrMalformedResource = errors.New("malformed resource name")
)

//go:embed event_schema.json
var eventSchemaJSON []byte

var (
	eventSchemaOnce sync.Once
	eventSchema     *jsonschema.Schema
	eventSchemaErr  error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("event_schema.json", bytes.NewReader(eventSchemaJSON)); err != nil {
			eventSchemaErr = fmt.Errorf("failed to load event schema: %w", err)
			return
		}
		eventSchema, eventSchemaErr = compiler.Compile("event_schema.json")
	})
	return eventSchema, eventSchemaErr
}

// RowCount accepts insertedRowsCount encoded as a JSON string or number.
type RowCount int64

func (c *RowCount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("insertedRowsCount %s: %w", b, err)
	}
	*c = RowCount(n)
	return nil
}

// AuditLogEntry is the subset of a BigQuery audit LogEntry the handler reads.
type AuditLogEntry struct {
	ProtoPayload struct {
		MethodName         string `json:"methodName"`
		ResourceName       string `json:"resourceName"`
		AuthenticationInfo struct {
			PrincipalEmail string `json:"principalEmail"`
		} `json:"authenticationInfo"`
		Metadata struct {
			TableDataChange *struct {
				InsertedRowsCount *RowCount `json:"insertedRowsCount"`
			} `json:"tableDataChange"`
		} `json:"metadata"`
	} `json:"protoPayload"`
}

// DecodeAuditLog validates data against the envelope schema and decodes it.
func DecodeAuditLog(data []byte) (AuditLogEntry, error) {
	var entry AuditLogEntry

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return entry, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	schema, err := compiledEventSchema()
	if err != nil {
		return entry, err
	}
	if err := schema.Validate(doc); err != nil {
		return entry, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return entry, nil
}

// TableEvent is a decoded results-table completion.
type TableEvent struct {
	Project      string `json:"project"`
	Dataset      string `json:"dataset"`
	Table        string `json:"table"`
	ChunkIndex   int    `json:"chunk_index"`
	InsertedRows int64  `json:"inserted_rows"`
	Method       string `json:"method"`
	Principal    string `json:"principal"`
	Resource     string `json:"resource"`
}

// ParseResourceName splits projects/{p}/datasets/{d}/tables/{t}.
func ParseResourceName(name string) (project, dataset, table string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 6 || parts[0] != "projects" || parts[2] != "datasets" || parts[4] != "tables" ||
		parts[1] == "" || parts[3] == "" || parts[5] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrMalformedResource, name)
	}
	return parts[1], parts[3], parts[5], nil
}

// ParseTableEvent turns an envelope into a TableEvent. It returns
// ErrIdleTrigger, ErrMalformedResource or ErrNotResultsTable for events the
// handler must ignore; the partially decoded event is returned with them
// for logging.
func ParseTableEvent(entry AuditLogEntry) (TableEvent, error) {
	p := entry.ProtoPayload
	ev := TableEvent{
		Method:    p.MethodName,
		Principal: p.AuthenticationInfo.PrincipalEmail,
		Resource:  p.ResourceName,
	}

	change := p.Metadata.TableDataChange
	if change == nil || change.InsertedRowsCount == nil {
		return ev, ErrIdleTrigger
	}
	ev.InsertedRows = int64(*change.InsertedRowsCount)

	project, dataset, table, err := ParseResourceName(p.ResourceName)
	if err != nil {
		return ev, err
	}
	ev.Project, ev.Dataset, ev.Table = project, dataset, table

	k, err := partition.ParseResultsTable(table)
	if errors.Is(err, partition.ErrNotResultsTable) {
		return ev, fmt.Errorf("%w: %s", ErrNotResultsTable, table)
	}
	if err != nil {
		return ev, fmt.Errorf("%w: %w", ErrMalformedResource, err)
	}
	ev.ChunkIndex = k
	return ev, nil
}

// ParseEvent validates raw event data against the envelope schema and
// parses it. Schema failures wrap ErrInvalidEvent; the ignorable cases are
// those of ParseTableEvent.
func ParseEvent(data []byte) (TableEvent, error) {
	entry, err := DecodeAuditLog(data)
	if err != nil {
		return TableEvent{}, err
	}
	return ParseTableEvent(entry)
}
