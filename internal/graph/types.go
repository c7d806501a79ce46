package graph

import (
	"encoding/json"
	"fmt"
)

// Session ties the batches of one upload together on the remote side.
type Session struct {
	ID                int64 `json:"session_id"`
	BatchSeq          int   `json:"batch_seq"`
	LastBatch         bool  `json:"last_batch_flag"`
	EstimatedNumTotal int64 `json:"estimated_num_total,omitempty"`
}

// Payload is the user data of one batch. Each element of Data holds one value
// per entry of Schema, in the same order.
//
// When Schema has exactly one tag, the payload is serialized in the scalar
// form the API documents for single-key uploads:
//
//	{"schema":"EMAIL_SHA256","data":["<hash>","<hash>"]}
//
// otherwise:
//
//	{"schema":["EMAIL_SHA256","LN_FN_ZIP"],"data":[["<hash>","<hash>"]]}
type Payload struct {
	Schema []string
	Data   [][]string
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	for i, row := range p.Data {
		if len(row) != len(p.Schema) {
			return nil, fmt.Errorf("graph: payload row %d has %d values for %d schema keys", i, len(row), len(p.Schema))
		}
	}

	if len(p.Schema) == 1 {
		data := make([]string, len(p.Data))
		for i, row := range p.Data {
			data[i] = row[0]
		}
		return json.Marshal(struct {
			Schema string   `json:"schema"`
			Data   []string `json:"data"`
		}{p.Schema[0], data})
	}

	schema := p.Schema
	if schema == nil {
		schema = []string{}
	}
	data := p.Data
	if data == nil {
		data = [][]string{}
	}
	return json.Marshal(struct {
		Schema []string   `json:"schema"`
		Data   [][]string `json:"data"`
	}{schema, data})
}

// UploadResult is the users endpoint response.
type UploadResult struct {
	AudienceID    string            `json:"audience_id"`
	SessionID     string            `json:"session_id"`
	NumReceived   int64             `json:"num_received"`
	NumInvalid    int64             `json:"num_invalid_entries"`
	InvalidSample map[string]string `json:"invalid_entry_samples,omitempty"`
}

// User is the token owner returned by GET /me.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Named is the {id, name} pair the discovery endpoints return for
// businesses, ad accounts and audiences.
type Named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewAudience describes a custom audience to create.
type NewAudience struct {
	Name        string
	Description string
}
