package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"funding-workflow/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "eventId":  {"type": "keyword"},
      "entity":   {"type": "keyword"},
      "entityId": {"type": "keyword"},
      "action":   {"type": "keyword"},
      "actorId":  {"type": "keyword"},
      "role":     {"type": "keyword"},
      "data":     {"type": "object", "enabled": false},
      "at":       {"type": "date"}
    }
  }
}`

// ElasticsearchSink indexes each event as a document keyed by its event ID,
// so redelivered events overwrite rather than duplicate.
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticsearchSink(client *elasticsearch.Client, index string, log logger.Logger) *ElasticsearchSink {
	return &ElasticsearchSink{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit", "index": index}),
	}
}

// EnsureIndex creates the audit index with its mapping if it does not exist.
func (s *ElasticsearchSink) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create audit index: %s: %s", res.Status(), body)
	}
	return nil
}

func (s *ElasticsearchSink) Record(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode audit event", map[string]interface{}{"eventId": event.EventID, "error": err.Error()})
		return
	}

	res, err := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: event.EventID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		s.logger.Warn("Failed to index audit event", map[string]interface{}{
			"eventId": event.EventID,
			"action":  event.Action,
			"error":   err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.logger.Warn("Audit index rejected event", map[string]interface{}{
			"eventId": event.EventID,
			"action":  event.Action,
			"status":  res.Status(),
		})
	}
}
