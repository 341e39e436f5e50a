// internal/history/indexer.go
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"evworth/internal/common/logger"
)

// Record is one served prediction, stored for offline analytics.
type Record struct {
	RequestID  string                 `json:"request_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes"`
	Prices     map[string]float64     `json:"prices"`
}

// Indexer writes prediction records into Elasticsearch, best-effort: index
// failures are logged and never surfaced to the client.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "history"}),
	}
}

// IndexAsync indexes the record off the request path.
func (ix *Indexer) IndexAsync(rec Record) {
	go ix.indexOne(rec)
}

func (ix *Indexer) indexOne(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(rec)
	if err != nil {
		ix.logger.WithError(err).Warn("encode prediction record failed", nil)
		return
	}

	res, err := ix.client.Index(
		ix.index,
		bytes.NewReader(body),
		ix.client.Index.WithContext(ctx),
		ix.client.Index.WithDocumentID(rec.RequestID),
	)
	if err != nil {
		ix.logger.WithError(err).Warn("prediction index failed", map[string]interface{}{"requestId": rec.RequestID})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		ix.logger.Warn("prediction index rejected", map[string]interface{}{
			"requestId": rec.RequestID,
			"status":    res.Status(),
		})
	}
}
