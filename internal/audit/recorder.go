package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/wavelink/auth-service/pkg/logging"
)

type Config struct {
	URL      string
	User     string
	Password string
	Index    string
}

// Recorder indexes security events (failed logins, lockouts, theft
// detections, bulk revocations) into Elasticsearch. Indexing is best
// effort: auth flows never fail because the audit trail is down.
type Recorder struct {
	es    *elasticsearch.Client
	index string
}

func NewRecorder(cfg Config) (*Recorder, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch error: %s: %s", res.Status(), body)
	}

	return &Recorder{es: client, index: cfg.Index}, nil
}

func (r *Recorder) Record(ctx context.Context, kind string, fields map[string]any) {
	l := logging.FromContext(ctx).With("svc", "auth.audit")

	doc := map[string]any{
		"kind": kind,
		"at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		doc[k] = v
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		l.Error("audit_encode", "kind", kind, "error", err)
		return
	}

	res, err := r.es.Index(r.index, &buf, r.es.Index.WithContext(ctx))
	if err != nil {
		l.Error("audit_index", "kind", kind, "error", err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		l.Error("audit_index", "kind", kind, "status", res.Status())
	}
}
