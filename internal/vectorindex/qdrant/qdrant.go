// Package qdrant stores transcript chunks in a Qdrant collection over its
// REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

const (
	payloadTextKey = "_text"
	payloadIDKey   = "_id"
	maxBodyBytes   = 1 << 20
)

var pointIDNamespace = uuid.MustParse("6b3c2f4e-5d0a-4c8e-9f6e-2a1d7c9b8e10")

// Config describes the target collection.
type Config struct {
	URL        string
	Collection string
	VectorDim  int
	// Distance is the collection metric: Cosine, Dot, Euclid or Manhattan.
	Distance string
	Timeout  time.Duration
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.URL == "" {
		return opErr("config", OperationErrorValidation, "url is required", nil)
	}
	if strings.TrimSpace(c.Collection) == "" {
		return opErr("config", OperationErrorValidation, "collection is required", nil)
	}
	if c.VectorDim <= 0 {
		return opErr("config", OperationErrorValidation, fmt.Sprintf("vector dim must be positive, got %d", c.VectorDim), nil)
	}
	if c.Distance == "" {
		c.Distance = "Cosine"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// Index is a vectorindex.Index backed by Qdrant.
type Index struct {
	cfg      Config
	embedder vectorindex.Embedder
	http     *http.Client
	logger   *slog.Logger
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func New(cfg Config, embedder vectorindex.Embedder, logger *slog.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, opErr("config", OperationErrorValidation, "embedder is required", nil)
	}
	return &Index{
		cfg:      cfg,
		embedder: embedder,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "qdrant", "collection", cfg.Collection),
	}, nil
}

// EnsureCollection creates the collection and the courseId payload index if
// they do not exist yet.
func (x *Index) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := x.doJSON(ctx, op, http.MethodGet, x.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != x.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection vector size mismatch: expected=%d actual=%d", x.cfg.VectorDim, size), nil)
		}
		if d := info.Config.Params.Vectors.Distance; d != "" {
			x.cfg.Distance = d
		}
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}

	create := map[string]any{
		"vectors": map[string]any{"size": x.cfg.VectorDim, "distance": x.cfg.Distance},
	}
	if err := x.doJSON(ctx, op, http.MethodPut, x.collectionPath(""), create, nil); err != nil {
		return err
	}
	idx := map[string]any{"field_name": "courseId", "field_schema": "keyword"}
	if err := x.doJSON(ctx, op, http.MethodPut, x.collectionPath("/index?wait=true"), idx, nil); err != nil {
		return err
	}
	x.logger.Info("qdrant collection created", "dim", x.cfg.VectorDim, "distance", x.cfg.Distance)
	return nil
}

func (x *Index) Add(ctx context.Context, docs []vectorindex.Document) error {
	const op = "upsert"
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("document %d has empty id", i), nil)
		}
		texts[i] = d.Text
	}
	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return opErr(op, OperationErrorEmbedFailed, "embed documents", err)
	}
	if len(vecs) != len(docs) {
		return opErr(op, OperationErrorEmbedFailed, fmt.Sprintf("got %d vectors for %d documents", len(vecs), len(docs)), nil)
	}

	points := make([]map[string]any, 0, len(docs))
	for i, d := range docs {
		if len(vecs[i]) != x.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("document %q dimension mismatch: expected=%d got=%d", d.ID, x.cfg.VectorDim, len(vecs[i])), nil)
		}
		payload := make(map[string]any, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			payload[k] = v
		}
		payload[payloadTextKey] = d.Text
		payload[payloadIDKey] = d.ID
		points = append(points, map[string]any{
			"id":      pointID(d.ID),
			"vector":  vecs[i],
			"payload": payload,
		})
	}
	return x.doJSON(ctx, op, http.MethodPut, x.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (x *Index) Query(ctx context.Context, text string, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	const op = "search"
	if topK <= 0 {
		return nil, nil
	}
	q, err := vectorindex.EmbedOne(ctx, x.embedder, text)
	if err != nil {
		return nil, opErr(op, OperationErrorEmbedFailed, "embed query", err)
	}

	req := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := translateFilter(filter); f != nil {
		req["filter"] = f
	}
	var hits []searchHit
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/search"), req, &hits); err != nil {
		return nil, err
	}

	out := make([]vectorindex.Match, 0, len(hits))
	for _, h := range hits {
		m := vectorindex.Match{Distance: x.distance(h.Score), Metadata: map[string]any{}}
		for k, v := range h.Payload {
			switch k {
			case payloadTextKey:
				m.Text, _ = v.(string)
			case payloadIDKey:
				m.ID, _ = v.(string)
			default:
				m.Metadata[k] = v
			}
		}
		if m.ID == "" {
			m.ID = strings.Trim(string(h.ID), `"`)
		}
		out = append(out, m)
	}
	vectorindex.SortMatches(out)
	return out, nil
}

func (x *Index) Delete(ctx context.Context, filter vectorindex.Filter) error {
	const op = "delete"
	f := translateFilter(filter)
	if f == nil {
		return opErr(op, OperationErrorValidation, "refusing to delete without a filter", nil)
	}
	return x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/delete?wait=true"), map[string]any{"filter": f}, nil)
}

// distance converts a Qdrant score to a distance where lower is closer.
func (x *Index) distance(score float64) float64 {
	switch strings.ToLower(x.cfg.Distance) {
	case "euclid", "manhattan":
		return score
	default:
		return 1 - score
	}
}

func (x *Index) collectionPath(suffix string) string {
	return "/collections/" + x.cfg.Collection + suffix
}

// pointID maps arbitrary document ids onto the UUIDs Qdrant accepts.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointIDNamespace, []byte(id)).String()
}

func translateFilter(filter vectorindex.Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": filter[k]}})
	}
	return map[string]any{"must": must}
}

func (x *Index) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, x.cfg.URL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return classifyCallError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw), 512),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode envelope", err)
	}
	if msg := statusError(env.Status); msg != "" {
		return &OperationError{Code: OperationErrorRequestFailed, Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode result", err)
	}
	return nil
}

func classifyCallError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, "request timed out", err)
	}
	return opErr(op, OperationErrorTransportFailed, "request failed", err)
}

func statusError(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		if strings.EqualFold(str, "ok") {
			return ""
		}
		return "status " + str
	}
	var obj struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Error != "" {
		return obj.Error
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
