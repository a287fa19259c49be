package weaviate

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"

	"agentrag/src/core/provenance"
	"agentrag/src/core/retrieval"
)

const (
	DefaultClassName  = "GivaudanChunk"
	DefaultQueryLimit = 20

	contentProperty = "content"
)

var chunkFields = []string{contentProperty, "document_id", "title", "section", "path"}

// NewClient builds a Weaviate client from a base URL such as http://localhost:8080.
func NewClient(rawURL string) (*weaviate.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weaviate url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q: missing host", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return client, nil
}

// Index serves hybrid queries over one Weaviate class. The keyword leg is a
// BM25 query and the dense leg a nearVector query; both run concurrently and
// are merged by object id.
type Index struct {
	client    *weaviate.Client
	className string
}

func NewIndex(client *weaviate.Client, className string) *Index {
	if className == "" {
		className = DefaultClassName
	}
	return &Index{
		client:    client,
		className: className,
	}
}

func (w *Index) Search(ctx context.Context, req retrieval.IndexRequest) ([]retrieval.IndexHit, error) {
	limit := req.TopK
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var keyword, dense []retrieval.IndexHit
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keyword, err = w.queryBM25(ctx, req.QueryText, limit)
		return err
	})
	if len(req.QueryEmbedding) > 0 {
		g.Go(func() error {
			var err error
			dense, err = w.queryNearVector(ctx, req.QueryEmbedding, limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return retrieval.MergeHits(keyword, dense), nil
}

// Ready reports whether the Weaviate node accepts queries.
func (w *Index) Ready(ctx context.Context) error {
	ok, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check weaviate readiness: %w", err)
	}
	if !ok {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

func (w *Index) queryBM25(ctx context.Context, query string, limit int) ([]retrieval.IndexHit, error) {
	bm25 := w.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties(contentProperty)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields("_additional { id score }")...).
		WithBM25(bm25).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run bm25 query: %w", err)
	}

	objects, err := w.objects(result)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.IndexHit, 0, len(objects))
	for _, obj := range objects {
		hit := obj.hit()
		hit.KeywordScore = toFloat(obj.additional["score"])
		hits = append(hits, hit)
	}
	return hits, nil
}

func (w *Index) queryNearVector(ctx context.Context, vector []float32, limit int) ([]retrieval.IndexHit, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields("_additional { id distance }")...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run near vector query: %w", err)
	}

	objects, err := w.objects(result)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.IndexHit, 0, len(objects))
	for _, obj := range objects {
		hit := obj.hit()
		// cosine distance, so similarity is 1 - distance
		hit.DenseScore = 1 - toFloat(obj.additional["distance"])
		hits = append(hits, hit)
	}
	return hits, nil
}

type object struct {
	properties map[string]interface{}
	additional map[string]interface{}
}

// hit keys by the object id so that chunks of one document stay distinct
// through fusion. The source keeps the document the chunk came from.
func (o object) hit() retrieval.IndexHit {
	id, _ := o.additional["id"].(string)
	docID := str(o.properties["document_id"])
	if docID == "" {
		docID = id
	}
	return retrieval.IndexHit{
		DocumentID: id,
		Text:       str(o.properties[contentProperty]),
		Source: provenance.Source{
			DocumentID: docID,
			Title:      str(o.properties["title"]),
			Section:    str(o.properties["section"]),
			Path:       str(o.properties["path"]),
		},
	}
}

func (w *Index) objects(result *models.GraphQLResponse) ([]object, error) {
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate query failed: %s", strings.Join(msgs, "; "))
	}

	var out []object
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := data[w.className].([]interface{})
	if !ok {
		return nil, nil
	}
	for _, item := range items {
		objMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		additional, _ := objMap["_additional"].(map[string]interface{})
		properties := make(map[string]interface{}, len(objMap))
		for k, v := range objMap {
			if k != "_additional" {
				properties[k] = v
			}
		}
		out = append(out, object{properties: properties, additional: additional})
	}
	return out, nil
}

func fields(additional string) []graphql.Field {
	out := make([]graphql.Field, 0, len(chunkFields)+1)
	for _, f := range chunkFields {
		out = append(out, graphql.Field{Name: f})
	}
	return append(out, graphql.Field{Name: additional})
}

// toFloat reads a score that Weaviate may encode as a number or a string.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
