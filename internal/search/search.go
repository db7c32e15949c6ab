package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"serverlist-backend/internal/models"

	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	indexName    = "servers"
	defaultLimit = 10
	maxLimit     = 100
)

var (
	// ErrUnavailable wraps every failed round trip to the search engine.
	ErrUnavailable = errors.New("search engine unavailable")
	// ErrInvalidQuery is returned when the engine answers 400, usually for
	// a filter it can't parse.
	ErrInvalidQuery = errors.New("search query rejected")
)

var (
	searchableAttributes = []string{"name", "desc", "ip", "tags", "type", "version"}
	filterableAttributes = []string{"type", "tags", "auth_mode", "is_member", "is_hide", "version"}
	sortableAttributes   = []string{"id", "name", "is_member"}
)

var sortCriteria = map[string][]string{
	"name_asc":     {"name:asc"},
	"name_desc":    {"name:desc"},
	"member_first": {"is_member:desc", "name:asc"},
}

type Filters struct {
	Types     []models.ServerType
	Tags      []string
	AuthModes []models.AuthMode
	IsMember  *bool
	IsHide    *bool
	Versions  []string
}

// quote escapes backslashes first so a trailing one can't swallow the
// closing quote.
func quote(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return "'" + strings.ReplaceAll(value, "'", `\'`) + "'"
}

func anyOf[T ~string](field string, values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = field + " = " + quote(string(v))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// String renders the filters as a Meilisearch filter expression, "" when
// nothing is set.
func (f Filters) String() string {
	var filters []string

	if len(f.Types) > 0 {
		filters = append(filters, anyOf("type", f.Types))
	}
	if len(f.Tags) > 0 {
		filters = append(filters, anyOf("tags", f.Tags))
	}
	if len(f.AuthModes) > 0 {
		filters = append(filters, anyOf("auth_mode", f.AuthModes))
	}
	if f.IsMember != nil {
		filters = append(filters, fmt.Sprintf("is_member = %t", *f.IsMember))
	}
	if f.IsHide != nil {
		filters = append(filters, fmt.Sprintf("is_hide = %t", *f.IsHide))
	}
	if len(f.Versions) > 0 {
		filters = append(filters, anyOf("version", f.Versions))
	}

	return strings.Join(filters, " AND ")
}

// Params are the query string parameters of a search request.
type Params struct {
	Query    string
	Limit    *int
	Offset   int
	Type     string
	Tags     string
	AuthMode string
	IsMember *bool
	Sort     string
}

// ParseParams turns the single valued shortcuts into Filters. Tags come in
// comma separated.
func ParseParams(params Params) Filters {
	var filters Filters

	if params.Type != "" {
		filters.Types = []models.ServerType{models.ParseServerType(params.Type)}
	}

	for _, tag := range strings.Split(params.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			filters.Tags = append(filters.Tags, tag)
		}
	}

	if params.AuthMode != "" {
		filters.AuthModes = []models.AuthMode{models.ParseAuthMode(params.AuthMode)}
	}

	filters.IsMember = params.IsMember

	return filters
}

// Hit is one indexed server. IP is dropped for hidden servers before the hit
// leaves this package.
type Hit struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	IP       *string           `json:"ip"`
	Type     models.ServerType `json:"type"`
	Version  string            `json:"version"`
	Desc     string            `json:"desc"`
	Link     string            `json:"link"`
	IsMember bool              `json:"is_member"`
	AuthMode models.AuthMode   `json:"auth_mode"`
	IsHide   bool              `json:"is_hide"`
	Tags     []string          `json:"tags"`
}

type Response struct {
	Hits             []Hit `json:"hits"`
	Total            int   `json:"total"`
	Limit            int   `json:"limit"`
	Offset           int   `json:"offset"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

type IndexStats struct {
	NumberOfDocuments int64            `json:"numberOfDocuments"`
	IsIndexing        bool             `json:"isIndexing"`
	FieldDistribution map[string]int64 `json:"fieldDistribution"`
}

type ServerSource interface {
	AllServers(ctx context.Context) ([]models.Server, error)
}

type Client struct {
	sugar *zap.SugaredLogger
	index meilisearch.IndexManager
}

func NewClient(sugar *zap.SugaredLogger, baseURL string, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	options := []meilisearch.Option{meilisearch.WithCustomClient(httpClient)}
	if apiKey != "" {
		options = append(options, meilisearch.WithAPIKey(apiKey))
	}
	engine := meilisearch.New(strings.TrimSuffix(baseURL, "/"), options...)

	return &Client{
		sugar: sugar,
		index: engine.Index(indexName),
	}
}

// engineError keeps requests the engine refused as bad apart from the
// engine being unreachable or failing.
func engineError(op string, err error) error {
	var apiErr *meilisearch.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s: %w", ErrInvalidQuery, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Search runs params against the servers index. The limit defaults to 10
// and is kept between 1 and 100, unknown sort names are ignored.
func (c *Client) Search(ctx context.Context, params Params) (*Response, error) {
	start := time.Now()

	limit := defaultLimit
	if params.Limit != nil {
		limit = min(max(*params.Limit, 1), maxLimit)
	}
	offset := max(params.Offset, 0)

	request := &meilisearch.SearchRequest{
		Limit:  int64(limit),
		Offset: int64(offset),
	}
	if filter := ParseParams(params).String(); filter != "" {
		request.Filter = filter
	}
	if sort, ok := sortCriteria[params.Sort]; ok {
		request.Sort = sort
	}

	result, err := c.index.SearchWithContext(ctx, strings.TrimSpace(params.Query), request)
	if err != nil {
		return nil, engineError("search", err)
	}

	// hits arrive as loose json objects
	raw, err := json.Marshal(result.Hits)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding hits: %w", ErrUnavailable, err)
	}
	hits := []Hit{}
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("%w: decoding hits: %w", ErrUnavailable, err)
	}
	if hits == nil {
		hits = []Hit{}
	}
	for i := range hits {
		if hits[i].IsHide {
			hits[i].IP = nil
		}
	}

	return &Response{
		Hits:             hits,
		Total:            int(result.EstimatedTotalHits),
		Limit:            limit,
		Offset:           offset,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// InitIndex sets which attributes are searchable, filterable and sortable.
func (c *Client) InitIndex(ctx context.Context) error {
	task, err := c.index.UpdateSettingsWithContext(ctx, &meilisearch.Settings{
		SearchableAttributes: searchableAttributes,
		FilterableAttributes: filterableAttributes,
		SortableAttributes:   sortableAttributes,
	})
	if err != nil {
		return engineError("update settings", err)
	}

	c.sugar.Infow("Search index settings enqueued", "task", task.TaskUID)
	return nil
}

// document leaves the address of hidden servers out of the index.
func document(server models.Server) Hit {
	hit := Hit{
		ID:       server.ID,
		Name:     server.Name,
		Type:     models.ParseServerType(server.Type),
		Version:  server.Version,
		Desc:     server.Desc,
		Link:     server.Link,
		IsMember: server.IsMember,
		AuthMode: models.ParseAuthMode(server.AuthMode),
		IsHide:   server.IsHide,
		Tags:     server.TagList(),
	}
	if !server.IsHide {
		ip := server.IP
		hit.IP = &ip
	}
	return hit
}

// SyncServers pushes every server to the index, replacing documents by id.
func (c *Client) SyncServers(ctx context.Context, source ServerSource) (int, error) {
	servers, err := source.AllServers(ctx)
	if err != nil {
		return 0, err
	}

	documents := make([]Hit, len(servers))
	for i, server := range servers {
		documents[i] = document(server)
	}

	if _, err := c.index.AddDocumentsWithContext(ctx, documents, "id"); err != nil {
		return 0, engineError("add documents", err)
	}

	return len(documents), nil
}

// SyncLoop syncs right away and then on every tick until ctx is done.
// Failures are logged and the loop carries on.
func (c *Client) SyncLoop(ctx context.Context, source ServerSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		count, err := c.SyncServers(ctx, source)
		if err != nil {
			c.sugar.Errorw("search index sync failed", "error", err)
		} else {
			c.sugar.Debugf("Synced [%d] servers to the search index", count)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) Stats(ctx context.Context) (*IndexStats, error) {
	stats, err := c.index.GetStatsWithContext(ctx)
	if err != nil {
		return nil, engineError("stats", err)
	}
	return &IndexStats{
		NumberOfDocuments: stats.NumberOfDocuments,
		IsIndexing:        stats.IsIndexing,
		FieldDistribution: stats.FieldDistribution,
	}, nil
}
