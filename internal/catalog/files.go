package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Catalog resource paths.
const (
	filesPath          = "/files"
	dataRepositoryPath = "/data-repository"
)

// FileRecord is one expected file location within a data repository.
// Exists reports whether the repository is confirmed to hold the file.
type FileRecord struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Dataset        string `json:"dataset"`
	DataRepository string `json:"data_repository"`
	RelativePath   string `json:"relative_path"`
	Exists         bool   `json:"exists"`
}

// DatasetID returns the dataset identifier, stripped of its URL prefix when
// the catalog reports the dataset as a hyperlink.
func (r FileRecord) DatasetID() string {
	if id, err := ExtractID(r.Dataset); err == nil {
		return id
	}

	return r.Dataset
}

// DataRepository is a storage location. An empty GlobusEndpointID means the
// repository cannot take part in transfers.
type DataRepository struct {
	Name             string `json:"name"`
	Hostname         string `json:"hostname"`
	GlobusPath       string `json:"globus_path"`
	GlobusEndpointID string `json:"globus_endpoint_id"`
}

// FileQuery filters ListFiles. A nil Exists lists records regardless of state.
type FileQuery struct {
	Exists  *bool
	Dataset string
}

func (q FileQuery) params() Params {
	var p Params

	if q.Exists != nil {
		p = p.Add("exists", strconv.FormatBool(*q.Exists))
	}

	if q.Dataset != "" {
		p = p.Add("dataset", q.Dataset)
	}

	return p
}

// ListFiles returns the file records matching q, in server order.
func (c *Client) ListFiles(ctx context.Context, q FileQuery) ([]FileRecord, error) {
	body, err := c.Get(ctx, filesPath, q.params())
	if err != nil {
		return nil, err
	}

	records, next, err := decodeList[FileRecord](body)
	if err != nil {
		return nil, fmt.Errorf("catalog: decoding file records: %w", err)
	}

	if next != "" {
		c.logger.Warn("file listing is paginated, only the first page is used",
			slog.Int("records", len(records)),
			slog.String("next", next),
		)
	}

	for i := range records {
		normalizeRecord(&records[i])
	}

	return records, nil
}

// File fetches one file record by identifier or canonical URL.
func (c *Client) File(ctx context.Context, id string) (FileRecord, error) {
	target := id
	if !isAbsoluteURL(id) {
		target = filesPath + "/" + url.PathEscape(id)
	}

	body, err := c.Get(ctx, target, nil)
	if err != nil {
		return FileRecord{}, err
	}

	var rec FileRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return FileRecord{}, fmt.Errorf("catalog: decoding file record %s: %w", id, err)
	}

	normalizeRecord(&rec)

	return rec, nil
}

// DataRepository fetches a data repository by name or canonical URL.
func (c *Client) DataRepository(ctx context.Context, name string) (DataRepository, error) {
	target := name
	if !isAbsoluteURL(name) {
		target = dataRepositoryPath + "/" + url.PathEscape(name)
	}

	body, err := c.Get(ctx, target, nil)
	if err != nil {
		return DataRepository{}, err
	}

	var repo DataRepository
	if err := json.Unmarshal(body, &repo); err != nil {
		return DataRepository{}, fmt.Errorf("catalog: decoding data repository %s: %w", name, err)
	}

	if repo.Name == "" {
		repo.Name = name
	}

	return repo, nil
}

// normalizeRecord fills the identifier from the canonical URL when the
// payload omits it.
func normalizeRecord(r *FileRecord) {
	if r.ID != "" || r.URL == "" {
		return
	}

	if id, err := ExtractID(r.URL); err == nil {
		r.ID = id
	}
}

// decodeList accepts either a bare JSON array or a paginated envelope with
// a "results" array. next is the envelope's link to the following page,
// empty when there is none.
func decodeList[T any](body json.RawMessage) (items []T, next string, err error) {
	trimmed := bytes.TrimSpace(body)

	if bytes.HasPrefix(trimmed, []byte("{")) {
		var page struct {
			Next    *string `json:"next"`
			Results []T     `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, "", err
		}

		if page.Next != nil {
			next = *page.Next
		}

		return page.Results, next, nil
	}

	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, "", err
	}

	return items, "", nil
}

var trailingIDPattern = regexp.MustCompile(`^(?:.*/)?([a-zA-Z0-9\-]+)$`)

// ExtractID returns the trailing path segment of a catalog URL, which is the
// record identifier. A bare identifier is returned unchanged.
func ExtractID(s string) (string, error) {
	m := trailingIDPattern.FindStringSubmatch(strings.TrimRight(s, "/"))
	if m == nil {
		return "", fmt.Errorf("catalog: no identifier in %q", s)
	}

	return m[1], nil
}
