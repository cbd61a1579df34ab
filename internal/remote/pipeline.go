package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"conveyor/internal/api"
	"conveyor/internal/document"
	"conveyor/internal/stage"
)

// Pipeline is a stage.Pipeline served by a node.
type Pipeline struct {
	client *Client
	stage  string
}

var _ stage.Pipeline = (*Pipeline)(nil)

// Pipeline binds the client to stageName.
func (c *Client) Pipeline(stageName string) *Pipeline {
	return &Pipeline{client: c, stage: stageName}
}

// Stage returns the stage name sent with every request.
func (p *Pipeline) Stage() string { return p.stage }

func (p *Pipeline) params() url.Values {
	return url.Values{api.ParamStage: {p.stage}}
}

// Claim asks the node for the next matching document.
func (p *Pipeline) Claim(ctx context.Context, q document.Query, recurring bool) (*document.Document, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("get document: encode query: %w", err)
	}
	params := p.params()
	params.Set(api.ParamRecurring, api.Flag(recurring))
	resp, err := p.client.do(ctx, "get document", http.MethodPost, api.PathGetDocument, params, body)
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
		return decodeDocument("get document", resp.body)
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError("get document", resp)
	}
}

// Write inserts or updates doc. An insert copies the assigned id back onto
// doc.
func (p *Pipeline) Write(ctx context.Context, doc *document.Document, partial, release bool) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("write: encode document: %w", err)
	}
	params := p.params()
	params.Set(api.ParamPartial, api.Flag(partial))
	params.Set(api.ParamNoRelease, api.Flag(!release))
	resp, err := p.client.do(ctx, "write", http.MethodPost, api.PathWrite, params, body)
	if err != nil {
		return false, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("write", resp)
	}
	if doc.ID == "" {
		stored, err := decodeDocument("write", resp.body)
		if err != nil {
			return true, err
		}
		doc.ID = stored.ID
	}
	return true, nil
}

// Release marks doc touched by the stage.
func (p *Pipeline) Release(ctx context.Context, doc *document.Document) (bool, error) {
	return p.post(ctx, "release", api.PathRelease, doc)
}

func (p *Pipeline) MarkProcessed(ctx context.Context, doc *document.Document) (bool, error) {
	return p.post(ctx, "mark processed", api.PathMarkProcessed, doc)
}

func (p *Pipeline) MarkDiscarded(ctx context.Context, doc *document.Document) (bool, error) {
	return p.post(ctx, "mark discarded", api.PathMarkDiscarded, doc)
}

func (p *Pipeline) MarkFailed(ctx context.Context, doc *document.Document) (bool, error) {
	return p.post(ctx, "mark failed", api.PathMarkFailed, doc)
}

func (p *Pipeline) MarkPending(ctx context.Context, doc *document.Document) (bool, error) {
	return p.post(ctx, "mark pending", api.PathMarkPending, doc)
}

// Properties fetches the stage's property table from the node.
func (p *Pipeline) Properties(ctx context.Context) (map[string]any, error) {
	props, err := p.client.Properties(ctx, p.stage)
	if err != nil {
		return nil, err
	}
	return maps.Clone(props), nil
}

func (p *Pipeline) post(ctx context.Context, op, path string, doc *document.Document) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("%s: encode document: %w", op, err)
	}
	resp, err := p.client.do(ctx, op, http.MethodPost, path, p.params(), body)
	if err != nil {
		return false, err
	}
	switch resp.status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(op, resp)
	}
}
