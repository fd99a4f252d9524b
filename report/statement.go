package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/odyssey-erp/periodledger/internal/statements"
	"github.com/odyssey-erp/periodledger/web"
)

var statementTemplate = template.Must(template.ParseFS(web.Templates, "templates/statement.html"))

// StatementRenderer turns account statements into PDF documents.
type StatementRenderer struct {
	client *Client
	now    func() time.Time
}

// NewStatementRenderer binds the renderer to client, which may be nil.
func NewStatementRenderer(client *Client) *StatementRenderer {
	return &StatementRenderer{client: client, now: time.Now}
}

// HTML renders the statement document without converting it.
func (r *StatementRenderer) HTML(st statements.Statement) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		Statement   statements.Statement
		GeneratedAt string
	}{st, r.now().UTC().Format(time.RFC1123)}
	if err := statementTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("report: statement template: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderStatement renders st and converts it through Gotenberg.
func (r *StatementRenderer) RenderStatement(ctx context.Context, st statements.Statement) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, ErrDisabled
	}
	html, err := r.HTML(st)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}
