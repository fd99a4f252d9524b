package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/periodledger/internal/statements"
)

func sampleStatement() statements.Statement {
	return statements.Statement{
		PeriodID:       "2025",
		SubjectID:      "c1",
		SubjectName:    "Ada <Lovelace>",
		Currency:       "USD",
		OpeningDisplay: "$0.00",
		Lines: []statements.Line{
			{ID: "t1", Date: "2025-05-10", Description: "deposit", Kind: "credit", Amount: 5000, Running: 5000, Display: "$50.00", RunningDisplay: "$50.00"},
		},
		Closing:        5000,
		ClosingDisplay: "$50.00",
	}
}

func TestStatementHTMLEscapesNames(t *testing.T) {
	r := NewStatementRenderer(nil)
	r.now = func() time.Time { return time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC) }
	html, err := r.HTML(sampleStatement())
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "Ada &lt;Lovelace&gt;")
	assert.Contains(t, out, "$50.00")
	assert.Contains(t, out, "deposit")
	assert.Contains(t, out, "Sat, 10 May 2025")
}

func TestRenderStatementPostsToGotenberg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/forms/chromium/convert/html":
			file, header, err := r.FormFile("files")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			body, _ := io.ReadAll(file)
			if header.Filename != "index.html" || len(body) == 0 {
				http.Error(w, "bad file", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("%PDF-1.7"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL+"/", time.Second)
	require.NoError(t, client.Ping(context.Background()))
	pdf, err := NewStatementRenderer(client).RenderStatement(context.Background(), sampleStatement())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(pdf))
}

func TestRenderFailsWithoutEndpoint(t *testing.T) {
	client := NewClient("", 0)
	assert.Nil(t, client)
	assert.ErrorIs(t, client.Ping(context.Background()), ErrDisabled)
	_, err := NewStatementRenderer(client).RenderStatement(context.Background(), sampleStatement())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRenderSurfacesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	_, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), []byte("<html></html>"))
	assert.ErrorContains(t, err, "502")
}
