package web

import "embed"

// Templates embeds the HTML documents rendered into PDFs.
//
//go:embed templates/*.html
var Templates embed.FS
