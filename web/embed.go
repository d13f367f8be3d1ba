package web

import "embed"

// FS contains the embedded control page (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
