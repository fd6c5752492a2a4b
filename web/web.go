// Package web holds the default page templates.
package web

import "embed"

//go:embed templates/*.html
var Templates embed.FS
