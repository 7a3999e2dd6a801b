// Package dashboard holds the browser UI served by the API.
package dashboard

import "embed"

// DistFS holds the dashboard/dist files.
//
//go:embed all:dist
var DistFS embed.FS
