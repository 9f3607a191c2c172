// Package openapi carries the API description so release builds can serve
// it without the source tree on disk.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
