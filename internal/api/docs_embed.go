//go:build embed_openapi

package api

import "fleetmatch/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
