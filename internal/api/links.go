package api

import "github.com/joeblew999/geoacorda/internal/humastar"

// links are cross-links the OpenAPI walk cannot derive. They let restish
// navigate with `restish links <url>`.
var links = map[string][]string{
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/maps>; rel="maps"`,
	},
	"/api/v1/maps": {
		`</api/v1/saved>; rel="saved"`,
		`</api/v1/communes>; rel="communes"`,
	},
	"/api/v1/maps/{element}": {
		`</api/v1/communes>; rel="communes"`,
	},
	"/api/v1/saved": {
		`</api/v1/maps>; rel="maps"`,
	},
	"/api/v1/sources": {
		`</api/v1/maps>; rel="maps"`,
	},
	"/api/v1/farms/{farmId}/parcels/{parcelId}": {
		`</api/v1/saved>; rel="saved"`,
	},
}

// AddLinks registers the static cross-links on l.
func AddLinks(l *humastar.Links) {
	for path, values := range links {
		l.Static(path, values...)
	}
}
