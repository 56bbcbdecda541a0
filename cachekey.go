package tracker

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// CacheKey derives a deterministic key from an endpoint and its query
// parameters: endpoint + ":" + canonical JSON of params. encoding/json sorts
// map keys, so parameter order never changes the key. Nil and empty params
// both encode as "{}".
func CacheKey(endpoint string, params map[string]any) string {
	if len(params) == 0 {
		return endpoint + ":{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		// Unencodable values still need a stable key.
		return endpoint + ":" + fmt.Sprintf("%v", params)
	}
	return endpoint + ":" + string(b)
}

// QueryParams converts a parameter map to url.Values for the wire.
func QueryParams(params map[string]any) url.Values {
	v := url.Values{}
	for k, val := range params {
		if val == nil {
			continue
		}
		v.Set(k, fmt.Sprint(val))
	}
	return v
}
