// package to renders response bodies.
package to

import (
	"net/http"

	"github.com/go-json-experiment/json"
)

// JSON writes obj to the response as indented JSON. A nil slice renders
// as an empty array and a nil map as an empty object. The content type
// is only defaulted; handlers serving a protocol-specific type set it
// before calling.
func JSON(w http.ResponseWriter, obj any) error {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{
		Indent: "  ",
	}, w, obj)
}
