package publish

import "encoding/json"

// mustJSON marshals a payload built entirely from this package's own maps
// and scalars — a marshal error here would mean a decode produced a value
// encoding/json cannot represent, which Decode's closed DataType set rules
// out.
func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
