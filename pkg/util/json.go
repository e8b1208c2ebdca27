package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// RawJSONProvider is an interface for SDK types that provide raw JSON responses.
type RawJSONProvider interface {
	RawJSON() string
}

// PrintPrettyJSON prints the raw JSON from an SDK response type with indentation.
// It uses the RawJSON() method to get the original API response, avoiding
// zero-value fields that would appear when re-marshaling the Go struct.
func PrintPrettyJSON(v RawJSONProvider) error {
	raw := v.RawJSON()
	if raw == "" {
		fmt.Println("{}")
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}

// PrintJSON writes v to stdout as indented JSON.
func PrintJSON(v any) error {
	return WriteJSON(os.Stdout, v)
}

// WriteJSON writes v to w as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
