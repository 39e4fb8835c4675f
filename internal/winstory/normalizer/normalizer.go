// Package normalizer turns the raw story field of a record into a validated
// StoryCollection. It tolerates the defects seen in the upstream producer:
// injected line breaks and a `value` wrapper holding a JSON-encoded array.
// Elements lacking id, customerName, or summary are dropped, never reported.
package normalizer

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
)

const wrapperKey = "value"

var newlineStripper = strings.NewReplacer("\r", "", "\n", "")

type shape int

const (
	shapeUnexpected shape = iota
	shapeArray
	shapeWrappedArray
	shapeWrappedString
)

func (s shape) String() string {
	switch s {
	case shapeArray:
		return "array"
	case shapeWrappedArray:
		return "wrapped array"
	case shapeWrappedString:
		return "wrapped string"
	default:
		return "unexpected"
	}
}

// Normalize parses raw and returns the stories it holds. An absent or blank
// payload yields an empty collection and no error. Any returned error is a
// *winstory.IngestError.
func Normalize(raw winstory.RawPayload) (winstory.StoryCollection, error) {
	if !raw.Valid || strings.TrimSpace(raw.Value) == "" {
		return winstory.StoryCollection{}, nil
	}

	parsed, err := decode(raw.Value)
	if err != nil {
		return winstory.StoryCollection{}, err
	}

	items, err := effectiveArray(parsed)
	if err != nil {
		return winstory.StoryCollection{}, err
	}

	return collect(items), nil
}

// NormalizeString is Normalize for a payload known to be present.
func NormalizeString(s string) (winstory.StoryCollection, error) {
	return Normalize(winstory.Payload(s))
}

// FromObjects applies the required-field filter to already-decoded objects,
// as handed over by an external orchestrator.
func FromObjects(objects []map[string]any) winstory.StoryCollection {
	items := make([]any, 0, len(objects))
	for _, obj := range objects {
		items = append(items, obj)
	}
	return collect(items)
}

func decode(s string) (any, error) {
	cleaned := newlineStripper.Replace(s)
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &winstory.IngestError{Kind: winstory.MalformedJSON, Message: err.Error(), Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		msg := "unexpected data after top-level value"
		if err != nil {
			msg = err.Error()
		}
		return nil, &winstory.IngestError{Kind: winstory.MalformedJSON, Message: msg, Err: err}
	}
	return v, nil
}

func classify(v any) (shape, any) {
	switch t := v.(type) {
	case []any:
		return shapeArray, t
	case map[string]any:
		inner, ok := t[wrapperKey]
		if !ok {
			return shapeUnexpected, v
		}
		switch w := inner.(type) {
		case string:
			return shapeWrappedString, w
		case []any:
			return shapeWrappedArray, w
		}
	}
	return shapeUnexpected, v
}

func effectiveArray(parsed any) ([]any, error) {
	kind, payload := classify(parsed)
	switch kind {
	case shapeArray, shapeWrappedArray:
		return payload.([]any), nil
	case shapeWrappedString:
		inner, err := decode(payload.(string))
		if err != nil {
			return nil, err
		}
		if items, ok := inner.([]any); ok {
			return items, nil
		}
		return nil, &winstory.IngestError{
			Kind:    winstory.UnexpectedShape,
			Message: fmt.Sprintf("%q holds %s, want array", wrapperKey, describe(inner)),
		}
	default:
		return nil, &winstory.IngestError{
			Kind:    winstory.UnexpectedShape,
			Message: fmt.Sprintf("payload is %s, want array or object with array %q", describe(parsed), wrapperKey),
		}
	}
}

func collect(items []any) winstory.StoryCollection {
	stories := make(winstory.StoryCollection, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if !truthy(obj["id"]) || !truthy(obj["customerName"]) || !truthy(obj["summary"]) {
			continue
		}
		rec := winstory.StoryRecord{
			ID:           text(obj["id"]),
			CustomerName: text(obj["customerName"]),
			Summary:      text(obj["summary"]),
		}
		for k, v := range obj {
			switch k {
			case "id", "customerName", "summary":
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any, len(obj)-3)
			}
			rec.Extra[k] = v
		}
		stories = append(stories, rec)
	}
	return stories
}

// truthy follows JavaScript truthiness for decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		if isLongInteger(t.String()) {
			return t.String()
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return formatNumber(f)
	case float64:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// isLongInteger reports whether lit is an integer literal with more digits
// than a float64 holds exactly. Those keep their literal form.
func isLongInteger(lit string) bool {
	digits := strings.TrimPrefix(lit, "-")
	if len(digits) <= 15 {
		return false
	}
	return strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

// formatNumber renders f the way JavaScript's String(number) does: plain
// decimal between 1e-6 and 1e21, shortest exponent form outside it.
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + exp
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number, float64:
		return "a number"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
