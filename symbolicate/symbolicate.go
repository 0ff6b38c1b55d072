/*
Package symbolicate rewrites runtime stack traces back to original source
positions using a bundle's stored source map.

A crash report names the bundle it came from only indirectly: one of its
frames carries the HTTP URL the bundle was served from. That URL is parsed
for the store, platform, and bundle id, the bundle's source map is loaded,
and every frame with a generated position is rewritten to the original one.

Frames are kept as generic JSON objects rather than typed records so any
fields the server does not know about pass through a symbolication round
trip untouched.
*/
package symbolicate

import (
	"regexp"
	"strings"

	"github.com/go-sourcemap/sourcemap"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedReference means a frame's file URL does not contain a
	// bundle path.
	ErrMalformedReference = errors.New("malformed bundle reference")

	// ErrMissingReference means no frame in the stack carries an HTTP(S)
	// file URL to locate the bundle with.
	ErrMissingReference = errors.New("no bundle reference in stack")

	// ErrInvalidMap means the stored source map could not be parsed.
	ErrInvalidMap = errors.New("invalid source map")
)

// A Frame is one stack frame as sent by the crash reporter. Only the
// "file", "lineNumber", and "column" keys are interpreted; everything else
// is carried through unchanged.
type Frame map[string]interface{}

// A BundleRef names one bundle by its serving path.
type BundleRef struct {
	Store    string
	Platform string
	Bundle   string
}

// the fixed serving path shape: .../bundles/<store>/<platform>/<bundle>/...
var refPattern = regexp.MustCompile(`/bundles/([^/]+)/([^/]+)/([^/]+)/`)

// ExtractBundleRef parses a frame's file URL for the bundle it was served
// from. The store, platform, and bundle values are not validated here;
// resolution against the registry decides whether they exist.
func ExtractBundleRef(fileURL string) (BundleRef, error) {
	m := refPattern.FindStringSubmatch(fileURL)
	if m == nil {
		return BundleRef{}, errors.Wrap(ErrMalformedReference, fileURL)
	}
	return BundleRef{Store: m[1], Platform: m[2], Bundle: m[3]}, nil
}

// Symbolicate maps every frame with an HTTP(S) file URL and a generated
// line and column back to its original source position. All other frames,
// and all other frame fields, pass through unchanged. The output always
// has the same length and order as the input.
//
// The source map consumer lives only for this call; it is never cached
// across requests.
func Symbolicate(frames []Frame, mapdata []byte) ([]Frame, error) {
	smap, err := sourcemap.Parse("", mapdata)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidMap, "%v", err)
	}
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[i] = rewrite(f, smap)
	}
	return out, nil
}

// rewrite returns f with its position mapped to original source, or f
// itself if the frame has no generated position to map.
func rewrite(f Frame, smap *sourcemap.Consumer) Frame {
	file, ok := f["file"].(string)
	if !ok || !isHTTPURL(file) {
		return f
	}
	line, ok := asInt(f["lineNumber"])
	if !ok {
		return f
	}
	col, ok := asInt(f["column"])
	if !ok {
		return f
	}
	source, _, origLine, origCol, ok := smap.Source(line, col)
	if !ok {
		return f
	}
	g := make(Frame, len(f))
	for k, v := range f {
		g[k] = v
	}
	// the method name stays as reported, even when the map knows another
	g["file"] = source
	g["lineNumber"] = origLine
	g["column"] = origCol
	return g
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// asInt reads a JSON number. Decoded request bodies give float64; tests
// building frames directly give int.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
