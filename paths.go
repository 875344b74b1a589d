package vcgraph

import "strings"

// Node paths are '/'-joined relids starting from the root, which is "".
// Field paths append a field section to a node path, for example
// "/a/b/attr/name" or "/a/set/friends//x/y//attr/since"; a path embedded in
// a field path is wrapped as "/<path>//".

var reservedKeys = map[string]bool{
	"guid":                true,
	"hash":                true,
	"removed":             true,
	"movedFrom":           true,
	"collidingRelid":      true,
	"childrenListChanged": true,
	"attr":                true,
	"reg":                 true,
	"pointer":             true,
	"set":                 true,
	"meta":                true,
	"oGuids":              true,
	"oBaseGuids":          true,
	"ooGuids":             true,
	"ooBaseGuids":         true,
}

// IsReservedKey reports whether key names a DiffNode field rather than a
// child relid.
func IsReservedKey(key string) bool {
	return reservedKeys[key]
}

func joinPath(parent, relid string) string {
	return parent + "/" + relid
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func lastRelid(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func splitNodePath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isUnderPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// translatePath maps path through moves (old path -> new path), using the
// longest moved ancestor of path.
func translatePath(path string, moves map[string]string) string {
	if len(moves) == 0 {
		return path
	}
	if to, ok := moves[path]; ok {
		return to
	}
	for prefix := parentPath(path); prefix != ""; prefix = parentPath(prefix) {
		if to, ok := moves[prefix]; ok {
			return to + strings.TrimPrefix(path, prefix)
		}
	}
	return path
}

func commonAncestorPath(a, b string) string {
	as, bs := splitNodePath(a), splitNodePath(b)
	var common []string
	for i := 0; i < len(as) && i < len(bs) && as[i] == bs[i]; i++ {
		common = append(common, as[i])
	}
	if len(common) == 0 {
		return ""
	}
	return "/" + strings.Join(common, "/")
}

// splitFieldPath splits a field path into the keys of its JSON location.
// Embedded paths ("//x/y//") come back as a single key ("/x/y").
func splitFieldPath(path string) []string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	var keys []string
	var embedded []string
	inEmbedded := false
	for i, part := range parts {
		switch {
		case part == "" && inEmbedded:
			keys = append(keys, "/"+strings.Join(embedded, "/"))
			embedded, inEmbedded = nil, false
		case part == "":
			if i == len(parts)-1 {
				continue
			}
			inEmbedded = true
		case inEmbedded:
			embedded = append(embedded, part)
		default:
			keys = append(keys, part)
		}
	}
	if inEmbedded && len(embedded) > 0 {
		keys = append(keys, "/"+strings.Join(embedded, "/"))
	}
	return keys
}

// nodePathOf returns the node part of a field path.
func nodePathOf(fieldPath string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(fieldPath, "/"), "/") {
		if part == "" || reservedKeys[part] {
			break
		}
		b.WriteString("/")
		b.WriteString(part)
	}
	return b.String()
}

// embedPath wraps a node path for use inside a field path.
func embedPath(path string) string {
	return "/" + path + "//"
}
