package service

// ForwardURI joins the upstream base with the inbound escaped path and, when
// the inbound request carried one, its raw query. Nothing is normalized or
// decoded; malformed paths are the upstream's to reject.
func ForwardURI(base, path, rawQuery string, forceQuery bool) string {
	if rawQuery == "" && !forceQuery {
		return base + path
	}
	return base + path + "?" + rawQuery
}
