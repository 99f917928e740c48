package workflow

// nilIfEmpty maps an empty string to a SQL NULL parameter.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
